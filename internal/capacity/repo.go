package capacity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// Repository reads class rows and the seats held by active bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindClass(ctx context.Context, classID uuid.UUID) (*models.Class, error)
	LockClass(ctx context.Context, classID uuid.UUID) (*models.Class, error)
	UsedSpots(ctx context.Context, classID uuid.UUID) (int, error)
	UpdateCapacity(ctx context.Context, classID uuid.UUID, capacity int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a capacity repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindClass(ctx context.Context, classID uuid.UUID) (*models.Class, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).Where("id = ?", classID).First(&class).Error; err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *repository) LockClass(ctx context.Context, classID uuid.UUID) (*models.Class, error) {
	var class models.Class
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", classID).
		First(&class).Error; err != nil {
		return nil, err
	}
	return &class, nil
}

func (r *repository) UsedSpots(ctx context.Context, classID uuid.UUID) (int, error) {
	var used int
	err := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("class_id = ? AND status = ?", classID, enums.BookingStatusActive).
		Scan(&used).Error
	return used, err
}

func (r *repository) UpdateCapacity(ctx context.Context, classID uuid.UUID, capacity int) error {
	return r.db.WithContext(ctx).
		Model(&models.Class{}).
		Where("id = ?", classID).
		Updates(map[string]any{"capacity": capacity, "updated_at": time.Now().UTC()}).Error
}
