package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// Repository persists bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	LockByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	FindActive(ctx context.Context, userID, classID uuid.UUID) (*models.Booking, error)
	ListActiveByClass(ctx context.Context, classID uuid.UUID) ([]models.Booking, error)
	SetFundingPurchase(ctx context.Context, bookingID uuid.UUID, purchaseID *uuid.UUID) error
	MarkCanceled(ctx context.Context, bookingID uuid.UUID, at time.Time, refunded bool) error
	SetAttended(ctx context.Context, bookingID uuid.UUID, attended bool) error
	MarkClassCanceled(ctx context.Context, classID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a bookings repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) FindByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Where("id = ?", bookingID).First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) LockByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", bookingID).
		First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) FindActive(ctx context.Context, userID, classID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND class_id = ? AND status = ?", userID, classID, enums.BookingStatusActive).
		First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) ListActiveByClass(ctx context.Context, classID uuid.UUID) ([]models.Booking, error) {
	var bookings []models.Booking
	if err := r.db.WithContext(ctx).
		Where("class_id = ? AND status = ?", classID, enums.BookingStatusActive).
		Order("created_at ASC").
		Find(&bookings).Error; err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repository) SetFundingPurchase(ctx context.Context, bookingID uuid.UUID, purchaseID *uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", bookingID).
		Update("pack_purchase_id", purchaseID).Error
}

func (r *repository) MarkCanceled(ctx context.Context, bookingID uuid.UUID, at time.Time, refunded bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", bookingID).
		Updates(map[string]any{
			"status":       enums.BookingStatusCanceled,
			"canceled_at":  at,
			"refund_token": refunded,
			"updated_at":   at,
		}).Error
}

func (r *repository) SetAttended(ctx context.Context, bookingID uuid.UUID, attended bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ?", bookingID).
		Updates(map[string]any{"attended": attended, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) MarkClassCanceled(ctx context.Context, classID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Class{}).
		Where("id = ?", classID).
		Updates(map[string]any{"is_canceled": true, "updated_at": time.Now().UTC()}).Error
}
