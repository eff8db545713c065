package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	"github.com/humbertoham/wavestudio-sub000/pkg/pagination"
)

// Repository persists token_ledger rows. Rows are only ever inserted;
// corrections are new offsetting rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.TokenLedger) error
	Balance(ctx context.Context, userID uuid.UUID, asOf time.Time) (int, error)
	PurchaseBuckets(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]Bucket, error)
	PoolBalance(ctx context.Context, userID uuid.UUID) (int, error)
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.TokenLedger, error)
	ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.TokenLedger, error)
	HasReasonSince(ctx context.Context, userID uuid.UUID, reason enums.LedgerReason, since time.Time) (bool, error)
	SumForPurchase(ctx context.Context, purchaseID uuid.UUID) (int, error)
	SetClassesLeft(ctx context.Context, purchaseID uuid.UUID, classesLeft int) error
	FindPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.PackPurchase, error)
	CreatePurchase(ctx context.Context, purchase *models.PackPurchase) error
	FindPack(ctx context.Context, packID uuid.UUID) (*models.Pack, error)
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.TokenLedger) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID, asOf time.Time) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Raw(`SELECT COALESCE(SUM(tl.delta), 0)
			FROM token_ledger tl
			LEFT JOIN pack_purchases pp ON pp.id = tl.pack_purchase_id
			WHERE tl.user_id = ?
			  AND (tl.pack_purchase_id IS NULL OR pp.expires_at > ?)`, userID, asOf).
		Scan(&total).Error
	return total, err
}

type purchaseSum struct {
	PackPurchaseID uuid.UUID
	Total          int
}

func (r *repository) PurchaseBuckets(ctx context.Context, userID uuid.UUID, asOf time.Time) ([]Bucket, error) {
	var purchases []models.PackPurchase
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, asOf).
		Order("expires_at ASC, created_at ASC").
		Find(&purchases).Error; err != nil {
		return nil, err
	}
	if len(purchases) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(purchases))
	for _, p := range purchases {
		ids = append(ids, p.ID)
	}
	var sums []purchaseSum
	if err := r.db.WithContext(ctx).
		Model(&models.TokenLedger{}).
		Select("pack_purchase_id, COALESCE(SUM(delta), 0) AS total").
		Where("pack_purchase_id IN ?", ids).
		Group("pack_purchase_id").
		Scan(&sums).Error; err != nil {
		return nil, err
	}
	remaining := make(map[uuid.UUID]int, len(sums))
	for _, s := range sums {
		remaining[s.PackPurchaseID] = s.Total
	}

	buckets := make([]Bucket, 0, len(purchases))
	for _, p := range purchases {
		id := p.ID
		expires := p.ExpiresAt
		buckets = append(buckets, Bucket{PackPurchaseID: &id, ExpiresAt: &expires, Remaining: remaining[id]})
	}
	return buckets, nil
}

func (r *repository) PoolBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.TokenLedger{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("user_id = ? AND pack_purchase_id IS NULL", userID).
		Scan(&total).Error
	return total, err
}

func (r *repository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]models.TokenLedger, error) {
	var entries []models.TokenLedger
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListByUser pages newest first; limit should already include the lookahead row.
func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.TokenLedger, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var entries []models.TokenLedger
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) HasReasonSince(ctx context.Context, userID uuid.UUID, reason enums.LedgerReason, since time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.TokenLedger{}).
		Where("user_id = ? AND reason = ? AND created_at >= ?", userID, reason, since).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) SumForPurchase(ctx context.Context, purchaseID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.TokenLedger{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("pack_purchase_id = ?", purchaseID).
		Scan(&total).Error
	return total, err
}

func (r *repository) SetClassesLeft(ctx context.Context, purchaseID uuid.UUID, classesLeft int) error {
	return r.db.WithContext(ctx).
		Model(&models.PackPurchase{}).
		Where("id = ?", purchaseID).
		Updates(map[string]any{"classes_left": classesLeft, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) FindPurchase(ctx context.Context, purchaseID uuid.UUID) (*models.PackPurchase, error) {
	var purchase models.PackPurchase
	if err := r.db.WithContext(ctx).Where("id = ?", purchaseID).First(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) CreatePurchase(ctx context.Context, purchase *models.PackPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) FindPack(ctx context.Context, packID uuid.UUID) (*models.Pack, error) {
	var pack models.Pack
	if err := r.db.WithContext(ctx).Where("id = ?", packID).First(&pack).Error; err != nil {
		return nil, err
	}
	return &pack, nil
}

// LockUser takes the per-user row lock that serializes balance decisions.
func (r *repository) LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
