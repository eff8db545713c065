package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
)

// Repository persists payments, checkout links and webhook logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindPack(ctx context.Context, packID uuid.UUID) (*models.Pack, error)
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	HasPurchasedPack(ctx context.Context, userID, packID uuid.UUID) (bool, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	LockPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	FindPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	FindPaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error)
	FindPaymentByPreferenceID(ctx context.Context, preferenceID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, paymentID uuid.UUID, fields map[string]any) error
	FindPurchaseByPayment(ctx context.Context, paymentID uuid.UUID) (*models.PackPurchase, error)

	CreateCheckoutLink(ctx context.Context, link *models.CheckoutLink) error
	SetCheckoutLinkStatus(ctx context.Context, paymentID uuid.UUID, status enums.CheckoutLinkStatus) error

	CreateWebhookLog(ctx context.Context, entry *models.WebhookLog) error
	FindWebhookLog(ctx context.Context, logID uuid.UUID) (*models.WebhookLog, error)
	AnnotateWebhookLog(ctx context.Context, logID uuid.UUID, fields map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindPack(ctx context.Context, packID uuid.UUID) (*models.Pack, error) {
	var pack models.Pack
	if err := r.db.WithContext(ctx).Where("id = ?", packID).First(&pack).Error; err != nil {
		return nil, err
	}
	return &pack, nil
}

func (r *repository) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *repository) HasPurchasedPack(ctx context.Context, userID, packID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PackPurchase{}).
		Where("user_id = ? AND pack_id = ?", userID, packID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", paymentID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) LockPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", paymentID).
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	return r.findPaymentBy(ctx, "provider_payment_id = ?", providerPaymentID)
}

func (r *repository) FindPaymentByExternalReference(ctx context.Context, ref string) (*models.Payment, error) {
	return r.findPaymentBy(ctx, "external_reference = ?", ref)
}

func (r *repository) FindPaymentByPreferenceID(ctx context.Context, preferenceID string) (*models.Payment, error) {
	return r.findPaymentBy(ctx, "preference_id = ?", preferenceID)
}

func (r *repository) findPaymentBy(ctx context.Context, where string, value string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where(where, value).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) UpdatePayment(ctx context.Context, paymentID uuid.UUID, fields map[string]any) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Updates(fields).Error
}

func (r *repository) FindPurchaseByPayment(ctx context.Context, paymentID uuid.UUID) (*models.PackPurchase, error) {
	var purchase models.PackPurchase
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (r *repository) CreateCheckoutLink(ctx context.Context, link *models.CheckoutLink) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) SetCheckoutLinkStatus(ctx context.Context, paymentID uuid.UUID, status enums.CheckoutLinkStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.CheckoutLink{}).
		Where("payment_id = ?", paymentID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) CreateWebhookLog(ctx context.Context, entry *models.WebhookLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindWebhookLog(ctx context.Context, logID uuid.UUID) (*models.WebhookLog, error) {
	var entry models.WebhookLog
	if err := r.db.WithContext(ctx).Where("id = ?", logID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) AnnotateWebhookLog(ctx context.Context, logID uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookLog{}).
		Where("id = ?", logID).
		Updates(fields).Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
