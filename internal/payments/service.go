package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
	"github.com/humbertoham/wavestudio-sub000/pkg/metrics"
)

const (
	DefaultProvider = "mercadopago"
	defaultCurrency = "MXN"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithRetryTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Delete(ctx context.Context, deliveryID string) error
}

// Service covers the local half of checkout and the reconciliation of
// provider notifications.
type Service interface {
	CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	AttachPreference(ctx context.Context, paymentID uuid.UUID, preferenceID string) (*models.Payment, error)

	HandleNotification(ctx context.Context, n Notification) (*NotificationResult, error)
	Replay(ctx context.Context, logID uuid.UUID) (*NotificationResult, error)
}

type ServiceParams struct {
	Repo     Repository
	DB       txRunner
	Ledger   ledger.Service
	Verifier *SignatureVerifier
	// Guard is optional; without it duplicates fall through to the payment lock.
	Guard   deliveryGuard
	Logger  *logger.Logger
	Metrics *metrics.WebhookMetrics

	Provider string
	Currency string
	// RequireSignature rejects deliveries whose signature fails to verify.
	RequireSignature bool
	Now              func() time.Time
}

type service struct {
	repo             Repository
	db               txRunner
	ledger           ledger.Service
	verifier         *SignatureVerifier
	guard            deliveryGuard
	logg             *logger.Logger
	metrics          *metrics.WebhookMetrics
	provider         string
	currency         string
	requireSignature bool
	now              func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.RequireSignature && params.Verifier == nil {
		return nil, fmt.Errorf("signature verifier required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Provider == "" {
		params.Provider = DefaultProvider
	}
	if params.Currency == "" {
		params.Currency = defaultCurrency
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:             params.Repo,
		db:               params.DB,
		ledger:           params.Ledger,
		verifier:         params.Verifier,
		guard:            params.Guard,
		logg:             params.Logger,
		metrics:          params.Metrics,
		provider:         strings.ToLower(params.Provider),
		currency:         strings.ToUpper(params.Currency),
		requireSignature: params.RequireSignature,
		now:              params.Now,
	}, nil
}
