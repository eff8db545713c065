package payments

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
)

// CheckoutInput starts a purchase of PackID for UserID.
type CheckoutInput struct {
	UserID uuid.UUID
	PackID uuid.UUID
}

// CheckoutResult is the pending payment plus the token the provider must echo
// back as external_reference.
type CheckoutResult struct {
	Payment           *models.Payment
	Link              *models.CheckoutLink
	Pack              *models.Pack
	ExternalReference string
}

func (s *service) CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.UserID == uuid.Nil || input.PackID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and pack id are required")
	}

	pack, err := s.repo.FindPack(ctx, input.PackID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pack not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pack")
	}
	if !pack.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodePackUnavailable, "pack is not available")
	}
	if _, err := s.repo.FindUser(ctx, input.UserID); err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if pack.OncePerUser {
		bought, err := s.repo.HasPurchasedPack(ctx, input.UserID, pack.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check previous purchases")
		}
		if bought {
			return nil, pkgerrors.New(pkgerrors.CodePackLimitReached, "pack can only be bought once").
				WithDetails(map[string]any{"pack_id": pack.ID.String()})
		}
	}

	paymentID := uuid.New()
	token := NewCorrelationToken(input.UserID, pack.ID, paymentID).String()
	userID := input.UserID
	now := s.now()

	result := &CheckoutResult{Pack: pack, ExternalReference: token}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment := &models.Payment{
			ID:                paymentID,
			Provider:          s.provider,
			Status:            enums.PaymentStatusPending,
			Amount:            pack.Price,
			Currency:          s.currency,
			UserID:            &userID,
			PackID:            pack.ID,
			ExternalReference: token,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := repo.CreatePayment(ctx, payment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		link := &models.CheckoutLink{
			Token:     token,
			UserID:    userID,
			PackID:    pack.ID,
			PaymentID: paymentID,
			Status:    enums.CheckoutLinkStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := repo.CreateCheckoutLink(ctx, link); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout link")
		}
		result.Payment = payment
		result.Link = link
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id": paymentID.String(),
		"pack_id":    pack.ID.String(),
		"user_id":    userID.String(),
	})
	s.logg.Info(logCtx, "checkout created")
	return result, nil
}

func (s *service) AttachPreference(ctx context.Context, paymentID uuid.UUID, preferenceID string) (*models.Payment, error) {
	preferenceID = strings.TrimSpace(preferenceID)
	if paymentID == uuid.Nil || preferenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id and preference id are required")
	}
	payment, err := s.repo.FindPayment(ctx, paymentID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if err := s.repo.UpdatePayment(ctx, paymentID, map[string]any{"preference_id": preferenceID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach preference")
	}
	payment.PreferenceID = &preferenceID
	return payment, nil
}
