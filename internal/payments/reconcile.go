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
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
)

// Outcomes recorded on a webhook log besides the error codes.
const (
	OutcomeCredited          = "CREDITED"
	OutcomeStatusUpdated     = "STATUS_UPDATED"
	OutcomeRecorded          = "RECORDED"
	OutcomeDuplicateDelivery = "DUPLICATE_DELIVERY"
	OutcomeUnreadableBody    = "UNREADABLE_BODY"
)

// NotificationResult is what one delivery did. Processing failures land in
// Outcome and Error; they are never returned as errors.
type NotificationResult struct {
	LogID      uuid.UUID
	Outcome    string
	Error      string
	PaymentID  *uuid.UUID
	PurchaseID *uuid.UUID
}

// Processed reports whether the delivery left nothing to retry.
func (r *NotificationResult) Processed() bool {
	return r.Error == ""
}

// HandleNotification logs the delivery, verifies it and reconciles it. The
// only error returned is a failure to write the log row itself.
func (s *service) HandleNotification(ctx context.Context, n Notification) (*NotificationResult, error) {
	start := time.Now()
	eventType, deliveryID, bodyDataID := headerFields(n.Body)
	dataID := strings.TrimSpace(n.DataID)
	if dataID == "" {
		dataID = bodyDataID
	}
	if deliveryID == "" {
		deliveryID = n.RequestID
	}

	payload := storablePayload(n.Body)
	if n.ReadErr != nil {
		eventType, deliveryID = "", n.RequestID
		payload = unreadablePayload(n.Body)
	}
	entry := &models.WebhookLog{
		Provider:   s.provider,
		EventType:  eventType,
		DeliveryID: deliveryID,
		RequestID:  n.RequestID,
		Signature:  n.Signature,
		Payload:    payload,
		CreatedAt:  s.now(),
	}
	if err := s.repo.CreateWebhookLog(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write webhook log")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"webhook_log_id": entry.ID.String(),
		"delivery_id":    deliveryID,
		"provider":       s.provider,
	})

	result := &NotificationResult{LogID: entry.ID}
	defer func() { s.metrics.Observe(s.provider, result.Outcome, time.Since(start)) }()

	if n.ReadErr != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reason", n.ReadErr.Error()), "webhook body unreadable")
		result.Outcome = OutcomeUnreadableBody
		result.Error = n.ReadErr.Error()
		s.annotate(ctx, entry.ID, false, result)
		return result, nil
	}

	sigErr := s.verify(n.Signature, n.RequestID, dataID)
	if sigErr != nil && s.requireSignature {
		s.logg.Warn(s.logg.WithField(ctx, "reason", sigErr.Error()), "webhook signature rejected")
		result.Outcome = string(pkgerrors.CodeInvalidSignature)
		result.Error = sigErr.Error()
		s.annotate(ctx, entry.ID, false, result)
		return result, nil
	}
	signatureValid := sigErr == nil

	if s.guard != nil && deliveryID != "" {
		dup, err := s.guard.CheckAndMark(ctx, deliveryID)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "delivery guard unavailable")
		} else if dup {
			result.Outcome = OutcomeDuplicateDelivery
			s.annotate(ctx, entry.ID, signatureValid, result)
			return result, nil
		}
	}

	s.process(ctx, n.Body, result)
	if !result.Processed() && s.guard != nil && deliveryID != "" {
		if err := s.guard.Delete(ctx, deliveryID); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "release delivery guard")
		}
	}
	s.annotate(ctx, entry.ID, signatureValid, result)
	return result, nil
}

// Replay reprocesses a stored delivery whose signature verified.
func (s *service) Replay(ctx context.Context, logID uuid.UUID) (*NotificationResult, error) {
	start := time.Now()
	entry, err := s.repo.FindWebhookLog(ctx, logID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook log not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load webhook log")
	}
	if !entry.SignatureValid && s.requireSignature {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "webhook log did not pass signature verification").
			WithDetails(map[string]any{"outcome": string(pkgerrors.CodeInvalidSignature)})
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"webhook_log_id": entry.ID.String(), "replay": true})
	result := &NotificationResult{LogID: entry.ID}
	s.process(ctx, entry.Payload, result)
	s.metrics.Observe(s.provider, result.Outcome, time.Since(start))
	s.annotate(ctx, entry.ID, entry.SignatureValid, result)
	return result, nil
}

func (s *service) verify(header, requestID, dataID string) error {
	if s.verifier == nil {
		return fmt.Errorf("no signature verifier configured")
	}
	return s.verifier.Verify(header, requestID, dataID)
}

// annotate records the processing outcome. A failure here only loses the
// annotation; reconciled state is already committed.
func (s *service) annotate(ctx context.Context, logID uuid.UUID, signatureValid bool, result *NotificationResult) {
	now := s.now()
	fields := map[string]any{
		"signature_valid": signatureValid,
		"processed_ok":    result.Processed(),
		"outcome":         result.Outcome,
		"processed_at":    now,
		"error":           nil,
	}
	if result.Error != "" {
		fields["error"] = result.Error
	}
	if err := s.repo.AnnotateWebhookLog(ctx, logID, fields); err != nil {
		s.logg.Error(ctx, "annotate webhook log", err)
	}
}

// process reconciles one payload and writes the outcome into result.
func (s *service) process(ctx context.Context, body []byte, result *NotificationResult) {
	outcome, err := s.reconcile(ctx, body, result)
	if err != nil {
		result.Outcome = string(pkgerrors.CodeOf(err))
		result.Error = err.Error()
		if pkgerrors.CodeOf(err) == pkgerrors.CodeDependency || pkgerrors.CodeOf(err) == pkgerrors.CodeInternal {
			s.logg.Error(ctx, "payment reconciliation failed", err)
		} else {
			s.logg.Warn(s.logg.WithField(ctx, "outcome", result.Outcome), "payment notification not applied")
		}
		return
	}
	result.Outcome = outcome
	s.logg.Info(s.logg.WithField(ctx, "outcome", outcome), "payment notification reconciled")
}

func (s *service) reconcile(ctx context.Context, body []byte, result *NotificationResult) (string, error) {
	notice, err := decodeNotice(body)
	if err != nil {
		return "", err
	}
	payment, err := s.resolvePayment(ctx, notice)
	if err != nil {
		return "", err
	}
	paymentID := payment.ID
	result.PaymentID = &paymentID

	var outcome string
	err = s.db.WithRetryTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.LockPayment(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment")
		}

		// an existing purchase is the authoritative duplicate guard
		existing, err := repo.FindPurchaseByPayment(ctx, locked.ID)
		if err == nil {
			purchaseID := existing.ID
			result.PurchaseID = &purchaseID
			outcome = string(pkgerrors.CodeAlreadyCredited)
			return nil
		}
		if !isNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing purchase")
		}

		move, status := mapProviderStatus(notice.Status)
		switch move {
		case transitionApprove:
			purchase, err := s.credit(ctx, tx, locked, notice, body)
			if err != nil {
				return err
			}
			purchaseID := purchase.ID
			result.PurchaseID = &purchaseID
			outcome = OutcomeCredited
		case transitionClose:
			fields := providerFields(notice, body)
			fields["status"] = status
			if err := repo.UpdatePayment(ctx, locked.ID, fields); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
			}
			if err := repo.SetCheckoutLinkStatus(ctx, locked.ID, enums.CheckoutLinkStatusCanceled); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel checkout link")
			}
			outcome = OutcomeStatusUpdated
		default:
			if err := repo.UpdatePayment(ctx, locked.ID, providerFields(notice, body)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment notice")
			}
			outcome = OutcomeRecorded
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if outcome == OutcomeCredited {
		s.metrics.IncCredit()
	}
	return outcome, nil
}

// resolvePayment looks the local payment up by provider id, then correlation
// token, then preference id.
func (s *service) resolvePayment(ctx context.Context, notice *paymentNotice) (*models.Payment, error) {
	lookups := []struct {
		value string
		find  func(context.Context, string) (*models.Payment, error)
	}{
		{string(notice.ID), s.repo.FindPaymentByProviderID},
		{notice.ExternalReference, s.repo.FindPaymentByExternalReference},
		{notice.PreferenceID, s.repo.FindPaymentByPreferenceID},
	}
	for _, lookup := range lookups {
		if strings.TrimSpace(lookup.value) == "" {
			continue
		}
		payment, err := lookup.find(ctx, lookup.value)
		if err == nil {
			return payment, nil
		}
		if !isNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve local payment")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeLocalPaymentNotFound, "no local payment matches the notification").
		WithDetails(map[string]any{
			"provider_payment_id": string(notice.ID),
			"external_reference":  notice.ExternalReference,
			"preference_id":       notice.PreferenceID,
		})
}

// credit approves the locked payment and issues its pack. The caller holds
// the payment row lock and has checked no purchase exists yet.
func (s *service) credit(ctx context.Context, tx *gorm.DB, payment *models.Payment, notice *paymentNotice, body []byte) (*models.PackPurchase, error) {
	repo := s.repo.WithTx(tx)

	if notice.TransactionAmount == nil || notice.TransactionAmount.LessThan(payment.Amount) {
		paid := "missing"
		if notice.TransactionAmount != nil {
			paid = notice.TransactionAmount.StringFixed(2)
		}
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "paid amount is lower than the checkout amount").
			WithDetails(map[string]any{"paid": paid, "expected": payment.Amount.StringFixed(2)})
	}
	if notice.CurrencyID != "" && !strings.EqualFold(notice.CurrencyID, payment.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment currency differs from checkout currency").
			WithDetails(map[string]any{"paid_currency": notice.CurrencyID, "expected_currency": payment.Currency})
	}

	userID, err := s.beneficiary(ctx, repo, payment, notice)
	if err != nil {
		return nil, err
	}

	pack, err := repo.FindPack(ctx, payment.PackID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pack of payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pack")
	}

	fields := providerFields(notice, body)
	fields["status"] = enums.PaymentStatusApproved
	fields["user_id"] = userID
	if err := repo.UpdatePayment(ctx, payment.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve payment")
	}

	paymentID := payment.ID
	note := fmt.Sprintf("%s payment %s", s.provider, notice.ID)
	purchase, err := s.ledger.WithTx(tx).CreditPurchase(ctx, ledger.CreditPurchaseInput{
		UserID:    userID,
		Pack:      pack,
		PaymentID: &paymentID,
		Reason:    enums.LedgerReasonPurchaseCredit,
		Note:      &note,
	})
	if err != nil {
		return nil, err
	}

	if err := repo.SetCheckoutLinkStatus(ctx, payment.ID, enums.CheckoutLinkStatusCompleted); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete checkout link")
	}
	return purchase, nil
}

// beneficiary picks who receives the credits: the payment's user, then the
// user named by the correlation token, then the payer email (creating the
// account when needed).
func (s *service) beneficiary(ctx context.Context, repo Repository, payment *models.Payment, notice *paymentNotice) (uuid.UUID, error) {
	if payment.UserID != nil && *payment.UserID != uuid.Nil {
		return *payment.UserID, nil
	}

	for _, ref := range []string{payment.ExternalReference, notice.ExternalReference} {
		token, err := ParseCorrelationToken(ref)
		if err != nil {
			continue
		}
		if _, err := repo.FindUser(ctx, token.UserID); err == nil {
			return token.UserID, nil
		} else if !isNotFound(err) {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load token user")
		}
	}

	email := strings.ToLower(strings.TrimSpace(notice.Payer.Email))
	if email == "" && payment.PayerEmail != nil {
		email = strings.ToLower(strings.TrimSpace(*payment.PayerEmail))
	}
	if email == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeNoBeneficiaryUser, "payment has no user, token user or payer email")
	}

	user, err := repo.FindUserByEmail(ctx, email)
	if err == nil {
		return user.ID, nil
	}
	if !isNotFound(err) {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payer")
	}
	user = &models.User{
		Email:       email,
		Role:        enums.RoleUser,
		Affiliation: enums.AffiliationNone,
	}
	// a concurrent insert of the same email surfaces as a unique violation and
	// the retried tx finds the row
	if err := repo.CreateUser(ctx, user); err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payer user")
	}
	s.logg.Info(s.logg.WithField(ctx, "user_id", user.ID.String()), "beneficiary created from payer email")
	return user.ID, nil
}

// providerFields are the payment columns every notice refreshes.
func providerFields(notice *paymentNotice, body []byte) map[string]any {
	fields := map[string]any{
		"provider_payment_id": string(notice.ID),
		"raw_payload":         storablePayload(body),
	}
	if email := strings.TrimSpace(notice.Payer.Email); email != "" {
		fields["payer_email"] = strings.ToLower(email)
	}
	if notice.PreferenceID != "" {
		fields["preference_id"] = notice.PreferenceID
	}
	return fields
}
