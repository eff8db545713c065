package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/api/validators"
	"github.com/humbertoham/wavestudio-sub000/internal/payments"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

const maxNotificationBytes = 1 << 20

// NotificationService is the reconciliation half of payments.Service.
type NotificationService interface {
	HandleNotification(ctx context.Context, n payments.Notification) (*payments.NotificationResult, error)
	Replay(ctx context.Context, logID uuid.UUID) (*payments.NotificationResult, error)
}

type notificationResponse struct {
	LogID      uuid.UUID  `json:"webhook_log_id"`
	Outcome    string     `json:"outcome"`
	Error      string     `json:"error,omitempty"`
	PaymentID  *uuid.UUID `json:"payment_id,omitempty"`
	PurchaseID *uuid.UUID `json:"pack_purchase_id,omitempty"`
}

func newNotificationResponse(res *payments.NotificationResult) notificationResponse {
	return notificationResponse{
		LogID:      res.LogID,
		Outcome:    res.Outcome,
		Error:      res.Error,
		PaymentID:  res.PaymentID,
		PurchaseID: res.PurchaseID,
	}
}

// PaymentNotification receives provider notifications. Every delivery that
// reaches the webhook log is acknowledged with 200, processing failures
// included; only a failed log write answers 503 so the provider retries.
func PaymentNotification(svc NotificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		// a body that fails to read is still logged and acknowledged
		body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationBytes))

		res, err := svc.HandleNotification(ctx, payments.Notification{
			Signature: r.Header.Get("x-signature"),
			RequestID: r.Header.Get("x-request-id"),
			DataID:    r.URL.Query().Get("data.id"),
			Body:      body,
			ReadErr:   readErr,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newNotificationResponse(res))
	}
}

// AdminReplayWebhook re-runs a stored delivery.
func AdminReplayWebhook(svc NotificationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logID, err := validators.ParseUUIDParam(r, "logID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.Replay(ctx, logID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newNotificationResponse(res))
	}
}
