package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/api/validators"
	"github.com/humbertoham/wavestudio-sub000/internal/payments"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

type checkoutRequest struct {
	PackID uuid.UUID `json:"pack_id" validate:"required"`
}

type checkoutResponse struct {
	Payment           *paymentResponse `json:"payment"`
	PackName          string           `json:"pack_name"`
	Classes           int              `json:"classes"`
	ExternalReference string           `json:"external_reference"`
}

// Checkout opens a pending payment for a pack. The provider preference is
// created by the caller using external_reference.
func Checkout(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		res, err := svc.CreateCheckout(ctx, payments.CheckoutInput{UserID: caller, PackID: payload.PackID})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := checkoutResponse{
			Payment:           newPaymentResponse(res.Payment),
			ExternalReference: res.ExternalReference,
		}
		if res.Pack != nil {
			out.PackName = res.Pack.Name
			out.Classes = res.Pack.Classes
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, out)
	}
}

type preferenceRequest struct {
	PreferenceID string `json:"preference_id" validate:"required,max=200"`
}

func AdminAttachPreference(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		paymentID, err := validators.ParseUUIDParam(r, "paymentID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload preferenceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payment, err := svc.AttachPreference(ctx, paymentID, validators.SanitizeString(payload.PreferenceID, 200))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}
