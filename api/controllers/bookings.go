package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/humbertoham/wavestudio-sub000/api/middleware"
	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/api/validators"
	"github.com/humbertoham/wavestudio-sub000/internal/bookings"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

type bookRequest struct {
	Quantity int `json:"quantity" validate:"omitempty,min=1,max=20"`
}

type bookResponse struct {
	Booking   *bookingResponse      `json:"booking"`
	Entries   []ledgerEntryResponse `json:"entries"`
	Charged   int                   `json:"charged"`
	Balance   int                   `json:"balance"`
	Available int                   `json:"available"`
}

type cancelResponse struct {
	Booking         *bookingResponse      `json:"booking"`
	AlreadyCanceled bool                  `json:"already_canceled"`
	Refunds         []ledgerEntryResponse `json:"refunds"`
	Refunded        int                   `json:"refunded"`
}

func newCancelResponse(res *bookings.CancelResult) cancelResponse {
	return cancelResponse{
		Booking:         newBookingResponse(res.Booking),
		AlreadyCanceled: res.AlreadyCanceled,
		Refunds:         newLedgerEntries(res.Refunds),
		Refunded:        res.Refunded,
	}
}

// BookClass books seats for the caller. An empty body books one seat.
func BookClass(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		classID, err := validators.ParseUUIDParam(r, "classID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := bookRequest{Quantity: 1}
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if payload.Quantity == 0 {
				payload.Quantity = 1
			}
		}

		res, err := svc.Book(ctx, bookings.BookInput{
			UserID:   caller,
			ClassID:  classID,
			Quantity: payload.Quantity,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, bookResponse{
			Booking:   newBookingResponse(res.Booking),
			Entries:   newLedgerEntries(res.Entries),
			Charged:   res.Charged,
			Balance:   res.Balance,
			Available: res.Available,
		})
	}
}

// CancelBooking cancels one of the caller's bookings. Repeats return 200 with
// already_canceled set.
func CancelBooking(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		bookingID, err := validators.ParseUUIDParam(r, "bookingID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.Cancel(ctx, bookings.CancelInput{BookingID: bookingID, ByUserID: &caller})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCancelResponse(res))
	}
}

// AdminRemoveBooking cancels any booking regardless of the window.
func AdminRemoveBooking(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bookingID, err := validators.ParseUUIDParam(r, "bookingID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.AdminRemove(ctx, bookingID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCancelResponse(res))
	}
}

// AdminCancelClass cancels a class and refunds every active booking.
func AdminCancelClass(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		classID, err := validators.ParseUUIDParam(r, "classID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.CancelClass(ctx, classID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

type attendanceRequest struct {
	Attended *bool `json:"attended" validate:"required"`
}

func AdminMarkAttendance(svc bookings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		bookingID, err := validators.ParseUUIDParam(r, "bookingID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload attendanceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		booking, err := svc.MarkAttendance(ctx, bookingID, *payload.Attended)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newBookingResponse(booking))
	}
}

func requireCaller(r *http.Request) (uuid.UUID, error) {
	id := middleware.UserIDFromContext(r.Context())
	if id == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing caller identity")
	}
	return id, nil
}
