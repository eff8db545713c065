package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/api/validators"
	"github.com/humbertoham/wavestudio-sub000/internal/ledger"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
	"github.com/humbertoham/wavestudio-sub000/pkg/pagination"
)

// MyBalance returns the caller's spendable balance and the buckets behind it.
func MyBalance(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		now := time.Now().UTC()
		buckets, err := svc.Buckets(ctx, caller, now)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		balance, err := svc.Balance(ctx, caller, now)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if buckets == nil {
			buckets = []ledger.Bucket{}
		}
		responses.WriteSuccess(w, balanceResponse{Balance: balance, Buckets: buckets})
	}
}

// MyLedger pages through the caller's ledger, newest first.
func MyLedger(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, err := requireCaller(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := svc.History(ctx, caller, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WritePage(w, newLedgerEntries(page.Items), page.NextCursor)
	}
}

type adjustResponse struct {
	Entries []ledgerEntryResponse `json:"entries"`
	Balance int                   `json:"balance"`
}

func AdminAdjust(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var payload ledger.AdjustInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payload.Note = validators.SanitizeString(payload.Note, 500)

		res, err := svc.AdminAdjust(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, adjustResponse{
			Entries: newLedgerEntries(res.Entries),
			Balance: res.Balance,
		})
	}
}

// AdminGrantPack credits a pack to a user without a payment.
func AdminGrantPack(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var payload ledger.GrantPackInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		payload.Note = validators.SanitizeString(payload.Note, 500)

		purchase, err := svc.GrantPack(ctx, payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newPurchaseResponse(purchase))
	}
}

type rebuildResponse struct {
	PackPurchaseID string `json:"pack_purchase_id"`
	ClassesLeft    int    `json:"classes_left"`
}

func AdminRebuildProjection(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		purchaseID, err := validators.ParseUUIDParam(r, "purchaseID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		left, err := svc.RebuildProjection(ctx, purchaseID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, rebuildResponse{PackPurchaseID: purchaseID.String(), ClassesLeft: left})
	}
}
