package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/api/validators"
	"github.com/humbertoham/wavestudio-sub000/internal/corporate"
	"github.com/humbertoham/wavestudio-sub000/pkg/db/models"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

type corporateGrantResponse struct {
	UserID  uuid.UUID             `json:"user_id"`
	Skipped bool                  `json:"skipped"`
	Reset   []ledgerEntryResponse `json:"reset"`
	Credit  *ledgerEntryResponse  `json:"credit,omitempty"`
}

// AdminGrantCorporate runs the monthly corporate reset for one user. A user
// already granted this month comes back with skipped set.
func AdminGrantCorporate(svc corporate.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, err := validators.ParseUUIDParam(r, "userID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		res, err := svc.GrantUser(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := corporateGrantResponse{
			UserID:  res.UserID,
			Skipped: res.Skipped,
			Reset:   newLedgerEntries(res.Reset),
		}
		if res.Credit != nil {
			credit := newLedgerEntries([]models.TokenLedger{*res.Credit})
			out.Credit = &credit[0]
		}
		responses.WriteSuccess(w, out)
	}
}
