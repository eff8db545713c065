package controllers

import (
	"net/http"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/api/validators"
	"github.com/humbertoham/wavestudio-sub000/internal/capacity"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

// ClassAvailability reports capacity, used and free seats for a class.
func ClassAvailability(svc capacity.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		classID, err := validators.ParseUUIDParam(r, "classID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		snap, err := svc.Snapshot(ctx, classID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

type capacityRequest struct {
	Capacity int `json:"capacity" validate:"min=0,max=1000"`
}

// AdminUpdateCapacity resizes a class. Shrinking below the seats in use fails.
func AdminUpdateCapacity(svc capacity.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		classID, err := validators.ParseUUIDParam(r, "classID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var payload capacityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		snap, err := svc.UpdateCapacity(ctx, classID, payload.Capacity)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}
