package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	"github.com/humbertoham/wavestudio-sub000/pkg/enums"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// Identity reads the caller set by the gateway. The headers are trusted; this
// only parses them. A missing role means USER.
func Identity(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawID := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if rawID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing caller identity"))
				return
			}
			userID, err := uuid.Parse(rawID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid caller identity"))
				return
			}

			role := enums.RoleUser
			if rawRole := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderUserRole))); rawRole != "" {
				role, err = enums.ParseRole(rawRole)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid caller role"))
					return
				}
			}

			ctx := WithIdentity(r.Context(), userID, role)
			if logg != nil {
				ctx = logg.WithCaller(ctx, userID.String(), role.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
