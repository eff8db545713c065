package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/humbertoham/wavestudio-sub000/api/responses"
	pkgerrors "github.com/humbertoham/wavestudio-sub000/pkg/errors"
	"github.com/humbertoham/wavestudio-sub000/pkg/logger"
	pkgredis "github.com/humbertoham/wavestudio-sub000/pkg/redis"
)

const (
	idempotencyHeader   = "Idempotency-Key"
	maxIdempotencyKey   = 200
	inFlightReservation = time.Minute

	// ReplayWindowBooking keeps booking responses long enough to cover
	// client retries after a timeout.
	ReplayWindowBooking = 24 * time.Hour
	// ReplayWindowMoney covers checkout and admin credit grants.
	ReplayWindowMoney = 7 * 24 * time.Hour
)

// replayRecord is what the store holds under a key. A record without a
// status is a reservation for a request that is still running.
type replayRecord struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (r replayRecord) pending() bool { return r.Status == 0 }

// Idempotency builds per-route replay middleware. A request carrying an
// Idempotency-Key first reserves the key, so a concurrent duplicate gets a
// 409 instead of running twice. Only 2xx responses are kept for replay; any
// other outcome frees the key for a retry. Requests without the header pass
// straight through, as does everything when store is nil.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(window time.Duration) func(http.Handler) http.Handler {
	return func(window time.Duration) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			if store == nil || window <= 0 {
				return next
			}
			return &replayHandler{next: next, store: store, logg: logg, window: window}
		}
	}
}

type replayHandler struct {
	next   http.Handler
	store  pkgredis.IdempotencyStore
	logg   *logger.Logger
	window time.Duration
}

func (h *replayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if id == "" {
		h.next.ServeHTTP(w, r)
		return
	}
	if len(id) > maxIdempotencyKey {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long").
			WithDetails(map[string]any{"max_length": maxIdempotencyKey}))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unable to read request body"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	// Keys are private to the caller and the concrete path.
	key := h.store.IdempotencyKey(UserIDFromContext(ctx).String()+"|"+r.Method+"|"+r.URL.Path, id)

	reservation, _ := json.Marshal(replayRecord{RequestHash: hash})
	reserved, err := h.store.SetNX(ctx, key, string(reservation), inFlightReservation)
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
		return
	}
	if !reserved {
		h.replay(w, r, key, hash)
		return
	}

	capture := &responseCapture{ResponseWriter: w}
	h.next.ServeHTTP(capture, r)

	status := capture.statusOrOK()
	if status < 200 || status >= 300 {
		h.release(ctx, key)
		return
	}
	record, err := json.Marshal(replayRecord{
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	})
	if err == nil {
		err = h.store.Set(ctx, key, string(record), h.window)
	}
	if err != nil && h.logg != nil {
		h.logg.Error(h.logg.WithField(ctx, "idempotency_key", id), "failed to store idempotent response", err)
	}
}

func (h *replayHandler) replay(w http.ResponseWriter, r *http.Request, key, hash string) {
	ctx := r.Context()
	raw, err := h.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// reservation expired or was released between SETNX and GET
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "idempotent request state changed; retry"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}
	var record replayRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != hash:
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "Idempotency-Key reused with a different request body"))
	case record.pending():
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this Idempotency-Key is still in progress"))
	default:
		if record.ContentType != "" {
			w.Header().Set("Content-Type", record.ContentType)
		}
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(record.Status)
		_, _ = w.Write(record.Body)
	}
}

func (h *replayHandler) release(ctx context.Context, key string) {
	if err := h.store.Del(ctx, key); err != nil && h.logg != nil {
		h.logg.Warn(h.logg.WithField(ctx, "error", err.Error()), "failed to release idempotency key")
	}
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
