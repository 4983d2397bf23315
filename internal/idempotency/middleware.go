package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rosepetal/storefront/internal/apperr"
	"github.com/rosepetal/storefront/internal/httpx"
)

const (
	HeaderName       = "Idempotency-Key"
	ReplayHeaderName = "X-Idempotent-Replay"
	maxKeyLength     = 255
	finishTimeout    = 5 * time.Second
)

// Middleware only acts on requests that carry an Idempotency-Key; requests
// without one pass straight through. Responses below 500 are stored and
// replayed; a 5xx releases the key so the client can retry.
func Middleware(store Store, ttl time.Duration, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.RespondWithError(w, logger, apperr.InvalidInput("invalid_idempotency_key", "idempotency key is too long"))
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					httpx.RespondWithError(w, logger, httpx.ErrBodyTooLarge)
					return
				}
				httpx.RespondWithError(w, logger, apperr.InvalidInput("invalid_body", "unable to read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := Fingerprint(r.Method, r.URL.Path, body)
			log := logger.WithField("idempotency_key", key)

			reservation, err := store.Reserve(r.Context(), key, fingerprint, ttl)
			switch {
			case errors.Is(err, ErrFingerprintMismatch):
				httpx.RespondWithError(w, log, apperr.Conflict("idempotency_key_reused", "idempotency key was used for a different request"))
				return
			case err != nil:
				httpx.RespondWithError(w, log, apperr.Internal("idempotency store unavailable", err))
				return
			}

			switch reservation.State {
			case ReservationCompleted:
				log.Info("Replaying stored response")
				writeStored(w, reservation.Record)
				return
			case ReservationPending:
				httpx.RespondWithError(w, log, apperr.Conflict("idempotency_in_progress", "another request is processing this idempotency key"))
				return
			}

			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The outcome is recorded even when the client has gone away.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finishTimeout)
			defer cancel()

			if rec.status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					log.WithError(err).Warn("Failed to release idempotency key")
				}
				return
			}
			resp := Response{Status: rec.status, Header: w.Header(), Body: rec.body.Bytes()}
			if err := store.Complete(ctx, key, fingerprint, resp, ttl); err != nil {
				log.WithError(err).Warn("Failed to store idempotent response")
			}
		})
	}
}

func writeStored(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeader {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(ReplayHeaderName, "true")
	w.WriteHeader(record.ResponseStatus)
	w.Write(record.ResponseBody)
}

// recorder tees the response so it can be stored after it was sent.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
