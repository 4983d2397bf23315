// Package idempotency lets a client retry POST /orders with the same
// Idempotency-Key and get the original response instead of a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

const DefaultTTL = 24 * time.Hour

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type ReservationState int

const (
	// ReservationNew means the caller owns the key and must run the request.
	ReservationNew ReservationState = iota
	// ReservationCompleted means a stored response should be replayed.
	ReservationCompleted
	// ReservationPending means another request holds the key right now.
	ReservationPending
)

type Record struct {
	Key            string      `json:"key"`
	Fingerprint    string      `json:"fingerprint"`
	Status         Status      `json:"status"`
	ResponseStatus int         `json:"response_status,omitempty"`
	ResponseHeader http.Header `json:"response_header,omitempty"`
	ResponseBody   []byte      `json:"response_body,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

type Reservation struct {
	State  ReservationState
	Record Record
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch means the key was reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for a different request")

func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replayableHeader(header http.Header) http.Header {
	out := make(http.Header)
	for _, name := range []string{"Content-Type", "Location"} {
		if v := header.Values(name); len(v) > 0 {
			out[name] = append([]string(nil), v...)
		}
	}
	return out
}
