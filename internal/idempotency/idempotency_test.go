package idempotency

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStoreWith(client, "storefront-test"),
	}
}

func TestStoreReserveLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			res, err := s.Reserve(ctx, "k1", "fp", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, ReservationNew, res.State)

			res, err = s.Reserve(ctx, "k1", "fp", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, ReservationPending, res.State)

			_, err = s.Reserve(ctx, "k1", "other", time.Minute)
			assert.ErrorIs(t, err, ErrFingerprintMismatch)

			require.NoError(t, s.Complete(ctx, "k1", "fp", Response{
				Status: http.StatusCreated,
				Header: http.Header{"Content-Type": {"application/json"}, "Date": {"now"}},
				Body:   []byte(`{"orderId":1}`),
			}, time.Minute))

			res, err = s.Reserve(ctx, "k1", "fp", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, ReservationCompleted, res.State)
			assert.Equal(t, http.StatusCreated, res.Record.ResponseStatus)
			assert.Equal(t, `{"orderId":1}`, string(res.Record.ResponseBody))
			assert.Empty(t, res.Record.ResponseHeader.Get("Date"))

			require.NoError(t, s.Release(ctx, "k1"))
			res, err = s.Reserve(ctx, "k1", "fp", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, ReservationNew, res.State)
		})
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Reserve(ctx, "k", "fp", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	res, err := s.Reserve(ctx, "k", "other", time.Second)
	require.NoError(t, err)
	assert.Equal(t, ReservationNew, res.State)
}

func newCountingHandler(status int, calls *int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"echo":` + string(body) + `}`))
	})
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func post(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysCompletedRequest(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore(), time.Minute, quietLogger())(newCountingHandler(http.StatusCreated, &calls))

	first := post(h, "abc", `1`)
	second := post(h, "abc", `1`)

	assert.Equal(t, int32(1), calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(ReplayHeaderName))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore(), time.Minute, quietLogger())(newCountingHandler(http.StatusCreated, &calls))

	post(h, "", `1`)
	post(h, "", `1`)
	assert.Equal(t, int32(2), calls)
}

func TestMiddlewareRejectsReusedKey(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore(), time.Minute, quietLogger())(newCountingHandler(http.StatusCreated, &calls))

	post(h, "abc", `1`)
	rec := post(h, "abc", `2`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "idempotency_key_reused")
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore(), time.Minute, quietLogger())(newCountingHandler(http.StatusInternalServerError, &calls))

	post(h, "abc", `1`)
	post(h, "abc", `1`)
	assert.Equal(t, int32(2), calls)
}

func TestMiddlewareCompletesAfterClientDisconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStoreWith(client, "storefront-test")

	var calls int32
	var cancel context.CancelFunc
	committed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		cancel()
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"orderId":1}`))
	})
	h := Middleware(store, time.Minute, quietLogger())(committed)

	ctx, c := context.WithCancel(context.Background())
	cancel = c
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`1`)).WithContext(ctx)
	req.Header.Set(HeaderName, "gone")
	h.ServeHTTP(httptest.NewRecorder(), req)

	retry := post(h, "gone", `1`)
	assert.Equal(t, int32(1), calls)
	assert.Equal(t, http.StatusCreated, retry.Code, retry.Body.String())
	assert.Equal(t, "true", retry.Header().Get(ReplayHeaderName))
	assert.Equal(t, `{"orderId":1}`, retry.Body.String())
}

func TestMiddlewareRejectsOversizedBody(t *testing.T) {
	var calls int32
	h := Middleware(NewMemoryStore(), time.Minute, quietLogger())(newCountingHandler(http.StatusCreated, &calls))

	rec := post(h, "big", `"`+strings.Repeat("x", 2<<20)+`"`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "body_too_large")
	assert.Zero(t, calls)
}

func TestMemoryStoreSweepsExpiredKeys(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := s.Reserve(ctx, key, "fp", time.Second)
		require.NoError(t, err)
	}
	now = now.Add(sweepInterval + 2*time.Second)

	_, err := s.Reserve(ctx, "d", "fp", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}
