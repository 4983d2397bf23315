package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares reservations across order-service replicas. Reserve is a
// single SET NX so two replicas can never both own a key.
type RedisStore struct {
	client      *redis.Client
	serviceName string
	now         func() time.Time
}

func NewRedisStore(addr, serviceName string) *RedisStore {
	return NewRedisStoreWith(redis.NewClient(&redis.Options{Addr: addr}), serviceName)
}

func NewRedisStoreWith(client *redis.Client, serviceName string) *RedisStore {
	return &RedisStore{client: client, serviceName: serviceName, now: time.Now}
}

func (s *RedisStore) generateKey(key string) string {
	return fmt.Sprintf("%s:idempotency:%s", s.serviceName, key)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{Key: key, Fingerprint: fingerprint, Status: StatusPending, CreatedAt: s.now().UTC()}
	data, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}

	ok, err := s.client.SetNX(ctx, s.generateKey(key), data, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return Reservation{State: ReservationNew, Record: record}, nil
	}

	existing, err := s.load(ctx, key)
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Reserve(ctx, key, fingerprint, ttl)
	}
	if err != nil {
		return Reservation{}, err
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationCompleted, Record: existing}, nil
	}
	return Reservation{State: ReservationPending, Record: existing}, nil
}

func (s *RedisStore) load(ctx context.Context, key string) (Record, error) {
	raw, err := s.client.Get(ctx, s.generateKey(key)).Bytes()
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return record, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record := Record{
		Key:            key,
		Fingerprint:    fingerprint,
		Status:         StatusCompleted,
		ResponseStatus: resp.Status,
		ResponseHeader: replayableHeader(resp.Header),
		ResponseBody:   resp.Body,
		CreatedAt:      s.now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.generateKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.generateKey(key)).Err()
}
