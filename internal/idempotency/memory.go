package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepInterval bounds how often Reserve scans for expired keys.
const sweepInterval = time.Minute

type memoryEntry struct {
	record  Record
	expires time.Time
}

// MemoryStore is the single-process fallback used when REDIS_ADDR is unset.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]memoryEntry
	now       func() time.Time
	nextSweep time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.sweep(now)
	entry, ok := s.records[key]
	if !ok || !now.Before(entry.expires) {
		record := Record{Key: key, Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now}
		s.records[key] = memoryEntry{record: record, expires: now.Add(ttl)}
		return Reservation{State: ReservationNew, Record: record}, nil
	}
	if entry.record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if entry.record.Status == StatusCompleted {
		return Reservation{State: ReservationCompleted, Record: entry.record}, nil
	}
	return Reservation{State: ReservationPending, Record: entry.record}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	entry, ok := s.records[key]
	if ok && entry.record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	record := entry.record
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeader = replayableHeader(resp.Header)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	s.records[key] = memoryEntry{record: record, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Len reports the number of keys held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) sweep(now time.Time) {
	if now.Before(s.nextSweep) {
		return
	}
	for key, entry := range s.records {
		if !now.Before(entry.expires) {
			delete(s.records, key)
		}
	}
	s.nextSweep = now.Add(sweepInterval)
}
