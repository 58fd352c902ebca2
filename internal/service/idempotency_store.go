package service

import (
	"context"
	"sync"
	"time"
)

type IdempotencyState string

const (
	IdempotencyStateNew        IdempotencyState = "new"
	IdempotencyStateInProgress IdempotencyState = "in_progress"
	IdempotencyStateConflict   IdempotencyState = "conflict"
	IdempotencyStateReplay     IdempotencyState = "replay"
)

type CachedHTTPResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyBeginResult struct {
	State  IdempotencyState
	Cached *CachedHTTPResponse
}

// IdempotencyStore records one in-flight or completed response per
// (scope, key). A key reused with a different request fingerprint conflicts.
type IdempotencyStore interface {
	Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error)
	Complete(ctx context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error
	// Release drops an in-flight record so the client may retry, e.g. after
	// a server error.
	Release(ctx context.Context, scope, key, fingerprint string) error
}

type idempotencyRecord struct {
	fingerprint string
	completed   bool
	resp        CachedHTTPResponse
	expiresAt   time.Time
}

type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*idempotencyRecord
	now     func() time.Time
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		records: make(map[string]*idempotencyRecord),
		now:     time.Now,
	}
}

func (s *InMemoryIdempotencyStore) Begin(_ context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	id := scope + "|" + key
	rec, ok := s.records[id]
	if !ok || now.After(rec.expiresAt) {
		s.records[id] = &idempotencyRecord{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return IdempotencyBeginResult{State: IdempotencyStateNew}, nil
	}
	if rec.fingerprint != fingerprint {
		return IdempotencyBeginResult{State: IdempotencyStateConflict}, nil
	}
	if !rec.completed {
		return IdempotencyBeginResult{State: IdempotencyStateInProgress}, nil
	}
	cached := rec.resp
	cached.Body = append([]byte(nil), rec.resp.Body...)
	return IdempotencyBeginResult{State: IdempotencyStateReplay, Cached: &cached}, nil
}

func (s *InMemoryIdempotencyStore) Complete(_ context.Context, scope, key, fingerprint string, resp CachedHTTPResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[scope+"|"+key]
	if !ok || rec.fingerprint != fingerprint {
		return nil
	}
	rec.completed = true
	rec.resp = CachedHTTPResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		Body:        append([]byte(nil), resp.Body...),
	}
	rec.expiresAt = s.now().Add(ttl)
	return nil
}

func (s *InMemoryIdempotencyStore) Release(_ context.Context, scope, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := scope + "|" + key
	if rec, ok := s.records[id]; ok && rec.fingerprint == fingerprint && !rec.completed {
		delete(s.records, id)
	}
	return nil
}
