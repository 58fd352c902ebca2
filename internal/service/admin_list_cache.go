package service

import (
	"context"
	"sync"
	"time"
)

const (
	NamespaceAdminUsers = "admin.users"
	NamespaceAdminRoles = "admin.roles"
)

// AdminListCacheStore caches serialized admin listings. Entries are grouped by
// namespace so a write can drop every cached page at once.
type AdminListCacheStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	GetWithAge(ctx context.Context, namespace, key string) ([]byte, bool, time.Duration, error)
	Set(ctx context.Context, namespace, key string, payload []byte, ttl time.Duration) error
	InvalidateNamespace(ctx context.Context, namespace string) error
}

type NoopAdminListCacheStore struct{}

func (NoopAdminListCacheStore) Get(context.Context, string, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopAdminListCacheStore) GetWithAge(context.Context, string, string) ([]byte, bool, time.Duration, error) {
	return nil, false, 0, nil
}

func (NoopAdminListCacheStore) Set(context.Context, string, string, []byte, time.Duration) error {
	return nil
}

func (NoopAdminListCacheStore) InvalidateNamespace(context.Context, string) error { return nil }

type adminListEntry struct {
	payload   []byte
	storedAt  time.Time
	expiresAt time.Time
}

type InMemoryAdminListCacheStore struct {
	mu    sync.Mutex
	store map[string]map[string]adminListEntry
	now   func() time.Time
}

func NewInMemoryAdminListCacheStore() *InMemoryAdminListCacheStore {
	return &InMemoryAdminListCacheStore{
		store: make(map[string]map[string]adminListEntry),
		now:   time.Now,
	}
}

func (s *InMemoryAdminListCacheStore) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	payload, ok, _, err := s.GetWithAge(ctx, namespace, key)
	return payload, ok, err
}

func (s *InMemoryAdminListCacheStore) GetWithAge(_ context.Context, namespace, key string) ([]byte, bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.store[namespace]
	if !ok {
		return nil, false, 0, nil
	}
	entry, ok := ns[key]
	if !ok {
		return nil, false, 0, nil
	}
	now := s.now()
	if now.After(entry.expiresAt) {
		delete(ns, key)
		return nil, false, 0, nil
	}
	out := make([]byte, len(entry.payload))
	copy(out, entry.payload)
	return out, true, now.Sub(entry.storedAt), nil
}

func (s *InMemoryAdminListCacheStore) Set(_ context.Context, namespace, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.store[namespace]
	if !ok {
		ns = make(map[string]adminListEntry)
		s.store[namespace] = ns
	}
	now := s.now()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	ns[key] = adminListEntry{payload: buf, storedAt: now, expiresAt: now.Add(ttl)}
	return nil
}

func (s *InMemoryAdminListCacheStore) InvalidateNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, namespace)
	return nil
}
