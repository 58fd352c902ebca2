package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
)

// CachedIdentity is the slice of the live user row needed to authorize a
// request: roles and the current token version.
type CachedIdentity struct {
	TokenVersion uint          `json:"tv"`
	Roles        []domain.Role `json:"roles"`
}

type IdentityCacheStore interface {
	Get(ctx context.Context, userID uint) (*CachedIdentity, bool, error)
	Set(ctx context.Context, userID uint, identity CachedIdentity, ttl time.Duration) error
	InvalidateUser(ctx context.Context, userID uint) error
	InvalidateAll(ctx context.Context) error
}

type NoopIdentityCacheStore struct{}

func NewNoopIdentityCacheStore() *NoopIdentityCacheStore {
	return &NoopIdentityCacheStore{}
}

func (s *NoopIdentityCacheStore) Get(context.Context, uint) (*CachedIdentity, bool, error) {
	return nil, false, nil
}

func (s *NoopIdentityCacheStore) Set(context.Context, uint, CachedIdentity, time.Duration) error {
	return nil
}

func (s *NoopIdentityCacheStore) InvalidateUser(context.Context, uint) error {
	return nil
}

func (s *NoopIdentityCacheStore) InvalidateAll(context.Context) error {
	return nil
}

type identityCacheEntry struct {
	identity  CachedIdentity
	expiresAt time.Time
}

// InMemoryIdentityCacheStore keys entries by global and per-user epochs, so an
// invalidation is a counter bump and stale entries simply stop being found.
type InMemoryIdentityCacheStore struct {
	mu          sync.RWMutex
	data        map[string]identityCacheEntry
	globalEpoch uint64
	userEpoch   map[uint]uint64
}

func NewInMemoryIdentityCacheStore() *InMemoryIdentityCacheStore {
	return &InMemoryIdentityCacheStore{
		data:      make(map[string]identityCacheEntry),
		userEpoch: make(map[uint]uint64),
	}
}

func (s *InMemoryIdentityCacheStore) Get(_ context.Context, userID uint) (*CachedIdentity, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	key := s.cacheKeyLocked(userID)
	entry, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.data, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	out := entry.identity
	out.Roles = append([]domain.Role(nil), entry.identity.Roles...)
	return &out, true, nil
}

func (s *InMemoryIdentityCacheStore) Set(_ context.Context, userID uint, identity CachedIdentity, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	identity.Roles = append([]domain.Role(nil), identity.Roles...)
	s.data[s.cacheKeyLocked(userID)] = identityCacheEntry{
		identity:  identity,
		expiresAt: time.Now().UTC().Add(ttl),
	}
	return nil
}

func (s *InMemoryIdentityCacheStore) InvalidateUser(_ context.Context, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userEpoch[userID]++
	return nil
}

func (s *InMemoryIdentityCacheStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalEpoch++
	s.data = make(map[string]identityCacheEntry)
	return nil
}

func (s *InMemoryIdentityCacheStore) cacheKeyLocked(userID uint) string {
	return buildIdentityCacheKey(s.globalEpoch, s.userEpoch[userID], userID)
}

func buildIdentityCacheKey(globalEpoch, userEpoch uint64, userID uint) string {
	return fmt.Sprintf("identity:g%d:u%d:user:%d", globalEpoch, userEpoch, userID)
}
