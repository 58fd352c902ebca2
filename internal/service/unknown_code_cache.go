package service

import (
	"context"
	"sync"
	"time"
)

// UnknownCodeCache remembers resource codes that matched nothing so repeated
// scans of garbage input skip the database. A stale entry can only delay a
// freshly issued code by one TTL, and IssueResource forgets the code anyway.
type UnknownCodeCache interface {
	IsUnknown(ctx context.Context, code string) (bool, error)
	MarkUnknown(ctx context.Context, code string, ttl time.Duration) error
	Forget(ctx context.Context, code string) error
}

type NoopUnknownCodeCache struct{}

func (NoopUnknownCodeCache) IsUnknown(context.Context, string) (bool, error) { return false, nil }

func (NoopUnknownCodeCache) MarkUnknown(context.Context, string, time.Duration) error { return nil }

func (NoopUnknownCodeCache) Forget(context.Context, string) error { return nil }

// maxMemoryUnknownCodes bounds the in-process cache against floods of
// distinct garbage codes.
const maxMemoryUnknownCodes = 10_000

type MemoryUnknownCodeCache struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryUnknownCodeCache() *MemoryUnknownCodeCache {
	return &MemoryUnknownCodeCache{expires: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryUnknownCodeCache) IsUnknown(_ context.Context, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.expires[code]
	if !ok {
		return false, nil
	}
	if !c.now().Before(exp) {
		delete(c.expires, code)
		return false, nil
	}
	return true, nil
}

func (c *MemoryUnknownCodeCache) MarkUnknown(_ context.Context, code string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if len(c.expires) >= maxMemoryUnknownCodes {
		for k, exp := range c.expires {
			if !now.Before(exp) {
				delete(c.expires, k)
			}
		}
		if len(c.expires) >= maxMemoryUnknownCodes {
			return nil
		}
	}
	c.expires[code] = now.Add(ttl)
	return nil
}

func (c *MemoryUnknownCodeCache) Forget(_ context.Context, code string) error {
	c.mu.Lock()
	delete(c.expires, code)
	c.mu.Unlock()
	return nil
}
