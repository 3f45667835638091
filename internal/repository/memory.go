package repository

import (
	"context"
	"sync"
	"time"
)

type MemoryGuard struct {
	keys       sync.Map
	rateLimits sync.Map
	mu         sync.Mutex
	now        func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{now: time.Now}
}

type idempotencyEntry struct {
	bookingID string
	expiresAt time.Time
}

// Remember stores key only if it is not already held. It reports whether the
// key was stored.
func (g *MemoryGuard) Remember(ctx context.Context, key, bookingID string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if val, ok := g.keys.Load(key); ok {
		if entry := val.(*idempotencyEntry); now.Before(entry.expiresAt) {
			return false, nil
		}
	}
	g.keys.Store(key, &idempotencyEntry{bookingID: bookingID, expiresAt: now.Add(ttl)})
	return true, nil
}

// Lookup returns "" when the key is unknown or expired.
func (g *MemoryGuard) Lookup(ctx context.Context, key string) (string, error) {
	val, ok := g.keys.Load(key)
	if !ok {
		return "", nil
	}
	entry := val.(*idempotencyEntry)
	if !g.now().Before(entry.expiresAt) {
		g.keys.Delete(key)
		return "", nil
	}
	return entry.bookingID, nil
}

func (g *MemoryGuard) Forget(ctx context.Context, key string) error {
	g.keys.Delete(key)
	return nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (g *MemoryGuard) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	val, ok := g.rateLimits.Load(userID)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	g.rateLimits.Store(userID, entry)
	return entry.count <= limit, nil
}
