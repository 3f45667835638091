package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gymbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryProbeInterval = time.Minute

// FailoverGuard serves from primary until it errors, then from fallback, and
// probes primary again once recoveryProbeInterval has passed.
type FailoverGuard struct {
	primary   domain.RequestGuard
	fallback  domain.RequestGuard
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverGuard(primary, fallback domain.RequestGuard, logger *zerolog.Logger) *FailoverGuard {
	return &FailoverGuard{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverGuard) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Sub(r.lastCheck) > recoveryProbeInterval
}

func (r *FailoverGuard) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary request guard failed, falling back to memory")
	}
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

func (r *FailoverGuard) markUp() {
	if r.isDown.Swap(false) {
		r.logger.Info().Msg("Primary request guard recovered")
	}
}

func (r *FailoverGuard) Remember(ctx context.Context, key, bookingID string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		stored, err := r.primary.Remember(ctx, key, bookingID, ttl)
		if err == nil {
			r.markUp()
			return stored, nil
		}
		r.markDown(err)
	}
	return r.fallback.Remember(ctx, key, bookingID, ttl)
}

func (r *FailoverGuard) Lookup(ctx context.Context, key string) (string, error) {
	if r.usePrimary() {
		id, err := r.primary.Lookup(ctx, key)
		if err == nil {
			r.markUp()
			if id != "" {
				return id, nil
			}
			// keys written while primary was down only exist in the fallback
			return r.fallback.Lookup(ctx, key)
		}
		r.markDown(err)
	}
	return r.fallback.Lookup(ctx, key)
}

func (r *FailoverGuard) Forget(ctx context.Context, key string) error {
	_ = r.fallback.Forget(ctx, key)
	if r.usePrimary() {
		err := r.primary.Forget(ctx, key)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return nil
}

func (r *FailoverGuard) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}
	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
