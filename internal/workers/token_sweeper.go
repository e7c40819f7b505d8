package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// OverdueExpirer bulk-expires pending tokens whose window elapsed
type OverdueExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// TokenSweeper periodically expires overdue magic-link tokens. Verification
// already rejects expired tokens on read; the sweep keeps the store's
// status column truthful for reporting and retention.
type TokenSweeper struct {
	links    OverdueExpirer
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewTokenSweeper creates a new token sweeper
func NewTokenSweeper(links OverdueExpirer, interval time.Duration, logger *zap.Logger) *TokenSweeper {
	return &TokenSweeper{
		links:    links,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the sweep loop until ctx is cancelled
func (s *TokenSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Warn("token_sweep_failed", zap.Error(err))
			}
		}
	}
}

func (s *TokenSweeper) sweep(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	expired, err := s.links.ExpireOverdue(ctx, s.now().UTC())
	if err != nil {
		return fmt.Errorf("expire overdue tokens: %w", err)
	}
	if expired > 0 {
		s.logger.Info("expired_overdue_tokens", zap.Int("count", expired))
	}
	return nil
}
