package app

import (
	"context"
	"log/slog"
	"time"
)

// ExpiredReleaser frees reservations whose hold has lapsed.
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context) (int, error)
}

// Sweeper periodically releases expired reservations. It runs in the host
// process; the ledger itself never schedules work.
type Sweeper struct {
	releaser ExpiredReleaser
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(releaser ExpiredReleaser, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		releaser: releaser,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("reservation sweep started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reservation sweep stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	n, err := s.releaser.ReleaseExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "reservation sweep failed",
			slog.Int("released", n),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		s.logger.DebugContext(ctx, "reservation sweep finished", slog.Int("released", n))
	}
}
