package cache

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/observability"
)

// DatasetLoader is implemented by the dataset service. Refresh must bypass the
// fresh cache entry and store the new dataset on success.
type DatasetLoader interface {
	Refresh(ctx context.Context) error
}

// Refresher reloads the cached dataset on a fixed interval so dashboard refresh
// ticks read recent data without each client hitting Grist.
type Refresher struct {
	loader DatasetLoader
	logger *zap.Logger
	clock  clockwork.Clock
}

// NewRefresher creates a Refresher. A nil clock uses the real clock.
func NewRefresher(loader DatasetLoader, logger *zap.Logger, clock clockwork.Clock) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Refresher{loader: loader, logger: logger, clock: clock}
}

// RefreshOnce runs one refresh and records its outcome.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := r.clock.Now()
	err := r.loader.Refresh(ctx)
	duration := r.clock.Since(start)
	observability.DatasetRefreshDuration.Observe(duration.Seconds())
	if err != nil {
		observability.DatasetRefreshTotal.WithLabelValues("error").Inc()
		r.logger.Warn("dataset refresh failed", zap.Error(err), zap.Duration("duration", duration))
		return err
	}
	observability.DatasetRefreshTotal.WithLabelValues("success").Inc()
	r.logger.Debug("dataset refreshed", zap.Duration("duration", duration))
	return nil
}

// Run performs an initial refresh, then refreshes every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	_ = r.RefreshOnce(ctx)
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			_ = r.RefreshOnce(ctx)
		}
	}
}
