package history

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically purges finished runs older than the retention window.
type Janitor struct {
	store     Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewJanitor creates a janitor. interval defaults to a tenth of retention,
// clamped to at least one minute.
func NewJanitor(store Store, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = retention / 10
		if interval < time.Minute {
			interval = time.Minute
		}
	}
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With(zap.String("component", "history_janitor")),
		now:       time.Now,
	}
}

// PurgeOnce removes runs that started before now minus retention.
func (j *Janitor) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.store.Purge(ctx, cutoff)
	if err != nil {
		j.logger.Warn("history purge failed", zap.Error(err))
		return 0, err
	}
	if n > 0 {
		j.logger.Info("purged run history", zap.Int64("runs", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// Run purges on every tick until ctx is done. A non-positive retention
// disables purging.
func (j *Janitor) Run(ctx context.Context) {
	if j.retention <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = j.PurgeOnce(ctx)
		}
	}
}
