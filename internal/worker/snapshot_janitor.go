package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/store"
)

// SnapshotJanitor removes cached attempts whose deadline passed more than the
// retention window ago. Such attempts were abandoned: a live session would
// have submitted them at expiry.
type SnapshotJanitor struct {
	pruner    store.Pruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewSnapshotJanitor creates a new SnapshotJanitor.
func NewSnapshotJanitor(pruner store.Pruner, retention, interval time.Duration, log zerolog.Logger) *SnapshotJanitor {
	return &SnapshotJanitor{
		pruner:    pruner,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		log:       log.With().Str("component", "snapshot_janitor").Logger(),
	}
}

// Start runs a sweep immediately and then once per interval until ctx is
// cancelled. Call in a goroutine.
func (w *SnapshotJanitor) Start(ctx context.Context) {
	w.log.Info().
		Dur("retention", w.retention).
		Dur("interval", w.interval).
		Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep prunes once and returns the number of removed snapshots.
func (w *SnapshotJanitor) Sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.retention)

	n, err := w.pruner.PruneExpired(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Snapshot sweep failed")
		}
		return n
	}
	if n > 0 {
		w.log.Info().Int("count", n).Time("cutoff", cutoff).Msg("Pruned abandoned snapshots")
	}
	return n
}
