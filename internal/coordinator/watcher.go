package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

// DefaultPollInterval is the spacing between status polls.
const DefaultPollInterval = 3 * time.Second

// Watcher runs the per-session poll loop for one generation: one
// outstanding poll at a time on a fixed interval, stopping when the record
// reaches a terminal state or the session context is torn down. Tearing
// down the loop never cancels the underlying provider job; those are
// independent cancellation domains.
type Watcher struct {
	coordinator *Coordinator
	interval    time.Duration
	logger      *slog.Logger
	sessionID   string
}

// NewWatcher creates a Watcher polling at the given interval. A
// non-positive interval falls back to DefaultPollInterval.
func NewWatcher(c *Coordinator, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		coordinator: c,
		interval:    interval,
		logger:      logger,
		sessionID:   uuid.NewString(),
	}
}

// SessionID identifies this watching session in logs.
func (w *Watcher) SessionID() string {
	return w.sessionID
}

// Watch polls the job until it reaches a terminal state, returning the
// final record. The first poll runs immediately so a resumed watch picks up
// already-finished jobs without waiting an interval. Poll errors are logged
// and retried on the next tick; the loop only gives up when ctx is
// cancelled. Context cancellation stops polling without touching the
// provider job.
func (w *Watcher) Watch(ctx context.Context, jobID string) (*generation.Record, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("watch started",
		slog.String("session_id", w.sessionID),
		slog.String("job_id", jobID),
		slog.Duration("interval", w.interval),
	)

	for {
		record, err := w.coordinator.Poll(ctx, jobID)
		if err != nil {
			// The poll loop is the recovery mechanism for transient
			// provider failures; log and try again next tick.
			w.logger.Warn("poll failed, retrying",
				slog.String("session_id", w.sessionID),
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		} else if record.IsTerminal() {
			w.logger.Info("watch finished",
				slog.String("session_id", w.sessionID),
				slog.String("job_id", jobID),
				slog.String("status", string(record.Status)),
			)
			return record, nil
		}

		select {
		case <-ctx.Done():
			w.logger.Info("watch stopped",
				slog.String("session_id", w.sessionID),
				slog.String("job_id", jobID),
			)
			return nil, fmt.Errorf("coordinator: watch cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
