package coordinator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wanvideo/wan-generator-api/internal/generation"
	"github.com/wanvideo/wan-generator-api/internal/store"
)

// ClientView is the ephemeral client-side projection of the one generation
// the user is actively watching. It is rehydrated from the durable store on
// session start and never treated as authoritative.
type ClientView struct {
	// Record is a denormalized, possibly stale snapshot of the watched
	// generation. Nil when nothing is being watched.
	Record *generation.Record `json:"record,omitempty"`
	// InFlight reports whether the watched generation still needs polling.
	InFlight bool `json:"inFlight"`
}

// Reconcile resolves disagreement between a client view remembered across a
// reload and the durable store, which is always the source of truth:
//
//   - remembered job stored and terminal: adopt the stored record, clear the
//     in-flight flag even if the client still thought it was generating
//   - remembered job stored and non-terminal: adopt the stored record and
//     set the in-flight flag so polling resumes
//   - remembered job absent from the store: discard the client's memory
//   - nothing remembered: adopt the most recently created non-terminal
//     stored record, if any (ties broken by larger ID for determinism)
//
// Reconcile is idempotent; running it any number of times without an
// intervening provider change yields the same view.
func (c *Coordinator) Reconcile(ctx context.Context, remembered *ClientView) (ClientView, error) {
	if remembered != nil && remembered.Record != nil && remembered.Record.ID != "" {
		stored, err := c.repo.Get(ctx, remembered.Record.ID)
		if errors.Is(err, store.ErrNotFound) {
			// The store has no memory of this job; drop the orphan.
			c.logger.Info("discarding client view of unknown generation",
				slog.String("job_id", remembered.Record.ID),
			)
			return ClientView{}, nil
		}
		if err != nil {
			return ClientView{}, err
		}
		return ClientView{Record: stored, InFlight: !stored.IsTerminal()}, nil
	}

	// No remembered job: look for an active generation to resume watching.
	active, err := c.findActive(ctx)
	if err != nil {
		return ClientView{}, err
	}
	if active == nil {
		return ClientView{}, nil
	}
	return ClientView{Record: active, InFlight: true}, nil
}

// findActive returns the most relevant non-terminal record: newest
// CreatedAt first, larger ID breaking exact timestamp ties. At most one job
// is active from the client's perspective at a time.
func (c *Coordinator) findActive(ctx context.Context) (*generation.Record, error) {
	records, err := c.repo.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	var active *generation.Record
	for _, record := range records {
		if record.IsTerminal() {
			continue
		}
		if active == nil ||
			record.CreatedAt > active.CreatedAt ||
			(record.CreatedAt == active.CreatedAt && record.ID > active.ID) {
			active = record
		}
	}
	return active, nil
}
