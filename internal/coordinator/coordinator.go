// Package coordinator implements the generation lifecycle coordinator: the
// single authority translating provider job state and stored state into what
// clients see. It orchestrates submission, polling, reconciliation after
// client reloads, cancellation and artifact materialization.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wanvideo/wan-generator-api/internal/artifact"
	"github.com/wanvideo/wan-generator-api/internal/generation"
	"github.com/wanvideo/wan-generator-api/internal/runpod"
	"github.com/wanvideo/wan-generator-api/internal/store"
)

// ErrNotCancellable is returned when cancellation is requested for a job
// already in a terminal state.
var ErrNotCancellable = errors.New("coordinator: generation is not cancellable")

// CancelError is returned when a cancellation could not take effect. The
// stored record is left unchanged; the job may still complete normally.
type CancelError struct {
	JobID string
	Err   error
}

func (e *CancelError) Error() string {
	return fmt.Sprintf("coordinator: cancel %s: %v", e.JobID, e.Err)
}

func (e *CancelError) Unwrap() error {
	return e.Err
}

// SubmitResult is returned to the client after a successful submission.
type SubmitResult struct {
	JobID         string
	Status        generation.Status
	EstimatedTime int
}

// Coordinator drives every generation through its lifecycle. All record
// mutations go through the repository's atomic Update, so concurrent
// sessions watching the same job converge without corrupting the record.
type Coordinator struct {
	provider runpod.Client
	repo     store.Repository
	transfer *artifact.Transferrer
	logger   *slog.Logger

	// sourceImages retains submitted source images until completion so the
	// thumbnail can be derived. Keyed by job ID, dropped on terminal state.
	mu           sync.Mutex
	sourceImages map[string]string
}

// New creates a Coordinator.
func New(provider runpod.Client, repo store.Repository, transfer *artifact.Transferrer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		provider:     provider,
		repo:         repo,
		transfer:     transfer,
		logger:       logger,
		sourceImages: make(map[string]string),
	}
}

// Submit validates params, enqueues the job with the provider and persists
// the initial queued record. On validation failure a *generation.
// ValidationError is returned before any provider call; on provider failure
// no record is created and the provider error propagates.
func (c *Coordinator) Submit(ctx context.Context, params generation.Params) (SubmitResult, error) {
	if err := params.Validate(); err != nil {
		return SubmitResult{}, err
	}

	estimated := generation.EstimateTime(params)
	imageB64 := artifact.StripDataURLPrefix(params.ImageBase64)

	input := runpod.SubmitInput{
		Prompt:            params.Prompt,
		NumInferenceSteps: params.NumInferenceSteps,
		GuidanceScale:     params.GuidanceScale,
		NumFrames:         params.NumFrames,
		FPS:               params.FPS,
		Seed:              params.Seed,
	}
	if params.ImageDriven() {
		input.ImageBase64 = imageB64
	} else {
		input.Width, input.Height = params.Resolution.Dimensions()
	}

	jobID, err := c.provider.Submit(ctx, input)
	if err != nil {
		return SubmitResult{}, err
	}

	// The image payload is not persisted with the record; only the tuning
	// parameters are.
	storedParams := params
	storedParams.ImageBase64 = ""

	record := &generation.Record{
		ID:            jobID,
		Prompt:        params.Prompt,
		Params:        storedParams,
		Status:        generation.StatusQueued,
		CreatedAt:     time.Now().UnixMilli(),
		Progress:      generation.ProgressQueued,
		EstimatedTime: estimated,
	}

	if err := c.repo.Create(ctx, record); err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: persist generation %s: %w", jobID, err)
	}

	if params.ImageDriven() {
		c.mu.Lock()
		c.sourceImages[jobID] = imageB64
		c.mu.Unlock()
	}

	c.logger.Info("generation submitted",
		slog.String("job_id", jobID),
		slog.String("resolution", string(params.Resolution)),
		slog.Int("num_frames", params.NumFrames),
		slog.Int("estimated_time_sec", estimated),
		slog.Bool("image_driven", params.ImageDriven()),
	)

	return SubmitResult{
		JobID:         jobID,
		Status:        generation.StatusQueued,
		EstimatedTime: estimated,
	}, nil
}

// Poll fetches the provider-side state of a job and folds it into the
// stored record. Terminal records are an idempotent no-op. A provider fetch
// failure leaves the record untouched and propagates, so the poll loop can
// try again. Completion is only persisted once the artifact transfer has
// produced a stable retrieval path; a failed transfer is logged and left
// for the next poll to retry, never surfaced as job failure.
func (c *Coordinator) Poll(ctx context.Context, jobID string) (*generation.Record, error) {
	record, err := c.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() {
		return record, nil
	}

	result, err := c.provider.FetchStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch result.Status {
	case generation.StatusCompleted:
		return c.completeGeneration(ctx, record, result)
	case generation.StatusFailed:
		return c.failGeneration(ctx, jobID, result.Error)
	default:
		return c.advanceGeneration(ctx, jobID, result.Status)
	}
}

// completeGeneration transfers the artifact and, only on success, persists
// the completed state with the video URL set.
func (c *Coordinator) completeGeneration(ctx context.Context, record *generation.Record, result runpod.StatusResult) (*generation.Record, error) {
	if result.VideoBase64 == "" {
		// Completed with no inline payload: nothing to materialize yet.
		// Keep the pre-completion state so a later poll can pick it up.
		c.logger.Warn("completed response carried no video payload",
			slog.String("job_id", record.ID),
		)
		return record, nil
	}

	transferred, err := c.transfer.Transfer(ctx, record.ID, result.VideoBase64, c.sourceImage(record.ID))
	if err != nil {
		// The job is done on the provider side but the artifact is not
		// durable yet. Persisted status stays pre-completion; the next
		// poll retries the transfer.
		c.logger.Error("artifact transfer failed, will retry on next poll",
			slog.String("job_id", record.ID),
			slog.String("error", err.Error()),
		)
		return record, nil
	}

	updated, err := c.repo.Update(ctx, record.ID, func(r *generation.Record) error {
		if r.IsTerminal() {
			return nil
		}
		if err := r.ApplyStatus(generation.StatusCompleted); err != nil {
			return err
		}
		r.ApplyProgress(generation.ProgressCompleted)
		r.VideoURL = transferred.VideoURL
		if transferred.ThumbnailURL != "" {
			r.ThumbnailURL = transferred.ThumbnailURL
		}
		r.CompletedAt = time.Now().UnixMilli()
		r.ExecutionTime = result.ExecutionTime
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.dropSourceImage(record.ID)

	c.logger.Info("generation completed",
		slog.String("job_id", record.ID),
		slog.String("video_url", transferred.VideoURL),
		slog.Int64("execution_time_ms", result.ExecutionTime),
	)

	return updated, nil
}

// failGeneration persists the provider-reported failure.
func (c *Coordinator) failGeneration(ctx context.Context, jobID, reason string) (*generation.Record, error) {
	if reason == "" {
		reason = "generation failed"
	}

	updated, err := c.repo.Update(ctx, jobID, func(r *generation.Record) error {
		if r.IsTerminal() {
			return nil
		}
		if err := r.ApplyStatus(generation.StatusFailed); err != nil {
			return err
		}
		r.Error = reason
		r.CompletedAt = time.Now().UnixMilli()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.dropSourceImage(jobID)

	c.logger.Info("generation failed",
		slog.String("job_id", jobID),
		slog.String("reason", reason),
	)

	return updated, nil
}

// advanceGeneration updates status and estimated progress in place for a
// non-terminal provider status. A concurrent writer that already reached a
// terminal state wins; the stale update becomes a no-op.
func (c *Coordinator) advanceGeneration(ctx context.Context, jobID string, status generation.Status) (*generation.Record, error) {
	return c.repo.Update(ctx, jobID, func(r *generation.Record) error {
		if r.IsTerminal() {
			return nil
		}
		if err := r.ApplyStatus(status); err != nil {
			// A queued report arriving after processing is a stale read,
			// not an error; the record keeps its newer state.
			if errors.Is(err, generation.ErrStatusRegression) {
				return nil
			}
			return err
		}
		r.ApplyProgress(status.EstimatedProgress())
		return nil
	})
}

// Cancel forwards cancellation to the provider. The stored record becomes
// cancelled only if the provider accepted the cancel; a refused cancel
// surfaces as a *CancelError with the record untouched, since the job may
// still complete normally.
func (c *Coordinator) Cancel(ctx context.Context, jobID string) (*generation.Record, error) {
	record, err := c.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if record.IsTerminal() {
		return nil, &CancelError{JobID: jobID, Err: ErrNotCancellable}
	}

	if err := c.provider.Cancel(ctx, jobID); err != nil {
		return nil, &CancelError{JobID: jobID, Err: err}
	}

	updated, err := c.repo.Update(ctx, jobID, func(r *generation.Record) error {
		if r.IsTerminal() {
			return nil
		}
		if err := r.ApplyStatus(generation.StatusCancelled); err != nil {
			return err
		}
		r.CompletedAt = time.Now().UnixMilli()
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.dropSourceImage(jobID)

	c.logger.Info("generation cancelled",
		slog.String("job_id", jobID),
	)

	return updated, nil
}

// Ping reports whether the durable store is reachable.
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.repo.Ping(ctx)
}

// Get returns the stored record for a job.
func (c *Coordinator) Get(ctx context.Context, jobID string) (*generation.Record, error) {
	return c.repo.Get(ctx, jobID)
}

// List returns stored records matching the filter, newest first.
func (c *Coordinator) List(ctx context.Context, filter store.Filter) ([]*generation.Record, error) {
	return c.repo.List(ctx, filter)
}

// Delete removes one record and its stored artifacts.
func (c *Coordinator) Delete(ctx context.Context, jobID string) error {
	if err := c.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	c.dropSourceImage(jobID)
	c.cleanupArtifacts(ctx, jobID)
	return nil
}

// DeleteAll purges every record and its stored artifacts. Unconditional
// and irreversible.
func (c *Coordinator) DeleteAll(ctx context.Context) error {
	records, err := c.repo.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	if err := c.repo.DeleteAll(ctx); err != nil {
		return err
	}
	for _, record := range records {
		c.dropSourceImage(record.ID)
		c.cleanupArtifacts(ctx, record.ID)
	}
	return nil
}

// cleanupArtifacts removes a job's stored files; failures are logged only.
func (c *Coordinator) cleanupArtifacts(ctx context.Context, jobID string) {
	if err := artifact.CheckJobID(jobID); err != nil {
		return
	}
	for _, name := range []string{artifact.VideoFilename(jobID), artifact.ThumbnailFilename(jobID)} {
		if err := c.transfer.Store().Delete(ctx, name); err != nil {
			c.logger.Warn("artifact cleanup failed",
				slog.String("job_id", jobID),
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sourceImage returns the retained source image for a job, if any.
func (c *Coordinator) sourceImage(jobID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sourceImages[jobID]
}

// dropSourceImage releases a retained source image.
func (c *Coordinator) dropSourceImage(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sourceImages, jobID)
}
