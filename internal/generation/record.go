// Package generation defines the domain model for video generation requests:
// validated parameters, the GenerationRecord persisted for every job, and the
// status state machine shared by the provider adapter and the coordinator.
package generation

import "errors"

// Status is the system's own job status vocabulary. Provider-specific
// vocabularies are normalized into these values at the provider boundary.
type Status string

const (
	// StatusQueued indicates the job is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusProcessing indicates the job is running on a worker.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the job finished and its artifact was stored.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the provider reported job failure.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the job was cancelled by the user.
	StatusCancelled Status = "cancelled"
)

// Progress heuristic. RunPod does not report real progress, so the poll
// path assigns a fixed estimate per status. If the provider ever exposes a
// measured figure it should replace these values outright.
const (
	ProgressQueued     = 0
	ProgressProcessing = 50
	ProgressCompleted  = 100
)

// ErrStatusRegression is returned when an update would move a record out of
// a terminal state or backwards along the lifecycle.
var ErrStatusRegression = errors.New("generation: status may not move backward")

// statusRank orders the lifecycle. Terminal states share the top rank so a
// record can never trade one terminal state for another.
var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusProcessing: 1,
	StatusCompleted:  2,
	StatusFailed:     2,
	StatusCancelled:  2,
}

// IsValid returns true for a known status value.
func (s Status) IsValid() bool {
	_, ok := statusRank[s]
	return ok
}

// IsTerminal returns true if no further transitions are permitted.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// EstimatedProgress returns the fixed progress estimate for the status.
func (s Status) EstimatedProgress() int {
	switch s {
	case StatusProcessing:
		return ProgressProcessing
	case StatusCompleted:
		return ProgressCompleted
	default:
		return ProgressQueued
	}
}

// Record is the durable record of one generation request. The ID is assigned
// by the provider and is the join key between the provider's job, this
// record, and the client's view.
type Record struct {
	// ID is the provider-assigned job identifier. Immutable once set.
	ID string `json:"id" badgerhold:"key"`
	// Prompt is the text prompt; may be empty for image-driven jobs.
	Prompt string `json:"prompt"`
	// Params is the validated configuration the job was submitted with.
	// The source image payload is not persisted here.
	Params Params `json:"params"`
	// Status is the current lifecycle state.
	Status Status `json:"status" badgerholdIndex:"Status"`
	// VideoURL is the stable retrieval path, set only once the completed
	// artifact has been transferred to durable storage.
	VideoURL string `json:"videoUrl,omitempty"`
	// ThumbnailURL is the optional thumbnail retrieval path.
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	// Error is the human-readable failure reason when Status is failed.
	Error string `json:"error,omitempty"`
	// CreatedAt is the submission time in epoch milliseconds.
	CreatedAt int64 `json:"createdAt" badgerholdIndex:"CreatedAt"`
	// CompletedAt is the terminal-transition time in epoch milliseconds.
	CompletedAt int64 `json:"completedAt,omitempty"`
	// Progress is the 0-100 completion estimate.
	Progress int `json:"progress"`
	// EstimatedTime is the predicted duration in seconds, computed at submit.
	EstimatedTime int `json:"estimatedTime,omitempty"`
	// ExecutionTime is the provider-reported execution time in milliseconds.
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// IsTerminal returns true if the record has reached a terminal status.
func (r *Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// ApplyStatus transitions the record to the given status, enforcing the
// monotonic queued -> processing -> terminal ordering. Re-applying the
// current status is a no-op.
func (r *Record) ApplyStatus(s Status) error {
	if s == r.Status {
		return nil
	}
	if r.Status.IsTerminal() {
		return ErrStatusRegression
	}
	if statusRank[s] < statusRank[r.Status] {
		return ErrStatusRegression
	}
	r.Status = s
	return nil
}

// ApplyProgress raises the progress estimate. Progress is clamped to 0-100
// and never decreases while the record is non-terminal.
func (r *Record) ApplyProgress(progress int) {
	if progress > 100 {
		progress = 100
	}
	if progress <= r.Progress {
		return
	}
	r.Progress = progress
}

// Clone returns a copy of the record for safe reads across goroutines.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
