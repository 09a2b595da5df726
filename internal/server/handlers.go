package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wanvideo/wan-generator-api/internal/artifact"
	"github.com/wanvideo/wan-generator-api/internal/coordinator"
	"github.com/wanvideo/wan-generator-api/internal/generation"
	"github.com/wanvideo/wan-generator-api/internal/store"
)

// watchBudget caps the server-side poll loop of a single generation. No job
// runs remotely close to this long; a provider job that never reports a
// terminal state must not hold a goroutine forever.
const watchBudget = 30 * time.Minute

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	coordinator *coordinator.Coordinator
	artifacts   artifact.Store
	newWatcher  func() *coordinator.Watcher
	logger      *slog.Logger
}

// NewHandlers creates a new Handlers instance. newWatcher may be nil to
// disable server-side watching; clients then drive polling alone.
func NewHandlers(c *coordinator.Coordinator, artifacts artifact.Store, newWatcher func() *coordinator.Watcher, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		coordinator: c,
		artifacts:   artifacts,
		newWatcher:  newWatcher,
		logger:      logger,
	}
}

// Health handles GET /health requests. It reports degraded with a 503 when
// the generation store does not answer.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.Ping(r.Context()); err != nil {
		h.logger.Error("store health check failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Database: false})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: true})
}

// Generate handles POST /api/generate requests. Validation failures reject
// the submission with every violated field before any provider call.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	// Decoding over the defaults lets omitted tuning fields fall back to
	// their documented values.
	params := generation.DefaultParams()
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	result, err := h.coordinator.Submit(r.Context(), params)
	if err != nil {
		var verr *generation.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "invalid parameters",
				Code:    "VALIDATION_ERROR",
				Details: verr.Violations,
			})
			return
		}
		h.logger.Error("failed to start generation",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to start generation", "PROVIDER_ERROR")
		return
	}

	h.startWatch(result.JobID)

	writeJSON(w, http.StatusOK, GenerateResponse{
		JobID:         result.JobID,
		Status:        string(result.Status),
		EstimatedTime: result.EstimatedTime,
	})
}

// startWatch launches the server-side poll loop for a submitted job. The
// watch outlives the submitting request: the job completes and its artifact
// is transferred even if no client ever polls. Polls are idempotent, so a
// client polling the same job concurrently converges on the same record.
func (h *Handlers) startWatch(jobID string) {
	if h.newWatcher == nil {
		return
	}

	watcher := h.newWatcher()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), watchBudget)
		defer cancel()

		if _, err := watcher.Watch(ctx, jobID); err != nil {
			h.logger.Warn("server-side watch ended without terminal state",
				slog.String("session_id", watcher.SessionID()),
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Status handles GET /api/status/{id} requests. The first observation of a
// completed provider job triggers artifact transfer as a side effect.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	record, err := h.coordinator.Poll(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "generation not found", "NOT_FOUND")
			return
		}
		// Infrastructure hiccups are not job failure; the client keeps
		// polling and the next attempt retries.
		h.logger.Error("status poll failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to check status", "PROVIDER_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        string(record.Status),
		Progress:      record.Progress,
		VideoURL:      record.VideoURL,
		ThumbnailURL:  record.ThumbnailURL,
		Error:         record.Error,
		ExecutionTime: record.ExecutionTime,
	})
}

// CancelGeneration handles DELETE /api/status/{id} requests. Cancellation
// is best-effort towards the provider; the stored record only becomes
// cancelled when the provider accepted the cancel.
func (h *Handlers) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	_, err := h.coordinator.Cancel(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "generation not found", "NOT_FOUND")
			return
		}
		if errors.Is(err, coordinator.ErrNotCancellable) {
			writeError(w, http.StatusConflict, "generation is already finished", "NOT_CANCELLABLE")
			return
		}
		h.logger.Error("cancel failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to cancel generation", "CANCEL_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{Success: true})
}

// Reconcile handles POST /api/reconcile requests: the client posts the view
// it remembered across a reload (or an empty body) and receives the view
// reconciled against the durable store.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	var remembered *coordinator.ClientView

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", "INVALID_BODY")
		return
	}
	if len(body) > 0 {
		remembered = &coordinator.ClientView{}
		if err := json.Unmarshal(body, remembered); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
	}

	view, err := h.coordinator.Reconcile(r.Context(), remembered)
	if err != nil {
		h.logger.Error("reconcile failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to reconcile state", "RECONCILE_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// History handles GET /api/history requests with optional free-text query
// and exact status filters.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	filter := store.Filter{
		Query: r.URL.Query().Get("query"),
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := generation.Status(raw)
		if !status.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw), "INVALID_STATUS")
			return
		}
		filter.Status = status
	}

	records, err := h.coordinator.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list history",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch history", "HISTORY_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{History: records})
}

// DeleteHistory handles DELETE /api/history requests: ?id=<jobID> removes a
// single record, ?all=true purges everything. Both are unconditional and
// irreversible.
func (h *Handlers) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	all := r.URL.Query().Get("all")

	switch {
	case all == "true":
		if err := h.coordinator.DeleteAll(r.Context()); err != nil {
			h.logger.Error("failed to clear history",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to clear history", "DELETE_FAILED")
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "history cleared"})

	case id != "":
		if err := h.coordinator.Delete(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "generation not found", "NOT_FOUND")
				return
			}
			h.logger.Error("failed to delete generation",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to delete generation", "DELETE_FAILED")
			return
		}
		writeJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "generation deleted"})

	default:
		writeError(w, http.StatusBadRequest, "missing id or all parameter", "MISSING_PARAMETER")
	}
}

// ServeArtifact handles GET /api/videos/{filename} requests. The filename
// is validated before any filesystem access: path separators and
// parent-directory sequences are rejected, as is any extension outside the
// video/thumbnail allow-list.
func (h *Handlers) ServeArtifact(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	if err := artifact.CheckFilename(filename); err != nil {
		h.logger.Warn("rejected artifact filename",
			slog.String("filename", filename),
		)
		writeError(w, http.StatusBadRequest, "invalid filename", "INVALID_FILENAME")
		return
	}

	f, size, err := h.artifacts.Open(r.Context(), filename)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found", "NOT_FOUND")
			return
		}
		h.logger.Error("failed to open artifact",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to serve file", "SERVE_FAILED")
		return
	}
	defer func() { _ = f.Close() }()

	contentType := artifact.ContentType(filename)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	if contentType == "video/mp4" {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Warn("artifact stream interrupted",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
