package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanvideo/wan-generator-api/internal/artifact"
	"github.com/wanvideo/wan-generator-api/internal/coordinator"
	"github.com/wanvideo/wan-generator-api/internal/generation"
	"github.com/wanvideo/wan-generator-api/internal/runpod"
	"github.com/wanvideo/wan-generator-api/internal/store"
)

// stubProvider is a scriptable runpod.Client for HTTP-level tests.
type stubProvider struct {
	submitID     string
	submitErr    error
	statusResult runpod.StatusResult
	statusErr    error
	cancelErr    error
}

var _ runpod.Client = (*stubProvider)(nil)

func (s *stubProvider) Submit(context.Context, runpod.SubmitInput) (string, error) {
	return s.submitID, s.submitErr
}

func (s *stubProvider) FetchStatus(context.Context, string) (runpod.StatusResult, error) {
	return s.statusResult, s.statusErr
}

func (s *stubProvider) Cancel(context.Context, string) error {
	return s.cancelErr
}

// apiFixture wires a full router over fakes.
type apiFixture struct {
	router   http.Handler
	provider *stubProvider
	repo     *store.MemoryStore
	files    *artifact.LocalStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	files, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	provider := &stubProvider{submitID: "job-1"}
	repo := store.NewMemoryStore()
	coord := coordinator.New(provider, repo, artifact.NewTransferrer(files, logger), logger)

	handlers := NewHandlers(coord, files, nil, logger)
	return &apiFixture{
		router:   NewRouter(handlers, logger, DefaultConfig()),
		provider: provider,
		repo:     repo,
		files:    files,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func generateBody() map[string]any {
	return map[string]any{
		"prompt":     "a cat walking on a beach",
		"resolution": "720p",
	}
}

func TestGenerate_Success(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/generate", generateBody())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "queued", resp.Status)
	assert.Positive(t, resp.EstimatedTime)
}

func TestGenerate_OmittedFieldsUseDefaults(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/generate", generateBody())
	require.Equal(t, http.StatusOK, rec.Code)

	record, err := f.repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 40, record.Params.NumInferenceSteps)
	assert.Equal(t, 81, record.Params.NumFrames)
	assert.Equal(t, 16, record.Params.FPS)
	assert.InDelta(t, 3.5, record.Params.GuidanceScale, 0.001)
}

func TestGenerate_ValidationErrorListsAllViolations(t *testing.T) {
	f := newAPIFixture(t)

	body := generateBody()
	body["num_inference_steps"] = 5
	body["num_frames"] = 500

	rec := f.do(t, http.MethodPost, "/api/generate", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)

	fields := make(map[string]bool)
	for _, v := range resp.Details {
		fields[v.Field] = true
	}
	assert.True(t, fields["num_inference_steps"], "steps violation missing: %+v", resp.Details)
	assert.True(t, fields["num_frames"], "frames violation missing: %+v", resp.Details)
}

func TestGenerate_PromptRequiredWithoutImage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/generate", map[string]any{"resolution": "480p"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Details)
	assert.Equal(t, "prompt", resp.Details[0].Field)
}

func TestGenerate_InvalidJSON(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestGenerate_ProviderDown(t *testing.T) {
	f := newAPIFixture(t)
	f.provider.submitErr = &runpod.ProviderError{Op: "submit", StatusCode: 503, Body: "no workers"}

	rec := f.do(t, http.MethodPost, "/api/generate", generateBody())
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "PROVIDER_ERROR", resp.Code)
}

func TestGenerate_ServerSideWatchCompletesWithoutClientPolling(t *testing.T) {
	files, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	provider := &stubProvider{
		submitID: "job-1",
		statusResult: runpod.StatusResult{
			Status:      generation.StatusCompleted,
			VideoBase64: base64.StdEncoding.EncodeToString([]byte("video")),
		},
	}
	repo := store.NewMemoryStore()
	coord := coordinator.New(provider, repo, artifact.NewTransferrer(files, logger), logger)

	newWatcher := func() *coordinator.Watcher {
		return coordinator.NewWatcher(coord, time.Millisecond, logger)
	}
	handlers := NewHandlers(coord, files, newWatcher, logger)
	router := NewRouter(handlers, logger, DefaultConfig())

	body, err := json.Marshal(generateBody())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// No client poll here: the server-side watch alone must drive the job
	// to completion and materialize the artifact.
	require.Eventually(t, func() bool {
		record, err := repo.Get(context.Background(), "job-1")
		return err == nil &&
			record.Status == generation.StatusCompleted &&
			record.VideoURL == "/api/videos/job-1.mp4"
	}, 5*time.Second, 5*time.Millisecond)
}

func TestStatus_ReturnsPolledState(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	f.provider.statusResult = runpod.StatusResult{Status: generation.StatusProcessing}

	rec := f.do(t, http.MethodGet, "/api/status/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 50, resp.Progress)
	assert.Empty(t, resp.VideoURL)
}

func TestStatus_CompletedCarriesVideoURL(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	f.provider.statusResult = runpod.StatusResult{
		Status:      generation.StatusCompleted,
		VideoBase64: base64.StdEncoding.EncodeToString([]byte("video")),
	}

	rec := f.do(t, http.MethodGet, "/api/status/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 100, resp.Progress)
	assert.Equal(t, "/api/videos/job-1.mp4", resp.VideoURL)
}

func TestStatus_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/status/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancel_Success(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	rec := f.do(t, http.MethodDelete, "/api/status/job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	record, err := f.repo.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCancelled, record.Status)
}

func TestCancel_TerminalConflicts(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	f.provider.statusResult = runpod.StatusResult{Status: generation.StatusFailed, Error: "boom"}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/status/job-1", nil).Code)

	rec := f.do(t, http.MethodDelete, "/api/status/job-1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_CANCELLABLE", resp.Code)
}

func TestReconcile_EmptyBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view coordinator.ClientView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Nil(t, view.Record)
	assert.False(t, view.InFlight)
}

func TestReconcile_AdoptsActiveGeneration(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	rec := f.do(t, http.MethodPost, "/api/reconcile", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view coordinator.ClientView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.Record)
	assert.Equal(t, "job-1", view.Record.ID)
	assert.True(t, view.InFlight)
}

func TestHistory_ListsAndFilters(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	rec := f.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 1)
	assert.Equal(t, "job-1", resp.History[0].ID)

	rec = f.do(t, http.MethodGet, "/api/history?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.History)
}

func TestHistory_UnknownStatusRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/history?status=exploded", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_STATUS", resp.Code)
}

func TestDeleteHistory_SingleAndAll(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	rec := f.do(t, http.MethodDelete, "/api/history?id=job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := f.repo.Get(context.Background(), "job-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	f.provider.submitID = "job-2"
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/generate", generateBody()).Code)

	rec = f.do(t, http.MethodDelete, "/api/history?all=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := f.repo.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDeleteHistory_MissingParameter(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/history", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeArtifact_Success(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.files.Save(context.Background(), "job-1.mp4", strings.NewReader("fake video"))
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/videos/job-1.mp4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "fake video", rec.Body.String())
}

func TestServeArtifact_RejectsTraversal(t *testing.T) {
	f := newAPIFixture(t)

	// The mux normalizes literal path traversal, so drive the handler
	// directly with the hostile path value.
	req := httptest.NewRequest(http.MethodGet, "/api/videos/placeholder.mp4", nil)
	req.SetPathValue("filename", "../../etc/passwd.mp4")
	rec := httptest.NewRecorder()

	handlers := NewHandlers(nil, f.files, nil, slog.Default())
	handlers.ServeArtifact(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INVALID_FILENAME", resp.Code)
}

func TestServeArtifact_DisallowedExtension(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/videos/secrets.txt", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeArtifact_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/videos/missing.mp4", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth_OK(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Database)
}
