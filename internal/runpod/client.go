package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

// Static errors for RunPod client operations.
var (
	// ErrEndpointIDRequired is returned when the endpoint ID is not provided.
	ErrEndpointIDRequired = errors.New("runpod: endpoint ID is required")
	// ErrAPIKeyNotSet is returned when the RUNPOD_API_KEY environment variable is not set.
	ErrAPIKeyNotSet = errors.New("runpod: RUNPOD_API_KEY environment variable is not set")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("runpod: job ID is required")
	// ErrNoJobIDReturned is returned when the submit response contains no job ID.
	ErrNoJobIDReturned = errors.New("runpod: submit failed: no job ID returned")
	// ErrUnknownStatus is returned when RunPod reports a status outside its
	// documented vocabulary. This is a fatal integration error.
	ErrUnknownStatus = errors.New("runpod: unknown provider status")
)

// ProviderError is returned for any non-success transport response from
// RunPod. It carries the provider's raw error text.
type ProviderError struct {
	// Op is the operation that failed: "submit", "status" or "cancel".
	Op string
	// StatusCode is the HTTP status code, or 0 for transport failures.
	StatusCode int
	// Body is the provider's raw response body or transport error text.
	Body string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("runpod: %s failed: %s", e.Op, e.Body)
	}
	return fmt.Sprintf("runpod: %s failed with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client defines the interface for the RunPod job API.
type Client interface {
	// Submit enqueues a generation job and returns the provider-assigned job ID.
	Submit(ctx context.Context, input SubmitInput) (jobID string, err error)

	// FetchStatus checks the current provider-side state of a job.
	FetchStatus(ctx context.Context, jobID string) (StatusResult, error)

	// Cancel asks the provider to cancel a job.
	Cancel(ctx context.Context, jobID string) error
}

// HTTPClient is the HTTP implementation of the Client interface.
type HTTPClient struct {
	apiKey      string
	endpointID  string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the RunPod API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new RunPod HTTP client for the given serverless
// endpoint. The API key can be set via WithAPIKey; if not provided it is
// read from RUNPOD_API_KEY.
func NewClient(endpointID string, opts ...ClientOption) (*HTTPClient, error) {
	if endpointID == "" {
		return nil, ErrEndpointIDRequired
	}

	c := &HTTPClient{
		endpointID:  endpointID,
		baseURL:     "https://api.runpod.ai/v2",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("RUNPOD_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Submit enqueues a generation job and returns the provider-assigned job ID.
func (c *HTTPClient) Submit(ctx context.Context, input SubmitInput) (string, error) {
	reqBody := runRequest{
		Input: runInput{
			Prompt:            input.Prompt,
			NumInferenceSteps: input.NumInferenceSteps,
			GuidanceScale:     input.GuidanceScale,
			NumFrames:         input.NumFrames,
			FPS:               input.FPS,
			Seed:              input.Seed,
		},
	}

	// The request shape differs per flow: image-conditioned jobs carry the
	// image inline, text-only jobs carry explicit pixel dimensions.
	if input.ImageBase64 != "" {
		reqBody.Input.Image = input.ImageBase64
	} else {
		reqBody.Input.Width = input.Width
		reqBody.Input.Height = input.Height
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("runpod: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)

	var resp runResponse
	if err := c.doRequestWithRetry(ctx, "submit", http.MethodPost, url, bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return "", &ProviderError{Op: "submit", Body: resp.Error}
		}
		return "", ErrNoJobIDReturned
	}

	return resp.ID, nil
}

// FetchStatus checks the current provider-side state of a job and maps its
// status into the internal vocabulary.
func (c *HTTPClient) FetchStatus(ctx context.Context, jobID string) (StatusResult, error) {
	if jobID == "" {
		return StatusResult{}, ErrJobIDRequired
	}

	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, c.endpointID, jobID)

	var resp statusResponse
	if err := c.doRequestWithRetry(ctx, "status", http.MethodGet, url, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	mapped, err := MapStatus(resp.Status)
	if err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{
		Status:        mapped,
		ExecutionTime: resp.ExecutionTime,
	}

	switch mapped {
	case generation.StatusCompleted:
		result.VideoBase64 = resp.Output.VideoBase64
	case generation.StatusFailed:
		result.Error = resp.Error
	}

	return result, nil
}

// Cancel asks the provider to cancel a job. A non-success response surfaces
// as a *ProviderError; the caller decides whether the local record changes.
func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	url := fmt.Sprintf("%s/%s/cancel/%s", c.baseURL, c.endpointID, jobID)

	return c.doRequestWithRetry(ctx, "cancel", http.MethodPost, url, nil, nil)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, op, method, url string, body []byte, result interface{}) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &ProviderError{Op: op, Body: fmt.Sprintf("context cancelled: %v", ctx.Err())}
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, op, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("runpod: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, op, method, url string, body []byte, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("runpod: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: &ProviderError{Op: op, Body: err.Error()}}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: &ProviderError{Op: op, Body: fmt.Sprintf("read response: %v", err)}}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
		// 5xx and 429 are transient; everything else fails immediately.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: perr}
		}
		return perr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("runpod: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
