// Package runpod provides the HTTP client for the RunPod-hosted Wan 2.2
// video generation endpoint. It normalizes RunPod's job vocabulary into the
// system's own status enumeration at this boundary; RunPod status strings
// never leak past this package.
package runpod

import (
	"fmt"

	"github.com/wanvideo/wan-generator-api/internal/generation"
)

// RunPod job statuses as returned by the serverless endpoint API.
const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
	statusFailed     = "FAILED"
)

// MapStatus translates RunPod's four-value status vocabulary into the
// internal enumeration. The mapping is closed: an unrecognized value is a
// provider API drift and fails with ErrUnknownStatus rather than being
// silently defaulted.
func MapStatus(raw string) (generation.Status, error) {
	switch raw {
	case statusInQueue:
		return generation.StatusQueued, nil
	case statusInProgress:
		return generation.StatusProcessing, nil
	case statusCompleted:
		return generation.StatusCompleted, nil
	case statusFailed:
		return generation.StatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// SubmitInput is the normalized submission handed to the provider client.
// Image-conditioned jobs carry the (already prefix-stripped) image inline;
// text-only jobs carry pixel dimensions derived from the resolution tier.
type SubmitInput struct {
	Prompt            string
	ImageBase64       string
	Width             int
	Height            int
	NumInferenceSteps int
	GuidanceScale     float64
	NumFrames         int
	FPS               int
	Seed              *int64
}

// StatusResult is the normalized result of a status fetch.
type StatusResult struct {
	// Status is the mapped internal status.
	Status generation.Status
	// VideoBase64 is the inline-encoded video, set only on completion.
	VideoBase64 string
	// Error is the provider-reported failure reason, set only on failure.
	Error string
	// ExecutionTime is the provider-reported execution time in milliseconds.
	ExecutionTime int64
}

// runRequest is the request body for RunPod's /run endpoint.
type runRequest struct {
	Input runInput `json:"input"`
}

// runInput is the input field of a run request. Zero-valued optional fields
// are omitted so the worker applies its own defaults.
type runInput struct {
	Image             string  `json:"image,omitempty"`
	Prompt            string  `json:"prompt,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumFrames         int     `json:"num_frames"`
	FPS               int     `json:"fps"`
	Seed              *int64  `json:"seed,omitempty"`
}

// runResponse is the response from RunPod's /run endpoint.
type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse is the response from RunPod's /status endpoint.
type statusResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Output        statusOutput `json:"output,omitempty"`
	Error         string       `json:"error,omitempty"`
	ExecutionTime int64        `json:"executionTime,omitempty"`
	DelayTime     int64        `json:"delayTime,omitempty"`
}

// statusOutput is the output field of a completed status response.
type statusOutput struct {
	VideoBase64 string `json:"video_base64,omitempty"`
	Message     string `json:"message,omitempty"`
}
