// Package server provides the HTTP surface of the generator API. It
// includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "github.com/wanvideo/wan-generator-api/internal/generation"

// GenerateResponse is the HTTP response after a successful submission.
type GenerateResponse struct {
	// JobID is the provider-assigned job identifier.
	JobID string `json:"jobId"`
	// Status is the initial job status.
	Status string `json:"status"`
	// EstimatedTime is the predicted generation duration in seconds.
	EstimatedTime int `json:"estimatedTime"`
}

// StatusResponse is the HTTP response for a status poll.
type StatusResponse struct {
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the 0-100 completion estimate.
	Progress int `json:"progress"`
	// VideoURL is the stable retrieval path, present once materialized.
	VideoURL string `json:"videoUrl,omitempty"`
	// ThumbnailURL is the thumbnail retrieval path, if one was derived.
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	// Error is the failure reason when the job failed.
	Error string `json:"error,omitempty"`
	// ExecutionTime is the provider-reported execution time in milliseconds.
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// CancelResponse is the HTTP response after a cancellation attempt.
type CancelResponse struct {
	// Success reports whether the provider accepted the cancellation.
	Success bool `json:"success"`
}

// HistoryResponse is the HTTP response for a history listing.
type HistoryResponse struct {
	// History contains the matching records, newest first.
	History []*generation.Record `json:"history"`
}

// DeleteResponse is the HTTP response after deleting history records.
type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Details enumerates field-level violations for validation errors.
	Details []generation.FieldViolation `json:"details,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Database reports whether the generation store answered.
	Database bool `json:"database"`
}
