package artifact

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
)

// TransferError is returned when a completed job's artifact could not be
// materialized. It never represents job failure; the caller retries the
// transfer on a later poll.
type TransferError struct {
	// Stage is where the transfer failed: "decode" or "store".
	Stage string
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("artifact: transfer %s failed: %v", e.Stage, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Result carries the stable retrieval URLs of transferred artifacts.
type Result struct {
	// VideoURL is the stored video's retrieval URL.
	VideoURL string
	// ThumbnailURL is the stored thumbnail's URL; empty when no source
	// image was supplied or thumbnailing failed.
	ThumbnailURL string
}

// Transferrer decodes inline artifact payloads and writes them to a Store.
type Transferrer struct {
	store  Store
	logger *slog.Logger
}

// NewTransferrer creates a Transferrer writing to the given store.
func NewTransferrer(store Store, logger *slog.Logger) *Transferrer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transferrer{store: store, logger: logger}
}

// Store returns the underlying artifact store.
func (t *Transferrer) Store() Store {
	return t.store
}

// Transfer decodes the inline base64 video of a completed job and writes it
// to durable storage as <jobID>.mp4. When imageBase64 carries the source
// image, a center-cropped thumbnail is derived and written alongside as
// <jobID>.jpg; thumbnailing is best-effort and never fails the video.
func (t *Transferrer) Transfer(ctx context.Context, jobID, videoBase64, imageBase64 string) (Result, error) {
	if err := CheckJobID(jobID); err != nil {
		return Result{}, &TransferError{Stage: "decode", Err: err}
	}

	videoBytes, err := base64.StdEncoding.DecodeString(StripDataURLPrefix(videoBase64))
	if err != nil {
		return Result{}, &TransferError{Stage: "decode", Err: err}
	}

	videoURL, err := t.store.Save(ctx, VideoFilename(jobID), bytes.NewReader(videoBytes))
	if err != nil {
		return Result{}, &TransferError{Stage: "store", Err: err}
	}

	result := Result{VideoURL: videoURL}

	if imageBase64 != "" {
		thumbURL, err := t.saveThumbnail(ctx, jobID, imageBase64)
		if err != nil {
			// Best-effort: the video is already durable, a missing
			// thumbnail can be regenerated later.
			t.logger.Warn("thumbnail generation failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		} else {
			result.ThumbnailURL = thumbURL
		}
	}

	return result, nil
}

// saveThumbnail decodes the source image, renders the thumbnail and stores it.
func (t *Transferrer) saveThumbnail(ctx context.Context, jobID, imageBase64 string) (string, error) {
	imageBytes, err := base64.StdEncoding.DecodeString(StripDataURLPrefix(imageBase64))
	if err != nil {
		return "", fmt.Errorf("decode source image: %w", err)
	}

	thumbBytes, err := renderThumbnail(imageBytes)
	if err != nil {
		return "", err
	}

	return t.store.Save(ctx, ThumbnailFilename(jobID), bytes.NewReader(thumbBytes))
}

// StripDataURLPrefix removes an embedding-scheme prefix such as
// "data:video/mp4;base64," or "data:image/jpeg;base64," from an encoded
// payload. Payloads without a prefix pass through unchanged.
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.Index(s, ";base64,"); i >= 0 {
		return s[i+len(";base64,"):]
	}
	return s
}
