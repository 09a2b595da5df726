// Package artifact moves completed generation output out of the provider's
// response payload into durable file storage. It decodes inline base64
// video, derives a best-effort thumbnail from the source image, and provides
// the local and S3 stores the finished files live in.
package artifact

import (
	"errors"
	"strings"
)

// Allowed artifact extensions: exactly one video and one image format.
const (
	// VideoExt is the extension for stored videos.
	VideoExt = ".mp4"
	// ThumbnailExt is the extension for stored thumbnails.
	ThumbnailExt = ".jpg"
)

// Static errors for filename handling.
var (
	// ErrInvalidFilename is returned for names carrying path separators or
	// parent-directory sequences. Checked before any filesystem access.
	ErrInvalidFilename = errors.New("artifact: invalid filename")
	// ErrInvalidExtension is returned for extensions outside the allow-list.
	ErrInvalidExtension = errors.New("artifact: invalid file extension")
	// ErrInvalidJobID is returned when a job ID cannot safely name a file.
	ErrInvalidJobID = errors.New("artifact: job ID is not usable as a filename")
)

// CheckJobID verifies the provider-assigned job ID can be used as the sole
// source of an artifact filename.
func CheckJobID(jobID string) error {
	if jobID == "" || strings.ContainsAny(jobID, "/\\") || strings.Contains(jobID, "..") {
		return ErrInvalidJobID
	}
	return nil
}

// VideoFilename derives the stored video name from the job ID alone.
func VideoFilename(jobID string) string {
	return jobID + VideoExt
}

// ThumbnailFilename derives the stored thumbnail name from the job ID alone.
func ThumbnailFilename(jobID string) string {
	return jobID + ThumbnailExt
}

// CheckFilename validates a retrieval filename. Any path-separator or
// parent-directory sequence is rejected outright, as is any extension
// outside the allow-list. Callers must not touch the filesystem before this
// check passes.
func CheckFilename(name string) error {
	if name == "" ||
		strings.Contains(name, "..") ||
		strings.Contains(name, "/") ||
		strings.Contains(name, "\\") {
		return ErrInvalidFilename
	}
	if !strings.HasSuffix(name, VideoExt) && !strings.HasSuffix(name, ThumbnailExt) {
		return ErrInvalidExtension
	}
	return nil
}

// ContentType returns the MIME type for a validated artifact filename.
func ContentType(name string) string {
	if strings.HasSuffix(name, VideoExt) {
		return "video/mp4"
	}
	return "image/jpeg"
}
