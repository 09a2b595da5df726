package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a stored artifact does not exist.
var ErrNotFound = errors.New("artifact: file not found")

// Store is the port for durable artifact storage. Save persists a finished
// file and returns the stable URL clients retrieve it by; Open reads a
// stored file back for serving.
type Store interface {
	// Save writes data under the given (already validated) filename and
	// returns the stable retrieval URL.
	Save(ctx context.Context, filename string, data io.Reader) (url string, err error)

	// Open returns a reader and the size for a stored file.
	// Returns ErrNotFound if the file does not exist.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)

	// Delete removes a stored file. Missing files are not an error.
	Delete(ctx context.Context, filename string) error
}

// LocalStore keeps artifacts on local disk and serves them through the
// /api/videos retrieval route.
type LocalStore struct {
	dir string
}

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a LocalStore rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "wan-videos")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("artifact: create videos directory: %w", err)
	}

	return &LocalStore{dir: dir}, nil
}

// Dir returns the storage directory path.
func (s *LocalStore) Dir() string {
	return s.dir
}

// Save writes data to disk and returns the retrieval route path.
func (s *LocalStore) Save(ctx context.Context, filename string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("artifact: context cancelled: %w", ctx.Err())
	default:
	}

	if err := CheckFilename(filename); err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640) // #nosec G304 - filename is validated above
	if err != nil {
		return "", fmt.Errorf("artifact: create file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("artifact: write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("artifact: close file: %w", err)
	}

	return "/api/videos/" + filename, nil
}

// Open reads a stored file back for serving.
func (s *LocalStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, fmt.Errorf("artifact: context cancelled: %w", ctx.Err())
	default:
	}

	if err := CheckFilename(filename); err != nil {
		return nil, 0, err
	}

	path := filepath.Join(s.dir, filename)
	f, err := os.Open(path) // #nosec G304 - filename is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("artifact: open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("artifact: stat file: %w", err)
	}

	return f, info.Size(), nil
}

// Delete removes a stored file if it exists.
func (s *LocalStore) Delete(_ context.Context, filename string) error {
	if err := CheckFilename(filename); err != nil {
		return err
	}

	path := filepath.Join(s.dir, filename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: remove file: %w", err)
	}
	return nil
}
