// Package bootstrap provides dependency initialization for the generator API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/wanvideo/wan-generator-api/internal/artifact"
	"github.com/wanvideo/wan-generator-api/internal/config"
	"github.com/wanvideo/wan-generator-api/internal/coordinator"
	"github.com/wanvideo/wan-generator-api/internal/runpod"
	"github.com/wanvideo/wan-generator-api/internal/store"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Coordinator *coordinator.Coordinator
	Artifacts   artifact.Store
	Store       *store.BadgerStore

	// NewWatcher builds a poll-loop session at the configured interval.
	// Each submission gets its own watcher.
	NewWatcher func() *coordinator.Watcher
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	if d.Store != nil {
		return d.Store.Close()
	}
	return nil
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Durable generation store
	generations, err := store.NewBadgerStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create generation store: %w", err)
	}

	// Artifact storage
	artifacts, err := initArtifactStore(cfg, logger)
	if err != nil {
		_ = generations.Close()
		return nil, err
	}

	// RunPod client
	client, err := runpod.NewClient(cfg.RunPodEndpointID, runpod.WithAPIKey(cfg.RunPodAPIKey))
	if err != nil {
		_ = generations.Close()
		return nil, fmt.Errorf("create RunPod client: %w", err)
	}

	transfer := artifact.NewTransferrer(artifacts, logger)
	coord := coordinator.New(client, generations, transfer, logger)

	pollInterval := cfg.PollInterval()

	return &Dependencies{
		Coordinator: coord,
		Artifacts:   artifacts,
		Store:       generations,
		NewWatcher: func() *coordinator.Watcher {
			return coordinator.NewWatcher(coord, pollInterval, logger)
		},
	}, nil
}

// initArtifactStore creates the appropriate artifact storage backend based
// on configuration.
func initArtifactStore(cfg *config.Config, logger *slog.Logger) (artifact.Store, error) {
	if cfg.S3Enabled() {
		s3Cfg := artifact.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := artifact.NewS3Store(cfg.VideosDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 artifact store: %w", err)
		}
		logger.Info("S3 artifact storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := artifact.NewLocalStore(cfg.VideosDir)
	if err != nil {
		return nil, fmt.Errorf("create local artifact store: %w", err)
	}
	logger.Info("local artifact storage configured",
		slog.String("videos_dir", cfg.VideosDir),
	)
	return localStore, nil
}
