// Package app wires the configured backends into a pipeline driver.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/valueprops/ingest-adapter/internal/auth"
	"github.com/valueprops/ingest-adapter/internal/config"
	"github.com/valueprops/ingest-adapter/internal/drive"
	"github.com/valueprops/ingest-adapter/internal/observability"
	"github.com/valueprops/ingest-adapter/internal/pipeline"
	"github.com/valueprops/ingest-adapter/internal/policy"
	"github.com/valueprops/ingest-adapter/internal/publisher"
	"github.com/valueprops/ingest-adapter/internal/storage"
	"github.com/valueprops/ingest-adapter/internal/transfer"
)

// App owns the clients of one run.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	objects storage.ObjectStorage
	docs    drive.DocumentStorage
	driver  *pipeline.Driver

	// Lifecycle
	mu      sync.Mutex
	closers []io.Closer
	closed  bool
}

// New validates cfg and builds every client the run needs.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	if err := a.initSharedResources(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// initSharedResources initializes storage, document storage and the driver.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	a.objects, err = a.newObjectStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.logger.Info("storage initialized",
		"type", a.cfg.Storage.Type,
		"bucket", a.cfg.Storage.Bucket,
	)

	var transferer pipeline.Transferer
	if !a.cfg.Pipeline.SkipTransfer {
		a.docs, err = a.newDocumentStorage(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize document storage: %w", err)
		}
		transferer = transfer.NewStage(a.docs, a.objects, a.logger)
	} else {
		a.logger.Info("transfer stage disabled, reading existing bucket objects")
	}

	tokens := auth.NewCachingSource(
		auth.NewClient(a.cfg.API.TokenURL, a.cfg.API.Key, a.cfg.API.Timeout),
		a.cfg.API.TokenCacheTTL,
	)
	pub := publisher.NewClient(a.cfg.API.URL, a.cfg.API.Timeout, a.logger)

	a.driver = pipeline.NewDriver(pipeline.Options{
		FolderID:        a.cfg.Drive.FolderID,
		Files:           a.cfg.Pipeline.Files,
		BatchSize:       a.cfg.Pipeline.BatchSize,
		FileConcurrency: a.cfg.Pipeline.FileConcurrency,
		Policies:        policy.FromConfig(a.cfg.Pipeline),
	}, transferer, a.objects, tokens, pub, a.logger)

	return nil
}

func (a *App) newObjectStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Storage.Type {
	case config.StorageLocal:
		return storage.NewLocalStorage(a.cfg.Storage.Path)
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = a.cfg.Storage.S3.UsePathStyle
		return storage.NewS3Storage(ctx, a.cfg.Storage.Bucket, s3Cfg)
	case config.StorageGCS:
		gcs, err := storage.NewGCSStorage(ctx, a.cfg.Storage.Bucket, a.cfg.ServiceAccountJSON())
		if err != nil {
			return nil, err
		}
		a.addCloser(gcs)
		return gcs, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
}

func (a *App) newDocumentStorage(ctx context.Context) (drive.DocumentStorage, error) {
	if a.cfg.Drive.LocalPath != "" {
		a.logger.Info("document storage initialized", "type", "local", "path", a.cfg.Drive.LocalPath)
		return drive.NewLocalFolder(a.cfg.Drive.LocalPath), nil
	}
	docs, err := drive.NewGoogleDrive(ctx, a.cfg.ServiceAccountJSON())
	if err != nil {
		return nil, err
	}
	a.logger.Info("document storage initialized", "type", "google_drive", "folder_id", a.cfg.Drive.FolderID)
	return docs, nil
}

// Run executes one pass over the configured files.
func (a *App) Run(ctx context.Context) (*observability.RunSummary, error) {
	return a.driver.Run(ctx)
}

// Driver returns the configured pipeline driver.
func (a *App) Driver() *pipeline.Driver {
	return a.driver
}

func (a *App) addCloser(c io.Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c)
}

// Close releases clients in reverse order of creation and returns the
// first error. Subsequent calls are no-ops.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
