// Package pipeline runs the ingestion stages for every configured file:
// transfer, read, parse, batch, then token and publish per batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/valueprops/ingest-adapter/internal/auth"
	"github.com/valueprops/ingest-adapter/internal/batcher"
	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/internal/observability"
	"github.com/valueprops/ingest-adapter/internal/parser"
	"github.com/valueprops/ingest-adapter/internal/policy"
	"github.com/valueprops/ingest-adapter/internal/publisher"
	"github.com/valueprops/ingest-adapter/internal/storage"
	"github.com/valueprops/ingest-adapter/internal/transfer"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

// Transferer copies a named file from document storage into the bucket.
type Transferer interface {
	Transfer(ctx context.Context, folderID, fileName string) (transfer.Result, error)
}

// Options controls what a run processes and how failures are handled.
type Options struct {
	// FolderID is the document-storage folder files are transferred from
	FolderID string

	// Files are processed in order
	Files []string

	// BatchSize is the maximum number of records per publish call
	BatchSize int

	// FileConcurrency above 1 processes that many files at once
	FileConcurrency int

	// Policies decides per stage whether a failure stops the run
	Policies policy.Table

	// RunID tags every log line; generated when empty
	RunID string
}

// Driver sequences the stages for each file.
type Driver struct {
	opts      Options
	transfer  Transferer
	objects   storage.ObjectStorage
	tokens    auth.TokenSource
	publisher publisher.BatchPublisher
	logger    *slog.Logger
}

// NewDriver creates a driver. A nil transferer skips the transfer stage and
// reads whatever the bucket already holds.
func NewDriver(
	opts Options,
	transferer Transferer,
	objects storage.ObjectStorage,
	tokens auth.TokenSource,
	pub publisher.BatchPublisher,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Policies == nil {
		opts.Policies = policy.Defaults(0)
	}
	if opts.FileConcurrency <= 0 {
		opts.FileConcurrency = 1
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	return &Driver{
		opts:      opts,
		transfer:  transferer,
		objects:   objects,
		tokens:    tokens,
		publisher: pub,
		logger:    logger.With("run_id", opts.RunID),
	}
}

// Run processes every configured file. It returns the first fatal error,
// after which no further file is started. The summary is returned either way.
func (d *Driver) Run(ctx context.Context) (*observability.RunSummary, error) {
	stats := observability.NewRunStats(d.opts.RunID)
	d.logger.Info("run started",
		"files", len(d.opts.Files),
		"batch_size", d.opts.BatchSize,
		"file_concurrency", d.opts.FileConcurrency,
	)

	var err error
	if d.opts.FileConcurrency > 1 {
		err = d.runConcurrent(ctx, stats)
	} else {
		err = d.runSequential(ctx, stats)
	}

	summary := stats.Summary()
	summary.Log(d.logger)
	if err != nil {
		d.logger.Error("run aborted", "error", err)
	}
	return summary, err
}

func (d *Driver) runSequential(ctx context.Context, stats *observability.RunStats) error {
	for _, name := range d.opts.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := d.processFile(ctx, stats, name)
		stats.FinishFile(name, err)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) runConcurrent(ctx context.Context, stats *observability.RunStats) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(d.opts.FileConcurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, name := range d.opts.Files {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			defer sem.Release(1)

			err := d.processFile(ctx, stats, name)
			stats.FinishFile(name, err)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(name)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// ProcessFile runs every stage for a single file and returns its counters.
func (d *Driver) ProcessFile(ctx context.Context, fileName string) (observability.FileStats, error) {
	stats := observability.NewRunStats(d.opts.RunID)
	err := d.processFile(ctx, stats, fileName)
	stats.FinishFile(fileName, err)
	fs, _ := stats.File(fileName)
	return fs, err
}

// processFile returns only fatal errors; absorbed failures are logged and
// counted in stats.
func (d *Driver) processFile(ctx context.Context, stats *observability.RunStats, fileName string) error {
	stats.StartFile(fileName)
	log := d.logger.With("file", fileName)

	kind := types.KindFromFileName(fileName)
	if !kind.Valid() {
		return ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeUnknownKind,
			fmt.Sprintf("cannot derive a known kind from %q", fileName), types.ErrUnknownKind).
			WithDetails(map[string]interface{}{"file": fileName, "kind": kind.String()})
	}

	if d.transfer != nil {
		if err := d.transferFile(ctx, stats, log, fileName); err != nil {
			return err
		}
	}

	rc, err := d.openFile(ctx, fileName)
	if err != nil {
		return d.handle(ctx, log, policy.StageRead, err)
	}
	defer rc.Close()

	log.Info("parsing file", "kind", kind.String())
	batches, err := d.buildBatches(ctx, kind, rc, stats, log, fileName)
	if err != nil {
		return err
	}
	if batches == nil {
		return nil
	}
	stats.RecordBatches(fileName, len(batches))
	log.Info("file batched", "batches", len(batches))

	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.publishBatch(ctx, stats, log, fileName, batch); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) transferFile(ctx context.Context, stats *observability.RunStats, log *slog.Logger, fileName string) error {
	var res transfer.Result
	err := policy.Do(ctx, d.opts.Policies.For(policy.StageTransfer), func(ctx context.Context) error {
		var err error
		res, err = d.transfer.Transfer(ctx, d.opts.FolderID, fileName)
		return err
	})
	if err != nil {
		stats.RecordTransferFailure(fileName)
		return d.handle(ctx, log, policy.StageTransfer, err)
	}
	if res.Found {
		stats.RecordTransfer(fileName, res.Bytes, res.Checksum)
	}
	return nil
}

func (d *Driver) openFile(ctx context.Context, fileName string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := policy.Do(ctx, d.opts.Policies.For(policy.StageRead), func(ctx context.Context) error {
		var err error
		rc, err = d.objects.Open(ctx, fileName)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrObjectNotFound) {
			return ierrors.NewReadError(ierrors.CodeObjectNotFound, fileName+" is not in the bucket", err)
		}
		return ierrors.NewReadError(ierrors.CodeReadFailed, "failed to open "+fileName, err)
	})
	return rc, err
}

// buildBatches parses and batches the file. A nil slice with a nil error
// means the file was abandoned under an absorbing policy.
func (d *Driver) buildBatches(ctx context.Context, kind types.Kind, r io.Reader, stats *observability.RunStats, log *slog.Logger, fileName string) ([]types.Batch, error) {
	var streamErr error
	records := func(yield func(types.Record) bool) {
		for rec, err := range parser.Parse(kind, r) {
			if err != nil {
				stage := stageOf(err)
				if stage == policy.StageParse {
					stats.RecordParseError(fileName)
				}
				if stage != "" && !d.opts.Policies.For(stage).Fatal() {
					if stage == policy.StageParse {
						log.Warn("skipping unparseable record", "error", err)
						continue
					}
					log.Error("abandoning file", "stage", string(stage), "error", err)
					streamErr = errAbandoned
					return
				}
				streamErr = err
				return
			}
			stats.RecordParsed(fileName)
			if !yield(rec) {
				return
			}
		}
	}

	batches, err := batcher.Records(kind, records, d.opts.BatchSize)
	if err != nil {
		return nil, d.handle(ctx, log, policy.StageBatch, err)
	}
	if errors.Is(streamErr, errAbandoned) {
		return nil, nil
	}
	if streamErr != nil {
		return nil, streamErr
	}
	return batches, nil
}

var errAbandoned = errors.New("file abandoned")

func (d *Driver) publishBatch(ctx context.Context, stats *observability.RunStats, log *slog.Logger, fileName string, batch types.Batch) error {
	log = log.With("batch", batch.Index, "records", batch.Len())

	var token string
	err := policy.Do(ctx, d.opts.Policies.For(policy.StageAuth), func(ctx context.Context) error {
		var err error
		token, err = d.tokens.Token(ctx)
		return err
	})
	if err != nil {
		stats.RecordPublishFailure(fileName)
		return d.handle(ctx, log, policy.StageAuth, err)
	}

	err = policy.Do(ctx, d.opts.Policies.For(policy.StagePublish), func(ctx context.Context) error {
		return d.publisher.Publish(ctx, batch, token)
	})
	if err != nil {
		stats.RecordPublishFailure(fileName)
		return d.handle(ctx, log, policy.StagePublish, err)
	}

	stats.RecordPublished(fileName, batch.Len())
	return nil
}

// handle applies the stage policy to err: a fatal policy returns it, an
// absorbing one logs it and returns nil. Once the run context is done its
// error is returned regardless of policy. A request that timed out on its
// own client is an ordinary stage failure.
func (d *Driver) handle(ctx context.Context, log *slog.Logger, stage policy.Stage, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if d.opts.Policies.For(stage).Fatal() {
		return err
	}
	log.Error("stage failed, continuing", "stage", string(stage), "error", err)
	return nil
}

// stageOf maps an error from the parse stream to the stage whose policy
// governs it. CONFIG and unclassified errors map to "" and are always fatal.
func stageOf(err error) policy.Stage {
	switch ierrors.GetCategory(err) {
	case ierrors.ErrCategoryParse:
		return policy.StageParse
	case ierrors.ErrCategoryRead:
		return policy.StageRead
	default:
		return ""
	}
}
