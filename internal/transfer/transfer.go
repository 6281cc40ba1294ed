// Package transfer copies source files from document storage into the
// object-storage bucket ahead of parsing.
package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"log/slog"

	"github.com/cespare/xxhash/v2"

	"github.com/valueprops/ingest-adapter/internal/drive"
	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/internal/storage"
)

// Result describes the outcome of one transfer.
type Result struct {
	// Found is false when the folder holds no file with the requested name
	Found bool

	// Bytes is the number of bytes written to the bucket
	Bytes int64

	// Checksum is the hex xxhash64 digest of the copied content
	Checksum string

	// Replaced is true when an object of the same name was overwritten
	Replaced bool
}

// Stage copies one named file from a document-storage folder into the
// bucket under the same name, overwriting any existing object.
type Stage struct {
	docs    drive.DocumentStorage
	objects storage.ObjectStorage
	logger  *slog.Logger
}

// NewStage creates a transfer stage.
func NewStage(docs drive.DocumentStorage, objects storage.ObjectStorage, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		docs:    docs,
		objects: objects,
		logger:  logger,
	}
}

// Transfer copies fileName out of folderID. A missing file is reported
// through Result.Found with a warning and is not an error; every other
// failure is returned as a TRANSFER error.
func (s *Stage) Transfer(ctx context.Context, folderID, fileName string) (Result, error) {
	log := s.logger.With("file", fileName)
	log.Info("transferring file from document storage to bucket")

	file, err := s.docs.FindFile(ctx, folderID, fileName)
	if err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			log.Warn("file not found in document storage folder", "folder_id", folderID)
			return Result{}, nil
		}
		return Result{}, ierrors.NewTransferError(ierrors.CodeSourceLookup, "failed to look up "+fileName, err)
	}

	rc, err := s.docs.OpenFile(ctx, file)
	if err != nil {
		return Result{}, ierrors.NewTransferError(ierrors.CodeTransferFailed, "failed to read "+fileName, err)
	}
	defer rc.Close()

	replaced, err := s.objects.Exists(ctx, fileName)
	if err != nil {
		log.Warn("could not check for an existing object", "error", err)
	}

	counter := &countingReader{r: rc, digest: xxhash.New()}
	if err := s.objects.Write(ctx, fileName, counter); err != nil {
		return Result{}, ierrors.NewTransferError(ierrors.CodeTransferFailed, "failed to write "+fileName+" to bucket", err)
	}

	checksum := hex.EncodeToString(counter.digest.Sum(nil))
	log.Info("file transferred", "bytes", counter.n, "checksum", checksum, "replaced", replaced)
	return Result{Found: true, Bytes: counter.n, Checksum: checksum, Replaced: replaced}, nil
}

// countingReader counts and hashes the bytes read through it.
type countingReader struct {
	r      io.Reader
	n      int64
	digest hash.Hash
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	c.digest.Write(p[:n])
	return n, err
}
