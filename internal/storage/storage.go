// Package storage provides the object storage that holds the raw source
// files between the transfer and parse stages.
//
// Backends make a single attempt per call. Retries belong to the stage
// policy of the caller.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
)

// ObjectStorage abstracts a single bucket of objects.
// Implementations include GCS, S3, and the local filesystem for testing.
type ObjectStorage interface {
	// Write stores the full content of r under objectPath, replacing any
	// existing object. Readers never observe a partially written object.
	Write(ctx context.Context, objectPath string, r io.Reader) error

	// Open returns a stream over the object's content.
	// Returns ErrObjectNotFound when the object does not exist.
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)

	// Exists reports whether an object is stored under objectPath.
	Exists(ctx context.Context, objectPath string) (bool, error)
}

// seekableBody returns r as an io.ReadSeeker, buffering non-seekable
// readers in memory. The S3 client needs to rewind the body to sign it and
// to resend it on a transient failure.
func seekableBody(r io.Reader) (io.ReadSeeker, error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
