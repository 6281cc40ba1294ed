// Package batcher groups parsed records into fixed-size batches.
package batcher

import (
	"fmt"
	"iter"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

// maxPrealloc bounds the capacity reserved up front for one chunk; larger
// chunks grow as items arrive.
const maxPrealloc = 4096

// Split consumes seq eagerly and returns consecutive chunks of exactly size
// items, except the last which holds the remainder. Empty input returns an
// empty, non-nil slice.
func Split[T any](seq iter.Seq[T], size int) ([][]T, error) {
	if size <= 0 {
		return nil, ierrors.NewBatchingError(ierrors.CodeInvalidBatchSize,
			fmt.Sprintf("batch size must be positive, got %d", size)).
			WithDetails(map[string]interface{}{"batch_size": size})
	}

	chunks := make([][]T, 0)
	current := make([]T, 0, min(size, maxPrealloc))
	for item := range seq {
		current = append(current, item)
		if len(current) == size {
			chunks = append(chunks, current)
			current = make([]T, 0, min(size, maxPrealloc))
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// Records splits a record sequence into batches of kind, numbered from zero.
func Records(kind types.Kind, seq iter.Seq[types.Record], size int) ([]types.Batch, error) {
	chunks, err := Split(seq, size)
	if err != nil {
		return nil, err
	}

	batches := make([]types.Batch, len(chunks))
	for i, chunk := range chunks {
		batches[i] = types.Batch{Kind: kind, Index: i, Records: chunk}
	}
	return batches, nil
}
