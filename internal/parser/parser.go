// Package parser turns the raw content of a source file into typed records.
//
// Parsing is lazy: Parse returns a single-pass sequence that reads from the
// underlying stream only as the caller iterates. A line that cannot be
// parsed is yielded as a PARSE error and iteration continues with the next
// line, so the caller decides whether bad lines are dropped or abort the
// run. A failure of the underlying stream is yielded as a READ error and
// ends the sequence.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

// MaxLineSize is the longest line the event parser accepts.
const MaxLineSize = 16 * 1024 * 1024

// Parse returns the record sequence for a file of the given kind.
// An unknown kind yields a single CONFIG error.
func Parse(kind types.Kind, r io.Reader) iter.Seq2[types.Record, error] {
	switch kind {
	case types.KindTaps, types.KindPrints:
		return ParseEvents(kind, r)
	case types.KindPays:
		return ParsePayments(r)
	default:
		return func(yield func(types.Record, error) bool) {
			yield(nil, ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeUnknownKind,
				fmt.Sprintf("no parser for kind %q", kind), types.ErrUnknownKind).
				WithDetails(map[string]interface{}{"kind": string(kind)}))
		}
	}
}

// ParseEvents parses newline-delimited JSON event lines. Blank lines are skipped.
func ParseEvents(kind types.Kind, r io.Reader) iter.Seq2[types.Record, error] {
	return func(yield func(types.Record, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)

		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if isBlank(line) {
				continue
			}

			rec, err := ParseEventLine(kind, line)
			if err != nil {
				if !yield(nil, withLine(err, lineNo)) {
					return
				}
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(nil, ierrors.NewReadError(ierrors.CodeReadFailed,
				fmt.Sprintf("failed reading %s content after line %d", kind, lineNo), err))
		}
	}
}

func isBlank(line []byte) bool {
	for _, b := range line {
		switch b {
		case ' ', '\t', '\r', '\n':
		default:
			return false
		}
	}
	return true
}

// withLine attaches the 1-based line number to a parse error.
func withLine(err error, lineNo int) error {
	var ie *ierrors.IngestError
	if errors.As(err, &ie) {
		return ie.WithDetails(map[string]interface{}{"line": lineNo})
	}
	return err
}
