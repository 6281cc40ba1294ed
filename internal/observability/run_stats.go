// Package observability tracks per-file counters for a pipeline run.
package observability

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// FileStats holds the counters of one source file.
type FileStats struct {
	File             string
	Transferred      bool
	TransferFailed   bool
	BytesTransferred int64
	Checksum         string
	Records          int64
	ParseErrors      int64
	Batches          int
	BatchesPublished int
	BatchesFailed    int
	RecordsPublished int64
	Error            string
	Started          time.Time
	Finished         time.Time
}

// Failed reports whether the file was stopped by a fatal error.
func (f FileStats) Failed() bool {
	return f.Error != ""
}

// RunStats collects counters for every file in a run.
// All methods are safe for concurrent use.
type RunStats struct {
	mu      sync.RWMutex
	runID   string
	started time.Time
	files   map[string]*FileStats
	order   map[string]int
}

// NewRunStats creates an empty tracker for the run identified by runID.
func NewRunStats(runID string) *RunStats {
	return &RunStats{
		runID:   runID,
		started: time.Now(),
		files:   make(map[string]*FileStats),
		order:   make(map[string]int),
	}
}

// file returns the stats entry for name, creating it on first use.
// Callers must hold mu.
func (r *RunStats) file(name string) *FileStats {
	fs, exists := r.files[name]
	if !exists {
		fs = &FileStats{File: name, Started: time.Now()}
		r.files[name] = fs
		r.order[name] = len(r.order)
	}
	return fs
}

// StartFile registers name so it appears in the summary in start order.
func (r *RunStats) StartFile(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file(name)
}

// RecordTransfer records a successful copy of n bytes with the given checksum.
func (r *RunStats) RecordTransfer(name string, n int64, checksum string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs := r.file(name)
	fs.Transferred = true
	fs.BytesTransferred = n
	fs.Checksum = checksum
}

// RecordTransferFailure records an absorbed transfer failure.
func (r *RunStats) RecordTransferFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file(name).TransferFailed = true
}

// RecordParsed records one successfully parsed record.
func (r *RunStats) RecordParsed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file(name).Records++
}

// RecordParseError records one dropped line or row.
func (r *RunStats) RecordParseError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file(name).ParseErrors++
}

// RecordBatches records how many batches the file was split into.
func (r *RunStats) RecordBatches(name string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file(name).Batches = n
}

// RecordPublished records a delivered batch of records.
func (r *RunStats) RecordPublished(name string, records int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs := r.file(name)
	fs.BatchesPublished++
	fs.RecordsPublished += int64(records)
}

// RecordPublishFailure records an absorbed batch failure.
func (r *RunStats) RecordPublishFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.file(name).BatchesFailed++
}

// FinishFile marks name as done. A non-nil err is the fatal error that
// stopped it.
func (r *RunStats) FinishFile(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs := r.file(name)
	fs.Finished = time.Now()
	if err != nil {
		fs.Error = err.Error()
	}
}

// File returns a copy of the stats for name.
func (r *RunStats) File(name string) (FileStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fs, ok := r.files[name]
	if !ok {
		return FileStats{}, false
	}
	return *fs, true
}

// RunSummary is a point-in-time copy of a run's counters.
type RunSummary struct {
	RunID            string
	Duration         time.Duration
	Files            []FileStats
	Records          int64
	ParseErrors      int64
	BatchesPublished int
	BatchesFailed    int
}

// Summary returns a copy of all counters, files in start order.
func (r *RunStats) Summary() *RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &RunSummary{
		RunID:    r.runID,
		Duration: time.Since(r.started),
		Files:    make([]FileStats, 0, len(r.files)),
	}
	for _, fs := range r.files {
		s.Files = append(s.Files, *fs)
		s.Records += fs.Records
		s.ParseErrors += fs.ParseErrors
		s.BatchesPublished += fs.BatchesPublished
		s.BatchesFailed += fs.BatchesFailed
	}
	sort.Slice(s.Files, func(i, j int) bool {
		return r.order[s.Files[i].File] < r.order[s.Files[j].File]
	})
	return s
}

// Log writes one line per file and a run total.
func (s *RunSummary) Log(logger *slog.Logger) {
	for _, fs := range s.Files {
		attrs := []any{
			"run_id", s.RunID,
			"file", fs.File,
			"transferred", fs.Transferred,
			"bytes", fs.BytesTransferred,
			"checksum", fs.Checksum,
			"records", fs.Records,
			"parse_errors", fs.ParseErrors,
			"batches", fs.Batches,
			"batches_published", fs.BatchesPublished,
			"batches_failed", fs.BatchesFailed,
		}
		if fs.Failed() {
			logger.Error("file failed", append(attrs, "error", fs.Error)...)
			continue
		}
		logger.Info("file processed", attrs...)
	}
	logger.Info("run finished",
		"run_id", s.RunID,
		"files", len(s.Files),
		"records", s.Records,
		"parse_errors", s.ParseErrors,
		"batches_published", s.BatchesPublished,
		"batches_failed", s.BatchesFailed,
		"duration", s.Duration.String(),
	)
}
