// Package policy decides, per pipeline stage, whether a failure aborts the
// run or is logged and skipped, and how often a retryable failure is retried.
package policy

import (
	"context"
	"time"

	"github.com/valueprops/ingest-adapter/internal/config"
	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
)

// Stage names a pipeline step that can fail.
type Stage string

const (
	StageTransfer Stage = "transfer"
	StageRead     Stage = "read"
	StageParse    Stage = "parse"
	StageBatch    Stage = "batch"
	StageAuth     Stage = "auth"
	StagePublish  Stage = "publish"
)

// Action is what the driver does with a failure that survived its retries.
type Action string

const (
	// Fatal stops the run and surfaces the error.
	Fatal Action = config.ActionFatal
	// Absorb logs the error and continues with the next unit of work.
	Absorb Action = config.ActionAbsorb
)

var stageCategory = map[Stage]ierrors.ErrorCategory{
	StageTransfer: ierrors.ErrCategoryTransfer,
	StageRead:     ierrors.ErrCategoryRead,
	StageParse:    ierrors.ErrCategoryParse,
	StageBatch:    ierrors.ErrCategoryBatching,
	StageAuth:     ierrors.ErrCategoryAuth,
	StagePublish:  ierrors.ErrCategoryPublish,
}

// Policy is the failure handling of one stage.
type Policy struct {
	Action    Action
	Retries   int
	BaseDelay time.Duration
}

// Fatal reports whether a failure under p stops the run.
func (p Policy) Fatal() bool {
	return p.Action == Fatal
}

// Table holds the policy of every stage.
type Table map[Stage]Policy

// Defaults returns the built-in table: configuration, read, batching and
// auth failures stop the run; transfer, parse and publish failures are
// absorbed. Nothing is retried.
func Defaults(baseDelay time.Duration) Table {
	t := make(Table, len(stageCategory))
	for stage, category := range stageCategory {
		action := Absorb
		if ierrors.IsFatalByDefault(category) {
			action = Fatal
		}
		t[stage] = Policy{Action: action, BaseDelay: baseDelay}
	}
	return t
}

// FromConfig applies the per-stage overrides of cfg on top of Defaults.
func FromConfig(cfg config.PipelineConfig) Table {
	t := Defaults(cfg.RetryBaseDelay)
	for name, sc := range cfg.Stages {
		stage := Stage(name)
		p, ok := t[stage]
		if !ok {
			continue
		}
		if sc.Action != "" {
			p.Action = Action(sc.Action)
		}
		if sc.Retries > 0 {
			p.Retries = sc.Retries
		}
		t[stage] = p
	}
	return t
}

// For returns the policy of stage. Unknown stages are fatal.
func (t Table) For(stage Stage) Policy {
	if p, ok := t[stage]; ok {
		return p
	}
	return Policy{Action: Fatal}
}

// Do runs op, retrying retryable failures up to p.Retries extra times with
// exponential backoff starting at p.BaseDelay. The last error is returned.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !ierrors.IsRetryable(lastErr) {
			return lastErr
		}

		if attempt < p.Retries {
			backoff := p.BaseDelay << attempt
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}
