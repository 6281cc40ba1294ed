package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valueprops/ingest-adapter/internal/config"
	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
)

func TestDefaults(t *testing.T) {
	table := Defaults(time.Second)

	fatal := []Stage{StageRead, StageBatch, StageAuth}
	absorbed := []Stage{StageTransfer, StageParse, StagePublish}

	for _, s := range fatal {
		assert.True(t, table.For(s).Fatal(), "stage %s should be fatal", s)
	}
	for _, s := range absorbed {
		assert.False(t, table.For(s).Fatal(), "stage %s should be absorbed", s)
	}
	for _, p := range table {
		assert.Zero(t, p.Retries)
		assert.Equal(t, time.Second, p.BaseDelay)
	}
	assert.True(t, table.For(Stage("unknown")).Fatal())
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig().Pipeline
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.Stages = map[string]config.StageConfig{
		"publish": {Action: config.ActionFatal, Retries: 2},
		"auth":    {Retries: 3},
		"parse":   {Action: config.ActionFatal},
	}

	table := FromConfig(cfg)
	assert.Equal(t, Policy{Action: Fatal, Retries: 2, BaseDelay: 10 * time.Millisecond}, table.For(StagePublish))
	assert.Equal(t, Policy{Action: Fatal, Retries: 3, BaseDelay: 10 * time.Millisecond}, table.For(StageAuth))
	assert.True(t, table.For(StageParse).Fatal())
	assert.False(t, table.For(StageTransfer).Fatal())
}

func TestDo_RetriesRetryableErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{Retries: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return ierrors.NewPublishError(ierrors.CodePublishFailed, "boom", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{Retries: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		return ierrors.NewAuthError(ierrors.CodeTokenRequestFailed, "down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, ierrors.CodeTokenRequestFailed, ierrors.GetCode(err))
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{Retries: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		return ierrors.NewAuthError(ierrors.CodeMissingToken, "no token", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, Policy{Retries: 5, BaseDelay: time.Hour}, func(context.Context) error {
		attempts++
		cancel()
		return ierrors.NewPublishError(ierrors.CodePublishFailed, "boom", nil)
	})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, attempts)
}
