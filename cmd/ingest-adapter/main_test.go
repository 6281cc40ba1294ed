package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
)

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestLogFlags(t *testing.T) {
	app := newApp(&bytes.Buffer{})

	t.Run("log-level defaults to info", func(t *testing.T) {
		var levelFlag *cli.StringFlag
		for _, flag := range app.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "log-level" {
				levelFlag = f
			}
		}
		require.NotNil(t, levelFlag)
		assert.Equal(t, "info", levelFlag.Value)
	})

	t.Run("invalid log level is rejected", func(t *testing.T) {
		restoreDefaultLogger(t)
		err := app.Run([]string{"ingest-adapter", "--log-level", "loud", "check"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("invalid log format is rejected", func(t *testing.T) {
		restoreDefaultLogger(t)
		err := app.Run([]string{"ingest-adapter", "--log-format", "xml", "check"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}

func writeEnvFile(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.env")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0644))
	return path
}

func TestCheckCommand(t *testing.T) {
	restoreDefaultLogger(t)
	for _, key := range []string{"BATCH_SIZE", "API_URL", "API_KEY", "TOKEN_URL", "TIMEOUT_MINUTES", "STORAGE_TYPE", "STORAGE_PATH", "SKIP_TRANSFER"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	storageDir := t.TempDir()
	envFile := writeEnvFile(t, "BATCH_SIZE=10\n"+
		"API_URL=https://api.example.com\n"+
		"API_KEY=secret\n"+
		"TOKEN_URL=https://api.example.com/token\n"+
		"TIMEOUT_MINUTES=30\n"+
		"STORAGE_TYPE=local\n"+
		"STORAGE_PATH="+storageDir+"\n"+
		"SKIP_TRANSFER=true\n")

	var logs bytes.Buffer
	err := newApp(&logs).Run([]string{"ingest-adapter", "--log-format", "json", "--env-file", envFile, "check"})
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"msg":"configuration is valid"`)
	assert.NotContains(t, logs.String(), "secret", "the API key is never logged")
}

func TestCheckCommand_MissingSetting(t *testing.T) {
	restoreDefaultLogger(t)
	for _, key := range []string{"BATCH_SIZE", "API_URL", "API_KEY"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	envFile := writeEnvFile(t, "BATCH_SIZE=10\n")

	err := newApp(&bytes.Buffer{}).Run([]string{"ingest-adapter", "--env-file", envFile, "check"})
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCategoryConfig, ierrors.GetCategory(err))
}

func TestRunCommand(t *testing.T) {
	restoreDefaultLogger(t)

	var posted int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Write([]byte(`{"access_token": "tok"}`))
			return
		}
		atomic.AddInt32(&posted, 1)
	}))
	defer srv.Close()

	storageDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(storageDir, "pays.csv"),
		[]byte("pay_date,total,user_id,value_prop\n2020-11-01,1,2,point\n"), 0644))

	for _, key := range []string{"BATCH_SIZE", "API_URL", "API_KEY", "TOKEN_URL", "TIMEOUT_MINUTES", "STORAGE_TYPE", "STORAGE_PATH", "SKIP_TRANSFER", "FILES_TO_PROCESS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	envFile := writeEnvFile(t, "BATCH_SIZE=10\n"+
		"API_URL="+srv.URL+"\n"+
		"API_KEY=secret\n"+
		"TOKEN_URL="+srv.URL+"/token\n"+
		"TIMEOUT_MINUTES=5\n"+
		"STORAGE_TYPE=local\n"+
		"STORAGE_PATH="+storageDir+"\n"+
		"SKIP_TRANSFER=true\n"+
		"FILES_TO_PROCESS=pays.csv\n")

	app := newApp(&bytes.Buffer{})
	err := app.RunContext(context.Background(), []string{"ingest-adapter", "--env-file", envFile, "run"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&posted))
}
