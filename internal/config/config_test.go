package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
)

const testServiceAccount = `{"type":"service_account","client_email":"ingest@example.iam.gserviceaccount.com"}`

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_DRIVE_FOLDER_ID", "folder-123")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", testServiceAccount)
	t.Setenv("BUCKET_NAME", "raw-files")
	t.Setenv("BATCH_SIZE", "500")
	t.Setenv("API_URL", "https://api.example.com/v1/")
	t.Setenv("API_KEY", "secret")
	t.Setenv("TOKEN_URL", "https://api.example.com/token")
	t.Setenv("TIMEOUT_MINUTES", "30")
}

func TestLoad_FromEnvironment(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "folder-123", cfg.Drive.FolderID)
	assert.Equal(t, "raw-files", cfg.Storage.Bucket)
	assert.Equal(t, StorageGCS, cfg.Storage.Type)
	assert.Equal(t, 500, cfg.Pipeline.BatchSize)
	assert.Equal(t, "https://api.example.com/v1", cfg.API.URL, "trailing slash should be trimmed")
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, []string{"taps.json", "prints.json", "pays.csv"}, cfg.Pipeline.Files)
	assert.Equal(t, 1, cfg.Pipeline.FileConcurrency)
	assert.Equal(t, testServiceAccount, string(cfg.ServiceAccountJSON()))
}

func TestLoad_MissingRequiredSetting(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_KEY", "")

	_, err := Load("", "")
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCategoryConfig, ierrors.GetCategory(err))
	assert.Equal(t, ierrors.CodeMissingSetting, ierrors.GetCode(err))
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoad_InvalidInteger(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BATCH_SIZE", "lots")

	_, err := Load("", "")
	require.Error(t, err)
	assert.Equal(t, ierrors.CodeInvalidSetting, ierrors.GetCode(err))
}

func TestLoad_EnvFile(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BATCH_SIZE", "")
	os.Unsetenv("BATCH_SIZE")

	envFile := filepath.Join(t.TempDir(), "run.env")
	require.NoError(t, os.WriteFile(envFile, []byte("BATCH_SIZE=25\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("BATCH_SIZE") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Pipeline.BatchSize)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	setRequiredEnv(t)

	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCategoryConfig, ierrors.GetCategory(err))
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  type: s3
  bucket: raw-files
  s3:
    region: sa-east-1
api:
  url: https://api.example.com
  timeout: 45s
pipeline:
  batch_size: 100
  files: [prints.json]
  stages:
    publish:
      action: fatal
      retries: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, StorageS3, cfg.Storage.Type)
	assert.Equal(t, "sa-east-1", cfg.Storage.S3.Region)
	assert.Equal(t, 45*time.Second, cfg.API.Timeout)
	assert.Equal(t, 100, cfg.Pipeline.BatchSize)
	assert.Equal(t, []string{"prints.json"}, cfg.Pipeline.Files)
	assert.Equal(t, StageConfig{Action: ActionFatal, Retries: 2}, cfg.Pipeline.Stages["publish"])
	// Defaults survive fields the file does not mention.
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.RetryBaseDelay)
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv_StageOverrides(t *testing.T) {
	t.Setenv("PUBLISH_POLICY", "FATAL")
	t.Setenv("AUTH_RETRIES", "3")
	t.Setenv("TOKEN_CACHE_TTL", "5m")

	cfg := DefaultConfig()
	require.NoError(t, LoadFromEnv(cfg))

	assert.Equal(t, ActionFatal, cfg.Pipeline.Stages["publish"].Action)
	assert.Equal(t, 3, cfg.Pipeline.Stages["auth"].Retries)
	assert.Equal(t, 5*time.Minute, cfg.API.TokenCacheTTL)
	_, ok := cfg.Pipeline.Stages["read"]
	assert.False(t, ok, "untouched stages should not be added")
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Drive.FolderID = "folder"
	cfg.Drive.ServiceAccountJSON = testServiceAccount
	cfg.Storage.Bucket = "bucket"
	cfg.API.URL = "https://api.example.com"
	cfg.API.Key = "key"
	cfg.API.TokenURL = "https://api.example.com/token"
	cfg.API.Timeout = 10 * time.Second
	cfg.Pipeline.BatchSize = 10
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }, ierrors.CodeInvalidSetting},
		{"negative batch size", func(c *Config) { c.Pipeline.BatchSize = -4 }, ierrors.CodeInvalidSetting},
		{"unknown kind", func(c *Config) { c.Pipeline.Files = []string{"clicks.json"} }, ierrors.CodeUnknownKind},
		{"missing token url", func(c *Config) { c.API.TokenURL = "" }, ierrors.CodeMissingSetting},
		{"missing timeout", func(c *Config) { c.API.Timeout = 0 }, ierrors.CodeMissingSetting},
		{"missing bucket", func(c *Config) { c.Storage.Bucket = "" }, ierrors.CodeMissingSetting},
		{"bad storage type", func(c *Config) { c.Storage.Type = "ftp" }, ierrors.CodeInvalidSetting},
		{"local needs path", func(c *Config) { c.Storage.Type = StorageLocal }, ierrors.CodeMissingSetting},
		{"missing folder", func(c *Config) { c.Drive.FolderID = "" }, ierrors.CodeMissingSetting},
		{"missing credentials", func(c *Config) { c.Drive.ServiceAccountJSON = "" }, ierrors.CodeMissingSetting},
		{"malformed credentials", func(c *Config) { c.Drive.ServiceAccountJSON = "{not json" }, ierrors.CodeInvalidSetting},
		{"null credentials", func(c *Config) { c.Drive.ServiceAccountJSON = "null" }, ierrors.CodeInvalidSetting},
		{"skip transfer needs no drive", func(c *Config) {
			c.Pipeline.SkipTransfer = true
			c.Drive = DriveConfig{}
		}, ""},
		{"local drive needs no credentials", func(c *Config) {
			c.Drive = DriveConfig{LocalPath: "/srv/drive"}
		}, ""},
		{"bad stage action", func(c *Config) {
			c.Pipeline.Stages["publish"] = StageConfig{Action: "retry"}
		}, ierrors.CodeInvalidSetting},
		{"unknown stage", func(c *Config) {
			c.Pipeline.Stages["upload"] = StageConfig{Action: ActionFatal}
		}, ierrors.CodeInvalidSetting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, ierrors.ErrCategoryConfig, ierrors.GetCategory(err))
			assert.Equal(t, tt.code, ierrors.GetCode(err))
		})
	}
}
