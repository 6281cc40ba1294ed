// Package config provides the run configuration for the ingestion adapter.
// A Config is built once at process start and passed explicitly to every
// component; nothing reads the environment after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ierrors "github.com/valueprops/ingest-adapter/internal/errors"
	"github.com/valueprops/ingest-adapter/pkg/types"
)

// Storage backend types.
const (
	StorageGCS   = "gcs"
	StorageS3    = "s3"
	StorageLocal = "local"
)

// Stage action names accepted in configuration.
const (
	ActionFatal  = "fatal"
	ActionAbsorb = "absorb"
)

// Stages lists the pipeline stages that accept a policy override.
var Stages = []string{"transfer", "read", "parse", "batch", "auth", "publish"}

// Config holds the configuration for one ingestion run.
type Config struct {
	// Drive configuration (document storage source)
	Drive DriveConfig `json:"drive" yaml:"drive"`

	// Storage configuration (object storage bucket)
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// API configuration (token endpoint and ingestion API)
	API APIConfig `json:"api" yaml:"api"`

	// Pipeline configuration
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
}

// DriveConfig holds document-storage configuration.
type DriveConfig struct {
	// FolderID is the Google Drive folder holding the source files
	FolderID string `json:"folder_id" yaml:"folder_id"`

	// ServiceAccountJSON is the raw service-account credential blob
	ServiceAccountJSON string `json:"service_account_json" yaml:"service_account_json"`

	// LocalPath serves files from a local directory instead of Drive (development)
	LocalPath string `json:"local_path" yaml:"local_path"`
}

// StorageConfig holds object-storage configuration.
type StorageConfig struct {
	// Type is the storage type: gcs, s3, local
	Type string `json:"type" yaml:"type"`

	// Bucket is the target bucket name (for gcs and s3)
	Bucket string `json:"bucket" yaml:"bucket"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// APIConfig holds downstream API configuration.
type APIConfig struct {
	// URL is the ingestion API base URL, without trailing slash
	URL string `json:"url" yaml:"url"`

	// Key is the static API key exchanged for bearer tokens
	Key string `json:"key" yaml:"key"`

	// TokenURL is the token endpoint
	TokenURL string `json:"token_url" yaml:"token_url"`

	// Timeout bounds every outbound HTTP call
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// TokenCacheTTL reuses a token for this long; zero fetches one per batch
	TokenCacheTTL time.Duration `json:"token_cache_ttl" yaml:"token_cache_ttl"`
}

// PipelineConfig holds pipeline sequencing configuration.
type PipelineConfig struct {
	// Files is the fixed list of file names processed by the run
	Files []string `json:"files" yaml:"files"`

	// BatchSize is the number of records per posted batch
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// FileConcurrency is the number of files processed at once
	FileConcurrency int `json:"file_concurrency" yaml:"file_concurrency"`

	// SkipTransfer disables the drive-to-bucket copy
	SkipTransfer bool `json:"skip_transfer" yaml:"skip_transfer"`

	// Stages overrides the failure policy per stage
	Stages map[string]StageConfig `json:"stages" yaml:"stages"`

	// RetryBaseDelay is the first backoff delay for stage retries
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
}

// StageConfig overrides how failures of one stage are handled.
type StageConfig struct {
	// Action is fatal or absorb; empty keeps the stage default
	Action string `json:"action" yaml:"action"`

	// Retries is the number of extra attempts before the action applies
	Retries int `json:"retries" yaml:"retries"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Type: StorageGCS,
		},
		Pipeline: PipelineConfig{
			Files:           append([]string(nil), types.DefaultFiles...),
			FileConcurrency: 1,
			Stages:          make(map[string]StageConfig),
			RetryBaseDelay:  500 * time.Millisecond,
		},
	}
}

// Load builds the run configuration: defaults, then the optional config
// file, then the optional .env file, then the process environment. The
// result is validated before it is returned.
func Load(configFile, envFile string) (*Config, error) {
	var cfg *Config
	var err error

	if configFile != "" {
		cfg, err = LoadFromFile(configFile)
		if err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeInvalidSetting, "failed to load config file", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeInvalidSetting, "failed to load env file", err)
		}
	} else {
		// A missing .env in the working directory is normal in deployed runs.
		_ = godotenv.Load()
	}

	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays environment variables onto cfg. Unset variables
// leave the current value alone; set but unparsable values are errors.
func LoadFromEnv(cfg *Config) error {
	// Drive configuration
	if v := os.Getenv("GOOGLE_DRIVE_FOLDER_ID"); v != "" {
		cfg.Drive.FolderID = v
	}
	if v := os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"); v != "" {
		cfg.Drive.ServiceAccountJSON = v
	}
	if v := os.Getenv("DRIVE_LOCAL_PATH"); v != "" {
		cfg.Drive.LocalPath = v
	}

	// Storage configuration
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = strings.ToLower(v)
	}
	if v := os.Getenv("BUCKET_NAME"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("S3_USE_PATH_STYLE"); v != "" {
		b, err := parseBool("S3_USE_PATH_STYLE", v)
		if err != nil {
			return err
		}
		cfg.Storage.S3.UsePathStyle = b
	}

	// API configuration
	if v := os.Getenv("API_URL"); v != "" {
		cfg.API.URL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("TOKEN_URL"); v != "" {
		cfg.API.TokenURL = v
	}
	if v := os.Getenv("TIMEOUT_MINUTES"); v != "" {
		n, err := parseInt("TIMEOUT_MINUTES", v)
		if err != nil {
			return err
		}
		// The value is handed to the HTTP client as-is, which counts seconds.
		cfg.API.Timeout = time.Duration(n) * time.Second
	}
	if v := os.Getenv("TOKEN_CACHE_TTL"); v != "" {
		d, err := parseDuration("TOKEN_CACHE_TTL", v)
		if err != nil {
			return err
		}
		cfg.API.TokenCacheTTL = d
	}

	// Pipeline configuration
	if v := os.Getenv("FILES_TO_PROCESS"); v != "" {
		cfg.Pipeline.Files = splitList(v)
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		n, err := parseInt("BATCH_SIZE", v)
		if err != nil {
			return err
		}
		cfg.Pipeline.BatchSize = n
	}
	if v := os.Getenv("FILE_CONCURRENCY"); v != "" {
		n, err := parseInt("FILE_CONCURRENCY", v)
		if err != nil {
			return err
		}
		cfg.Pipeline.FileConcurrency = n
	}
	if v := os.Getenv("SKIP_TRANSFER"); v != "" {
		b, err := parseBool("SKIP_TRANSFER", v)
		if err != nil {
			return err
		}
		cfg.Pipeline.SkipTransfer = b
	}
	if v := os.Getenv("RETRY_BASE_DELAY"); v != "" {
		d, err := parseDuration("RETRY_BASE_DELAY", v)
		if err != nil {
			return err
		}
		cfg.Pipeline.RetryBaseDelay = d
	}

	// Per-stage policy overrides: TRANSFER_POLICY, PUBLISH_RETRIES, ...
	if cfg.Pipeline.Stages == nil {
		cfg.Pipeline.Stages = make(map[string]StageConfig)
	}
	for _, stage := range Stages {
		prefix := strings.ToUpper(stage)
		sc := cfg.Pipeline.Stages[stage]
		changed := false
		if v := os.Getenv(prefix + "_POLICY"); v != "" {
			sc.Action = strings.ToLower(v)
			changed = true
		}
		if v := os.Getenv(prefix + "_RETRIES"); v != "" {
			n, err := parseInt(prefix+"_RETRIES", v)
			if err != nil {
				return err
			}
			sc.Retries = n
			changed = true
		}
		if changed {
			cfg.Pipeline.Stages[stage] = sc
		}
	}

	return nil
}

// Resolve normalizes values that have a canonical form.
func (c *Config) Resolve() {
	c.API.URL = strings.TrimRight(c.API.URL, "/")
	if c.Storage.Type == "" {
		c.Storage.Type = StorageGCS
	}
	if c.Pipeline.FileConcurrency <= 0 {
		c.Pipeline.FileConcurrency = 1
	}
	if len(c.Pipeline.Files) == 0 {
		c.Pipeline.Files = append([]string(nil), types.DefaultFiles...)
	}
}

// Validate validates the configuration. The first problem found is
// returned as a CONFIG error.
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return invalid("BATCH_SIZE must be a positive integer, got %d", c.Pipeline.BatchSize)
	}

	for _, name := range c.Pipeline.Files {
		if kind := types.KindFromFileName(name); !kind.Valid() {
			return ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeUnknownKind,
				fmt.Sprintf("file %q has unknown kind %q", name, kind), types.ErrUnknownKind)
		}
	}

	if c.API.URL == "" {
		return missing("API_URL")
	}
	if c.API.Key == "" {
		return missing("API_KEY")
	}
	if c.API.TokenURL == "" {
		return missing("TOKEN_URL")
	}
	if c.API.Timeout <= 0 {
		return missing("TIMEOUT_MINUTES")
	}
	if c.API.TokenCacheTTL < 0 {
		return invalid("TOKEN_CACHE_TTL must not be negative")
	}

	switch c.Storage.Type {
	case StorageGCS, StorageS3:
		if c.Storage.Bucket == "" {
			return missing("BUCKET_NAME")
		}
	case StorageLocal:
		if c.Storage.Path == "" {
			return missing("STORAGE_PATH")
		}
	default:
		return invalid("invalid storage type: %s (must be gcs, s3, or local)", c.Storage.Type)
	}

	if !c.Pipeline.SkipTransfer {
		if c.Drive.FolderID == "" && c.Drive.LocalPath == "" {
			return missing("GOOGLE_DRIVE_FOLDER_ID")
		}
		if c.Drive.LocalPath == "" {
			if c.Drive.ServiceAccountJSON == "" {
				return missing("GOOGLE_SERVICE_ACCOUNT_JSON")
			}
			var creds map[string]interface{}
			if err := json.Unmarshal([]byte(c.Drive.ServiceAccountJSON), &creds); err != nil {
				return ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeInvalidSetting,
					"GOOGLE_SERVICE_ACCOUNT_JSON is not a JSON object", err)
			}
			if creds == nil {
				return invalid("GOOGLE_SERVICE_ACCOUNT_JSON is not a JSON object")
			}
		}
	}

	for stage, sc := range c.Pipeline.Stages {
		if !knownStage(stage) {
			return invalid("unknown pipeline stage %q", stage)
		}
		switch sc.Action {
		case "", ActionFatal, ActionAbsorb:
		default:
			return invalid("stage %s: invalid action %q (must be fatal or absorb)", stage, sc.Action)
		}
		if sc.Retries < 0 {
			return invalid("stage %s: retries must not be negative", stage)
		}
	}

	return nil
}

// ServiceAccountJSON returns the credential blob as bytes.
func (c *Config) ServiceAccountJSON() []byte {
	return []byte(c.Drive.ServiceAccountJSON)
}

func knownStage(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func missing(name string) error {
	return ierrors.NewConfigError(ierrors.CodeMissingSetting, name+" is required")
}

func invalid(format string, args ...interface{}) error {
	return ierrors.NewConfigError(ierrors.CodeInvalidSetting, fmt.Sprintf(format, args...))
}

func parseInt(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeInvalidSetting, name+" must be an integer", err)
	}
	return n, nil
}

func parseBool(name, v string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeInvalidSetting, name+" must be a boolean", err)
	}
	return b, nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, ierrors.Wrap(ierrors.ErrCategoryConfig, ierrors.CodeInvalidSetting, name+" must be a duration", err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
