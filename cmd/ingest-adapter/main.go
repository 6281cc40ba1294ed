// Package main implements the ingest-adapter binary. Each invocation of
// "run" processes the configured files once and exits; scheduling is left
// to the caller (cron, Cloud Scheduler, a Kubernetes CronJob).
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/valueprops/ingest-adapter/internal/app"
	"github.com/valueprops/ingest-adapter/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newApp(os.Stderr).Run(os.Args); err != nil {
		slog.Error("ingest-adapter failed", "error", err)
		os.Exit(1)
	}
}

func newApp(logOutput io.Writer) *cli.App {
	return &cli.App{
		Name:    "ingest-adapter",
		Usage:   "Move value-prop source files into a bucket and post them to the ingestion API",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log output format (text, json)",
				Value:   "text",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or JSON configuration file",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file (defaults to ./.env when present)",
			},
		},
		Before: func(c *cli.Context) error {
			return setupLogger(c, logOutput)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Transfer, parse and publish every configured file once",
				Action: runCommand,
			},
			{
				Name:   "check",
				Usage:  "Validate the configuration and exit",
				Action: checkCommand,
			},
		},
	}
}

func runCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("failed to release clients", "error", err)
		}
	}()

	_, err = a.Run(ctx)
	return err
}

func checkCommand(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"), c.String("env-file"))
	if err != nil {
		return err
	}

	slog.Info("configuration is valid",
		"storage", cfg.Storage.Type,
		"bucket", cfg.Storage.Bucket,
		"files", strings.Join(cfg.Pipeline.Files, ","),
		"batch_size", cfg.Pipeline.BatchSize,
		"api_url", cfg.API.URL,
		"transfer", !cfg.Pipeline.SkipTransfer,
	)
	return nil
}

func setupLogger(c *cli.Context, w io.Writer) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(c.String("log-format")) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q: must be text or json", c.String("log-format"))
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
