// Package main provides the semheal binary entry point.
// Semheal generates Playwright tests from structured test cases and heals
// failing scripts until they pass or the attempt budget runs out.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/semheal/batch"
	"github.com/c360studio/semheal/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semheal"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Self-healing Playwright test generator",
		Long: `Semheal turns structured test cases into Playwright scripts, runs them,
and repairs failing scripts in escalating stages:

- local rewrites of selectors, waits and navigation
- a model repair with the failing source, error and screenshot
- advanced wrapping of interactions in waits and retries

Progress is streamed as JSON lines on stdout and optionally to NATS.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(&configPath, &logLevel))
	cmd.AddCommand(stopCmd(&configPath, &logLevel))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func runCmd(configPath, logLevel *string) *cobra.Command {
	var (
		projectDir  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, execute and heal every test case",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)

			cfg, err := loadConfig(*configPath, projectDir, logger)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := NewApp(cfg, cmd.OutOrStdout(), logger)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := app.Run(ctx)
			if err != nil {
				return err
			}

			logger.Info("Batch complete",
				"total", summary.Total,
				"passed", summary.Passed,
				"failed", summary.Failed,
				"aborted", summary.Aborted,
				"errored", summary.Errored,
				"skipped", summary.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "dir", "", "Playwright project directory (default: current directory)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func stopCmd(configPath, logLevel *string) *cobra.Command {
	var projectDir string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running batch to stop before its next test case",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)

			cfg, err := loadConfig(*configPath, projectDir, logger)
			if err != nil {
				return err
			}

			stop := batch.NewFileStop(cfg.Resolve(cfg.Batch.StopFile), logger)
			if err := stop.Request(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stop requested: %s\n", stop.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&projectDir, "dir", "", "Playwright project directory (default: current directory)")

	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(configPath, projectDir string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if projectDir != "" {
		cfg.Runner.ProjectDir = projectDir
	}
	if cfg.Runner.ProjectDir != "" {
		abs, err := filepath.Abs(cfg.Runner.ProjectDir)
		if err != nil {
			return nil, fmt.Errorf("resolve project dir: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat project dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("not a directory: %s", abs)
		}
		cfg.Runner.ProjectDir = abs
	}
	return cfg, nil
}
