// Package executor runs a persisted test script through Playwright and leaves
// the JSON run report in a single, well-known file.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FilePlaceholder in a command template is replaced by the script path
// relative to the project directory.
const FilePlaceholder = "{file}"

// Defaults used when Config fields are empty.
const (
	DefaultCommand    = "npx playwright test " + FilePlaceholder + " --reporter=json"
	DefaultReportFile = "playwright-output.json"
	DefaultTimeout    = 60 * time.Second
)

// maxStderr bounds the stderr tail kept on a Result.
const maxStderr = 4096

// Config configures a Playwright executor.
type Config struct {
	// ProjectDir is the working directory of the test command.
	ProjectDir string
	// Command is the command template, tokenised on whitespace with single
	// and double quotes grouping. Without FilePlaceholder the script path is
	// appended.
	Command string
	// ReportPath receives the command's stdout. Relative paths are resolved
	// against ProjectDir.
	ReportPath string
	// Timeout bounds one invocation.
	Timeout time.Duration
}

// Result is the outcome of one invocation.
type Result struct {
	Passed     bool
	ExitCode   int
	ReportPath string
	Duration   time.Duration
	TimedOut   bool
	Stderr     string
}

// Playwright runs test files with the configured command.
type Playwright struct {
	config Config
	logger *slog.Logger
}

// New creates a Playwright executor, filling defaults for empty fields.
func New(cfg Config, logger *slog.Logger) *Playwright {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.ReportPath == "" {
		cfg.ReportPath = DefaultReportFile
	}
	if !filepath.IsAbs(cfg.ReportPath) {
		cfg.ReportPath = filepath.Join(cfg.ProjectDir, cfg.ReportPath)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Playwright{config: cfg, logger: logger}
}

// ReportPath returns the shared report location.
func (p *Playwright) ReportPath() string {
	return p.config.ReportPath
}

// Run executes the script and blocks until the command exits or times out.
// The report file is truncated first and fully written when Run returns.
// A non-zero exit, a spawn failure and a timeout all yield Passed=false with
// a nil error; an error is returned only when ctx itself is done.
func (p *Playwright) Run(ctx context.Context, scriptPath string) (Result, error) {
	result := Result{ReportPath: p.config.ReportPath, ExitCode: -1}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	args := p.commandLine(scriptPath)
	if len(args) == 0 {
		p.logger.Warn("Empty test command", "command", p.config.Command)
		return result, nil
	}

	report, err := os.OpenFile(p.config.ReportPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		p.logger.Warn("Cannot open report file", "path", p.config.ReportPath, "error", err)
		return result, nil
	}

	cmdCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	stderr := &tailBuffer{limit: maxStderr}
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = p.config.ProjectDir
	cmd.Stdout = report
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second
	killGroup(cmd)

	start := time.Now()
	runErr := cmd.Run()
	result.Duration = time.Since(start)
	result.Stderr = stderr.String()

	if err := report.Close(); err != nil {
		p.logger.Debug("Closing report file failed", "path", p.config.ReportPath, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ExitCode = 0
		result.Passed = true
	case errors.Is(cmdCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		p.logger.Warn("Test command timed out", "script", scriptPath, "timeout", p.config.Timeout)
	case errors.As(runErr, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		p.logger.Warn("Test command failed to start", "command", args[0], "error", runErr)
	}

	p.logger.Debug("Test command finished",
		"script", scriptPath,
		"passed", result.Passed,
		"exit_code", result.ExitCode,
		"duration", result.Duration)
	return result, nil
}

func (p *Playwright) commandLine(scriptPath string) []string {
	rel := scriptPath
	if r, err := filepath.Rel(p.config.ProjectDir, scriptPath); err == nil && !strings.HasPrefix(r, "..") {
		rel = r
	}
	rel = filepath.ToSlash(rel)

	args := splitCommand(p.config.Command)
	replaced := false
	for i, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			args[i] = strings.ReplaceAll(a, FilePlaceholder, rel)
			replaced = true
		}
	}
	if !replaced && len(args) > 0 {
		args = append(args, rel)
	}
	return args
}

// splitCommand tokenises a command on spaces, keeping single- and
// double-quoted runs together. Escapes are not supported.
func splitCommand(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingle, inDouble := false, false

	for _, r := range cmd {
		switch {
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case (r == ' ' || r == '\t') && !inSingle && !inDouble:
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// String describes the executor for logs.
func (p *Playwright) String() string {
	return fmt.Sprintf("playwright(%s, timeout=%s)", p.config.Command, p.config.Timeout)
}
