// Package healing drives one test case from generation through bounded,
// escalating repair attempts to a terminal outcome.
package healing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/semheal/artifact"
	"github.com/c360studio/semheal/executor"
	"github.com/c360studio/semheal/llm"
	"github.com/c360studio/semheal/metrics"
	"github.com/c360studio/semheal/progress"
	"github.com/c360studio/semheal/prompts"
	"github.com/c360studio/semheal/report"
	"github.com/c360studio/semheal/strategy"
	"github.com/c360studio/semheal/testcase"
)

// MaxAttempts bounds the executions of one session.
const MaxAttempts = 4

// Generator produces the initial script from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, image *llm.Image) (string, error)
}

// Executor runs a persisted script. It returns an error only when ctx is done.
type Executor interface {
	Run(ctx context.Context, scriptPath string) (executor.Result, error)
}

// PromptBuilder builds the generation prompt of a test case.
type PromptBuilder interface {
	Generation(ctx context.Context, tc testcase.TestCase) string
}

// ClassifyFunc turns the run report at path into a classification.
type ClassifyFunc func(path string) report.Classification

// Machine runs healing sessions. It holds no per-session state and may be
// reused for every case of a batch.
type Machine struct {
	generator  Generator
	executor   Executor
	store      *artifact.Store
	strategies strategy.Set

	prompts  PromptBuilder
	emitter  progress.Emitter
	classify ClassifyFunc
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithEmitter sets the progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(m *Machine) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithPrompts sets the generation prompt builder.
func WithPrompts(p PromptBuilder) Option {
	return func(m *Machine) {
		if p != nil {
			m.prompts = p
		}
	}
}

// WithClassifier replaces report.Classify.
func WithClassifier(f ClassifyFunc) Option {
	return func(m *Machine) {
		if f != nil {
			m.classify = f
		}
	}
}

// WithMetrics records session metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) {
		m.metrics = mt
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock sets the clock used for attempt records.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Machine.
func New(gen Generator, exec Executor, store *artifact.Store, strategies strategy.Set, opts ...Option) *Machine {
	m := &Machine{
		generator:  gen,
		executor:   exec,
		store:      store,
		strategies: strategies,
		emitter:    progress.Discard{},
		classify:   report.Classify,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.prompts == nil {
		m.prompts = prompts.NewBuilder(nil, m.logger)
	}
	return m
}

// errCancelled marks a session stopped by its context.
var errCancelled = errors.New("session cancelled")

// RunSession generates, runs and repairs one test case until it passes, fails
// on the last permitted attempt, or cannot obtain a candidate.
//
// The returned error is non-nil only for conditions outside the session's
// own failure model: context cancellation, an unwritable tests directory or
// an illegal state transition. Test failures and aborts are reported through
// the Outcome.
func (m *Machine) RunSession(ctx context.Context, tc testcase.TestCase, pos Position) (Outcome, error) {
	s := newSession(tc, pos)
	log := m.logger.With("test_case", s.id)

	m.emit(s, progress.New(progress.KindScriptGenerationStarted, s.id).
		With(progress.FieldStatus, "Generating Script").
		With(progress.FieldProgress, pos.Progress()).
		With(progress.FieldLiveMessage, fmt.Sprintf("Generating script for %s (%s)", s.id, pos.Progress())))

	code, err := m.generator.Generate(ctx, m.prompts.Generation(ctx, tc), nil)
	if err != nil || strings.TrimSpace(code) == "" {
		if ctx.Err() != nil {
			return m.cancel(ctx, s)
		}
		log.Warn("Initial generation failed", "error", err)
		return m.abort(s, fmt.Sprintf("Failed to generate code for %s.", s.id))
	}

	if err := m.persist(s, artifact.VersionInitial, code); err != nil {
		return m.fail(s, err)
	}
	m.emit(s, progress.New(progress.KindFileCreated, s.id).
		With(progress.FieldFilePath, s.current.Path).
		With(progress.FieldLiveMessage, fmt.Sprintf("Script generated for %s", s.id)))
	m.emitCode(s)

	if err := s.transition(StateRunning); err != nil {
		return s.outcome(), err
	}

	for {
		s.attempt++
		record, err := m.execute(ctx, s)
		if err != nil {
			return m.cancel(ctx, s)
		}

		if record.Outcome == AttemptPassed {
			if err := s.transition(StatePassed); err != nil {
				return s.outcome(), err
			}
			m.emit(s, m.attemptEvent(progress.KindTestPassed, s, record).
				With(progress.FieldStatus, "Passed").
				With(progress.FieldLiveMessage, fmt.Sprintf("%s passed successfully", s.id)))
			log.Info("Test passed", "attempt", s.attempt, "version", record.Version)
			return m.finish(s, ""), nil
		}

		m.emit(s, m.attemptEvent(progress.KindTestFailed, s, record).
			With(progress.FieldError, record.ErrorSummary).
			With(progress.FieldCategory, record.Category).
			With(progress.FieldScreenshotPath, record.ArtifactPath).
			With(progress.FieldStatus, "Failed").
			With(progress.FieldLiveMessage, fmt.Sprintf("%s failed - attempt %d", s.id, s.attempt)))

		if s.attempt >= MaxAttempts {
			if err := s.transition(StateFailedTerminal); err != nil {
				return s.outcome(), err
			}
			m.emit(s, progress.New(progress.KindTestFinalFailure, s.id).
				With(progress.FieldMessage, fmt.Sprintf("Test %s failed after %d attempts.", s.id, MaxAttempts)).
				With(progress.FieldAttempt, s.attempt).
				With(progress.FieldError, record.ErrorSummary).
				With(progress.FieldHealingType, "final_failure").
				With(progress.FieldStatus, "Failed").
				With(progress.FieldLiveMessage, fmt.Sprintf("%s failed after all attempts", s.id)))
			log.Info("Test failed after all attempts", "attempts", s.attempt, "error", record.ErrorSummary)
			return m.finish(s, record.ErrorSummary), nil
		}

		if err := s.transition(StateFailedRetryable); err != nil {
			return s.outcome(), err
		}
		if err := m.heal(ctx, s, record); err != nil {
			switch {
			case errors.Is(err, errCancelled):
				return m.cancel(ctx, s)
			case errors.Is(err, strategy.ErrNoCandidate):
				return m.abort(s, fmt.Sprintf("No updated code generated for %s (attempt %d)", s.id, s.attempt))
			default:
				return m.fail(s, err)
			}
		}
	}
}

// execute runs the current candidate and resolves its classification before
// returning, so the next strategy is chosen from a settled result.
func (m *Machine) execute(ctx context.Context, s *session) (AttemptRecord, error) {
	version := s.current.Version
	liveVerb := "running"
	if s.attempt > 1 {
		liveVerb = "healing"
	}
	m.emit(s, progress.New(progress.KindTestExecutionStarted, s.id).
		With(progress.FieldMessage, runMessage(version)).
		With(progress.FieldAttempt, s.attempt).
		With(progress.FieldHealingType, version.String()).
		With(progress.FieldVersion, version.String()).
		With(progress.FieldStatus, "Running").
		With(progress.FieldLiveMessage, fmt.Sprintf("%s %s is %s", title(version.String()), s.id, liveVerb)))

	record := AttemptRecord{Attempt: s.attempt, Version: version, Timestamp: m.now()}
	result, err := m.executor.Run(ctx, s.current.Path)
	record.Duration = result.Duration
	if err != nil {
		record.Outcome = AttemptAborted
		return record, err
	}

	if result.Passed {
		record.Outcome = AttemptPassed
	} else {
		cls := m.classify(result.ReportPath)
		record.Outcome = AttemptFailed
		record.ErrorSummary = cls.ErrorSummary
		record.Category = cls.Category
		record.ArtifactPath = cls.ArtifactPath
	}
	m.metrics.RecordAttempt(version.String(), result.Passed, result.Duration)
	return record, nil
}

// heal applies the strategy for the failed attempt and persists its
// candidate.
func (m *Machine) heal(ctx context.Context, s *session, failed AttemptRecord) error {
	st, ok := m.strategies.ForAttempt(s.attempt)
	if !ok {
		m.logger.Error("No strategy configured", "test_case", s.id, "attempt", s.attempt)
		return strategy.ErrNoCandidate
	}
	name := st.Name()

	m.emit(s, progress.New(progress.KindSelfHealingStarted, s.id).
		With(progress.FieldAttempt, s.attempt).
		With("type", name.String()).
		With(progress.FieldHealingType, name.String()).
		With(progress.FieldStatus, "Self-healing").
		With(progress.FieldLiveMessage, fmt.Sprintf("%s %s is healing", title(name.String()), s.id)))
	if err := s.transition(StateHealing); err != nil {
		return err
	}

	cand, err := st.Apply(ctx, strategy.Input{
		Source:       s.current.Source,
		ErrorSummary: failed.ErrorSummary,
		ArtifactPath: failed.ArtifactPath,
	})
	if ctx.Err() != nil {
		return errCancelled
	}
	if err != nil || cand == nil || strings.TrimSpace(cand.Source) == "" {
		m.metrics.RecordStrategy(name.String(), false)
		m.logger.Warn("Repair strategy produced no candidate", "test_case", s.id, "strategy", name, "error", err)
		return strategy.ErrNoCandidate
	}
	m.metrics.RecordStrategy(name.String(), true)
	m.emitFix(s, name, cand)

	if err := m.persist(s, name, cand.Source); err != nil {
		return err
	}
	m.emitCode(s)
	return s.transition(StateRunning)
}

func (m *Machine) emitFix(s *session, name artifact.Version, cand *strategy.Candidate) {
	switch name {
	case artifact.VersionLocal:
		m.emit(s, progress.New(progress.KindLocalFixApplied, s.id).
			With(progress.FieldMessage, fmt.Sprintf("Applied local fix for %s (attempt %d)", s.id, s.attempt)).
			With("edits", cand.Edits).
			With(progress.FieldLiveMessage, fmt.Sprintf("Local healing applied to %s", s.id)))
	case artifact.VersionModel:
		m.emit(s, progress.New(progress.KindFullHealingPrompt, s.id).
			With(progress.FieldPrompt, cand.Prompt).
			With(progress.FieldAttempt, s.attempt))
		m.emit(s, progress.New(progress.KindModelFixApplied, s.id).
			With(progress.FieldMessage, fmt.Sprintf("Applied model fix for %s (attempt %d)", s.id, s.attempt)).
			With(progress.FieldScreenshotUsed, cand.ScreenshotUsed).
			With(progress.FieldLiveMessage, fmt.Sprintf("Model healing applied to %s", s.id)))
	case artifact.VersionAdvanced:
		m.emit(s, progress.New(progress.KindAdvancedFixApplied, s.id).
			With(progress.FieldMessage, fmt.Sprintf("Applied advanced self-healing for %s (attempt %d)", s.id, s.attempt)).
			With("edits", cand.Edits).
			With(progress.FieldLiveMessage, fmt.Sprintf("Advanced healing applied to %s", s.id)))
	}
}

// persist writes source as the session's current candidate, replacing the
// previous one.
func (m *Machine) persist(s *session, version artifact.Version, source string) error {
	art, err := m.store.Save(s.id, version, strategy.Finalize(source))
	if err != nil {
		return fmt.Errorf("persist %s script for %s: %w", version, s.id, err)
	}
	s.current = art
	return nil
}

func (m *Machine) emitCode(s *session) {
	m.emit(s, progress.New(progress.KindCodeGenerated, s.id).
		With(progress.FieldVersion, s.current.Version.String()).
		With(progress.FieldCode, s.current.Source).
		With(progress.FieldFilePath, s.current.Path))
}

func (m *Machine) attemptEvent(kind progress.Kind, s *session, r AttemptRecord) progress.Event {
	return progress.New(kind, s.id).
		With(progress.FieldAttempt, r.Attempt).
		With(progress.FieldHealingType, r.Version.String()).
		With(progress.FieldVersion, r.Version.String()).
		With("durationMs", r.Duration.Milliseconds())
}

// abort ends the session because no candidate exists to run. The error event
// is followed by test_aborted, which is the session's last event.
func (m *Machine) abort(s *session, message string) (Outcome, error) {
	if err := s.transition(StateAborted); err != nil {
		return s.outcome(), err
	}
	m.emit(s, progress.New(progress.KindError, s.id).
		With(progress.FieldMessage, message))
	m.emit(s, progress.New(progress.KindTestAborted, s.id).
		With(progress.FieldMessage, message).
		With(progress.FieldAttempt, s.attempt).
		With(progress.FieldStatus, "Aborted").
		With(progress.FieldLiveMessage, fmt.Sprintf("%s aborted", s.id)))
	m.logger.Warn("Session aborted", "test_case", s.id, "attempt", s.attempt, "reason", message)
	return m.finish(s, message), nil
}

// cancel ends the session because ctx is done.
func (m *Machine) cancel(ctx context.Context, s *session) (Outcome, error) {
	o, _ := m.abort(s, fmt.Sprintf("Test %s cancelled.", s.id))
	return o, ctx.Err()
}

// fail ends the session on an infrastructure error the caller must report.
func (m *Machine) fail(s *session, err error) (Outcome, error) {
	if terr := s.transition(StateAborted); terr != nil {
		m.logger.Debug("Session left in non-terminal state", "test_case", s.id, "error", terr)
	}
	m.metrics.RecordSession(StateAborted.Result())
	o := s.outcome()
	o.Reason = err.Error()
	return o, err
}

func (m *Machine) finish(s *session, detail string) Outcome {
	m.metrics.RecordSession(s.state.Result())
	o := s.outcome()
	switch s.state {
	case StateAborted:
		o.Reason = detail
	case StateFailedTerminal:
		o.ErrorSummary = detail
	}
	return o
}

func (m *Machine) emit(s *session, e progress.Event) {
	m.emitter.Emit(e.With(progress.FieldDescription, s.description))
}

func runMessage(v artifact.Version) string {
	switch v {
	case artifact.VersionInitial:
		return "Initial generated code is running"
	case artifact.VersionLocal:
		return "Locally modified code is running"
	case artifact.VersionModel:
		return "Model healed code is running"
	default:
		return "Advanced self-healed code is running"
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
