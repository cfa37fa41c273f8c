// Package batch runs test cases one after another, isolating each case's
// failures and honouring an external stop request between cases.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/c360studio/semheal/healing"
	"github.com/c360studio/semheal/progress"
	"github.com/c360studio/semheal/testcase"
)

// NoTestCasesMessage is reported when a batch has nothing to run.
const NoTestCasesMessage = "No test cases found. Ensure JSON files exist in 'testcases/' or a valid testcases.json exists."

// SessionRunner runs one test case to a terminal outcome.
type SessionRunner interface {
	RunSession(ctx context.Context, tc testcase.TestCase, pos healing.Position) (healing.Outcome, error)
}

// Summary aggregates a batch.
type Summary struct {
	Total   int
	Passed  int
	Failed  int
	Aborted int
	// Errored counts cases whose processing raised an unexpected error.
	Errored int
	// Skipped counts cases never attempted because the batch stopped.
	Skipped  int
	Stopped  bool
	Outcomes []healing.Outcome
}

// Driver iterates test cases in input order.
type Driver struct {
	runner  SessionRunner
	stop    StopSignal
	emitter progress.Emitter
	logger  *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithStopSignal sets the stop signal checked before each case.
func WithStopSignal(s StopSignal) Option {
	return func(d *Driver) { d.stop = s }
}

// WithEmitter sets the progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(d *Driver) {
		if e != nil {
			d.emitter = e
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDriver creates a Driver around runner.
func NewDriver(runner SessionRunner, opts ...Option) *Driver {
	d := &Driver{
		runner:  runner,
		emitter: progress.Discard{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run processes cases sequentially. A stop request or a cancelled ctx ends
// the batch before the next case; the remaining cases are skipped, not
// failed. No single case can end the batch.
func (d *Driver) Run(ctx context.Context, cases []testcase.TestCase) Summary {
	summary := Summary{Total: len(cases)}
	if len(cases) == 0 {
		d.emitter.Emit(progress.New(progress.KindError, "").
			With(progress.FieldMessage, NoTestCasesMessage))
		return summary
	}

	d.emitter.Emit(progress.New(progress.KindInfo, "").
		With(progress.FieldMessage, fmt.Sprintf("Starting test generation for %d test cases", len(cases))))

	for i, tc := range cases {
		if d.shouldStop(ctx) {
			summary.Stopped = true
			summary.Skipped = len(cases) - i
			d.emitter.Emit(progress.New(progress.KindInfo, "").
				With(progress.FieldMessage, "Test execution stopped by user."))
			d.logger.Info("Batch stopped", "remaining", summary.Skipped)
			break
		}

		pos := healing.Position{Index: i, Total: len(cases)}
		outcome, err := d.runCase(ctx, tc, pos)
		switch {
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			summary.Aborted++
			summary.Outcomes = append(summary.Outcomes, outcome)
		case err != nil:
			summary.Errored++
			label := tc.Label(i)
			d.emitter.Emit(progress.New(progress.KindError, label).
				With(progress.FieldMessage, fmt.Sprintf("Error processing test case %s: %s", label, err.Error())))
			d.logger.Error("Test case failed unexpectedly", "test_case", label, "error", err)
		default:
			summary.Outcomes = append(summary.Outcomes, outcome)
			switch outcome.State {
			case healing.StatePassed:
				summary.Passed++
			case healing.StateFailedTerminal:
				summary.Failed++
			default:
				summary.Aborted++
			}
		}
	}

	d.emitter.Emit(progress.New(progress.KindAllTestsCompleted, "").
		With(progress.FieldMessage, "All test cases processed.").
		With("total", summary.Total).
		With("passed", summary.Passed).
		With("failed", summary.Failed).
		With("aborted", summary.Aborted).
		With("errored", summary.Errored).
		With("skipped", summary.Skipped).
		With("stopped", summary.Stopped))
	return summary
}

func (d *Driver) shouldStop(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return d.stop != nil && d.stop.Stopped()
}

// runCase converts a panic inside a session into an error.
func (d *Driver) runCase(ctx context.Context, tc testcase.TestCase, pos healing.Position) (out healing.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while processing test case",
				"test_case", tc.Label(pos.Index),
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.runner.RunSession(ctx, tc, pos)
}
