package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	// Register LLM providers via init()
	_ "github.com/c360studio/semheal/llm/providers"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semheal/artifact"
	"github.com/c360studio/semheal/batch"
	"github.com/c360studio/semheal/config"
	"github.com/c360studio/semheal/executor"
	"github.com/c360studio/semheal/generator"
	"github.com/c360studio/semheal/healing"
	"github.com/c360studio/semheal/llm"
	"github.com/c360studio/semheal/metrics"
	"github.com/c360studio/semheal/model"
	"github.com/c360studio/semheal/pagecontext"
	"github.com/c360studio/semheal/progress"
	"github.com/c360studio/semheal/prompts"
	"github.com/c360studio/semheal/strategy"
	"github.com/c360studio/semheal/testcase"
)

// App wires configuration into a ready-to-run batch.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	reporter *progress.Reporter
	metrics  *metrics.Metrics
	machine  *healing.Machine
	stop     *batch.FileStop
	loader   *testcase.Loader

	closers []func()
}

// NewApp builds every component from cfg. Progress records are written to
// out; NATS is connected when configured.
func NewApp(cfg *config.Config, out io.Writer, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		loader:  testcase.NewLoader(logger),
	}

	sinks := []progress.Sink{progress.NewWriterSink(out)}
	if cfg.Progress.NATSURL != "" {
		sink, closeFn, err := progress.ConnectNATS(cfg.Progress.NATSURL, cfg.Progress.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		sinks = append(sinks, sink)
		logger.Info("Publishing progress to NATS",
			"url", cfg.Progress.NATSURL,
			"subject", cfg.Progress.NATSSubject)
	}
	a.reporter = progress.NewReporter(sinks, progress.WithLogger(logger))

	client := llm.NewClient(cfg.Registry(),
		llm.WithRetryConfig(cfg.LLM.Retry),
		llm.WithLogger(logger),
		llm.WithObserver(a.metrics))

	genOpts := []generator.Option{
		generator.WithTemperature(cfg.LLM.Temperature),
		generator.WithMaxTokens(cfg.LLM.MaxTokens),
		generator.WithLogger(logger),
	}
	scriptGen := generator.New(client, model.CapabilityGeneration, genOpts...)
	healGen := generator.New(client, model.CapabilityHealing, genOpts...)

	var pages prompts.PageContext
	if cfg.Prompt.PageContext {
		pages = pagecontext.New(pagecontext.Config{
			Timeout:  cfg.Prompt.Timeout,
			MaxChars: cfg.Prompt.MaxChars,
		}, logger)
	}

	exec := executor.New(executor.Config{
		ProjectDir: cfg.ProjectDir(),
		Command:    cfg.Runner.Command,
		ReportPath: cfg.Runner.ReportFile,
		Timeout:    cfg.Runner.Timeout,
	}, logger)

	strategies := strategy.NewSet(
		strategy.NewLocal(logger),
		strategy.NewModel(healGen, logger),
		strategy.NewAdvanced(logger),
	)

	a.machine = healing.New(scriptGen, exec, artifact.NewStore(cfg.Resolve(cfg.Runner.TestsDir)), strategies,
		healing.WithEmitter(a.reporter),
		healing.WithPrompts(prompts.NewBuilder(pages, logger)),
		healing.WithMetrics(a.metrics),
		healing.WithLogger(logger))

	a.stop = batch.NewFileStop(cfg.Resolve(cfg.Batch.StopFile), logger)

	logger.Debug("Application wired",
		"executor", exec.String(),
		"run_id", a.reporter.RunID())
	return a, nil
}

// Run loads the test cases and drives them through the state machine. A
// missing test case source is reported as a progress event, not an error.
func (a *App) Run(ctx context.Context) (batch.Summary, error) {
	cases, source, err := a.loader.Load(
		a.cfg.Resolve(a.cfg.Batch.TestcasesDir),
		a.cfg.Resolve(a.cfg.Batch.TestcasesFile))
	switch {
	case errors.Is(err, testcase.ErrNoTestCases):
		cases = nil
	case err != nil:
		return batch.Summary{}, fmt.Errorf("load test cases: %w", err)
	default:
		ids := make([]string, len(cases))
		for i, tc := range cases {
			ids[i] = tc.Label(i)
		}
		if err := artifact.CheckCollisions(ids); err != nil {
			return batch.Summary{}, fmt.Errorf("load test cases: %w", err)
		}
		a.logger.Info("Loaded test cases",
			"count", len(cases),
			"source", source.Path,
			"files", source.Files)
	}

	// A sentinel left over from an earlier run must not stop this one.
	if err := a.stop.Clear(); err != nil {
		return batch.Summary{}, fmt.Errorf("clear stop file: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	if err := a.stop.Watch(gctx); err != nil {
		a.logger.Warn("Stop file watcher unavailable, polling only", "error", err)
	}

	// The metrics server lives exactly as long as the batch.
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error {
			if err := a.metrics.Serve(gctx, a.cfg.Metrics.Addr, a.logger); err != nil {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	driver := batch.NewDriver(a.machine,
		batch.WithStopSignal(a.stop),
		batch.WithEmitter(a.reporter),
		batch.WithLogger(a.logger))

	var summary batch.Summary
	g.Go(func() error {
		defer cancel()
		summary = driver.Run(gctx, cases)
		return nil
	})

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// Metrics exposes the collectors, e.g. for tests.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Close releases connections opened by NewApp.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
