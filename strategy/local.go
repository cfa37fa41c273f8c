package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/semheal/artifact"
	"github.com/c360studio/semheal/report"
)

// Local is the offline pattern repair. It widens navigation waits and, when
// the failure names a selector that could not be resolved, swaps the exact
// lookup for a role or text based one.
type Local struct {
	logger *slog.Logger
}

// NewLocal creates the local strategy.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{logger: logger}
}

// Name implements Strategy.
func (l *Local) Name() artifact.Version { return artifact.VersionLocal }

// Apply implements Strategy. The result may equal the input when nothing in
// the script matches a known pattern.
func (l *Local) Apply(ctx context.Context, in Input) (*Candidate, error) {
	s, err := parseScript(ctx, []byte(in.Source))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCandidate, err)
	}
	defer s.Close()

	edits := widenNavigation(s)

	if report.IsSelectorFailure(in.ErrorSummary) {
		var targets map[string]bool
		if sel, ok := report.SelectorFromError(in.ErrorSummary); ok {
			targets = map[string]bool{sel: true}
		}
		edits = append(edits, rewriteSelectors(s, targets)...)
	}

	out, applied := rewrite(ctx, s, edits)
	if applied < len(edits) {
		l.logger.Debug("Local repair skipped edits", "planned", len(edits), "applied", applied)
	}

	return &Candidate{Source: Finalize(out), Edits: applied}, nil
}
