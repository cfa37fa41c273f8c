package healing

import (
	"fmt"

	"github.com/c360studio/semheal/artifact"
	"github.com/c360studio/semheal/testcase"
)

// Position locates a test case within its batch.
type Position struct {
	Index int
	Total int
}

// Progress renders the position as "i/n".
func (p Position) Progress() string {
	return fmt.Sprintf("%d/%d", p.Index+1, p.Total)
}

// session is the live state of one test case run.
type session struct {
	tc          testcase.TestCase
	id          string
	description string
	position    Position

	state   State
	attempt int
	current *artifact.ScriptArtifact
}

func newSession(tc testcase.TestCase, pos Position) *session {
	return &session{
		tc:          tc,
		id:          tc.Label(pos.Index),
		description: tc.DescriptionOrDefault(),
		position:    pos,
		state:       StateGenerating,
	}
}

func (s *session) transition(to State) error {
	next, err := s.state.Transition(to)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.state = next
	return nil
}

// Outcome is the terminal result of a session.
type Outcome struct {
	TestCaseID string
	State      State
	// Attempts is the number of executed attempts.
	Attempts int
	// Version is the version of the last persisted candidate.
	Version    artifact.Version
	ScriptPath string
	// ErrorSummary is the classified error of the last failed attempt.
	ErrorSummary string
	// Reason explains an abort.
	Reason string
}

// Passed reports whether the session ended in StatePassed.
func (o Outcome) Passed() bool {
	return o.State == StatePassed
}

func (s *session) outcome() Outcome {
	o := Outcome{TestCaseID: s.id, State: s.state, Attempts: s.attempt}
	if s.current != nil {
		o.Version = s.current.Version
		o.ScriptPath = s.current.Path
	}
	return o
}
