package healing

import (
	"time"

	"github.com/c360studio/semheal/artifact"
)

// AttemptOutcome is the result of a single attempt.
type AttemptOutcome string

// Attempt outcomes.
const (
	AttemptPassed  AttemptOutcome = "passed"
	AttemptFailed  AttemptOutcome = "failed"
	AttemptAborted AttemptOutcome = "aborted"
)

// AttemptRecord describes one executed attempt. It exists only to be
// reported; sessions do not keep a history of them.
type AttemptRecord struct {
	Attempt      int
	Version      artifact.Version
	Outcome      AttemptOutcome
	ErrorSummary string
	Category     string
	ArtifactPath string
	Duration     time.Duration
	Timestamp    time.Time
}
