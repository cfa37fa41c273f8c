// Package progress publishes a session's observable milestones as an ordered
// stream of self-describing JSON records.
package progress

import (
	"encoding/json"
	"time"
)

// Kind names an event in the progress stream.
type Kind string

// Event kinds.
const (
	KindScriptGenerationStarted Kind = "script_generation_started"
	KindFileCreated             Kind = "file_created"
	KindCodeGenerated           Kind = "code_generated"
	KindTestExecutionStarted    Kind = "test_execution_started"
	KindTestPassed              Kind = "test_passed"
	KindTestFailed              Kind = "test_failed"
	KindSelfHealingStarted      Kind = "self_healing_started"
	KindLocalFixApplied         Kind = "local_fix_applied"
	KindModelFixApplied         Kind = "model_fix_applied"
	KindAdvancedFixApplied      Kind = "advanced_fix_applied"
	KindFullHealingPrompt       Kind = "full_healing_prompt"
	KindTestFinalFailure        Kind = "test_final_failure"
	KindTestAborted             Kind = "test_aborted"
	KindError                   Kind = "error"
	KindInfo                    Kind = "info"
	KindAllTestsCompleted       Kind = "all_tests_completed"
)

// Common field names carried by session events.
const (
	FieldLiveMessage    = "liveMessage"
	FieldStatus         = "status"
	FieldProgress       = "progress"
	FieldDescription    = "description"
	FieldAttempt        = "attempt"
	FieldVersion        = "version"
	FieldHealingType    = "healingType"
	FieldError          = "error"
	FieldCategory       = "category"
	FieldScreenshotPath = "screenshotPath"
	FieldScreenshotUsed = "screenshotUsed"
	FieldFilePath       = "filePath"
	FieldCode           = "code"
	FieldPrompt         = "prompt"
	FieldMessage        = "message"
)

// timestampLayout is ISO-8601 UTC with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one record in the progress stream.
type Event struct {
	Kind       Kind
	TestCaseID string
	Fields     map[string]any
	Timestamp  time.Time
	RunID      string
}

// New creates an event with the given kind and case id.
func New(kind Kind, testCaseID string) Event {
	return Event{Kind: kind, TestCaseID: testCaseID, Fields: map[string]any{}}
}

// With returns the event with key set to value.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Field returns a field value, or nil.
func (e Event) Field(key string) any {
	return e.Fields[key]
}

// MarshalJSON flattens Fields alongside the reserved keys. Reserved keys win
// over fields of the same name.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+4)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["event"] = string(e.Kind)
	if e.TestCaseID != "" {
		out["testCaseID"] = e.TestCaseID
	} else {
		delete(out, "testCaseID")
	}
	if !e.Timestamp.IsZero() {
		out["timestamp"] = e.Timestamp.UTC().Format(timestampLayout)
	}
	if e.RunID != "" {
		out["runID"] = e.RunID
	}
	return json.Marshal(out)
}
