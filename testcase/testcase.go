// Package testcase defines the natural-language test case records a batch runs
// and loads them from JSON files produced by the ingestion tooling.
package testcase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TestCase is one natural-language test case. It is immutable once loaded.
type TestCase struct {
	ID           string   `json:"TestCaseID"`
	Title        string   `json:"Title,omitempty"`
	Description  string   `json:"Description,omitempty"`
	Prerequisite string   `json:"Prerequisite,omitempty"`
	TestData     []string `json:"TestData,omitempty"`
	Steps        []Step   `json:"Steps,omitempty"`
	Summary      string   `json:"Summary,omitempty"`
}

// Step is a single action of a test case with its expected result.
type Step struct {
	Number         int      `json:"StepNo"`
	Action         string   `json:"Action"`
	ExpectedResult string   `json:"ExpectedResult,omitempty"`
	TestData       []string `json:"TestData,omitempty"`
}

// UnmarshalJSON accepts the spreadsheet exporter's variants: "Step" as an alias
// for "Action" and step numbers encoded as strings.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw struct {
		StepNo         json.RawMessage `json:"StepNo"`
		Action         string          `json:"Action"`
		Step           string          `json:"Step"`
		ExpectedResult string          `json:"ExpectedResult"`
		TestData       []string        `json:"TestData"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Action = raw.Action
	if s.Action == "" {
		s.Action = raw.Step
	}
	s.ExpectedResult = raw.ExpectedResult
	s.TestData = raw.TestData
	s.Number = 0

	if len(raw.StepNo) > 0 && string(raw.StepNo) != "null" {
		var n int
		if err := json.Unmarshal(raw.StepNo, &n); err == nil {
			s.Number = n
		} else {
			var str string
			if err := json.Unmarshal(raw.StepNo, &str); err != nil {
				return fmt.Errorf("StepNo: %w", err)
			}
			if str = strings.TrimSpace(str); str != "" {
				n, err := strconv.Atoi(strings.TrimSuffix(str, "."))
				if err != nil {
					return fmt.Errorf("StepNo %q is not a number", str)
				}
				s.Number = n
			}
		}
	}
	return nil
}

// Label returns the ID, or a positional fallback when the record has none.
func (tc TestCase) Label(index int) string {
	if strings.TrimSpace(tc.ID) != "" {
		return tc.ID
	}
	return fmt.Sprintf("TC_%d", index+1)
}

// DescriptionOrDefault returns the description used in progress events.
func (tc TestCase) DescriptionOrDefault() string {
	if strings.TrimSpace(tc.Description) != "" {
		return tc.Description
	}
	return "No description"
}
