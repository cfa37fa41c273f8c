// Package model provides capability-based model selection for script
// generation and repair. Callers ask for a capability (generation, healing)
// and the registry resolves it to configured endpoints with a fallback chain.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityGeneration writes a test script from a test case description.
	CapabilityGeneration Capability = "generation"

	// CapabilityHealing rewrites a failing script from its error and screenshot.
	CapabilityHealing Capability = "healing"

	// CapabilityFast is for quick responses, simple tasks.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityGeneration, CapabilityHealing, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
