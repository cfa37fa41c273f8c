// Package config provides configuration loading and management for semheal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semheal/llm"
	"github.com/c360studio/semheal/model"
)

// Config represents the complete semheal configuration
type Config struct {
	// Models overrides or extends the built-in model registry.
	Models   *model.RegistryConfig `yaml:"models,omitempty"`
	LLM      LLMConfig             `yaml:"llm"`
	Runner   RunnerConfig          `yaml:"runner"`
	Batch    BatchConfig           `yaml:"batch"`
	Progress ProgressConfig        `yaml:"progress"`
	Prompt   PromptConfig          `yaml:"prompt"`
	Metrics  MetricsConfig         `yaml:"metrics"`
}

// LLMConfig configures generation requests
type LLMConfig struct {
	// Temperature controls randomness (0.0-2.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps completion length (0 = endpoint default)
	MaxTokens int `yaml:"max_tokens"`
	// Retry configures per-endpoint retries
	Retry llm.RetryConfig `yaml:"retry"`
	// Health configures the endpoint circuit breaker
	Health model.HealthConfig `yaml:"health"`
}

// RunnerConfig configures test execution
type RunnerConfig struct {
	// ProjectDir is the Playwright project root (default: current directory)
	ProjectDir string `yaml:"project_dir"`
	// TestsDir receives generated scripts, relative to ProjectDir
	TestsDir string `yaml:"tests_dir"`
	// Command runs one script; {file} is replaced by its relative path
	Command string `yaml:"command"`
	// ReportFile receives the JSON run report, relative to ProjectDir
	ReportFile string `yaml:"report_file"`
	// Timeout bounds one test execution
	Timeout time.Duration `yaml:"timeout"`
}

// BatchConfig configures test case discovery and stopping
type BatchConfig struct {
	// TestcasesDir holds one JSON file per test case
	TestcasesDir string `yaml:"testcases_dir"`
	// TestcasesFile is the combined JSON array used when TestcasesDir is empty
	TestcasesFile string `yaml:"testcases_file"`
	// StopFile is the sentinel that stops a running batch
	StopFile string `yaml:"stop_file"`
}

// ProgressConfig configures where progress events go
type ProgressConfig struct {
	// NATSURL additionally publishes events to NATS when set
	NATSURL string `yaml:"nats_url"`
	// NATSSubject is the subject events are published on
	NATSSubject string `yaml:"nats_subject"`
}

// PromptConfig configures generation prompts
type PromptConfig struct {
	// PageContext embeds the start page's content in generation prompts
	PageContext bool `yaml:"page_context"`
	// Timeout bounds the start page fetch
	Timeout time.Duration `yaml:"timeout"`
	// MaxChars caps the embedded page content
	MaxChars int `yaml:"max_chars"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr serves /metrics when set (e.g. ":9090")
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Temperature: 0.2,
			Retry:       llm.DefaultRetryConfig(),
			Health:      model.DefaultHealthConfig(),
		},
		Runner: RunnerConfig{
			ProjectDir: "", // Current directory
			TestsDir:   "tests",
			Command:    "npx playwright test {file} --reporter=json",
			ReportFile: "playwright-output.json",
			Timeout:    60 * time.Second,
		},
		Batch: BatchConfig{
			TestcasesDir:  "testcases",
			TestcasesFile: "testcases.json",
			StopFile:      "stop.txt",
		},
		Progress: ProgressConfig{
			NATSSubject: "semheal.progress",
		},
		Prompt: PromptConfig{
			PageContext: false,
			Timeout:     10 * time.Second,
			MaxChars:    4000,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be at least 1")
	}
	if c.Runner.TestsDir == "" {
		return fmt.Errorf("runner.tests_dir is required")
	}
	if c.Runner.Command == "" {
		return fmt.Errorf("runner.command is required")
	}
	if c.Runner.Timeout <= 0 {
		return fmt.Errorf("runner.timeout must be positive")
	}
	if c.Batch.StopFile == "" {
		return fmt.Errorf("batch.stop_file is required")
	}
	if c.Progress.NATSURL != "" && c.Progress.NATSSubject == "" {
		return fmt.Errorf("progress.nats_subject is required when progress.nats_url is set")
	}
	if c.Prompt.MaxChars < 0 {
		return fmt.Errorf("prompt.max_chars must not be negative")
	}
	if missing := c.Registry().Validate(); len(missing) > 0 {
		return fmt.Errorf("models reference undefined endpoints: %v", missing)
	}
	return nil
}

// Registry builds the model registry: built-in defaults overlaid with the
// models section.
func (c *Config) Registry() *model.Registry {
	r := model.NewDefaultRegistry()
	r.MergeFromConfig(c.Models)
	r.SetHealthConfig(c.LLM.Health)
	return r
}

// ProjectDir returns the runner's project directory, defaulting to the
// current directory.
func (c *Config) ProjectDir() string {
	if c.Runner.ProjectDir != "" {
		return c.Runner.ProjectDir
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// Resolve returns path relative to the project directory unless absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ProjectDir(), path)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// loadOverlay reads a file as an overlay: only the keys it sets are non-zero.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Models
	if other.Models != nil {
		if c.Models == nil {
			c.Models = &model.RegistryConfig{}
		}
		mergeRegistry(c.Models, other.Models)
	}

	// LLM
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}
	if other.LLM.Retry.MaxAttempts != 0 {
		c.LLM.Retry.MaxAttempts = other.LLM.Retry.MaxAttempts
	}
	if other.LLM.Retry.BackoffBase != 0 {
		c.LLM.Retry.BackoffBase = other.LLM.Retry.BackoffBase
	}
	if other.LLM.Retry.BackoffMultiplier != 0 {
		c.LLM.Retry.BackoffMultiplier = other.LLM.Retry.BackoffMultiplier
	}
	if other.LLM.Retry.MaxBackoff != 0 {
		c.LLM.Retry.MaxBackoff = other.LLM.Retry.MaxBackoff
	}
	if other.LLM.Health.FailureThreshold != 0 {
		c.LLM.Health.FailureThreshold = other.LLM.Health.FailureThreshold
	}
	if other.LLM.Health.RecoveryTimeout != 0 {
		c.LLM.Health.RecoveryTimeout = other.LLM.Health.RecoveryTimeout
	}

	// Runner
	if other.Runner.ProjectDir != "" {
		c.Runner.ProjectDir = other.Runner.ProjectDir
	}
	if other.Runner.TestsDir != "" {
		c.Runner.TestsDir = other.Runner.TestsDir
	}
	if other.Runner.Command != "" {
		c.Runner.Command = other.Runner.Command
	}
	if other.Runner.ReportFile != "" {
		c.Runner.ReportFile = other.Runner.ReportFile
	}
	if other.Runner.Timeout != 0 {
		c.Runner.Timeout = other.Runner.Timeout
	}

	// Batch
	if other.Batch.TestcasesDir != "" {
		c.Batch.TestcasesDir = other.Batch.TestcasesDir
	}
	if other.Batch.TestcasesFile != "" {
		c.Batch.TestcasesFile = other.Batch.TestcasesFile
	}
	if other.Batch.StopFile != "" {
		c.Batch.StopFile = other.Batch.StopFile
	}

	// Progress
	if other.Progress.NATSURL != "" {
		c.Progress.NATSURL = other.Progress.NATSURL
	}
	if other.Progress.NATSSubject != "" {
		c.Progress.NATSSubject = other.Progress.NATSSubject
	}

	// Prompt
	if other.Prompt.PageContext {
		c.Prompt.PageContext = true
	}
	if other.Prompt.Timeout != 0 {
		c.Prompt.Timeout = other.Prompt.Timeout
	}
	if other.Prompt.MaxChars != 0 {
		c.Prompt.MaxChars = other.Prompt.MaxChars
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
}

func mergeRegistry(dst, src *model.RegistryConfig) {
	if len(src.Capabilities) > 0 && dst.Capabilities == nil {
		dst.Capabilities = make(map[string]*model.CapabilityConfig, len(src.Capabilities))
	}
	for k, v := range src.Capabilities {
		dst.Capabilities[k] = v
	}
	if len(src.Endpoints) > 0 && dst.Endpoints == nil {
		dst.Endpoints = make(map[string]*model.EndpointConfig, len(src.Endpoints))
	}
	for k, v := range src.Endpoints {
		dst.Endpoints[k] = v
	}
	if src.Defaults != nil && src.Defaults.Model != "" {
		d := *src.Defaults
		dst.Defaults = &d
	}
}
