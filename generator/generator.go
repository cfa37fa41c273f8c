// Package generator turns model responses into runnable test scripts.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/semheal/llm"
	"github.com/c360studio/semheal/model"
)

// ErrEmptyResponse is returned when a response holds no usable code.
var ErrEmptyResponse = errors.New("model returned no code")

// Completer is the LLM surface the generator needs. *llm.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Generator asks a model for a script and extracts the code from its answer.
type Generator struct {
	client      Completer
	capability  model.Capability
	temperature *float64
	maxTokens   int
	logger      *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithTemperature fixes the sampling temperature.
func WithTemperature(t float64) Option {
	return func(g *Generator) {
		g.temperature = &t
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a generator resolving models by capability.
func New(client Completer, capability model.Capability, opts ...Option) *Generator {
	g := &Generator{
		client:     client,
		capability: capability,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends prompt, with image attached when non-nil, and returns the
// extracted script source.
func (g *Generator) Generate(ctx context.Context, prompt string, image *llm.Image) (string, error) {
	msg := llm.Message{Role: "user", Content: prompt}
	if image != nil {
		msg.Images = []llm.Image{*image}
	}

	resp, err := g.client.Complete(ctx, llm.Request{
		Capability:  g.capability.String(),
		Messages:    []llm.Message{msg},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate script (%s): %w", g.capability, err)
	}

	code, err := ExtractCode(resp.Content)
	if err != nil {
		g.logger.Warn("Model response had no code",
			"capability", g.capability,
			"model", resp.Model,
			"request_id", resp.RequestID,
			"finish_reason", resp.FinishReason)
		return "", err
	}

	g.logger.Debug("Script generated",
		"capability", g.capability,
		"model", resp.Model,
		"request_id", resp.RequestID,
		"bytes", len(code),
		"tokens", resp.Usage.TotalTokens)
	return code, nil
}
