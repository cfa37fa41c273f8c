package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/semheal/artifact"
	"github.com/c360studio/semheal/llm"
	"github.com/c360studio/semheal/prompts"
)

// maxScreenshotBytes bounds the evidence attached to a repair request.
const maxScreenshotBytes = 5 << 20

// Generator produces script source from a prompt and an optional image.
type Generator interface {
	Generate(ctx context.Context, prompt string, image *llm.Image) (string, error)
}

// Model asks the script generator for a full replacement, sending the
// failing source, the error and the failure screenshot.
type Model struct {
	generator Generator
	logger    *slog.Logger
}

// NewModel creates the model strategy.
func NewModel(generator Generator, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{generator: generator, logger: logger}
}

// Name implements Strategy.
func (m *Model) Name() artifact.Version { return artifact.VersionModel }

// Apply implements Strategy. The generator's candidate is returned verbatim
// apart from the shared import check.
func (m *Model) Apply(ctx context.Context, in Input) (*Candidate, error) {
	image := m.loadScreenshot(in.ArtifactPath)
	prompt := prompts.Repair(in.Source, in.ErrorSummary, image != nil)

	code, err := m.generator.Generate(ctx, prompt, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCandidate, err)
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrNoCandidate
	}

	return &Candidate{
		Source:         Finalize(code),
		Prompt:         prompt,
		ScreenshotUsed: image != nil,
	}, nil
}

func (m *Model) loadScreenshot(path string) *llm.Image {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > maxScreenshotBytes {
		m.logger.Debug("Screenshot not attached", "path", path, "error", err)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		m.logger.Debug("Screenshot not readable", "path", path, "error", err)
		return nil
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		m.logger.Debug("Screenshot is not an image", "path", path, "media_type", mediaType)
		return nil
	}
	return &llm.Image{MediaType: mediaType, Data: data}
}
