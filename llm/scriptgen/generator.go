package scriptgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/types"
)

// Generator turns a prompt into a parametric CAD script.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error)
}

// render turns a user prompt into the instruction sent to a model backend.
func render(lang script.Language, req script.PromptRequest) string {
	if req.Rendered {
		return req.Text
	}
	return script.Prompt(lang, req.Text)
}

// finalize strips code fences and fingerprints what is left.
func finalize(provider, raw string) (*script.GeneratedScript, error) {
	src := script.StripFences(raw)
	if src == "" {
		return nil, malformed(provider, "empty script", nil)
	}
	return script.New(src), nil
}

func validate(req script.PromptRequest) error {
	if err := req.Validate(); err != nil {
		if e, ok := types.AsError(err); ok {
			e.WithStage(types.StageGenerate)
		}
		return err
	}
	return nil
}

// New builds the generator named by backend.
func New(backend string, cfg ClientConfig) (Generator, error) {
	switch strings.ToLower(backend) {
	case "gemini":
		return NewGeminiGenerator(cfg), nil
	case "ollama":
		return NewOllamaGenerator(cfg)
	case "remote":
		return NewRemoteGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown generator backend %q", backend)
	}
}
