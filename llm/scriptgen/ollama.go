package scriptgen

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/BaSui01/cadflow/internal/tlsutil"
	"github.com/BaSui01/cadflow/script"
)

// OllamaGenerator calls a local Ollama daemon through its api client.
type OllamaGenerator struct {
	cfg    ClientConfig
	client *api.Client
}

// NewOllamaGenerator creates an Ollama-backed generator.
func NewOllamaGenerator(cfg ClientConfig) (*OllamaGenerator, error) {
	cfg = withDefaults(cfg, DefaultOllamaConfig())
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	return &OllamaGenerator{
		cfg:    cfg,
		client: api.NewClient(base, tlsutil.SecureHTTPClient(cfg.Timeout)),
	}, nil
}

func (g *OllamaGenerator) Name() string { return "ollama" }

// Generate runs a non-streaming generate call.
func (g *OllamaGenerator) Generate(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	stream := false
	var sb strings.Builder
	err := g.client.Generate(ctx, &api.GenerateRequest{
		Model:  g.cfg.Model,
		Prompt: render(g.cfg.Language, req),
		Stream: &stream,
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		var se api.StatusError
		if errors.As(err, &se) {
			msg := se.ErrorMessage
			if msg == "" {
				msg = se.Status
			}
			return nil, classifyStatus(se.StatusCode, msg, g.Name())
		}
		return nil, classifyTransport(ctx, err, g.Name())
	}
	return finalize(g.Name(), sb.String())
}
