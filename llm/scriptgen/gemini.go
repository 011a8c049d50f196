package scriptgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/cadflow/internal/tlsutil"
	"github.com/BaSui01/cadflow/script"
)

// GeminiGenerator calls the Gemini generateContent REST API.
type GeminiGenerator struct {
	cfg    ClientConfig
	client *http.Client
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(cfg ClientConfig) *GeminiGenerator {
	cfg = withDefaults(cfg, DefaultGeminiConfig())
	return &GeminiGenerator{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (g *GeminiGenerator) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// Generate sends one generateContent request and returns the cleaned script.
func (g *GeminiGenerator) Generate(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: render(g.cfg.Language, req)}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(g.cfg.BaseURL, "/"), g.cfg.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", g.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err, g.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp.Body), g.Name())
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, classifyTransport(ctx, err, g.Name())
		}
		return nil, malformed(g.Name(), "undecodable response", err)
	}
	if len(out.Candidates) == 0 {
		return nil, malformed(g.Name(), "no candidates", nil)
	}
	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return finalize(g.Name(), sb.String())
}
