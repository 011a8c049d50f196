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

// RemoteGenerator delegates to another service speaking
// POST /generate-models {prompt} -> {script}.
type RemoteGenerator struct {
	cfg    ClientConfig
	client *http.Client
}

// NewRemoteGenerator creates a generator backed by a remote HTTP service.
func NewRemoteGenerator(cfg ClientConfig) *RemoteGenerator {
	cfg = withDefaults(cfg, DefaultRemoteConfig())
	return &RemoteGenerator{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
	}
}

func (g *RemoteGenerator) Name() string { return "remote" }

type remoteRequest struct {
	Prompt string `json:"prompt"`
}

// remoteResponse accepts both a bare {script} body and the {data: {script}}
// envelope served by this repository's own HTTP layer.
type remoteResponse struct {
	Script string `json:"script"`
	Data   *struct {
		Script string `json:"script"`
	} `json:"data"`
}

// Generate posts the raw prompt; the remote service owns prompt rendering.
func (g *RemoteGenerator) Generate(ctx context.Context, req script.PromptRequest) (*script.GeneratedScript, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(remoteRequest{Prompt: req.Text})
	if err != nil {
		return nil, fmt.Errorf("marshal remote request: %w", err)
	}
	endpoint := strings.TrimRight(g.cfg.BaseURL, "/") + "/generate-models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ctx, err, g.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, classifyStatus(resp.StatusCode, readErrorMessage(resp.Body), g.Name())
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() != nil {
			return nil, classifyTransport(ctx, err, g.Name())
		}
		return nil, malformed(g.Name(), "undecodable response", err)
	}
	raw := out.Script
	if raw == "" && out.Data != nil {
		raw = out.Data.Script
	}
	return finalize(g.Name(), raw)
}
