package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/cadflow/internal/tlsutil"
	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/types"
)

const maxMeshBytes = mesh.MinSize + mesh.TriangleSize*mesh.MaxTriangles

// HTTPKernel posts scripts to a geometry service that answers with binary STL.
type HTTPKernel struct {
	cfg    Config
	client *http.Client
}

// NewHTTPKernel creates an HTTP kernel client.
func NewHTTPKernel(cfg Config) *HTTPKernel {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &HTTPKernel{cfg: cfg, client: tlsutil.SecureHTTPClient(cfg.Timeout)}
}

func (k *HTTPKernel) Name() string { return "http" }

type executeRequest struct {
	Code string `json:"code"`
}

// Execute sends source and decodes the returned mesh.
func (k *HTTPKernel) Execute(ctx context.Context, source string) ([]mesh.Triangle, error) {
	ctx, cancel := context.WithTimeout(ctx, k.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(executeRequest{Code: source})
	if err != nil {
		return nil, fmt.Errorf("marshal kernel request: %w", err)
	}
	endpoint := strings.TrimRight(k.cfg.BaseURL, "/") + k.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", mesh.ContentType)
	if fp, ok := types.Fingerprint(ctx); ok {
		req.Header.Set("X-Mesh-Fingerprint", fp)
	}
	if id, ok := types.RequestID(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, classifyRun(ctx, err, k.Name(), "kernel unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		diag, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, Rejected(k.Name(), fmt.Sprintf("kernel returned %d: %s", resp.StatusCode, strings.TrimSpace(string(diag))), nil).
			WithRetryable(resp.StatusCode >= 500)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMeshBytes+1))
	if err != nil {
		return nil, classifyRun(ctx, err, k.Name(), "reading kernel output failed")
	}
	if len(body) > maxMeshBytes {
		return nil, types.NewError(types.ErrConversionFailed, "kernel output exceeds mesh size limit").
			WithStage(types.StageConvert).
			WithProvider(k.Name())
	}
	return decodeOutput(k.Name(), body)
}
