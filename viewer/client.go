package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/api"
	"github.com/BaSui01/cadflow/internal/tlsutil"
	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/types"
)

// =============================================================================
// ⚠️ 错误分类
// =============================================================================

// ErrorKind is what the user is told went wrong.
type ErrorKind string

const (
	KindNetworkUnreachable ErrorKind = "network_unreachable"
	KindServerError        ErrorKind = "server_error"
	KindNotFound           ErrorKind = "not_found"
	KindForbidden          ErrorKind = "forbidden"
	KindDecode             ErrorKind = "decode_error"
	KindUnknown            ErrorKind = "unknown"
)

// ClientError is a classified failure with one human-readable message.
type ClientError struct {
	Kind   ErrorKind
	Status int
	// Code and Stage come from the server envelope when there was one.
	Code  types.ErrorCode
	Stage types.Stage
	Raw   string
	Cause error
}

func (e *ClientError) Error() string {
	return e.Message()
}

func (e *ClientError) Unwrap() error { return e.Cause }

// Message renders the error for display.
func (e *ClientError) Message() string {
	switch e.Kind {
	case KindNetworkUnreachable:
		if e.Code == types.ErrTimeout {
			return "The CAD backend did not answer in time."
		}
		return "Cannot reach the CAD backend. Check that it is running."
	case KindServerError:
		switch e.Stage {
		case types.StageGenerate:
			return "Script generation failed on the server. Please try again."
		case types.StageConvert:
			return "The server could not turn the script into a mesh."
		}
		return "The server failed to build the model. Please try again."
	case KindNotFound:
		return "No model is available yet."
	case KindForbidden:
		return "The CAD backend refused the request."
	case KindDecode:
		return "The downloaded model is corrupt and cannot be displayed."
	default:
		if e.Raw != "" {
			return "Unexpected error: " + e.Raw
		}
		return "Unexpected error."
	}
}

// ClassifyStatus maps an HTTP status to a kind.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusForbidden || status == http.StatusUnauthorized:
		return KindForbidden
	case status >= 500:
		return KindServerError
	default:
		return KindUnknown
	}
}

// AsClientError extracts a ClientError from err.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// =============================================================================
// 🌐 客户端
// =============================================================================

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultClientConfig targets a local backend.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://127.0.0.1:8000",
		Timeout: 3 * time.Minute,
	}
}

// Model is a fetched mesh plus the metadata the server sent with it.
type Model struct {
	Fingerprint   string
	TriangleCount int
	Bytes         []byte
}

// Client talks to the CADFlow HTTP API.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client. Zero fields take DefaultClientConfig values.
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	c.logger = c.logger.With(zap.String("component", "viewer_client"))
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// EventsURL returns the websocket URL of the publish event stream.
func (c *Client) EventsURL() string {
	u := c.cfg.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/artifacts/events"
}

// Ping returns the liveness message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out api.PingResponse
	if err := c.doJSON(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// GenerateModels submits a free-text prompt.
func (c *Client) GenerateModels(ctx context.Context, prompt string) (*api.GenerateModelsResponse, error) {
	var out api.GenerateModelsResponse
	if err := c.doJSON(ctx, http.MethodPost, "/generate-models", api.GenerateModelsRequest{Prompt: prompt}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Convert submits a script directly and returns the mesh.
func (c *Client) Convert(ctx context.Context, code string) (*Model, error) {
	body, err := json.Marshal(api.ConvertRequest{Code: code})
	if err != nil {
		return nil, fmt.Errorf("marshal convert request: %w", err)
	}
	return c.doModel(ctx, http.MethodPost, "/convert", body)
}

// FetchModel downloads the artifact for key; empty means latest.
func (c *Client) FetchModel(ctx context.Context, key string) (*Model, error) {
	path := "/render-model"
	if key != "" {
		path += "?key=" + url.QueryEscape(key)
	}
	return c.doModel(ctx, http.MethodGet, path, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &ClientError{Kind: KindUnknown, Status: resp.StatusCode, Raw: "invalid response body", Cause: err}
	}
	if !env.Success {
		return &ClientError{Kind: KindUnknown, Status: resp.StatusCode, Raw: "request was not successful"}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &ClientError{Kind: KindUnknown, Status: resp.StatusCode, Raw: "invalid response data", Cause: err}
		}
	}
	return nil
}

func (c *Client) doModel(ctx context.Context, method, path string, body []byte) (*Model, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	m := &Model{
		Fingerprint: resp.Header.Get(api.HeaderFingerprint),
		Bytes:       data,
	}
	if n, err := strconv.Atoi(resp.Header.Get(api.HeaderTriangleCount)); err == nil {
		m.TriangleCount = n
	}
	return m, nil
}

// do sends the request and turns transport failures and non-2xx responses
// into ClientErrors. The caller closes the body of a returned response.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return nil, &ClientError{Kind: KindUnknown, Raw: err.Error(), Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, c.statusError(resp)
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled {
		return err
	}
	ce := &ClientError{Kind: KindNetworkUnreachable, Code: types.ErrNetworkUnreachable, Raw: err.Error(), Cause: err}
	var te interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &te) && te.Timeout()) {
		ce.Code = types.ErrTimeout
	}
	c.logger.Debug("request failed", zap.String("kind", string(ce.Kind)), zap.Error(err))
	return ce
}

func (c *Client) statusError(resp *http.Response) *ClientError {
	ce := &ClientError{Kind: ClassifyStatus(resp.StatusCode), Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		ce.Code = types.ErrorCode(env.Error.Code)
		ce.Stage = types.Stage(env.Error.Stage)
		ce.Raw = env.Error.Message
	} else {
		ce.Raw = strings.TrimSpace(string(raw))
	}
	if ce.Raw == "" {
		ce.Raw = resp.Status
	}
	c.logger.Debug("request rejected",
		zap.Int("status", resp.StatusCode),
		zap.String("kind", string(ce.Kind)),
		zap.String("code", string(ce.Code)),
	)
	return ce
}

// decodeModel parses m into triangles; failures are KindDecode.
func decodeModel(m *Model) ([]mesh.Triangle, error) {
	tris, err := mesh.Decode(m.Bytes)
	if err != nil {
		return nil, &ClientError{Kind: KindDecode, Code: types.ErrDecodeError, Stage: types.StageDecode, Raw: err.Error(), Cause: err}
	}
	if len(tris) == 0 {
		return nil, &ClientError{Kind: KindDecode, Code: types.ErrDecodeError, Stage: types.StageDecode, Raw: "mesh has no triangles"}
	}
	return tris, nil
}
