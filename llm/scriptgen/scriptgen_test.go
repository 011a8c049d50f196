package scriptgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/types"
)

func geminiServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func geminiBody(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": text}}},
		}},
	})
	return string(b)
}

func TestGeminiGenerator_Success(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Contents[0].Parts[0].Text
		_, _ = w.Write([]byte(geminiBody("```openscad\ncube(20);\n```")))
	}))
	defer srv.Close()

	g := NewGeminiGenerator(ClientConfig{BaseURL: srv.URL, APIKey: "secret", Model: "test-model"})
	out, err := g.Generate(context.Background(), script.PromptRequest{Text: "a 20mm cube"})
	require.NoError(t, err)
	assert.Equal(t, "cube(20);", out.Source)
	assert.Equal(t, script.Fingerprint("cube(20);"), out.Fingerprint)
	assert.Contains(t, gotPrompt, "a 20mm cube")
	assert.Contains(t, gotPrompt, "OpenSCAD")
}

func TestGeminiGenerator_RenderedPromptSentVerbatim(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Contents[0].Parts[0].Text
		_, _ = w.Write([]byte(geminiBody("Dim x")))
	}))
	defer srv.Close()

	prompt := script.ParametricPrompt(script.CATScript, "20", "5")
	g := NewGeminiGenerator(ClientConfig{BaseURL: srv.URL, Model: "m"})
	_, err := g.Generate(context.Background(), script.PromptRequest{Text: prompt, Rendered: true})
	require.NoError(t, err)
	assert.Equal(t, prompt, gotPrompt)
}

func TestGeminiGenerator_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   types.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, types.ErrForbidden},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"denied"}}`, types.ErrForbidden},
		{"not found", http.StatusNotFound, `{"error":{"message":"no model"}}`, types.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, `{}`, types.ErrRateLimited},
		{"server error", http.StatusInternalServerError, `oops`, types.ErrUpstreamError},
		{"bad gateway", http.StatusBadGateway, ``, types.ErrUpstreamError},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"bad"}}`, types.ErrGenerationFailed},
		{"empty candidates", http.StatusOK, `{"candidates":[]}`, types.ErrMalformed},
		{"empty text", http.StatusOK, geminiBody("```\n```"), types.ErrMalformed},
		{"not json", http.StatusOK, `<html>`, types.ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := geminiServer(t, tt.status, tt.body)
			g := NewGeminiGenerator(ClientConfig{BaseURL: srv.URL, APIKey: "secret", Model: "test-model"})

			_, err := g.Generate(context.Background(), script.PromptRequest{Text: "cube"})
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, types.StageGenerate, types.GetStage(err))
		})
	}
}

func TestGeminiGenerator_ErrorMessageCarried(t *testing.T) {
	srv := geminiServer(t, http.StatusForbidden, `{"error":{"message":"API key not valid"}}`)
	g := NewGeminiGenerator(ClientConfig{BaseURL: srv.URL, APIKey: "secret", Model: "test-model"})

	_, err := g.Generate(context.Background(), script.PromptRequest{Text: "cube"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "gemini", e.Provider)
	assert.Zero(t, e.HTTPStatus)
}

func TestGenerators_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	gens := []Generator{
		NewGeminiGenerator(ClientConfig{BaseURL: srv.URL, Model: "m", Timeout: 50 * time.Millisecond}),
		NewRemoteGenerator(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}),
	}
	for _, g := range gens {
		t.Run(g.Name(), func(t *testing.T) {
			_, err := g.Generate(context.Background(), script.PromptRequest{Text: "cube"})
			require.Error(t, err)
			assert.Equal(t, types.ErrTimeout, types.GetErrorCode(err))
		})
	}
}

func TestGenerators_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewRemoteGenerator(ClientConfig{BaseURL: url, Timeout: time.Second})
	_, err := g.Generate(context.Background(), script.PromptRequest{Text: "cube"})
	require.Error(t, err)
	assert.Equal(t, types.ErrUnreachable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestGenerators_CallerCancellationPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	g := NewRemoteGenerator(ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	_, err := g.Generate(ctx, script.PromptRequest{Text: "cube"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.ErrorCode(""), types.GetErrorCode(err))
}

func TestGenerators_EmptyPromptRejected(t *testing.T) {
	g := NewRemoteGenerator(ClientConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := g.Generate(context.Background(), script.PromptRequest{Text: " "})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Equal(t, types.StageGenerate, types.GetStage(err))
}

func TestRemoteGenerator_AcceptsBothBodies(t *testing.T) {
	bodies := map[string]string{
		"bare":     `{"script":"cube(1);"}`,
		"envelope": `{"success":true,"data":{"script":"cube(1);","fingerprint":"x"}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/generate-models", r.URL.Path)
				var req remoteRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "a cube", req.Prompt)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			out, err := NewRemoteGenerator(ClientConfig{BaseURL: srv.URL}).
				Generate(context.Background(), script.PromptRequest{Text: "a cube"})
			require.NoError(t, err)
			assert.Equal(t, "cube(1);", out.Source)
		})
	}
}

func TestOllamaGenerator(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/generate", r.URL.Path)
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "coder", req["model"])
			assert.Equal(t, false, req["stream"])
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"model":"coder","response":"` + "```scad\\ncube(20);\\n```" + `","done":true}` + "\n"))
		}))
		defer srv.Close()

		g, err := NewOllamaGenerator(ClientConfig{BaseURL: srv.URL, Model: "coder"})
		require.NoError(t, err)
		out, err := g.Generate(context.Background(), script.PromptRequest{Text: "a 20mm cube"})
		require.NoError(t, err)
		assert.Equal(t, "cube(20);", out.Source)
	})

	t.Run("model missing", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"model \"coder\" not found"}` + "\n"))
		}))
		defer srv.Close()

		g, err := NewOllamaGenerator(ClientConfig{BaseURL: srv.URL, Model: "coder"})
		require.NoError(t, err)
		_, err = g.Generate(context.Background(), script.PromptRequest{Text: "cube"})
		require.Error(t, err)
		assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"runner crashed"}` + "\n"))
		}))
		defer srv.Close()

		g, err := NewOllamaGenerator(ClientConfig{BaseURL: srv.URL, Model: "coder"})
		require.NoError(t, err)
		_, err = g.Generate(context.Background(), script.PromptRequest{Text: "cube"})
		assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	})
}

func TestNew(t *testing.T) {
	for _, backend := range []string{"gemini", "Ollama", "remote"} {
		g, err := New(backend, ClientConfig{})
		require.NoError(t, err, backend)
		assert.NotEmpty(t, g.Name())
	}
	_, err := New("unknown", ClientConfig{})
	assert.Error(t, err)
}

func TestReadErrorMessage(t *testing.T) {
	tests := map[string]string{
		`{"error":{"message":"nested"}}`: "nested",
		`{"error":"flat"}`:               "flat",
		`{"detail":"fastapi"}`:           "fastapi",
		"  plain text  ":                 "plain text",
	}
	for body, want := range tests {
		assert.Equal(t, want, readErrorMessage(stringsReader(body)))
	}
}

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }
