package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/cadflow/api"
	"github.com/BaSui01/cadflow/internal/artifact"
	"github.com/BaSui01/cadflow/internal/dedup"
	"github.com/BaSui01/cadflow/internal/pool"
	"github.com/BaSui01/cadflow/llm/kernel"
	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/pipeline"
	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/testutil"
	"github.com/BaSui01/cadflow/testutil/fixtures"
	"github.com/BaSui01/cadflow/testutil/mocks"
	"github.com/BaSui01/cadflow/types"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func newTestPipeline(t *testing.T, gen *mocks.MockGenerator, k kernel.Kernel) *pipeline.Pipeline {
	t.Helper()
	var conv *pipeline.Converter
	if k != nil {
		p := pool.NewGoroutinePool(pool.Config{MaxWorkers: 4}, nil)
		t.Cleanup(p.Close)
		cache := dedup.New[*artifact.Artifact](dedup.DefaultConfig(), p, nil)
		conv = pipeline.NewConverter(k, cache, 5*time.Second)
	}
	artifacts := artifact.NewServer(artifact.DefaultConfig(), nil, nil)
	return pipeline.New(gen, conv, artifacts, pipeline.Config{Language: script.OpenSCAD})
}

func newModelServer(t *testing.T, p *pipeline.Pipeline) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewModelHandler(p, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response, data any) api.Envelope {
	t.Helper()
	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if data != nil && env.Success {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// =============================================================================
// 🧪 路由测试
// =============================================================================

func TestModelHandler_Ping(t *testing.T) {
	srv := newModelServer(t, newTestPipeline(t, mocks.NewMockGenerator(), nil))

	resp, err := http.Get(srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var ping api.PingResponse
	env := decodeEnvelope(t, resp, &ping)
	assert.True(t, env.Success)
	assert.Equal(t, PingMessage, ping.Message)
}

func TestModelHandler_GenerateModels_PublishesRenderableMesh(t *testing.T) {
	gen := mocks.NewMockGenerator().WithScript(fixtures.CubeScript)
	k := mocks.NewMockKernel()
	srv := newModelServer(t, newTestPipeline(t, gen, k))

	resp := postJSON(t, srv.URL+"/generate-models", `{"prompt":"a 20mm cube"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.GenerateModelsResponse
	decodeEnvelope(t, resp, &out)
	assert.Equal(t, fixtures.CubeScript, out.Script)
	assert.Equal(t, script.Fingerprint(fixtures.CubeScript), out.Fingerprint)
	assert.Equal(t, "openscad", out.Language)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, uint32(12), out.Artifact.TriangleCount)
	assert.Equal(t, mesh.ContentType, out.Artifact.ContentType)

	mresp, err := http.Get(srv.URL + "/render-model")
	require.NoError(t, err)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)
	assert.Equal(t, mesh.ContentType, mresp.Header.Get("Content-Type"))

	var buf bytes.Buffer
	_, err = buf.ReadFrom(mresp.Body)
	require.NoError(t, err)
	testutil.DecodeMesh(t, buf.Bytes(), int(out.Artifact.TriangleCount))
}

func TestModelHandler_GenerateModels_SamePromptConvertsOnce(t *testing.T) {
	release := make(chan struct{})
	k := mocks.NewMockKernel().WithBlock(release)
	srv := newModelServer(t, newTestPipeline(t, mocks.NewMockGenerator(), k))

	const n = 2
	bodies := make([][]byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(srv.URL+"/generate-models", "application/json", strings.NewReader(`{"prompt":"a 20mm cube"}`))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			var out api.GenerateModelsResponse
			var env api.Envelope
			if assert.NoError(t, json.NewDecoder(resp.Body).Decode(&env)) && assert.True(t, env.Success) {
				assert.NoError(t, json.Unmarshal(env.Data, &out))
				bodies[i], _ = json.Marshal(out.Artifact.Fingerprint)
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, k.CallCount())
	assert.Equal(t, bodies[0], bodies[1])
}

func TestModelHandler_GenerateModels_Errors(t *testing.T) {
	tests := []struct {
		name       string
		gen        *mocks.MockGenerator
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "blank prompt",
			gen:        mocks.NewMockGenerator(),
			body:       `{"prompt":"   "}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "generator unreachable",
			gen:        mocks.NewMockGenerator().WithError(types.NewError(types.ErrUnreachable, "connection refused").WithStage(types.StageGenerate)),
			body:       `{"prompt":"a cube"}`,
			wantStatus: http.StatusBadGateway,
			wantCode:   "UNREACHABLE",
		},
		{
			name:       "generator timeout",
			gen:        mocks.NewMockGenerator().WithError(types.NewError(types.ErrTimeout, "deadline").WithStage(types.StageGenerate)),
			body:       `{"prompt":"a cube"}`,
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newModelServer(t, newTestPipeline(t, tt.gen, nil))
			resp := postJSON(t, srv.URL+"/generate-models", tt.body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			env := decodeEnvelope(t, resp, nil)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestModelHandler_GenerateModels_RejectsWrongContentType(t *testing.T) {
	srv := newModelServer(t, newTestPipeline(t, mocks.NewMockGenerator(), nil))

	resp, err := http.Post(srv.URL+"/generate-models", "text/plain", strings.NewReader(`{"prompt":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestModelHandler_LegacyGenerate(t *testing.T) {
	gen := mocks.NewMockGenerator().WithScript(fixtures.FilletedCubeScript)
	srv := newModelServer(t, newTestPipeline(t, gen, nil))

	resp := postJSON(t, srv.URL+"/generate", `{"size":30,"fillet":null}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.LegacyGenerateResponse
	decodeEnvelope(t, resp, &out)
	assert.Equal(t, fixtures.FilletedCubeScript, out.Script)

	reqs := gen.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Rendered)
	assert.Contains(t, reqs[0].Text, "30")
	assert.Contains(t, reqs[0].Text, script.DefaultFillet)
}

func TestModelHandler_Convert(t *testing.T) {
	k := mocks.NewMockKernel().WithTriangles(fixtures.Tetrahedron())
	p := newTestPipeline(t, mocks.NewMockGenerator(), k)
	srv := newModelServer(t, p)

	resp := postJSON(t, srv.URL+"/convert", `{"code":"polyhedron();"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, mesh.ContentType, resp.Header.Get("Content-Type"))
	assert.Equal(t, script.Fingerprint("polyhedron();"), resp.Header.Get(api.HeaderFingerprint))
	assert.Equal(t, "4", resp.Header.Get(api.HeaderTriangleCount))

	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(buf.Len()), resp.Header.Get("Content-Length"))
	n, err := mesh.ReadTriangleCount(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	assert.NotNil(t, p.Artifacts().Latest())
}

func TestModelHandler_Convert_Errors(t *testing.T) {
	tests := []struct {
		name       string
		k          kernel.Kernel
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty code",
			k:          mocks.NewMockKernel(),
			body:       `{"code":""}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "kernel rejects script",
			k:          mocks.NewMockKernel().WithError(kernel.Rejected("mock", "syntax error line 1", nil)),
			body:       `{"code":"cube("}`,
			wantStatus: http.StatusBadGateway,
			wantCode:   "CONVERSION_FAILED",
		},
		{
			name:       "no kernel configured",
			k:          nil,
			body:       `{"code":"cube(1);"}`,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SERVICE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, mocks.NewMockGenerator(), tt.k)
			srv := newModelServer(t, p)
			resp := postJSON(t, srv.URL+"/convert", tt.body)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			env := decodeEnvelope(t, resp, nil)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			assert.Nil(t, p.Artifacts().Latest())
		})
	}
}

func TestModelHandler_RenderModel(t *testing.T) {
	p := newTestPipeline(t, mocks.NewMockGenerator(), nil)
	srv := newModelServer(t, p)

	t.Run("nothing published", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/render-model")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		env := decodeEnvelope(t, resp, nil)
		require.NotNil(t, env.Error)
		assert.Equal(t, "NOT_FOUND", env.Error.Code)
	})

	a := artifact.New(script.Fingerprint(fixtures.CubeScript), fixtures.Cube())
	require.NoError(t, p.Artifacts().Publish(t.Context(), a))

	t.Run("keyed is immutable", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/render-model?key=" + a.Fingerprint)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Cache-Control"), "immutable")
		assert.Equal(t, "12", resp.Header.Get(api.HeaderTriangleCount))
	})

	t.Run("latest is revalidated", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/render-model?key=latest")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
		assert.Equal(t, `"`+a.Fingerprint+`"`, resp.Header.Get("ETag"))
	})

	t.Run("etag match", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/render-model", nil)
		require.NoError(t, err)
		req.Header.Set("If-None-Match", `"`+a.Fingerprint+`"`)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotModified, resp.StatusCode)
	})

	t.Run("unknown key", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/render-model?key=deadbeef")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestModelHandler_MethodNotAllowed(t *testing.T) {
	srv := newModelServer(t, newTestPipeline(t, mocks.NewMockGenerator(), nil))

	resp, err := http.Get(srv.URL + "/convert")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
