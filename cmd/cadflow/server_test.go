package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/cadflow/api"
	"github.com/BaSui01/cadflow/api/handlers"
	"github.com/BaSui01/cadflow/config"
	"github.com/BaSui01/cadflow/mesh"
	"github.com/BaSui01/cadflow/script"
	"github.com/BaSui01/cadflow/testutil/fixtures"
)

// fakeServices 模拟远程脚本生成服务与 HTTP 几何内核
type fakeServices struct {
	generator   *httptest.Server
	kernel      *httptest.Server
	kernelCalls atomic.Int32
}

func newFakeServices(t *testing.T, source string) *fakeServices {
	t.Helper()
	f := &fakeServices{}
	f.generator = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"script": "```openscad\n" + source + "\n```"})
	}))
	f.kernel = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.kernelCalls.Add(1)
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.Contains(req.Code, "syntax error") {
			http.Error(w, "parse error at line 1", http.StatusUnprocessableEntity)
			return
		}
		w.Header().Set("Content-Type", mesh.ContentType)
		_, _ = w.Write(fixtures.CubeSTL())
	}))
	t.Cleanup(f.generator.Close)
	t.Cleanup(f.kernel.Close)
	return f
}

func (f *fakeServices) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Generator.Backend = "remote"
	cfg.Generator.BaseURL = f.generator.URL
	cfg.Generator.Timeout = 5 * time.Second
	cfg.Kernel.Backend = "http"
	cfg.Kernel.BaseURL = f.kernel.URL
	cfg.Kernel.Timeout = 5 * time.Second
	cfg.Server.RateLimitRPS = 0
	return cfg
}

func startTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	require.NoError(t, cfg.Validate())
	s, err := newServer(cfg, "", zap.NewNop(), zap.NewAtomicLevel(), nil, testNamespace())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.stack.close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ts := httptest.NewServer(s.Handler(ctx))
	t.Cleanup(ts.Close)
	return s, ts
}

func TestServer_GenerateThenRender(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	_, ts := startTestServer(t, f.config())

	resp, err := http.Post(ts.URL+"/generate-models", "application/json", strings.NewReader(`{"prompt":"a 20mm cube"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.HeaderRequestID))

	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.Equal(t, resp.Header.Get(api.HeaderRequestID), env.RequestID)

	var out api.GenerateModelsResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, fixtures.CubeScript, out.Script)
	assert.Equal(t, script.Fingerprint(fixtures.CubeScript), out.Fingerprint)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, uint32(12), out.Artifact.TriangleCount)

	model, err := http.Get(ts.URL + "/render-model")
	require.NoError(t, err)
	defer model.Body.Close()
	require.Equal(t, http.StatusOK, model.StatusCode)
	assert.Equal(t, mesh.ContentType, model.Header.Get("Content-Type"))
	body, err := io.ReadAll(model.Body)
	require.NoError(t, err)
	assert.Equal(t, fixtures.CubeSTL(), body)

	assert.Equal(t, int32(1), f.kernelCalls.Load())
}

func TestServer_ConvertRejectedScript(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	_, ts := startTestServer(t, f.config())

	resp, err := http.Post(ts.URL+"/convert", "application/json", strings.NewReader(`{"code":"syntax error"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONVERSION_FAILED", env.Error.Code)
	assert.Equal(t, "convert", env.Error.Stage)
}

func TestServer_HealthAndVersion(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	_, ts := startTestServer(t, f.config())

	for _, path := range []string{"/health", "/healthz", "/ready", "/readyz", "/ping"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"), path)
	}

	resp, err := http.Get(ts.URL + "/version")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), Version)
}

func TestServer_ReadyReportsCapabilitiesAndDegradedProbe(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	cfg := f.config()
	notDir := filepath.Join(t.TempDir(), "scripts")
	require.NoError(t, os.WriteFile(notDir, []byte("x"), 0o644))
	cfg.Generator.ScriptOutputDir = notDir

	_, ts := startTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status handlers.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "warn", status.Probes["script_dir"].Status)
	assert.Equal(t, true, status.Capabilities["convert"])
	assert.Equal(t, "http", status.Capabilities["kernel"])

	var out bytes.Buffer
	require.NoError(t, runHealthCheck(context.Background(), []string{"--addr", ts.URL, "--path", "/ready"}, &out))
	assert.Contains(t, out.String(), "script_dir")
	assert.True(t, strings.HasSuffix(out.String(), "DEGRADED\n"), out.String())
}

func TestServer_RedisMirrorReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	f := newFakeServices(t, fixtures.CubeScript)
	cfg := f.config()
	cfg.Artifacts.MirrorEnabled = true
	cfg.Redis.Addr = mr.Addr()

	s, ts := startTestServer(t, cfg)
	require.NotNil(t, s.stack.mirror)

	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	convert, err := http.Post(ts.URL+"/convert", "application/json", strings.NewReader(`{"code":"cube(20);"}`))
	require.NoError(t, err)
	convert.Body.Close()
	require.Equal(t, http.StatusOK, convert.StatusCode)
	assert.NotEmpty(t, mr.Keys(), "artifact mirrored")

	mr.Close()
	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_WithoutKernel(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	cfg := f.config()
	cfg.Kernel.Backend = ""

	s, ts := startTestServer(t, cfg)
	assert.False(t, s.stack.pipeline.CanConvert())

	resp, err := http.Post(ts.URL+"/convert", "application/json", strings.NewReader(`{"code":"cube(20);"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_ApplyReloadChangesLogLevel(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	s, _ := startTestServer(t, f.config())
	s.level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	old := f.config()
	updated := f.config()
	updated.Log.Level = "debug"
	s.applyReload(old, updated)

	assert.Equal(t, zapcore.DebugLevel, s.level.Level())
}

func TestConvertFiles_DedupsIdenticalScripts(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	st, err := buildStack(f.config(), nil, zap.NewNop())
	require.NoError(t, err)
	defer st.close()

	dir := t.TempDir()
	outDir := t.TempDir()
	var files []string
	for name, src := range map[string]string{
		"a.scad": fixtures.CubeScript,
		"b.scad": fixtures.CubeScript,
		"c.scad": fixtures.FilletedCubeScript,
	} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
		files = append(files, p)
	}
	files = append(files, filepath.Join(dir, "missing.scad"))

	var out bytes.Buffer
	err = convertFiles(context.Background(), st, files, outDir, 3, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 4")

	assert.Equal(t, int32(2), f.kernelCalls.Load())
	for _, name := range []string{"a.stl", "b.stl", "c.stl"} {
		b, err := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err, name)
		assert.Equal(t, fixtures.CubeSTL(), b)
	}
	assert.Contains(t, out.String(), "FAIL "+filepath.Join(dir, "missing.scad"))
}

func TestStlPath(t *testing.T) {
	assert.Equal(t, filepath.Join("parts", "gear.stl"), stlPath(filepath.Join("parts", "gear.scad"), ""))
	assert.Equal(t, filepath.Join("out", "gear.stl"), stlPath(filepath.Join("parts", "gear.scad"), "out"))
}

func TestRunView_PromptAgainstServer(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	_, ts := startTestServer(t, f.config())

	var out bytes.Buffer
	err := runView(context.Background(), []string{"--addr", ts.URL, "--prompt", "a 20mm cube", "--fps", "100"}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ready: "+script.Fingerprint(fixtures.CubeScript))
}

func TestRunView_NothingPublished(t *testing.T) {
	f := newFakeServices(t, fixtures.CubeScript)
	_, ts := startTestServer(t, f.config())

	var out bytes.Buffer
	err := runView(context.Background(), []string{"--addr", ts.URL}, &out)
	require.Error(t, err)
	assert.Contains(t, out.String(), "error: ")
}

func TestRunHealthCheck(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ready", r.URL.Path)
	}))
	defer ok.Close()

	var out bytes.Buffer
	require.NoError(t, runHealthCheck(context.Background(), []string{"--addr", ok.URL, "--path", "/ready"}, &out))
	assert.Equal(t, "OK\n", out.String())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	assert.Error(t, runHealthCheck(context.Background(), []string{"--addr", down.URL}, io.Discard))
}

func TestInitLogger(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}})
	require.NotNil(t, logger)
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, level = initLogger(config.LogConfig{Level: "bogus", Format: "console"})
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "CADFlow "+Version)
	assert.Contains(t, out.String(), "Git Commit: "+GitCommit)
}

func TestPrintEnvKeys(t *testing.T) {
	var out bytes.Buffer
	printEnvKeys(&out)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines, "CADFLOW_KERNEL_BACKEND")
	assert.Contains(t, lines, "CADFLOW_LOG_LEVEL")
}

func TestKernelConfig_CarriesEveryField(t *testing.T) {
	in := config.KernelConfig{
		Backend: "openscad",
		BaseURL: "http://kernel:8100",
		Path:    "/render",
		Binary:  "/usr/bin/openscad",
		Args:    []string{"--hardwarnings"},
		Env:     []string{"OPENSCADPATH=/opt/libs"},
		WorkDir: "/scratch",
		Timeout: 5 * time.Second,
	}
	out := kernelConfig(in)
	assert.Equal(t, in.BaseURL, out.BaseURL)
	assert.Equal(t, in.Path, out.Path)
	assert.Equal(t, in.Binary, out.Binary)
	assert.Equal(t, in.Args, out.Args)
	assert.Equal(t, in.Env, out.Env)
	assert.Equal(t, in.WorkDir, out.WorkDir)
	assert.Equal(t, in.Timeout, out.Timeout)
}
