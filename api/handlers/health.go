package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 存活与就绪探针
// =============================================================================

// Probe 就绪探针；Check 返回错误表示依赖不可用
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// ProbeResult 单个探针结果
type ProbeResult struct {
	Status   string `json:"status"` // "pass", "fail", "warn"
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency"`
	Optional bool   `json:"optional,omitempty"`
}

// HealthStatus /health 与 /ready 的响应体
type HealthStatus struct {
	Status       string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp    time.Time              `json:"timestamp"`
	Uptime       string                 `json:"uptime"`
	Capabilities map[string]any         `json:"capabilities,omitempty"`
	Probes       map[string]ProbeResult `json:"probes,omitempty"`
}

type registeredProbe struct {
	probe    Probe
	optional bool
}

// HealthHandler 探针处理器。必需探针失败时 /ready 返回 503；
// 可选探针失败只把状态降为 degraded
type HealthHandler struct {
	logger       *zap.Logger
	started      time.Time
	timeout      time.Duration
	capabilities func() map[string]any

	mu     sync.RWMutex
	probes []registeredProbe
}

// HealthOption 配置 HealthHandler
type HealthOption func(*HealthHandler)

// WithProbeTimeout 设置整轮就绪检查的超时（默认 3s）
func WithProbeTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithCapabilities 设置就绪响应中附带的能力描述，例如生成器、内核与转换开关
func WithCapabilities(fn func() map[string]any) HealthOption {
	return func(h *HealthHandler) { h.capabilities = fn }
}

// NewHealthHandler 创建探针处理器
func NewHealthHandler(logger *zap.Logger, opts ...HealthOption) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		started: time.Now(),
		timeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterCheck 注册必需探针
func (h *HealthHandler) RegisterCheck(p Probe) {
	h.register(p, false)
}

// RegisterOptional 注册可选探针
func (h *HealthHandler) RegisterOptional(p Probe) {
	h.register(p, true)
}

func (h *HealthHandler) register(p Probe, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, registeredProbe{probe: p, optional: optional})
}

// ProbeNames 按注册顺序返回探针名
func (h *HealthHandler) ProbeNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.probes))
	for i, p := range h.probes {
		names[i] = p.probe.Name()
	}
	return names
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 存活探针，不触达任何依赖
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.liveness())
}

// HandleHealthz 同 HandleHealth，供 Kubernetes livenessProbe 使用
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.liveness())
}

func (h *HealthHandler) liveness() HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	}
}

// HandleReady 并发执行全部探针并汇总
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate 执行一轮就绪检查
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	probes := append([]registeredProbe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]ProbeResult, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, rp := range probes {
		g.Go(func() error {
			results[i] = h.run(gctx, rp)
			return nil
		})
	}
	_ = g.Wait()

	status := h.liveness()
	status.Probes = make(map[string]ProbeResult, len(probes))
	for i, rp := range probes {
		res := results[i]
		status.Probes[rp.probe.Name()] = res
		switch {
		case res.Status == "fail":
			status.Status = "unhealthy"
		case res.Status == "warn" && status.Status == "healthy":
			status.Status = "degraded"
		}
	}
	if h.capabilities != nil {
		status.Capabilities = h.capabilities()
	}
	return status
}

func (h *HealthHandler) run(ctx context.Context, rp registeredProbe) ProbeResult {
	start := time.Now()
	err := rp.probe.Check(ctx)
	latency := time.Since(start)

	res := ProbeResult{Status: "pass", Latency: latency.String(), Optional: rp.optional}
	if err == nil {
		return res
	}
	res.Message = err.Error()
	res.Status = "fail"
	if rp.optional {
		res.Status = "warn"
	}
	h.logger.Warn("probe failed",
		zap.String("probe", rp.probe.Name()),
		zap.Bool("optional", rp.optional),
		zap.Duration("latency", latency),
		zap.Error(err),
	)
	return res
}

// HandleVersion 返回构建信息
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"go":         runtime.Version(),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置探针
// =============================================================================

// FuncHealthCheck 以函数实现的探针
type FuncHealthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// NewFuncHealthCheck 创建函数探针
func NewFuncHealthCheck(name string, check func(ctx context.Context) error) *FuncHealthCheck {
	return &FuncHealthCheck{name: name, check: check}
}

func (c *FuncHealthCheck) Name() string { return c.name }

func (c *FuncHealthCheck) Check(ctx context.Context) error { return c.check(ctx) }

// NewRedisHealthCheck 产物镜像探针，ping 通常为 RedisMirror.Ping
func NewRedisHealthCheck(ping func(ctx context.Context) error) *FuncHealthCheck {
	return NewFuncHealthCheck("redis", ping)
}

// SortedProbeNames 返回结果中按字典序排列的探针名
func (s HealthStatus) SortedProbeNames() []string {
	names := make([]string, 0, len(s.Probes))
	for name := range s.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
