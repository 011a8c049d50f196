package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，同时实现 pipeline.Observer
type Collector struct {
	namespace string

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 脚本生成指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	// 网格转换指标
	conversionsTotal   *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec

	// 去重缓存指标
	dedupTotal *prometheus.CounterVec

	// 产物指标
	artifactPublishes prometheus.Counter
	artifactSize      prometheus.Histogram
	artifactTriangles prometheus.Histogram

	logger *zap.Logger
	mu     sync.Mutex
	gauges map[string]prometheus.GaugeFunc
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
		gauges:    make(map[string]prometheus.GaugeFunc),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 脚本生成指标
	c.generationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "script_generations_total",
			Help:      "Total number of script generation requests",
		},
		[]string{"backend", "outcome"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "script_generation_duration_seconds",
			Help:      "Script generation duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	// 网格转换指标
	c.conversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mesh_conversions_total",
			Help:      "Total number of kernel invocations",
		},
		[]string{"kernel", "outcome"},
	)

	c.conversionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mesh_conversion_duration_seconds",
			Help:      "Kernel invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 90},
		},
		[]string{"kernel"},
	)

	// 去重缓存指标
	c.dedupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_requests_total",
			Help:      "Conversion requests by dedup origin (created, joined, hit)",
		},
		[]string{"origin"},
	)

	// 产物指标
	c.artifactPublishes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_publishes_total",
			Help:      "Total number of published artifacts",
		},
	)

	c.artifactSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_size_bytes",
			Help:      "Published STL size in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	c.artifactTriangles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "artifact_triangles",
			Help:      "Triangle count of published meshes",
			Buckets:   prometheus.ExponentialBuckets(10, 10, 7),
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🧩 流水线指标记录
// =============================================================================

// RecordGeneration 记录一次脚本生成
func (c *Collector) RecordGeneration(backend, outcome string, d time.Duration) {
	c.generationsTotal.WithLabelValues(backend, outcome).Inc()
	c.generationDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordConversion 记录一次内核调用
func (c *Collector) RecordConversion(kernel, outcome string, d time.Duration) {
	c.conversionsTotal.WithLabelValues(kernel, outcome).Inc()
	c.conversionDuration.WithLabelValues(kernel).Observe(d.Seconds())
}

// RecordDedup 记录转换请求的去重来源
func (c *Collector) RecordDedup(origin string) {
	c.dedupTotal.WithLabelValues(origin).Inc()
}

// RecordPublish 记录一次产物发布
func (c *Collector) RecordPublish(sizeBytes, triangles int) {
	c.artifactPublishes.Inc()
	c.artifactSize.Observe(float64(sizeBytes))
	c.artifactTriangles.Observe(float64(triangles))
}

// =============================================================================
// 📈 采样型指标
// =============================================================================

// RegisterGauge 注册一个抓取时求值的 Gauge，如去重缓存在途任务数。
// 同名重复注册会被忽略。
func (c *Collector) RegisterGauge(name, help string, fn func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.gauges[name]; ok {
		return
	}
	c.gauges[name] = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
