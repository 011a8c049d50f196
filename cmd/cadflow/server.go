package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/cadflow/api/handlers"
	"github.com/BaSui01/cadflow/config"
	"github.com/BaSui01/cadflow/internal/metrics"
	"github.com/BaSui01/cadflow/internal/server"
	"github.com/BaSui01/cadflow/internal/telemetry"
	"github.com/BaSui01/cadflow/pipeline"
)

// =============================================================================
// 🖥️ 服务器
// =============================================================================

// Server 主服务器：API 与 Metrics 双端口、配置热重载、优雅关闭
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	stack     *stack
	collector *metrics.Collector
	otel      *telemetry.Providers

	healthHandler *handlers.HealthHandler
	modelHandler  *handlers.ModelHandler
	eventsHandler *handlers.EventsHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
	watcher        *config.Watcher
}

// NewServer 装配所有组件，但不监听端口
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, otelProviders *telemetry.Providers) (*Server, error) {
	return newServer(cfg, configPath, logger, level, otelProviders, "cadflow")
}

func newServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, otelProviders *telemetry.Providers, namespace string) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		otel:       otelProviders,
		collector:  metrics.NewCollector(namespace, logger),
	}

	st, err := buildStack(cfg, pipeline.MultiObserver(s.collector, otelProviders.Observer()), logger)
	if err != nil {
		return nil, err
	}
	s.stack = st

	if st.cache != nil {
		s.collector.RegisterGauge("dedup_in_flight_jobs", "Conversion jobs currently running", func() float64 {
			return float64(st.cache.Stats().InFlight)
		})
	}
	s.collector.RegisterGauge("artifact_subscribers", "Connected artifact event subscribers", func() float64 {
		return float64(st.artifacts.Stats().Subscribers)
	})
	s.collector.RegisterGauge("artifact_keyed", "Artifacts addressable by fingerprint", func() float64 {
		return float64(st.artifacts.Stats().Keyed)
	})

	s.healthHandler = handlers.NewHealthHandler(logger, handlers.WithCapabilities(st.capabilities))
	if st.mirror != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck(st.ping))
	}
	if dir := cfg.Generator.ScriptOutputDir; dir != "" {
		// 脚本落盘是尽力而为，目录不可写只降级
		s.healthHandler.RegisterOptional(handlers.NewFuncHealthCheck("script_dir", func(context.Context) error {
			return writableDir(dir)
		}))
	}
	s.modelHandler = handlers.NewModelHandler(st.pipeline, logger)
	s.eventsHandler = handlers.NewEventsHandler(st.artifacts, logger,
		handlers.WithOriginPatterns(cfg.Server.CORSAllowedOrigins),
	)
	return s, nil
}

// Handler 返回带完整中间件链的 API 处理器
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	s.modelHandler.Register(mux)
	mux.HandleFunc("GET /artifacts/events", s.eventsHandler.HandleEvents)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		MaxBody(s.cfg.Server.MaxBodyBytes),
	)
}

// Run 启动 API、Metrics 与配置监听，阻塞直到 ctx 结束或任一服务失败
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	s.httpManager = server.NewManager("api", s.Handler(gctx), s.managerConfig(s.cfg.Server.HTTPPort), s.logger)
	g.Go(func() error { return s.httpManager.Run(gctx) })

	if s.cfg.Server.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		mc := s.managerConfig(s.cfg.Server.MetricsPort)
		mc.WriteTimeout = 30 * time.Second
		s.metricsManager = server.NewManager("metrics", metricsMux, mc, s.logger)
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	if s.configPath != "" {
		if err := s.startWatcher(gctx); err != nil {
			s.logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	s.logger.Info("server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("convert", s.stack.pipeline.CanConvert()),
		zap.Bool("telemetry", s.otel.Enabled()),
	)

	err := g.Wait()
	s.shutdown()
	return err
}

func (s *Server) managerConfig(port int) server.Config {
	c := server.DefaultConfig()
	c.Addr = fmt.Sprintf(":%d", port)
	c.ReadTimeout = s.cfg.Server.ReadTimeout
	c.WriteTimeout = s.cfg.Server.WriteTimeout
	c.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	return c
}

// startWatcher 监听配置文件；日志级别可热更新，其余字段需重启生效
func (s *Server) startWatcher(ctx context.Context) error {
	loader := config.NewLoader().WithConfigPath(s.configPath)
	w, err := config.NewWatcher(loader, s.cfg, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	w.OnReload(func(old, new *config.Config) {
		s.applyReload(old, new)
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	s.logger.Info("config hot reload enabled", zap.String("path", s.configPath))
	return nil
}

func (s *Server) applyReload(old, new *config.Config) {
	if old.Log.Level != new.Log.Level {
		s.level.SetLevel(parseLevel(new.Log.Level))
		s.logger.Info("log level changed",
			zap.String("from", old.Log.Level),
			zap.String("to", new.Log.Level),
		)
	}
	if !reflect.DeepEqual(old.Server, new.Server) || old.Generator != new.Generator {
		s.logger.Warn("server settings changed; restart to apply")
	}
}

func (s *Server) shutdown() {
	s.logger.Info("shutting down")
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn("stop config watcher", zap.Error(err))
		}
	}
	if err := s.stack.close(); err != nil {
		s.logger.Warn("close pipeline", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown", zap.Error(err))
	}
}

func writableDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil // 首次写入时创建
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}
