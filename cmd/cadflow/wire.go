package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/config"
	"github.com/BaSui01/cadflow/internal/artifact"
	"github.com/BaSui01/cadflow/internal/dedup"
	"github.com/BaSui01/cadflow/internal/pool"
	"github.com/BaSui01/cadflow/llm/kernel"
	"github.com/BaSui01/cadflow/llm/scriptgen"
	"github.com/BaSui01/cadflow/pipeline"
	"github.com/BaSui01/cadflow/script"
)

// =============================================================================
// 🔌 组件装配
// =============================================================================

// stack 是 serve、generate、convert 共用的一组后端组件
type stack struct {
	pool      *pool.GoroutinePool
	cache     *dedup.Cache[*artifact.Artifact]
	conv      *pipeline.Converter
	artifacts *artifact.Server
	mirror    *artifact.RedisMirror
	pipeline  *pipeline.Pipeline
	generator scriptgen.Generator
	kernel    kernel.Kernel
}

// buildStack 按配置创建生成器、内核、去重缓存、产物服务与流水线。
// obs 为 nil 时不记录指标。
func buildStack(cfg *config.Config, obs pipeline.Observer, logger *zap.Logger) (*stack, error) {
	lang := script.Language(cfg.Generator.Language)

	gen, err := scriptgen.New(cfg.Generator.Backend, scriptgen.ClientConfig{
		BaseURL:  cfg.Generator.BaseURL,
		APIKey:   cfg.Generator.APIKey,
		Model:    cfg.Generator.Model,
		Timeout:  cfg.Generator.Timeout,
		Language: lang,
	})
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	s := &stack{generator: gen}

	var convOpts []pipeline.ConverterOption
	var pipeOpts []pipeline.Option
	convOpts = append(convOpts, pipeline.WithConverterLogger(logger))
	pipeOpts = append(pipeOpts, pipeline.WithLogger(logger))
	if obs != nil {
		convOpts = append(convOpts, pipeline.WithConverterObserver(obs))
		pipeOpts = append(pipeOpts, pipeline.WithObserver(obs))
	}

	if cfg.Kernel.Backend != "" {
		k, err := kernel.New(cfg.Kernel.Backend, kernelConfig(cfg.Kernel))
		if err != nil {
			return nil, fmt.Errorf("create kernel: %w", err)
		}
		s.kernel = k
		s.pool = pool.NewGoroutinePool(pool.Config{
			MaxWorkers: cfg.Pipeline.Workers,
			QueueSize:  cfg.Pipeline.QueueSize,
		}, logger)
		s.cache = dedup.New[*artifact.Artifact](dedup.Config{
			Capacity:       cfg.Pipeline.DedupCapacity,
			RetainFailures: cfg.Pipeline.RetainFailures,
			JobTimeout:     cfg.Pipeline.JobTimeout,
		}, s.pool, logger)
		s.conv = pipeline.NewConverter(k, s.cache, cfg.Kernel.Timeout, convOpts...)
	} else {
		logger.Warn("no kernel configured, mesh conversion disabled")
	}

	var mirror artifact.Mirror
	if cfg.Artifacts.MirrorEnabled {
		m, err := artifact.NewRedisMirror(artifact.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			TLS:          cfg.Redis.TLS,
			KeyPrefix:    cfg.Artifacts.MirrorKeyPrefix,
			TTL:          cfg.Artifacts.MirrorTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect artifact mirror: %w", err)
		}
		s.mirror = m
		mirror = m
	}

	s.artifacts = artifact.NewServer(artifact.Config{
		MaxKeyed:         cfg.Artifacts.MaxKeyed,
		SubscriberBuffer: cfg.Artifacts.SubscriberBuffer,
		MirrorTimeout:    cfg.Artifacts.MirrorTimeout,
	}, mirror, logger)

	s.pipeline = pipeline.New(gen, s.conv, s.artifacts, pipeline.Config{
		Language:        lang,
		ScriptOutputDir: cfg.Generator.ScriptOutputDir,
	}, pipeOpts...)

	logger.Info("pipeline ready",
		zap.String("generator", gen.Name()),
		zap.String("kernel", kernelName(s.kernel)),
		zap.String("language", string(lang)),
		zap.Bool("mirror", s.mirror != nil),
	)
	return s, nil
}

// ping 供就绪检查使用；未启用镜像时恒为成功
func (s *stack) ping(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}
	return s.mirror.Ping(ctx)
}

// capabilities 描述当前装配，随就绪响应返回
func (s *stack) capabilities() map[string]any {
	caps := map[string]any{
		"generator": s.generator.Name(),
		"kernel":    kernelName(s.kernel),
		"language":  string(s.pipeline.Language()),
		"convert":   s.pipeline.CanConvert(),
		"mirror":    s.mirror != nil,
	}
	if a := s.artifacts.Latest(); a != nil {
		caps["latest"] = a.Fingerprint
	}
	return caps
}

// close 释放工作池与 Redis 连接
func (s *stack) close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.mirror != nil {
		return s.mirror.Close()
	}
	return nil
}

func kernelName(k kernel.Kernel) string {
	if k == nil {
		return "none"
	}
	return k.Name()
}

var errNoKernel = errors.New("no kernel configured; set kernel.backend to http or openscad")

func kernelConfig(c config.KernelConfig) kernel.Config {
	return kernel.Config{
		BaseURL: c.BaseURL,
		Path:    c.Path,
		Binary:  c.Binary,
		Args:    c.Args,
		Env:     c.Env,
		WorkDir: c.WorkDir,
		Timeout: c.Timeout,
	}
}
