// =============================================================================
// 📦 CADFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Generator: DefaultGeneratorConfig(),
		Kernel:    DefaultKernelConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Artifacts: DefaultArtifactsConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		MaxBodyBytes:    1 << 20,
	}
}

// DefaultGeneratorConfig 返回默认脚本生成配置
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Backend:  "ollama",
		Timeout:  2 * time.Minute,
		Language: "openscad",
	}
}

// DefaultKernelConfig 返回默认内核配置（默认不启用转换）
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		Path:    "/render",
		Binary:  "openscad",
		Timeout: 90 * time.Second,
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		DedupCapacity:  256,
		RetainFailures: true,
		Workers:        4,
		QueueSize:      0,
		JobTimeout:     2 * time.Minute,
	}
}

// DefaultArtifactsConfig 返回默认产物配置
func DefaultArtifactsConfig() ArtifactsConfig {
	return ArtifactsConfig{
		MaxKeyed:         256,
		SubscriberBuffer: 16,
		MirrorKeyPrefix:  "cadflow:artifact:",
		MirrorTTL:        time.Hour,
		MirrorTimeout:    2 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "cadflow",
		SampleRate:   0.1,
	}
}
