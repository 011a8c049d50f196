// =============================================================================
// 📦 CADFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("cadflow.yaml").
//	    WithEnvPrefix("CADFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CADFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Generator 脚本生成后端
	Generator GeneratorConfig `yaml:"generator" env:"GENERATOR"`

	// Kernel 几何内核
	Kernel KernelConfig `yaml:"kernel" env:"KERNEL"`

	// Pipeline 去重缓存与工作池
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Artifacts 产物服务
	Artifacts ArtifactsConfig `yaml:"artifacts" env:"ARTIFACTS"`

	// Redis 连接配置（产物镜像与就绪检查）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口，0 表示不单独监听
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖生成与转换的最长耗时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 允许的跨域来源；空表示不发送 CORS 头（仅同源），"*" 表示允许所有
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每个 IP 每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
}

// GeneratorConfig 脚本生成配置
type GeneratorConfig struct {
	// 后端: gemini, ollama, remote
	Backend string `yaml:"backend" env:"BACKEND"`
	// 服务地址，空则使用后端默认值
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型名称
	Model string `yaml:"model" env:"MODEL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 脚本语言: openscad, catscript
	Language string `yaml:"language" env:"LANGUAGE"`
	// 最新脚本的落盘目录，空表示不落盘
	ScriptOutputDir string `yaml:"script_output_dir" env:"SCRIPT_OUTPUT_DIR"`
}

// KernelConfig 几何内核配置
type KernelConfig struct {
	// 后端: http, openscad；空表示不启用转换
	Backend string `yaml:"backend" env:"BACKEND"`
	// HTTP 内核地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// HTTP 内核路径
	Path string `yaml:"path" env:"PATH"`
	// OpenSCAD 可执行文件
	Binary string `yaml:"binary" env:"BINARY"`
	// OpenSCAD 额外参数
	Args []string `yaml:"args" env:"ARGS"`
	// OpenSCAD 子进程额外环境变量（KEY=VALUE）
	Env []string `yaml:"env" env:"ENV"`
	// OpenSCAD 临时脚本目录，空表示系统临时目录
	WorkDir string `yaml:"work_dir" env:"WORK_DIR"`
	// 单次转换超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	// 去重缓存保留的已完成任务数，0 表示不限
	DedupCapacity int `yaml:"dedup_capacity" env:"DEDUP_CAPACITY"`
	// 是否保留失败任务
	RetainFailures bool `yaml:"retain_failures" env:"RETAIN_FAILURES"`
	// 工作池大小
	Workers int `yaml:"workers" env:"WORKERS"`
	// 工作池排队上限，0 表示不限
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 单个转换任务的总时限
	JobTimeout time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
}

// ArtifactsConfig 产物服务配置
type ArtifactsConfig struct {
	// 按指纹可寻址的产物上限
	MaxKeyed int `yaml:"max_keyed" env:"MAX_KEYED"`
	// 每个订阅者的事件缓冲
	SubscriberBuffer int `yaml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`
	// 是否启用 Redis 镜像
	MirrorEnabled bool `yaml:"mirror_enabled" env:"MIRROR_ENABLED"`
	// 镜像键前缀
	MirrorKeyPrefix string `yaml:"mirror_key_prefix" env:"MIRROR_KEY_PREFIX"`
	// 镜像条目过期时间
	MirrorTTL time.Duration `yaml:"mirror_ttl" env:"MIRROR_TTL"`
	// 单次镜像调用超时
	MirrorTimeout time.Duration `yaml:"mirror_timeout" env:"MIRROR_TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 是否启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 是否使用明文 gRPC
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 按 默认值 → YAML → 环境变量 → 校验器 的顺序构建配置
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
	overrides  []string
}

// NewLoader 创建加载器，环境变量前缀默认 CADFLOW
func NewLoader() *Loader {
	return &Loader{envPrefix: "CADFLOW"}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时只用默认值与环境变量
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 追加校验器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回 YAML 文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Overrides 返回最近一次 Load 中生效的环境变量名
func (l *Loader) Overrides() []string {
	return append([]string(nil), l.overrides...)
}

// Load 构建一份新配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.readFile(cfg); err != nil {
		return nil, err
	}

	applied, err := applyEnv(cfg, l.envPrefix, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	l.overrides = applied

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) readFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", l.configPath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", l.configPath, err)
	}
	return nil
}

var (
	generatorBackends = []string{"gemini", "ollama", "remote"}
	kernelBackends    = []string{"", "http", "openscad"}
	languages         = []string{"openscad", "catscript"}
	logLevels         = []string{"debug", "info", "warn", "error"}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	if !oneOf(c.Generator.Backend, generatorBackends) {
		errs = append(errs, fmt.Sprintf("unknown generator backend %q", c.Generator.Backend))
	}
	if !oneOf(c.Generator.Language, languages) {
		errs = append(errs, fmt.Sprintf("unknown script language %q", c.Generator.Language))
	}
	if c.Generator.Backend == "gemini" && c.Generator.APIKey == "" {
		errs = append(errs, "generator.api_key is required for gemini")
	}
	if !oneOf(c.Kernel.Backend, kernelBackends) {
		errs = append(errs, fmt.Sprintf("unknown kernel backend %q", c.Kernel.Backend))
	}
	if c.Kernel.Backend == "openscad" && c.Generator.Language != "openscad" {
		errs = append(errs, "openscad kernel requires generator.language openscad")
	}

	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "pipeline.workers must be positive")
	}
	if c.Pipeline.DedupCapacity < 0 || c.Pipeline.QueueSize < 0 {
		errs = append(errs, "pipeline capacities must not be negative")
	}
	if c.Pipeline.JobTimeout <= 0 {
		errs = append(errs, "pipeline.job_timeout must be positive")
	}
	if c.Artifacts.MaxKeyed < 0 {
		errs = append(errs, "artifacts.max_keyed must not be negative")
	}

	if !oneOf(strings.ToLower(c.Log.Level), logLevels) {
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func oneOf(v string, allowed []string) bool {
	return slices.Contains(allowed, v)
}
