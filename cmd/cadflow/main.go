// =============================================================================
// CADFlow 主入口
// =============================================================================
// 文本到 CAD 的服务与命令行入口
//
// 使用方法:
//
//	cadflow serve                              # 启动服务
//	cadflow serve --config cadflow.yaml        # 指定配置文件
//	cadflow generate "a 20mm cube"             # 本地生成脚本（配置内核时同时转换）
//	cadflow convert --out-dir out a.scad b.scad # 批量转换脚本为 STL
//	cadflow view --addr http://localhost:8000 --prompt "a gear"
//	cadflow version                            # 显示版本信息
//	cadflow env                                # 列出可用的环境变量
//	cadflow health                             # 健康检查
// =============================================================================
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/cadflow/api/handlers"
	"github.com/BaSui01/cadflow/config"
	"github.com/BaSui01/cadflow/internal/telemetry"
	"github.com/BaSui01/cadflow/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "generate":
		err = runGenerate(ctx, os.Args[2:], os.Stdout)
	case "convert":
		err = runConvert(ctx, os.Args[2:], os.Stdout)
	case "view":
		err = runView(ctx, os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "env":
		printEnvKeys(os.Stdout)
	case "health":
		err = runHealthCheck(ctx, os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, envKeys, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()
	if len(envKeys) > 0 {
		logger.Info("config overridden from environment", zap.Strings("keys", envKeys))
	}

	logger.Info("Starting CADFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("module_version", telemetry.Version()),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv, err := NewServer(cfg, *configPath, logger, level, otelProviders)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("CADFlow stopped")
	return nil
}

// loadConfig 加载并验证配置，同时返回生效的环境变量名
func loadConfig(path string) (*config.Config, []string, error) {
	loader := config.NewLoader().WithConfigPath(path)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loader.Overrides(), nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	path := fs.String("path", "/health", "Health endpoint (/health or /ready)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *addr+*path, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := tlsutil.SecureHTTPClient(5 * time.Second).Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var status handlers.HealthStatus
	_ = json.NewDecoder(resp.Body).Decode(&status)
	for _, name := range status.SortedProbeNames() {
		p := status.Probes[name]
		line := fmt.Sprintf("  %-12s %s (%s)", name, p.Status, p.Latency)
		if p.Message != "" {
			line += ": " + p.Message
		}
		fmt.Fprintln(out, line)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	if status.Status == "" || status.Status == "healthy" {
		fmt.Fprintln(out, "OK")
	} else {
		fmt.Fprintln(out, strings.ToUpper(status.Status))
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "CADFlow %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

// printEnvKeys 列出可覆盖配置的环境变量
func printEnvKeys(out io.Writer) {
	for _, key := range config.EnvKeys("CADFLOW") {
		fmt.Fprintln(out, key)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `CADFlow - text to CAD pipeline

Usage:
  cadflow <command> [options]

Commands:
  serve     Start the CADFlow server
  generate  Generate a CAD script from a prompt (and convert it when a kernel is configured)
  convert   Convert script files to binary STL
  view      Drive the viewer against a running server
  version   Show version information
  env       List environment variables that override the config file
  health    Check server health
  help      Show this help message

Options for 'serve', 'generate', 'convert':
  --config <path>   Path to configuration file (YAML)

Examples:
  cadflow serve --config /etc/cadflow/cadflow.yaml
  cadflow generate --out cube.stl "a 20mm cube with 2mm fillets"
  cadflow convert --out-dir meshes --parallel 4 part1.scad part2.scad
  cadflow view --addr http://localhost:8000 --prompt "a hex nut" --duration 10s
  cadflow view --follow
  cadflow health --addr http://localhost:8000 --path /ready
  cadflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 按配置构建 logger；返回的 AtomicLevel 用于热更新级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    !cfg.EnableCaller,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	} else {
		zapConfig.DisableStacktrace = true
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}

// cliLogger 供一次性命令使用：控制台格式，默认只输出警告以上
func cliLogger(verbose bool) *zap.Logger {
	cfg := config.DefaultLogConfig()
	cfg.Format = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = "warn"
	if verbose {
		cfg.Level = "debug"
	}
	logger, _ := initLogger(cfg)
	return logger
}
