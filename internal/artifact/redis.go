package artifact

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/cadflow/internal/tlsutil"
	"github.com/BaSui01/cadflow/types"
)

// =============================================================================
// 💾 Redis 镜像
// =============================================================================

// RedisConfig 镜像配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr" env:"ADDR"`

	// 密码
	Password string `yaml:"password" json:"-" env:"PASSWORD"`

	// 数据库编号
	DB int `yaml:"db" json:"db" env:"DB"`

	// 是否启用 TLS
	TLS bool `yaml:"tls" json:"tls" env:"TLS"`

	// 键前缀
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`

	// 镜像条目过期时间
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DefaultRedisConfig 返回默认镜像配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		KeyPrefix:           "cadflow:artifact:",
		TTL:                 time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// RedisMirror stores keyed artifacts in Redis hashes with a TTL so replicas
// can serve fingerprints they did not convert themselves.
type RedisMirror struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

var errMirrorClosed = errors.New("artifact mirror is closed")

// NewRedisMirror connects and pings Redis.
func NewRedisMirror(cfg RedisConfig, logger *zap.Logger) (*RedisMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisConfig().KeyPrefix
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		host := cfg.Addr
		if h, _, err := net.SplitHostPort(cfg.Addr); err == nil {
			host = h
		}
		opts.TLSConfig = tlsutil.RedisTLSConfig(host)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &RedisMirror{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "artifact_mirror")),
		stop:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("artifact mirror initialized",
		zap.String("addr", cfg.Addr),
		zap.Duration("ttl", cfg.TTL),
	)
	return m, nil
}

func (m *RedisMirror) key(fp string) string { return m.cfg.KeyPrefix + fp }

// Put writes a as a hash and sets its TTL.
func (m *RedisMirror) Put(ctx context.Context, a *Artifact) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errMirrorClosed
	}

	key := m.key(a.Fingerprint)
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"stl", a.Bytes,
			"triangles", a.TriangleCount,
			"created_at", a.CreatedAt.UnixNano(),
		)
		if m.cfg.TTL > 0 {
			pipe.Expire(ctx, key, m.cfg.TTL)
		}
		return nil
	})
	if err != nil {
		m.logger.Error("mirror put failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("mirror put failed: %w", err)
	}
	return nil
}

// Get loads the artifact for fingerprint. A missing key is NOT_FOUND.
func (m *RedisMirror) Get(ctx context.Context, fingerprint string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errMirrorClosed
	}

	vals, err := m.client.HGetAll(ctx, m.key(fingerprint)).Result()
	if err != nil {
		return nil, fmt.Errorf("mirror get failed: %w", err)
	}
	raw, ok := vals["stl"]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "artifact not mirrored").WithStage(types.StageFetch)
	}
	var created time.Time
	if ns, err := strconv.ParseInt(vals["created_at"], 10, 64); err == nil {
		created = time.Unix(0, ns).UTC()
	}
	return FromBytes(fingerprint, []byte(raw), created)
}

// Ping checks the Redis connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errMirrorClosed
	}
	return m.client.Ping(ctx).Err()
}

// Close stops the health check and closes the client.
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stop)
	m.logger.Info("closing artifact mirror")
	return m.client.Close()
}

func (m *RedisMirror) healthCheckLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil && !errors.Is(err, errMirrorClosed) {
				m.logger.Error("mirror health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}
