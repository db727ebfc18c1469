// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 缓存管理器，负责 JSON 文档与有序集合索引的读写
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 键前缀，所有键都以 "<prefix>:" 开头
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		Password:            "",
		DB:                  0,
		KeyPrefix:           "agentgraph",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewManager 创建缓存管理器
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}

	// 启动健康检查
	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Int("pool_size", config.PoolSize),
	)

	return m, nil
}

// Key 拼接带前缀的键
func (m *Manager) Key(parts ...string) string {
	if m.config.KeyPrefix == "" {
		return strings.Join(parts, ":")
	}
	return m.config.KeyPrefix + ":" + strings.Join(parts, ":")
}

// =============================================================================
// 🎯 文档读写
// =============================================================================

func (m *Manager) client() (*redis.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.redis, nil
}

// GetJSON 读取 JSON 文档
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	c, err := m.client()
	if err != nil {
		return err
	}

	val, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// MGetJSON 批量读取 JSON 文档，decode 对每个存在的值调用一次，缺失的键返回在 missing 中
func (m *Manager) MGetJSON(ctx context.Context, keys []string, decode func(key string, data []byte) error) (missing []string, err error) {
	if len(keys) == 0 {
		return nil, nil
	}
	c, err := m.client()
	if err != nil {
		return nil, err
	}

	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache mget failed: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		if err := decode(keys[i], []byte(s)); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// SetJSONIndexed 在同一事务中写入 JSON 文档并更新有序集合索引。
// ttl 为 0 表示文档永不过期。
func (m *Manager) SetJSONIndexed(ctx context.Context, key string, value any, ttl time.Duration, member string, score float64, indexes ...string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	c, err := m.client()
	if err != nil {
		return err
	}

	_, err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		for _, idx := range indexes {
			pipe.ZAdd(ctx, idx, redis.Z{Score: score, Member: member})
		}
		return nil
	})
	if err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// IndexNewest 按分数从高到低返回索引成员，limit <= 0 表示全部
func (m *Manager) IndexNewest(ctx context.Context, index string, limit int) ([]string, error) {
	c, err := m.client()
	if err != nil {
		return nil, err
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := c.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cache index range failed: %w", err)
	}
	return members, nil
}

// IndexBelow 返回分数严格小于 max 的索引成员
func (m *Manager) IndexBelow(ctx context.Context, index string, max float64) ([]string, error) {
	c, err := m.client()
	if err != nil {
		return nil, err
	}
	members, err := c.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%f", max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("cache index range failed: %w", err)
	}
	return members, nil
}

// Unindex 从索引中移除成员，并删除对应的文档键
func (m *Manager) Unindex(ctx context.Context, index string, members []string, docKeys ...string) error {
	if len(members) == 0 && len(docKeys) == 0 {
		return nil
	}
	c, err := m.client()
	if err != nil {
		return err
	}

	_, err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(members) > 0 {
			args := make([]any, len(members))
			for i, mb := range members {
				args[i] = mb
			}
			pipe.ZRem(ctx, index, args...)
		}
		if len(docKeys) > 0 {
			pipe.Del(ctx, docKeys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache unindex failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	c, err := m.client()
	if err != nil {
		return err
	}
	return c.Ping(ctx).Err()
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.stop)
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil {
			if !errors.Is(err, ErrClosed) {
				m.logger.Error("cache health check failed", zap.Error(err))
			}
		} else {
			m.logger.Debug("cache health check passed")
		}
		cancel()
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

var (
	// ErrCacheMiss 缓存未命中错误
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
)

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
