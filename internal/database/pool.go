package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🗄️ 运行历史连接池
// =============================================================================

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate 校验连接数约束
func (c PoolConfig) Validate() error {
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be positive")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Pool 持有 SQL 历史存储使用的 GORM 连接
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool 按 cfg 调整连接池参数并包装 db
func NewPool(db *gorm.DB, driverName string, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		driver: driverName,
		logger: logger.With(zap.String("component", "db_pool"), zap.String("driver", driverName)),
	}
	p.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return p, nil
}

// Driver 返回打开连接时使用的驱动名
func (p *Pool) Driver() string {
	return p.driver
}

// DB 返回 GORM 实例
func (p *Pool) DB() *gorm.DB {
	return p.db
}

// Ping 检查连接，供 /ready 使用
func (p *Pool) Ping(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Stats 返回连接池统计，供 Prometheus 采集
func (p *Pool) Stats() sql.DBStats {
	return p.sqlDB.Stats()
}

// Close 关闭连接，重复调用无副作用
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.logger.Info("closing database pool")
	return p.sqlDB.Close()
}

var errPoolClosed = errors.New("database pool is closed")

// =============================================================================
// 🔄 事务
// =============================================================================

// Tx 在一个事务中执行 fn，fn 返回错误时回滚
func (p *Pool) Tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return errPoolClosed
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

// TxRetry 与 Tx 相同，但在死锁、序列化冲突或断连时重试，
// 间隔从 100ms 起翻倍。一次运行记录的写入涉及两张表，冲突时整体重做。
func (p *Pool) TxRetry(ctx context.Context, attempts int, fn func(tx *gorm.DB) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = p.Tx(ctx, fn); err == nil || !isTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		p.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		timer := time.NewTimer(time.Duration(100<<i) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", attempts, err)
}

// transientMarkers 是 postgres、mysql 与 sqlite 报告可重试冲突时的错误片段
var transientMarkers = []string{
	"deadlock",
	"serialization failure",
	"could not serialize",
	"40001",
	"lock wait timeout",
	"lock timeout",
	"database is locked",
	"sqlite_busy",
	"connection reset",
	"connection refused",
	"broken pipe",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
