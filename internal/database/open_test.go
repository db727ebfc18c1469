package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/config"
)

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite", "sqlite3"} {
		d, err := Dialector(driver, "")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector("oracle", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver: oracle")
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    8,
		ConnMaxLifetime: time.Minute,
	})
	assert.Equal(t, 4, pc.MaxOpenConns)
	assert.Equal(t, 4, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
	assert.NoError(t, pc.Validate())

	defaults := PoolConfigFrom(config.DatabaseConfig{})
	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, defaults.MaxOpenConns)
}

func TestOpen_PureGoSQLite(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		Name:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	require.NoError(t, pm.Ping(context.Background()))

	var one int
	require.NoError(t, pm.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}
