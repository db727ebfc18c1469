package migration

import (
	"fmt"

	appconfig "github.com/BaSui01/agentgraph/config"
)

// DatabaseURL 由数据库配置构造迁移连接串。
// MySQL 需要 multiStatements，迁移文件一次包含多条语句。
func DatabaseURL(dbCfg appconfig.DatabaseConfig) (Dialect, string, error) {
	d, err := ParseDialect(dbCfg.Driver)
	if err != nil {
		return "", "", fmt.Errorf("invalid database type: %w", err)
	}

	switch d {
	case Postgres:
		sslMode := dbCfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		return d, fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Name, sslMode), nil
	case MySQL:
		return d, fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			dbCfg.User, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.Name), nil
	default:
		// SQLite 的 Name 字段即文件路径
		return d, fmt.Sprintf("file:%s?mode=rwc&_foreign_keys=on", dbCfg.Name), nil
	}
}

// FromDatabaseConfig 按数据库配置打开 Migrator
func FromDatabaseConfig(dbCfg appconfig.DatabaseConfig, opts ...Option) (*Migrator, error) {
	d, url, err := DatabaseURL(dbCfg)
	if err != nil {
		return nil, err
	}
	return Open(d, url, opts...)
}

// FromURL 按驱动名与连接串打开 Migrator
func FromURL(driver, url string, opts ...Option) (*Migrator, error) {
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	return Open(d, url, opts...)
}
