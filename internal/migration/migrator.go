package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// =============================================================================
// 📦 内嵌的运行历史迁移文件
// =============================================================================

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// HistoryTables 是迁移文件维护的运行历史表
var HistoryTables = []string{"workflow_runs", "workflow_node_runs"}

// DefaultVersionTable 是 golang-migrate 记录版本号的表
const DefaultVersionTable = "schema_migrations"

// Dialect 数据库方言
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect 解析驱动名，sqlite3 与 sqlite 共用同一套 SQL
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// sqlDriver 返回 Open 使用的 database/sql 驱动名。
// sqlite 走 golang-migrate 注册的 CGO sqlite3 驱动，纯 Go 连接请用 New。
func (d Dialect) sqlDriver() string {
	if d == SQLite {
		return "sqlite3"
	}
	return string(d)
}

// =============================================================================
// 📜 迁移清单
// =============================================================================

// Migration 是一个内嵌的迁移版本
type Migration struct {
	Version uint
	Name    string
	// Tables 是 up 脚本创建的表
	Tables []string
}

var createTablePattern = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?["` + "`" + `]?(\w+)`)

// Migrations 列出某方言的内嵌迁移，按版本升序
func Migrations(d Dialect) ([]Migration, error) {
	dir := path.Join("migrations", string(d))
	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %q: %w", d, err)
	}

	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_workflow_runs.up.sql
		num, rest, ok := strings.Cut(strings.TrimSuffix(name, ".up.sql"), "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}

		body, err := fs.ReadFile(migrationFiles, path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var tables []string
		for _, m := range createTablePattern.FindAllSubmatch(body, -1) {
			tables = append(tables, string(m[1]))
		}

		out = append(out, Migration{Version: uint(version), Name: rest, Tables: tables})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// =============================================================================
// 🔧 Migrator
// =============================================================================

// Option 配置 Migrator
type Option func(*options)

type options struct {
	versionTable string
	lockTimeout  time.Duration
}

// WithVersionTable 覆盖版本表名
func WithVersionTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.versionTable = name
		}
	}
}

// WithLockTimeout 设置获取迁移锁的超时
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTimeout = d
		}
	}
}

// Migrator 管理运行历史表的 Schema 版本
type Migrator struct {
	dialect    Dialect
	migrations []Migration
	db         *sql.DB
	m          *migrate.Migrate
}

// Open 按 URL 打开连接并创建 Migrator，Close 时一并关闭连接
func Open(d Dialect, url string, opts ...Option) (*Migrator, error) {
	if url == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open(d.sqlDriver(), url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := New(d, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// New 在已打开的连接上创建 Migrator，例如历史存储使用的纯 Go SQLite。
// Migrator 接管 db，Close 时关闭它。
func New(d Dialect, db *sql.DB, opts ...Option) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	o := options{versionTable: DefaultVersionTable, lockTimeout: 15 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	migrations, err := Migrations(d)
	if err != nil {
		return nil, err
	}

	driver, err := databaseDriver(d, db, o.versionTable)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	source, err := iofs.New(migrationFiles, path.Join("migrations", string(d)))
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, string(d), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = o.lockTimeout

	return &Migrator{dialect: d, migrations: migrations, db: db, m: m}, nil
}

func databaseDriver(d Dialect, db *sql.DB, table string) (database.Driver, error) {
	switch d {
	case Postgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case MySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case SQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	}
	return nil, fmt.Errorf("unsupported database type: %s", d)
}

// Dialect 返回方言
func (m *Migrator) Dialect() Dialect {
	return m.dialect
}

// Migrations 返回内嵌迁移清单
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

// Up 应用所有未执行的迁移
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.m.Up)
}

// Down 回滚最近一个迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.m.Steps(-1) })
}

// Reset 回滚全部迁移，历史表会被删除
func (m *Migrator) Reset(ctx context.Context) error {
	return m.run(ctx, "reset", m.m.Down)
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	if version > m.latest() {
		return fmt.Errorf("version %d does not exist, latest is %d", version, m.latest())
	}
	return m.run(ctx, "goto", func() error { return m.m.Migrate(version) })
}

// Force 只改写版本记录，不执行 SQL，用于清理 dirty 状态
func (m *Migrator) Force(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// run 执行一次迁移操作，ErrNoChange 不视为错误。
// golang-migrate 不接受 context，取消只在开始前检查。
func (m *Migrator) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	return nil
}

// Version 返回当前版本，未执行过迁移时为 0
func (m *Migrator) Version(context.Context) (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) latest() uint {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// =============================================================================
// 📋 状态
// =============================================================================

// MigrationState 单个迁移的执行状态
type MigrationState struct {
	Migration
	Applied bool
	Dirty   bool
}

// Status 迁移与历史表的整体状态
type Status struct {
	Version    uint
	Dirty      bool
	Migrations []MigrationState
	// Tables 记录每张历史表当前是否存在
	Tables map[string]bool
}

// Applied 返回已执行的迁移数
func (s *Status) Applied() int {
	n := 0
	for _, ms := range s.Migrations {
		if ms.Applied {
			n++
		}
	}
	return n
}

// Pending 返回未执行的迁移数
func (s *Status) Pending() int {
	return len(s.Migrations) - s.Applied()
}

// Ready 报告历史存储所需的表是否全部存在且版本不脏
func (s *Status) Ready() bool {
	if s.Dirty {
		return false
	}
	for _, table := range HistoryTables {
		if !s.Tables[table] {
			return false
		}
	}
	return true
}

// Status 读取版本号并探测历史表是否存在
func (m *Migrator) Status(ctx context.Context) (*Status, error) {
	version, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{Version: version, Dirty: dirty, Tables: make(map[string]bool, len(HistoryTables))}
	for _, mig := range m.migrations {
		st.Migrations = append(st.Migrations, MigrationState{
			Migration: mig,
			Applied:   mig.Version <= version,
			Dirty:     dirty && mig.Version == version,
		})
	}
	for _, table := range HistoryTables {
		st.Tables[table] = m.tableExists(ctx, table)
	}
	return st, nil
}

// tableExists 用空查询探测表，三种方言通用
func (m *Migrator) tableExists(ctx context.Context, table string) bool {
	rows, err := m.db.QueryContext(ctx, "SELECT 1 FROM "+table+" WHERE 1 = 0")
	if err != nil {
		return false
	}
	rows.Close()
	return true
}

// Close 释放 golang-migrate 实例与数据库连接
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.m.Close()
	if err := errors.Join(sourceErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}
