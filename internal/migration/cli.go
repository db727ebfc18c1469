package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Console 把 Migrator 的操作结果写成终端输出，供 agentgraph migrate 使用
type Console struct {
	migrator *Migrator
	out      io.Writer
}

// NewConsole 创建输出到 stdout 的 Console
func NewConsole(m *Migrator) *Console {
	return &Console{migrator: m, out: os.Stdout}
}

// SetOutput 替换输出目标
func (c *Console) SetOutput(w io.Writer) {
	c.out = w
}

// Up 应用全部迁移并报告历史表是否就绪
func (c *Console) Up(ctx context.Context) error {
	fmt.Fprintf(c.out, "Migrating run history schema (%s)...\n", c.migrator.Dialect())
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.summary(ctx)
}

// Down 回滚最近一个迁移，all 为 true 时回滚全部
func (c *Console) Down(ctx context.Context, all bool) error {
	if all {
		fmt.Fprintln(c.out, "Dropping run history tables...")
		if err := c.migrator.Reset(ctx); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(c.out, "Rolling back last migration...")
		if err := c.migrator.Down(ctx); err != nil {
			return err
		}
	}
	return c.summary(ctx)
}

// Goto 迁移到指定版本
func (c *Console) Goto(ctx context.Context, version uint) error {
	fmt.Fprintf(c.out, "Migrating to version %d...\n", version)
	if err := c.migrator.Goto(ctx, version); err != nil {
		return err
	}
	return c.summary(ctx)
}

// Force 改写版本记录
func (c *Console) Force(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

// Version 输出当前版本
func (c *Console) Version(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.out, "Current version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

// Status 输出每个迁移的状态和历史表探测结果
func (c *Console) Status(ctx context.Context) error {
	st, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tTABLES\tSTATE")
	for _, ms := range st.Migrations {
		state := "pending"
		switch {
		case ms.Dirty:
			state = "dirty"
		case ms.Applied:
			state = "applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", ms.Version, ms.Name, strings.Join(ms.Tables, ","), state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	fmt.Fprintf(c.out, "Schema version %d%s: %d of %d applied, %d pending\n",
		st.Version, dirtySuffix(st.Dirty), st.Applied(), len(st.Migrations), st.Pending())
	c.writeTables(st)
	return nil
}

// summary 操作完成后输出版本与历史表状态
func (c *Console) summary(ctx context.Context) error {
	st, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Current version: %d%s\n", st.Version, dirtySuffix(st.Dirty))
	c.writeTables(st)
	return nil
}

func (c *Console) writeTables(st *Status) {
	parts := make([]string, 0, len(HistoryTables))
	for _, table := range HistoryTables {
		state := "missing"
		if st.Tables[table] {
			state = "present"
		}
		parts = append(parts, table+" "+state)
	}
	verdict := "not ready"
	if st.Ready() {
		verdict = "ready"
	}
	fmt.Fprintf(c.out, "History tables: %s (%s)\n", strings.Join(parts, ", "), verdict)
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
