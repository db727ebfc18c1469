// 版权所有 2024 AgentGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理运行历史表（workflow_runs 与 workflow_node_runs）的
Schema 版本，基于 golang-migrate，支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌。Migrations 列出某方言的
迁移清单以及每个版本创建的表；Migrator 负责 Up/Down/Reset/Goto/Force，
Status 除版本号外还会探测历史表是否真实存在，Ready 为 true 时
SQL 历史存储可以直接使用。

# 构造

  - Open / FromURL / FromDatabaseConfig：按连接串打开连接。
  - New：复用已打开的 *sql.DB，例如纯 Go 的 sqlite 驱动。

Console 将上述操作的结果格式化输出，供 agentgraph migrate 子命令使用。
*/
package migration
