// 版权所有 2024 AgentGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为 SQL 运行历史存储打开 GORM 连接。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql、
纯 Go sqlite 或 CGO sqlite3），调整连接池参数后返回 Pool。
Pool 的 Ping 注册为 /ready 检查，Stats 注册为 Prometheus 指标。

# 事务

一次运行记录写入 workflow_runs 与 workflow_node_runs 两张表，
history.SQLStore 通过 Tx 在单个事务中完成；TxRetry 在死锁、
序列化冲突、SQLite busy 或断连时按指数间隔重做整个事务。
*/
package database
