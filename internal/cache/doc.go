// 版权所有 2024 AgentGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的文档存储管理能力，支持连接池、健康检查、
JSON 序列化与有序集合索引。

# 概述

本包封装 go-redis 客户端，为运行历史等上层存储提供统一的读写接口。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与键前缀，
    提供 GetJSON/MGetJSON/SetJSONIndexed 文档读写，
    以及 IndexNewest/IndexBelow/Unindex 有序集合索引操作。
  - Config：缓存配置，包含地址、密码、键前缀、连接池大小与健康检查间隔。

# 主要能力

  - 原子写入：文档与索引在同一 MULTI/EXEC 事务中更新。
  - 过期控制：文档可设置 TTL，索引中残留的过期成员由调用方清理。
  - 健康检查：后台定时 Ping 检测，Close 时停止。
  - 错误语义：提供 ErrCacheMiss 与 ErrClosed 哨兵错误。
*/
package cache
