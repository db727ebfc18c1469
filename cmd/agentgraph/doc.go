// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentGraph 服务端程序入口。

# 概述

cmd/agentgraph 是工作流引擎的可执行入口，提供 HTTP API、WebSocket
流式执行、数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件
与环境变量加载、结构化日志（zap）、Prometheus 指标和 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器，装配历史存储、推理队列、工作流运行器与 HTTP 路由
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、Metrics、CORS、Auth（API Key / JWT）、RateLimiter
  - 历史后端：memory、sql、redis、mongo，可逗号分隔同时写入多个
  - Metrics：独立端口暴露 /metrics，metrics_port 为 0 时挂在主服务上
  - 优雅关闭：信号 → 关闭 HTTP/Metrics → 停止后台任务 → 关闭队列与存储 → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
