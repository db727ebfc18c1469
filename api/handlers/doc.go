// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 AgentGraph HTTP API 的请求处理器实现。

# 概述

handlers 包实现工作流执行、取消、状态查询、运行历史、令牌计数
与健康检查端点，以及统一的响应/错误处理。所有 Handler 均遵循标准
net/http 接口，路由使用 Go 1.22 的方法与路径模式。

# 核心类型

  - WorkflowHandler  — 同步执行、取消、状态与 WebSocket 进度流
  - HistoryHandler   — 运行历史列表与单次运行查询
  - TokenHandler     — 按模型族统计令牌数
  - HealthHandler    — 存活与就绪检查（/health, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与大小

# 错误映射

WorkflowError 将运行错误转换为 types.Error：依赖环映射为 WORKFLOW_CYCLE，
节点失败为 NODE_FAILED，工具错误为 TOOL_FAILED，推理超时/取消与
最大迭代分别映射为 INFERENCE_TIMEOUT、INFERENCE_CANCELLED、MAX_ITERATIONS。
*/
package handlers
