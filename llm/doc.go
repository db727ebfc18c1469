// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package llm 定义工作流引擎与推理后端之间的契约。

# 概述

推理是异步的：调用方通过 [Backend] 提交一个 [InferenceRequest]，得到请求 ID；
后端随后把流式分片与唯一的终止响应（completed / error / cancelled）发布到
[Hub]，由订阅了该请求 ID 的调用方接收。

# 核心类型

  - [InferenceRequest]  — 对话消息、系统提示词、参数、工具定义与流式开关
  - [ModelSpec]         — 模型 ID、类型（chat / completion）、并发上限与引擎
  - [InferenceResponse] — 按请求 ID 路由的状态事件
  - [Backend]           — Submit / Cancel
  - [Hub]               — 以请求 ID 为键的响应分发中心

工具调用循环见子包 tools，token 计数见子包 tokenizer。
*/
package llm
