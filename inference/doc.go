// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package inference 提供按模型排队的推理执行层，实现 llm.Backend。

# 概述

[QueueManager] 为每个模型 ID 懒创建一个有界队列（默认容量 100）和一个
大小为 max_concurrent_requests 的信号量。每个请求在独立 goroutine 中
持有一个许可执行，流式分片与终止响应通过 llm.Hub 发布。

# 引擎

  - openai / openai_compatible / openrouter / anthropic — [OpenAICompatEngine]，
    按模型类型调用 /chat/completions 或 /completions，支持 SSE 流式与工具调用
  - echo — [EchoEngine]，确定性的本地引擎，用于测试与离线演示

未知引擎以 "unsupported inference engine" 错误响应结束。
*/
package inference
