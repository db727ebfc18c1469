// Copyright (c) AgentGraph Authors.
// Licensed under the MIT License.

/*
Package workflow 提供基于节点图的 Agent 工作流执行引擎。

# 概述

一个工作流（Graph）由带类型的节点（Node）和连接输出句柄与输入句柄的边（Edge）
组成。Runner 先对图做拓扑排序，再按顺序逐个执行节点；每个节点的输入
由上游节点写入执行上下文的值解析而来，节点执行器按类型从注册表中查找。

# 核心接口与类型

  - Graph / Node / Edge    — 工作流定义，兼容 react-flow 的 JSON 结构
  - Order                  — 确定性的 DFS 拓扑排序，检测环（CycleError）
  - ExecutionContext       — 单次运行的值存储、运行标志与已执行节点列表
  - NodeValues / OutputSlot — 以 (节点, 句柄) 为键的输出槽
  - ResolveInputs          — 按入边解析节点输入（句柄优先、裸值回退、工具集拼接）
  - ExecutorRegistry       — 节点类型 → NodeExecutor 的可扩展注册表
  - WorkflowScheduler      — 按工作流 ID 跟踪活动运行，支持协作式取消
  - Runner                 — ExecuteWorkflow / CancelWorkflow / IsWorkflowRunning

# 主要能力

  - 取消：在节点边界检查运行标志，正在执行的节点不会被中断
  - 输出反射：javascript 节点的 out-string / out-toolset 规则，以及
    OutputReflector 声明式扩展
  - 序列化：Graph 支持 JSON / YAML 导入导出与校验
  - 运行历史：HistoryRecorder 记录运行与逐节点报告
  - 可观测性：zap 日志、OpenTelemetry span、MetricsRecorder 指标
*/
package workflow
