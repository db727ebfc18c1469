// 版权所有 2024 AgentGraph Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、工作流运行、
工具调用循环、推理队列与数据库连接池。

# 概述

Collector 通过 promauto.With 注册到调用方提供的 Registerer（默认为
全局 Registry），所有指标按 namespace 隔离。Collector 同时实现
workflow.MetricsRecorder、tools.MetricsRecorder 与 inference.Metrics，
可直接注入 Runner、Orchestrator 与 QueueManager。

# 主要能力

  - HTTP 指标：请求总数、耗时与响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：按 workflow_id/status 统计运行次数与耗时，
    按 node_type 统计节点执行。
  - 工具调用循环：每轮推理的终态与耗时、每个工具的调用结果与耗时。
  - 推理队列：各模型队列深度 Gauge，按引擎统计处理结果与耗时。
  - 数据库：通过 RegisterDBStats 以 GaugeFunc 暴露连接池状态。
*/
package metrics
