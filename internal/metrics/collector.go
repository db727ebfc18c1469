// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/inference"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/tools"
	"github.com/BaSui01/agentgraph/workflow"
)

var (
	_ workflow.MetricsRecorder = (*Collector)(nil)
	_ tools.MetricsRecorder    = (*Collector)(nil)
	_ inference.Metrics        = (*Collector)(nil)
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 工作流指标
	workflowRunsTotal   *prometheus.CounterVec
	workflowRunDuration *prometheus.HistogramVec
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec

	// 工具调用循环指标
	inferenceRoundsTotal   *prometheus.CounterVec
	inferenceRoundDuration *prometheus.HistogramVec
	toolCallsTotal         *prometheus.CounterVec
	toolCallDuration       *prometheus.HistogramVec

	// 推理队列指标
	queueDepth            *prometheus.GaugeVec
	engineRequestsTotal   *prometheus.CounterVec
	engineRequestDuration *prometheus.HistogramVec

	namespace  string
	registerer prometheus.Registerer
	logger     *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		namespace:  namespace,
		registerer: reg,
		logger:     logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 工作流指标
	c.workflowRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs by final status",
		},
		[]string{"workflow_id", "status"},
	)

	c.workflowRunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow_id"},
	)

	c.nodeExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_node_executions_total",
			Help:      "Total number of node executions",
		},
		[]string{"node_type", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"node_type"},
	)

	// 工具调用循环指标
	c.inferenceRoundsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_rounds_total",
			Help:      "Total number of inference rounds in the tool-calling loop",
		},
		[]string{"model", "status"},
	)

	c.inferenceRoundDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_round_duration_seconds",
			Help:      "Time from submitting an inference to its terminal response",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"model"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// 推理队列指标
	c.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inference_queue_depth",
			Help:      "Number of requests waiting in a model queue",
		},
		[]string{"model"},
	)

	c.engineRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_engine_requests_total",
			Help:      "Total number of requests processed by inference engines",
		},
		[]string{"engine", "status"},
	)

	c.engineRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_engine_request_duration_seconds",
			Help:      "Inference engine request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"engine"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordWorkflowRun 记录一次工作流运行的最终状态
func (c *Collector) RecordWorkflowRun(workflowID string, status workflow.RunStatus, duration time.Duration) {
	c.workflowRunsTotal.WithLabelValues(workflowID, string(status)).Inc()
	c.workflowRunDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

// RecordNodeExecution 记录节点执行
func (c *Collector) RecordNodeExecution(nodeType workflow.NodeType, success bool, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(string(nodeType), outcome(success)).Inc()
	c.nodeDuration.WithLabelValues(string(nodeType)).Observe(duration.Seconds())
}

// =============================================================================
// 🛠️ 工具调用循环指标记录
// =============================================================================

// RecordInferenceRound 记录一轮推理
func (c *Collector) RecordInferenceRound(modelID string, status llm.Status, duration time.Duration) {
	c.inferenceRoundsTotal.WithLabelValues(modelID, string(status)).Inc()
	c.inferenceRoundDuration.WithLabelValues(modelID).Observe(duration.Seconds())
}

// RecordToolCall 记录工具调用
func (c *Collector) RecordToolCall(tool string, success bool, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, outcome(success)).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// =============================================================================
// 📥 推理队列指标记录
// =============================================================================

// SetQueueDepth 设置模型队列深度
func (c *Collector) SetQueueDepth(modelID string, depth int) {
	c.queueDepth.WithLabelValues(modelID).Set(float64(depth))
}

// RecordInference 记录推理引擎处理的请求
func (c *Collector) RecordInference(engine string, status llm.Status, duration time.Duration) {
	c.engineRequestsTotal.WithLabelValues(engine, string(status)).Inc()
	c.engineRequestDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 数据库指标
// =============================================================================

// RegisterDBStats 注册数据库连接池指标，在采集时读取 stats
func (c *Collector) RegisterDBStats(database string, stats func() sql.DBStats) error {
	labels := prometheus.Labels{"database": database}
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        "db_connections_open",
			Help:        "Number of open database connections",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().OpenConnections) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        "db_connections_idle",
			Help:        "Number of idle database connections",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Idle) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   c.namespace,
			Name:        "db_connections_in_use",
			Help:        "Number of database connections in use",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().InUse) }),
	}
	for _, g := range gauges {
		if err := c.registerer.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
