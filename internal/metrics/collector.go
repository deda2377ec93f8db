package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/llm"
	"github.com/tulparlabs/agentrun/tools"
	"github.com/tulparlabs/agentrun/types"
)

// Collector registers and feeds every metric vector the service exports.
// Metrics register on the default Prometheus registry, so one process
// must not create two collectors with the same namespace.
type Collector struct {
	namespace string

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Workflow runs
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runSteps        *prometheus.HistogramVec
	runRetriesTotal *prometheus.CounterVec

	// Node executions
	nodeExecutionsTotal *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec

	// Tool invocations
	toolInvocationsTotal *prometheus.CounterVec
	toolDuration         *prometheus.HistogramVec

	// LLM provider calls
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// Records database pool
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector creates the collector and registers its metrics under the
// given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of workflow runs by terminal state",
		},
		[]string{"agent_id", "state"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent_id"},
	)

	c.runSteps = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_steps",
			Help:      "Number of node executions per run",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"agent_id"},
	)

	c.runRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_retries_total",
			Help:      "Total number of node retry attempts across runs",
		},
		[]string{"agent_id"},
	)

	c.nodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions",
		},
		[]string{"node_type", "outcome"},
	)

	c.nodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node_type"},
	)

	c.toolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool_type", "status"},
	)

	c.toolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_invocation_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool_type"},
	)

	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM provider calls",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM provider call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordRun records one terminal workflow run.
func (c *Collector) RecordRun(agentID, state string, duration time.Duration, steps, retries int) {
	c.runsTotal.WithLabelValues(agentID, state).Inc()
	c.runDuration.WithLabelValues(agentID).Observe(duration.Seconds())
	c.runSteps.WithLabelValues(agentID).Observe(float64(steps))
	if retries > 0 {
		c.runRetriesTotal.WithLabelValues(agentID).Add(float64(retries))
	}
}

// RecordNodeExecution records one node execution.
func (c *Collector) RecordNodeExecution(nodeType, outcome string, duration time.Duration) {
	c.nodeExecutionsTotal.WithLabelValues(nodeType, outcome).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordToolInvocation records one tool invocation.
func (c *Collector) RecordToolInvocation(toolType string, success bool, elapsed time.Duration) {
	c.toolInvocationsTotal.WithLabelValues(toolType, statusLabel(success)).Inc()
	c.toolDuration.WithLabelValues(toolType).Observe(elapsed.Seconds())
}

// RecordLLMRequest records one LLM provider call.
func (c *Collector) RecordLLMRequest(provider, model string, success bool, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, statusLabel(success)).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordDBConnections updates the connection-pool gauges.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RegisterRecordsDropped exposes the records writer's drop count as a
// counter sampled on scrape.
func (c *Collector) RegisterRecordsDropped(fn func() float64) {
	promauto.NewCounterFunc(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      "records_dropped_total",
		Help:      "Total number of run history records dropped by the writer",
	}, fn)
}

// RunRecorder returns an engine.Recorder that feeds the run and node
// metrics. Hang it off a MultiRecorder next to the persistent recorder.
func (c *Collector) RunRecorder() engine.Recorder {
	return runRecorder{c}
}

type runRecorder struct {
	c *Collector
}

func (r runRecorder) RecordRun(_ context.Context, result *types.RunResult) {
	if result == nil {
		return
	}
	r.c.RecordRun(result.AgentID, string(result.State), result.Duration(), result.Steps, result.Retries)
}

func (r runRecorder) RecordNode(_ context.Context, exec *engine.NodeExecution) {
	if exec == nil {
		return
	}
	r.c.RecordNodeExecution(string(exec.NodeType), string(exec.Outcome), exec.EndedAt.Sub(exec.StartedAt))
}

var _ engine.Recorder = runRecorder{}

// ToolObserver returns a tools.Observer that feeds the tool metrics.
func (c *Collector) ToolObserver() tools.Observer {
	return func(toolType types.ToolType, success bool, elapsed time.Duration) {
		c.RecordToolInvocation(string(toolType), success, elapsed)
	}
}

// LLMObserver returns an llm.Observer that feeds the provider metrics.
func (c *Collector) LLMObserver() llm.Observer {
	return func(provider, model string, success bool, elapsed time.Duration, usage llm.Usage) {
		c.RecordLLMRequest(provider, model, success, elapsed, usage.PromptTokens, usage.CompletionTokens)
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// statusClass collapses an HTTP status code to its class so the label
// stays low-cardinality.
func statusClass(code int) string {
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
