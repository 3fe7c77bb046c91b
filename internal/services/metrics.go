package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ConnectionCounter reports the number of live connections
type ConnectionCounter interface {
	Count() int
}

// CounterFunc adapts a function to ConnectionCounter
type CounterFunc func() int

// Count calls f
func (f CounterFunc) Count() int { return f() }

// Metrics holds all custom Prometheus metrics for the gateway.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ConnectionAttempts *prometheus.CounterVec
	SandboxRejections  *prometheus.CounterVec

	// Tool execution metrics
	ToolExecutions       *prometheus.CounterVec
	ToolExecutionLatency prometheus.Histogram

	// Launcher link
	LauncherAttached prometheus.Gauge
	LauncherRequests *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics registers the gateway metrics with reg
func InitMetrics(reg prometheus.Registerer, connections ConnectionCounter) *Metrics {
	factory := promauto.With(reg)

	metrics := &Metrics{
		// Connect attempts by transport and outcome
		ConnectionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_connection_attempts_total",
			Help: "Total number of tool server connect attempts",
		}, []string{"transport", "outcome"}), // outcome: "connected" or "failed"

		SandboxRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_sandbox_rejections_total",
			Help: "Total number of launches refused by the sandbox, by reason code",
		}, []string{"code"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_tool_executions_total",
			Help: "Total number of tool executions by outcome",
		}, []string{"outcome"}),

		ToolExecutionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mcp_gateway_tool_execution_duration_seconds",
			Help:    "Tool execution latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		LauncherAttached: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_gateway_launcher_attached",
			Help: "1 while a launcher is attached",
		}),

		LauncherRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_gateway_launcher_requests_total",
			Help: "Total number of requests sent to the launcher by action and outcome",
		}, []string{"action", "outcome"}),
	}

	// Live connection count straight from the connection manager
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mcp_gateway_connections_current",
			Help: "Current number of connected tool servers",
		},
		func() float64 {
			if connections != nil {
				return float64(connections.Count())
			}
			return 0
		},
	)

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordConnectionAttempt records the outcome of a connect
func (m *Metrics) RecordConnectionAttempt(transport string, ok bool) {
	if m == nil {
		return
	}
	m.ConnectionAttempts.WithLabelValues(transport, outcomeLabel(ok, "connected")).Inc()
}

// RecordSandboxRejection records a launch refused by the sandbox
func (m *Metrics) RecordSandboxRejection(code string) {
	if m == nil {
		return
	}
	m.SandboxRejections.WithLabelValues(code).Inc()
}

// RecordToolExecution records one executed tool call
func (m *Metrics) RecordToolExecution(ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(outcomeLabel(ok, "success")).Inc()
	m.ToolExecutionLatency.Observe(seconds)
}

// RecordLauncherAttached records the launcher link going up or down
func (m *Metrics) RecordLauncherAttached(attached bool) {
	if m == nil {
		return
	}
	if attached {
		m.LauncherAttached.Set(1)
	} else {
		m.LauncherAttached.Set(0)
	}
}

// RecordLauncherRequest records one request round trip to the launcher
func (m *Metrics) RecordLauncherRequest(action string, ok bool) {
	if m == nil {
		return
	}
	m.LauncherRequests.WithLabelValues(action, outcomeLabel(ok, "success")).Inc()
}

func outcomeLabel(ok bool, success string) string {
	if ok {
		return success
	}
	return "failed"
}
