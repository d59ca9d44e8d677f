package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "codeforge"

// Metrics holds every metric instrument codeforge-sessiond emits.
type Metrics struct {
	SessionsSpawned      metric.Int64Counter
	SessionsClaimed      metric.Int64Counter
	SessionsDestroyed    metric.Int64Counter
	ContainerTransitions metric.Int64Counter
	ReconcileTicks       metric.Int64Counter
	ProxyRequests        metric.Int64Counter
	PortAllocFailures    metric.Int64Counter
	ReconcileDuration    metric.Float64Histogram
}

// NewMetrics creates every metric instrument.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.SessionsSpawned, err = meter.Int64Counter("codeforge.sessions.spawned",
		metric.WithDescription("Sessions spawned"))
	if err != nil {
		return nil, err
	}

	m.SessionsClaimed, err = meter.Int64Counter("codeforge.sessions.claimed",
		metric.WithDescription("Pooled sessions claimed"))
	if err != nil {
		return nil, err
	}

	m.SessionsDestroyed, err = meter.Int64Counter("codeforge.sessions.destroyed",
		metric.WithDescription("Sessions destroyed"))
	if err != nil {
		return nil, err
	}

	m.ContainerTransitions, err = meter.Int64Counter("codeforge.containers.transitions",
		metric.WithDescription("Container status transitions observed from the sandbox provider"))
	if err != nil {
		return nil, err
	}

	m.ReconcileTicks, err = meter.Int64Counter("codeforge.browser.reconcile_ticks",
		metric.WithDescription("Browser orchestrator reconciliation ticks"))
	if err != nil {
		return nil, err
	}

	m.ProxyRequests, err = meter.Int64Counter("codeforge.proxy.requests",
		metric.WithDescription("Requests forwarded by the subdomain proxy router"))
	if err != nil {
		return nil, err
	}

	m.PortAllocFailures, err = meter.Int64Counter("codeforge.ports.alloc_failures",
		metric.WithDescription("Port allocation attempts that found no free port in range"))
	if err != nil {
		return nil, err
	}

	m.ReconcileDuration, err = meter.Float64Histogram("codeforge.browser.reconcile_duration_seconds",
		metric.WithDescription("Wall time of one browser session's reconciliation pass"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
