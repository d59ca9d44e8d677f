package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codeforge"

// StartSpawnSpan starts a span covering one session spawn, from cluster
// network creation through the first RegisterCluster call.
func StartSpawnSpan(ctx context.Context, sessionID, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.spawn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("project.id", projectID),
		),
	)
}

// StartDestroySpan starts a span covering one session's teardown.
func StartDestroySpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session.destroy",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// StartReconcileSpan starts a span for one browser orchestrator
// reconciliation pass over a single session.
func StartReconcileSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "browser.reconcile",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// StartProxySpan starts a span for one request forwarded by the subdomain
// proxy router.
func StartProxySpan(ctx context.Context, sessionID string, port int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "proxy.forward",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("container.port", port),
		),
	)
}
