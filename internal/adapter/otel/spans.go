package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "planvault"

// StartBatchSpan starts a span for one batch execution.
func StartBatchSpan(ctx context.Context, tenant, planID string, opCount int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "batch.execute",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant),
			attribute.String("plan.id", planID),
			attribute.Int("batch.operations", opCount),
		),
	)
}

// StartStageSpan starts a span for one batch stage (overlay, replay,
// commit).
func StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "batch."+stage)
}

// StartRepoSpan starts a span for a repository mutation.
func StartRepoSpan(ctx context.Context, op, planID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "repo."+op,
		trace.WithAttributes(
			attribute.String("plan.id", planID),
			attribute.String("entity.kind", kind),
		),
	)
}
