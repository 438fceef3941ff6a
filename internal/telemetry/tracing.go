/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the orchestration
// engine.
//
// Spans follow the OTel GenAI semantic conventions where applicable:
//   - gen_ai.system — the LLM provider
//   - gen_ai.request.model — the model name
//   - gen_ai.usage.input_tokens — tokens consumed
//   - gen_ai.usage.output_tokens — tokens generated
//
// Custom span attributes use the `swarm1.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "swarm1.dev/engine"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC
// exporter. If endpoint is empty, tracing is disabled (a noop provider is
// left in place). Returns a shutdown function that must be called on
// application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // always plaintext; this option takes precedence over OTEL_EXPORTER_OTLP_INSECURE
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("swarm1-engine"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartRunSpan creates the parent span for a graph run.
func StartRunSpan(ctx context.Context, runID, tenant string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "graphrun.run",
		trace.WithAttributes(
			attribute.String("swarm1.run_id", runID),
			attribute.String("swarm1.tenant", tenant),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartNodeSpan creates a child span for a single graph node's execution.
func StartNodeSpan(ctx context.Context, runID, node, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "graphrun.node",
		trace.WithAttributes(
			attribute.String("swarm1.run_id", runID),
			attribute.String("swarm1.node", node),
			attribute.String("swarm1.node_kind", kind),
		),
	)
}

// EndNodeSpan enriches the node span with its terminal status.
func EndNodeSpan(span trace.Span, status string, attempt int) {
	span.SetAttributes(
		attribute.String("swarm1.node_status", status),
		attribute.Int("swarm1.attempt", attempt),
	)
	span.End()
}

// StartPlanToolsSpan creates a span around a single capability router
// PlanTools call.
func StartPlanToolsSpan(ctx context.Context, capability string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "router.plan_tools",
		trace.WithAttributes(
			attribute.String("swarm1.capability", capability),
		),
	)
}

// EndPlanToolsSpan enriches the router span with the decision outcome.
func EndPlanToolsSpan(span trace.Span, tool string, allowed bool, reason string) {
	span.SetAttributes(
		attribute.String("swarm1.selected_tool", tool),
		attribute.Bool("swarm1.allowed", allowed),
	)
	if !allowed {
		span.SetAttributes(attribute.String("swarm1.deny_reason", reason))
	}
	span.End()
}

// StartLLMCallSpan creates a child span for an LLM call, following GenAI conventions.
func StartLLMCallSpan(ctx context.Context, model, provider string, iteration int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "gen_ai.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.String("gen_ai.request.model", model),
			attribute.Int("swarm1.iteration", iteration),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndLLMCallSpan enriches the LLM span with usage data.
func EndLLMCallSpan(span trace.Span, inputTokens, outputTokens int64, hasToolCalls bool) {
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int64("gen_ai.usage.output_tokens", outputTokens),
		attribute.Bool("swarm1.has_tool_calls", hasToolCalls),
	)
	span.End()
}

// StartCvfSpan creates a span around an evidence-gate check run.
func StartCvfSpan(ctx context.Context, runID, auv string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "cvf.check",
		trace.WithAttributes(
			attribute.String("swarm1.run_id", runID),
			attribute.String("swarm1.auv", auv),
		),
	)
}

// EndCvfSpan enriches the CVF span with its pass/fail outcome.
func EndCvfSpan(span trace.Span, passed bool, failedDomain string) {
	span.SetAttributes(attribute.Bool("swarm1.cvf_passed", passed))
	if !passed {
		span.SetAttributes(attribute.String("swarm1.cvf_failed_domain", failedDomain))
	}
	span.End()
}
