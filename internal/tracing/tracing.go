// Package tracing wraps otel/sdk and the stdout exporter and provides
// span helpers for a team-builder pass and a recruitment RPC. The
// builder and the recruiter do not call these helpers, so those
// operations are not traced.
package tracing

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Init builds a TracerProvider that writes spans to w (os.Stdout in
// production, io.Discard in tests) and registers it as the global
// provider, returning a shutdown func.
func Init(w io.Writer, serviceName string) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the named tracer off the global provider.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }

// StartBuildPass wraps one team-builder pass in a span.
func StartBuildPass(ctx context.Context, region string) (context.Context, trace.Span) {
	return Tracer("teamcollection/team").Start(ctx, "team.Builder.Build",
		trace.WithAttributes())
}

// StartRecruitment wraps one recruitment RPC in a span.
func StartRecruitment(ctx context.Context, addr string) (context.Context, trace.Span) {
	return Tracer("teamcollection/recruit").Start(ctx, "recruit.InitializeStorage")
}
