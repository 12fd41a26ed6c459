// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName is the instrumentation scope used by every package in the engine.
const TracerName = "github.com/AleutianAI/ModelKeeper"

// Exporter names accepted by TracingConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig selects where spans go.
type TracingConfig struct {
	// Exporter is one of ExporterNone, ExporterStdout, ExporterOTLP.
	// Empty means none.
	Exporter string

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string

	// ServiceName is attached to every span as service.name.
	ServiceName string

	// Writer receives stdout exporter output. Defaults to os.Stderr.
	Writer io.Writer
}

// InitTracer installs a global tracer provider per cfg.
//
// # Description
//
// With ExporterNone the global no-op provider is left in place. Otherwise a
// batching provider is installed together with the W3C trace-context and
// baggage propagators.
//
// # Outputs
//
//   - func(context.Context): Flushes and shuts the provider down. Always
//     non-nil, safe to defer.
//   - error: Unknown exporter name or exporter construction failure.
func InitTracer(ctx context.Context, cfg TracingConfig) (func(context.Context), error) {
	noop := func(context.Context) {}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return noop, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return noop, fmt.Errorf("dial otlp collector: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return noop, fmt.Errorf("create otlp exporter: %w", err)
		}
		exporter = exp
	default:
		return noop, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "modelkeeper"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down tracer provider", "error", err)
		}
	}, nil
}
