// Package tracing wires the broker into an OTLP collector so a permission
// change or workflow mutation can be followed from the application tier's
// ingress call through the socket fanout.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// collectorTLSConfig builds the TLS settings for the collector connection.
// insecureSkipVerify is an explicit opt-in for local collectors with
// self-signed certificates; the minimum TLS version holds either way.
func collectorTLSConfig(insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}
}

// InitTracer connects to the OTLP collector at collectorAddr, installs the
// global tracer provider and propagators, and returns the provider so main
// can flush buffered spans on shutdown. insecureSkipVerify arrives from the
// validated environment configuration.
func InitTracer(ctx context.Context, serviceName, collectorAddr string, insecureSkipVerify bool) (*sdktrace.TracerProvider, error) {
	creds := credentials.NewTLS(collectorTLSConfig(insecureSkipVerify))
	conn, err := grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client to collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Ingress requests carry W3C traceparent headers from the application
	// tier; baggage carries its correlation id alongside.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
