// Package telemetry sets up OpenTelemetry tracing for the bot.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

type ShutdownFunc func()

// NewTracerProvider returns a tracer provider exporting spans over OTLP/HTTP
// to endpoint (for example "http://collector:4318"). An empty endpoint yields
// a provider that records nothing. authToken, when set, is sent as a bearer
// token.
func NewTracerProvider(ctx context.Context, endpoint, authToken, serviceName, version string) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	if endpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		return tp, shutdown(tp), nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error parsing otlp endpoint")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, errors.Newf("otlp endpoint must be an http(s) url, got %q", endpoint)
	}
	u.Path = "/v1/traces"

	res, err := resource.New(
		ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, nil, errors.Wrap(err, "error creating resource")
	}

	headers := make(map[string]string)
	if authToken != "" {
		headers["Authorization"] = "Bearer " + authToken
	}
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpointURL(u.String()),
		otlptracehttp.WithHeaders(headers),
		otlptracehttp.WithTimeout(10 * time.Second),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "error creating trace exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return tp, shutdown(tp), nil
}

func shutdown(tp *sdktrace.TracerProvider) ShutdownFunc {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			fmt.Printf("error shutting down tracer provider: %s\n", err)
		}
	}
}
