package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SWARM_TRACING_ENABLED", "TRUE")
	t.Setenv("SWARM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SWARM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SWARM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.Endpoint != "collector:4317" {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.ServiceName != "swarm-simulator" {
		t.Fatalf("ratio/service = %v/%s", cfg.SampleRatio, cfg.ServiceName)
	}
}

func TestTracingConfigIgnoresBadRatio(t *testing.T) {
	t.Setenv("SWARM_TRACING_SAMPLE_RATIO", "3")
	if cfg := TracingConfigFromEnv(); cfg.SampleRatio != 1 {
		t.Fatalf("ratio = %v, want 1", cfg.SampleRatio)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "round")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a sampled span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "swarm-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Writer:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "simulation.round")
	span.End()
	ShutdownWithTimeout(context.Background(), shutdown, nil)

	if !strings.Contains(buf.String(), "simulation.round") {
		t.Fatalf("exported spans missing round span: %s", buf.String())
	}
}

func TestInitTracingUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
