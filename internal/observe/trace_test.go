package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs redirects the default logger into a builder for the test.
func captureLogs(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationIDEmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationIDIsHexTraceID(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "probe")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID length = %d, want 32", len(cid))
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q contains non-hex characters", cid)
	}
}

func TestStartSpanRecordsSpan(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "restart-devices")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not produce a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if spans[0].Name != "restart-devices" {
		t.Errorf("span name = %q, want restart-devices", spans[0].Name)
	}
}

func TestCorrelationIDUniquePerSpan(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	seen := make(map[string]struct{}, 100)
	for range 100 {
		ctx, span := tracer.Start(context.Background(), "unique")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := seen[cid]; dup {
			t.Fatalf("duplicate correlation ID: %s", cid)
		}
		seen[cid] = struct{}{}
	}
}

func TestLoggerCarriesTraceFields(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "log-probe")
	defer span.End()

	Logger(ctx).Info("hello")

	logged := buf.String()
	if !strings.Contains(logged, "trace_id=") || !strings.Contains(logged, "span_id=") {
		t.Errorf("log output missing trace fields: %s", logged)
	}
}

func TestLoggerWithoutSpanHasNoTraceFields(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("hello")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log output should not contain trace_id: %s", buf.String())
	}
}

func TestTracerReturnsValidTracer(t *testing.T) {
	tr := Tracer()
	if tr == nil {
		t.Fatal("Tracer() returned nil")
	}
	_ = trace.Tracer(tr)
}
