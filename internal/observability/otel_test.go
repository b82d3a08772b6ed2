package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tbourn/go-shortlink-backend/internal/config"
)

// keepGlobals restores the OTel globals when the test ends.
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func enabled(name string, insecure bool) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: name,
		SampleRatio: 1,
	}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Endpoint: "ignored:4317"}, "v0")
	if err != nil || shutdown == nil {
		t.Fatalf("shutdown=%v err=%v", shutdown, err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown: %v", err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatalf("disabled setup replaced the tracer provider")
	}
}

// The exporter dials lazily, so setup succeeds without a collector and even
// with a cancelled context.
func TestSetupOTel_InstallsProviderAndPropagator(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	cases := []struct {
		name string
		ctx  context.Context
		cfg  config.OTELConfig
	}{
		{"insecure", context.Background(), enabled("svc-insecure", true)},
		{"tls", context.Background(), enabled("svc-tls", false)},
		{"cancelled ctx", cancelled, enabled("svc-cancelled", true)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			keepGlobals(t)
			shutdown, err := SetupOTel(tc.ctx, tc.cfg, "v1.2.3")
			if err != nil {
				t.Fatalf("setup: %v", err)
			}
			if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
				t.Fatalf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
			}

			// A span started the way services start theirs propagates as traceparent.
			ctx, span := otel.Tracer("services/LinkService").Start(context.Background(), "Resolve")
			carrier := propagation.MapCarrier{}
			otel.GetTextMapPropagator().Inject(ctx, carrier)
			span.End()
			if carrier.Get("traceparent") == "" {
				t.Fatalf("traceparent not injected: %v", carrier)
			}

			sctx, scancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer scancel()
			_ = shutdown(sctx)
		})
	}
}

func TestSetupOTel_FailuresKeepGlobals(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	failExporter := func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("boom-exporter")
	}
	failResource := func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("boom-resource")
	}

	for name, setup := range map[string]func(){
		"exporter": func() { newOTLPExporterFn, newServiceResourceFn = failExporter, origRes },
		"resource": func() { newOTLPExporterFn, newServiceResourceFn = origExp, failResource },
	} {
		t.Run(name, func(t *testing.T) {
			keepGlobals(t)
			setup()
			tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()

			if _, err := SetupOTel(context.Background(), enabled("svc", true), "v0"); err == nil {
				t.Fatalf("expected error")
			}
			if otel.GetTracerProvider() != tp || otel.GetTextMapPropagator() != prop {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func TestSetupOTel_EmptyServiceNameUsesDefault(t *testing.T) {
	keepGlobals(t)
	orig := newServiceResourceFn
	t.Cleanup(func() { newServiceResourceFn = orig })

	var gotName, gotVersion string
	newServiceResourceFn = func(_ context.Context, serviceName, version string) (*resource.Resource, error) {
		gotName, gotVersion = serviceName, version
		return resource.Empty(), nil
	}

	cfg := enabled("", true)
	cfg.SampleRatio = 2
	shutdown, err := SetupOTel(context.Background(), cfg, "v9")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if gotName != DefaultServiceName || gotVersion != "v9" {
		t.Fatalf("resource got (%q, %q)", gotName, gotVersion)
	}
}

func TestSampleRatio_Clamped(t *testing.T) {
	for in, want := range map[float64]float64{-0.5: 0, 0: 0, 0.25: 0.25, 1: 1, 3: 1} {
		if got := sampleRatio(in); got != want {
			t.Fatalf("sampleRatio(%v) = %v; want %v", in, got, want)
		}
	}
}

func TestExporterOptions(t *testing.T) {
	if n := len(exporterOptions(config.OTELConfig{Endpoint: "x:4317", Insecure: true})); n != 2 {
		t.Fatalf("insecure options = %d; want 2", n)
	}
	if n := len(exporterOptions(config.OTELConfig{Endpoint: "x:4317"})); n != 2 {
		t.Fatalf("tls options = %d; want 2", n)
	}
}

func TestDomainCollectorsRegistered(t *testing.T) {
	for name, c := range map[string]prometheus.Collector{
		"creates":     LinksCreated,
		"exhausted":   AllocationsExhausted,
		"resolutions": Resolutions,
		"ledger":      LedgerFailures,
		"backfill":    BackfillRows,
	} {
		if err := prometheus.Register(c); err == nil {
			t.Fatalf("%s collector was not registered at init", name)
		}
	}

	before := testutil.ToFloat64(Resolutions.WithLabelValues("disabled"))
	Resolutions.WithLabelValues("disabled").Inc()
	if got := testutil.ToFloat64(Resolutions.WithLabelValues("disabled")); got != before+1 {
		t.Fatalf("resolutions{disabled} = %v; want %v", got, before+1)
	}
}
