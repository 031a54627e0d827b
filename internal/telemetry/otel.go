// Package telemetry manages OpenTelemetry tracing for the gateway.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Provider manages OpenTelemetry tracing.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a telemetry provider. When tracing is disabled or no
// exporter is configured, the provider hands out no-op spans.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aegis"
	}
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("OTLP exporter initialized", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		slog.Info("stdout trace exporter initialized")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		config:   cfg,
		tracer:   tp.Tracer(cfg.ServiceName),
		provider: tp,
	}, nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// Tracer returns the tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes and stops the trace provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled reports whether spans are exported anywhere.
func (p *Provider) Enabled() bool {
	return p.config.Enabled && p.provider != nil
}

// Span attributes.
const (
	AttrRequestID     = "aegis.request.id"
	AttrSessionID     = "aegis.session.id"
	AttrEndpoint      = "aegis.endpoint"
	AttrBlocked       = "aegis.blocked"
	AttrRiskScore     = "aegis.risk.score"
	AttrThreatTypes   = "aegis.threat.types"
	AttrProvider      = "aegis.llm.provider"
	AttrModel         = "aegis.llm.model"
	AttrRequestMethod = "http.request.method"
	AttrRequestPath   = "url.path"
	AttrResponseCode  = "http.response.status_code"
)

// StartRequestSpan starts a span for an inbound API request.
func (p *Provider) StartRequestSpan(ctx context.Context, requestID, method, path string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "gateway.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrRequestID, requestID),
			attribute.String(AttrRequestMethod, method),
			attribute.String(AttrRequestPath, path),
		),
	)
}

// EndRequestSpan closes a request span with the response outcome.
func (p *Provider) EndRequestSpan(span trace.Span, statusCode int, err error) {
	span.SetAttributes(attribute.Int(AttrResponseCode, statusCode))
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// RecordDecision annotates the active span with an inspection decision.
func (p *Provider) RecordDecision(ctx context.Context, endpoint, sessionID string, blocked bool, riskScore float64, threatTypes []string) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("inspection.decision",
		trace.WithAttributes(
			attribute.String(AttrEndpoint, endpoint),
			attribute.String(AttrSessionID, sessionID),
			attribute.Bool(AttrBlocked, blocked),
			attribute.Float64(AttrRiskScore, riskScore),
			attribute.StringSlice(AttrThreatTypes, threatTypes),
		),
	)
}

// StartStageSpan starts a child span for one inspection stage.
func (p *Provider) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "inspect."+stage, trace.WithSpanKind(trace.SpanKindInternal))
}

// NoopProvider returns a provider that exports nothing (for testing).
func NoopProvider() *Provider {
	return &Provider{
		config: Config{Enabled: false},
		tracer: otel.Tracer("aegis-noop"),
	}
}
