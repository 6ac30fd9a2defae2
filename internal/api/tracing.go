package api

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/repair-gin/internal/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	tracerMu       sync.Mutex
	tracerProvider *tracesdk.TracerProvider
)

// InitTracing 初始化 OpenTelemetry 追踪,通过 OTLP/HTTP 导出
// endpoint 形如 http://collector:4318 或 collector:4318
func InitTracing(cfg config.TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}
	opts := []otlptracehttp.Option{}
	endpoint := cfg.Endpoint
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		opts = append(opts, otlptracehttp.WithInsecure())
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}
	if endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(strings.TrimRight(endpoint, "/")))
	}

	exp, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName(cfg)),
	)

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp, tracesdk.WithExportTimeout(5*time.Second)),
		tracesdk.WithResource(res),
	)

	tracerMu.Lock()
	tracerProvider = tp
	tracerMu.Unlock()

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	return "repair-gin"
}

// TracingMiddleware 追踪中间件
func TracingMiddleware(cfg config.TracingConfig) gin.HandlerFunc {
	return otelgin.Middleware(serviceName(cfg))
}

// ShutdownTracing 关闭追踪,刷新未导出的 span
func ShutdownTracing(ctx context.Context) error {
	tracerMu.Lock()
	tp := tracerProvider
	tracerProvider = nil
	tracerMu.Unlock()
	if tp != nil {
		return tp.Shutdown(ctx)
	}
	return nil
}
