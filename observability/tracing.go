package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goliatone/go-connectors/core"
)

const tracerName = "github.com/goliatone/go-connectors"

// Tracer opens OpenTelemetry spans for import cycles and webhook requests.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses the global tracer provider when provider is nil.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(tracerName)}
}

func (t *Tracer) Start(ctx context.Context, name string, attrs map[string]any) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, "connectors."+name, trace.WithAttributes(attributes(attrs)...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func attributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		key = "connectors." + key
		switch typed := value.(type) {
		case string:
			out = append(out, attribute.String(key, typed))
		case int:
			out = append(out, attribute.Int(key, typed))
		case int64:
			out = append(out, attribute.Int64(key, typed))
		case bool:
			out = append(out, attribute.Bool(key, typed))
		case float64:
			out = append(out, attribute.Float64(key, typed))
		default:
			out = append(out, attribute.String(key, fmt.Sprint(typed)))
		}
	}
	return out
}

var _ core.Tracer = (*Tracer)(nil)
