// Package observability adapts the connector metrics and tracing hooks to
// Prometheus and OpenTelemetry.
package observability

import (
	"context"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-connectors/core"
)

// Labels carried by every connector metric. Tags outside this set are
// dropped; missing tags are exported as empty labels.
var metricLabels = []string{"operation", "status", "process_id", "point_kind", "outcome", "error_code"}

// PrometheusRecorder exports observer counters and histograms. Metric
// vectors are created on first use; dotted names become underscores.
type PrometheusRecorder struct {
	registerer prometheus.Registerer
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusRecorder(registerer prometheus.Registerer) *PrometheusRecorder {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PrometheusRecorder{
		registerer: registerer,
		buckets:    []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

func (r *PrometheusRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter := r.counter(metricName(name))
	if counter == nil {
		return
	}
	counter.With(labels(tags)).Add(float64(value))
}

func (r *PrometheusRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram := r.histogram(metricName(name))
	if histogram == nil {
		return
	}
	histogram.With(labels(tags)).Observe(value)
}

func (r *PrometheusRecorder) counter(name string) *prometheus.CounterVec {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name,
		Help: "Connector counter " + name + ".",
	}, metricLabels)
	vec = registerOrReuse(r.registerer, vec)
	r.counters[name] = vec
	return vec
}

func (r *PrometheusRecorder) histogram(name string) *prometheus.HistogramVec {
	if name == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Connector histogram " + name + ".",
		Buckets: r.buckets,
	}, metricLabels)
	vec = registerOrReuse(r.registerer, vec)
	r.histograms[name] = vec
	return vec
}

func registerOrReuse[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	if err := registerer.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return collector
}

func labels(tags map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(metricLabels))
	for _, label := range metricLabels {
		out[label] = strings.TrimSpace(tags[label])
	}
	return out
}

func metricName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	b.Grow(len(name))
	for index, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && index > 0:
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)
