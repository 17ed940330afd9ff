// Package metrics wraps a prometheus registry behind a small named-metric API.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and updates metrics by name. Metric names are prefixed
// with the collector namespace once: name "x" in namespace "lila" is exported
// as lila_x. Register* return the metric vector; children are created by the
// caller or by the Add/Observe/Set methods with label values.
type Collector interface {
	RegisterCounter(ctx context.Context, name string, labels ...string) (*prometheus.CounterVec, error)
	AddCounter(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterCounter(ctx context.Context, name string, labels ...string) error

	RegisterHistogram(ctx context.Context, name string, labels ...string) (*prometheus.HistogramVec, error)
	ObserveHistogram(ctx context.Context, name string, value float64, labelValues ...string) error
	AddHistogram(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterHistogram(ctx context.Context, name string, labels ...string) error

	RegisterGauge(ctx context.Context, name string, labels ...string) (*prometheus.GaugeVec, error)
	SetGauge(ctx context.Context, name string, value float64, labelValues ...string) error
	UnregisterGauge(ctx context.Context, name string, labels ...string) error

	// MeasureFunctionExecutionTime starts a timer; calling the returned func records the elapsed time.
	MeasureFunctionExecutionTime(ctx context.Context, function string) (func(), error)
	// MetricsHandler serves the registry in the prometheus text format.
	MetricsHandler() http.Handler
}

type contextKey string

const collectorKey contextKey = "metrics"

// functionBuckets are the buckets of the function duration histogram, in seconds.
var functionBuckets = []float64{0.25, 0.5, 1}

type prometheusCollector struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	namespace  string
	mu         sync.Mutex
}

// New creates a collector with its own registry, including the Go and process collectors.
func New(namespace string) Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &prometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		namespace:  namespace,
	}
}

// WithMetrics returns a context carrying a new collector for namespace.
func WithMetrics(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, collectorKey, New(namespace))
}

// FromContext returns the collector stored in ctx, or a new one for namespace.
func FromContext(ctx context.Context, namespace string) Collector {
	if c, ok := ctx.Value(collectorKey).(Collector); ok {
		return c
	}
	return New(namespace)
}

func (c *prometheusCollector) key(name string) string {
	return c.namespace + "_" + name
}

func (c *prometheusCollector) RegisterCounter(_ context.Context, name string, labels ...string) (*prometheus.CounterVec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	if _, ok := c.counters[key]; ok {
		return nil, fmt.Errorf("counter '%s' already registered", key)
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: key,
		Help: "Counter for " + key,
	}, labels)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register counter '%s': %w", key, err)
	}
	c.counters[key] = vec
	return vec, nil
}

func (c *prometheusCollector) AddCounter(_ context.Context, name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	vec, ok := c.counters[key]
	if !ok {
		return fmt.Errorf("counter '%s' not found", key)
	}
	counter, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("counter '%s': %w", key, err)
	}
	counter.Add(value)
	return nil
}

func (c *prometheusCollector) UnregisterCounter(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	if vec, ok := c.counters[key]; ok {
		c.registry.Unregister(vec)
		delete(c.counters, key)
	}
	return nil
}

func (c *prometheusCollector) RegisterHistogram(_ context.Context, name string, labels ...string) (*prometheus.HistogramVec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	return c.registerHistogram(key, prometheus.HistogramOpts{
		Name:    key,
		Help:    "Histogram for " + key,
		Buckets: prometheus.DefBuckets,
	}, labels)
}

// registerHistogram must be called with c.mu held.
func (c *prometheusCollector) registerHistogram(key string, opts prometheus.HistogramOpts, labels []string) (*prometheus.HistogramVec, error) {
	if _, ok := c.histograms[key]; ok {
		return nil, fmt.Errorf("histogram '%s' already registered", key)
	}
	vec := prometheus.NewHistogramVec(opts, labels)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register histogram '%s': %w", key, err)
	}
	c.histograms[key] = vec
	return vec, nil
}

func (c *prometheusCollector) ObserveHistogram(_ context.Context, name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	vec, ok := c.histograms[key]
	if !ok {
		return fmt.Errorf("histogram '%s' not found", key)
	}
	observer, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("histogram '%s': %w", key, err)
	}
	observer.Observe(value)
	return nil
}

// AddHistogram is ObserveHistogram.
func (c *prometheusCollector) AddHistogram(ctx context.Context, name string, value float64, labelValues ...string) error {
	return c.ObserveHistogram(ctx, name, value, labelValues...)
}

func (c *prometheusCollector) UnregisterHistogram(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	if vec, ok := c.histograms[key]; ok {
		c.registry.Unregister(vec)
		delete(c.histograms, key)
	}
	return nil
}

func (c *prometheusCollector) RegisterGauge(_ context.Context, name string, labels ...string) (*prometheus.GaugeVec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	if _, ok := c.gauges[key]; ok {
		return nil, fmt.Errorf("gauge '%s' already registered", key)
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: key,
		Help: "Gauge for " + key,
	}, labels)
	if err := c.registry.Register(vec); err != nil {
		return nil, fmt.Errorf("failed to register gauge '%s': %w", key, err)
	}
	c.gauges[key] = vec
	return vec, nil
}

func (c *prometheusCollector) SetGauge(_ context.Context, name string, value float64, labelValues ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	vec, ok := c.gauges[key]
	if !ok {
		return fmt.Errorf("gauge '%s' not found", key)
	}
	gauge, err := vec.GetMetricWithLabelValues(labelValues...)
	if err != nil {
		return fmt.Errorf("gauge '%s': %w", key, err)
	}
	gauge.Set(value)
	return nil
}

func (c *prometheusCollector) UnregisterGauge(_ context.Context, name string, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name)
	if vec, ok := c.gauges[key]; ok {
		c.registry.Unregister(vec)
		delete(c.gauges, key)
	}
	return nil
}

func (c *prometheusCollector) MeasureFunctionExecutionTime(_ context.Context, function string) (func(), error) {
	c.mu.Lock()
	key := c.key("function_duration_seconds")
	vec, ok := c.histograms[key]
	if !ok {
		var err error
		vec, err = c.registerHistogram(key, prometheus.HistogramOpts{
			Name:    key,
			Help:    "Time spent executing functions.",
			Buckets: functionBuckets,
		}, []string{"function"})
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	c.mu.Unlock()

	observer := vec.WithLabelValues(function)
	start := time.Now()
	return func() {
		observer.Observe(time.Since(start).Seconds())
	}, nil
}

func (c *prometheusCollector) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
