package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric is one recorded storage operation.
type Metric struct {
	Operation string        `json:"operation"`
	Provider  string        `json:"provider"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	FileSize  int64         `json:"fileSize,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Config represents metrics configuration
type Config struct {
	Capacity  int    `yaml:"capacity"`
	Namespace string `yaml:"namespace"`
}

// Collector keeps a bounded in-memory ring of operation samples and mirrors
// them into a Prometheus registry. Record never blocks callers on anything
// but the mutex; when the ring is full the oldest sample is evicted.
type Collector struct {
	mu       sync.RWMutex
	capacity int
	samples  []Metric
	start    int
	count    int

	startTime time.Time
	registry  *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config) *Collector {
	if config == nil {
		config = &Config{}
	}
	capacity := config.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = "cloudgate"
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		capacity:  capacity,
		samples:   make([]Metric, capacity),
		startTime: time.Now(),
		registry:  registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total storage operations by provider and outcome",
		}, []string{"operation", "provider", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"operation", "provider"}),
		operationSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_size_bytes",
			Help:      "File sizes moved per operation",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"operation", "provider"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed storage operations",
		}, []string{"operation", "provider"}),
	}

	registry.MustRegister(c.operationCounter, c.operationDuration,
		c.operationSize, c.errorCounter)

	return c
}

// Record stores one sample. It never returns an error; metrics collection
// must not fail a storage operation.
func (c *Collector) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	status := "success"
	if !m.Success {
		status = "failure"
		c.errorCounter.WithLabelValues(m.Operation, m.Provider).Inc()
	}
	c.operationCounter.WithLabelValues(m.Operation, m.Provider, status).Inc()
	c.operationDuration.WithLabelValues(m.Operation, m.Provider).Observe(m.Duration.Seconds())
	if m.FileSize > 0 {
		c.operationSize.WithLabelValues(m.Operation, m.Provider).Observe(float64(m.FileSize))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count < c.capacity {
		c.samples[(c.start+c.count)%c.capacity] = m
		c.count++
		return
	}
	c.samples[c.start] = m
	c.start = (c.start + 1) % c.capacity
}

// Registry exposes the Prometheus registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Uptime reports how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// snapshot returns a copy of all samples newer than cutoff, oldest first.
func (c *Collector) snapshot(cutoff time.Time) []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Metric, 0, c.count)
	for i := 0; i < c.count; i++ {
		m := c.samples[(c.start+i)%c.capacity]
		if m.Timestamp.After(cutoff) {
			out = append(out, m)
		}
	}
	return out
}
