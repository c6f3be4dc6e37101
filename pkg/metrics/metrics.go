// Package metrics provides Prometheus-compatible metrics for synvm
// interpreter monitoring.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType defines the type of a metric.
type MetricType string

const (
	// TypeCounter is a monotonically increasing counter.
	TypeCounter MetricType = "counter"
	// TypeGauge is a value that can go up and down.
	TypeGauge MetricType = "gauge"
	// TypeHistogram is a histogram with configurable buckets.
	TypeHistogram MetricType = "histogram"
)

// Counter is a thread-safe counter metric.
type Counter struct {
	name  string
	help  string
	value atomic.Uint64
}

// NewCounter creates a new counter metric.
func NewCounter(name, help string) *Counter {
	return &Counter{
		name: name,
		help: help,
	}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(delta uint64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Name returns the metric name.
func (c *Counter) Name() string {
	return c.name
}

// Help returns the metric help text.
func (c *Counter) Help() string {
	return c.help
}

// Type returns the metric type.
func (c *Counter) Type() MetricType {
	return TypeCounter
}

// Gauge is a thread-safe gauge metric.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

// NewGauge creates a new gauge metric.
func NewGauge(name, help string) *Gauge {
	return &Gauge{
		name: name,
		help: help,
	}
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(value int64) {
	g.value.Store(value)
}

// SetUint64 sets the gauge to the given unsigned value.
func (g *Gauge) SetUint64(value uint64) {
	g.value.Store(int64(value))
}

// SetFloat64 sets the gauge to the given float value (stored as int64).
func (g *Gauge) SetFloat64(value float64) {
	g.value.Store(int64(value))
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(delta int64) {
	g.value.Add(delta)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Name returns the metric name.
func (g *Gauge) Name() string {
	return g.name
}

// Help returns the metric help text.
func (g *Gauge) Help() string {
	return g.help
}

// Type returns the metric type.
func (g *Gauge) Type() MetricType {
	return TypeGauge
}

// Histogram is a thread-safe histogram metric.
type Histogram struct {
	mu      sync.RWMutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// DefaultHistogramBuckets are the default buckets for histograms.
var DefaultHistogramBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}

// NewHistogram creates a new histogram metric with the given buckets.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	if len(buckets) == 0 {
		buckets = DefaultHistogramBuckets
	}
	// Sort buckets
	sortedBuckets := make([]float64, len(buckets))
	copy(sortedBuckets, buckets)
	sort.Float64s(sortedBuckets)

	return &Histogram{
		name:    name,
		help:    help,
		buckets: sortedBuckets,
		counts:  make([]uint64, len(sortedBuckets)),
	}
}

// Observe records a value in the histogram. Each value lands in the
// first bucket whose upper bound covers it; exposition accumulates the
// buckets into the cumulative form Prometheus expects.
func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += value
	h.count++

	for i, bucket := range h.buckets {
		if value <= bucket {
			h.counts[i]++
			break
		}
	}
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Name returns the metric name.
func (h *Histogram) Name() string {
	return h.name
}

// Help returns the metric help text.
func (h *Histogram) Help() string {
	return h.help
}

// Type returns the metric type.
func (h *Histogram) Type() MetricType {
	return TypeHistogram
}

// Snapshot returns a snapshot of the histogram.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := HistogramSnapshot{
		Buckets: make([]HistogramBucket, len(h.buckets)),
		Sum:     h.sum,
		Count:   h.count,
	}

	for i, bucket := range h.buckets {
		snap.Buckets[i] = HistogramBucket{
			UpperBound: bucket,
			Count:      h.counts[i],
		}
	}

	return snap
}

// HistogramSnapshot is a point-in-time snapshot of a histogram.
type HistogramSnapshot struct {
	Buckets []HistogramBucket
	Sum     float64
	Count   uint64
}

// HistogramBucket represents a single bucket in a histogram.
type HistogramBucket struct {
	UpperBound float64
	Count      uint64
}

// Metric is the interface for all metrics.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
}

// Metrics holds all metrics for the synvm interpreter host.
type Metrics struct {
	mu      sync.RWMutex
	metrics map[string]Metric

	// Counters
	Instructions *Counter
	OutputChars  *Counter
	InputChars   *Counter
	InputLines   *Counter
	Faults       *Counter

	// Gauges
	StackDepth   *Gauge
	ProgramWords *Gauge
	CurrentPC    *Gauge
	MemoryBytes  *Gauge
	Goroutines   *Gauge

	// Histograms
	InputWaitDuration *Histogram
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics() *Metrics {
	m := &Metrics{
		metrics: make(map[string]Metric),

		// Counters
		Instructions: NewCounter("synvm_instructions_total", "Total number of instructions executed"),
		OutputChars:  NewCounter("synvm_output_chars_total", "Total number of characters written to the terminal"),
		InputChars:   NewCounter("synvm_input_chars_total", "Total number of input characters consumed"),
		InputLines:   NewCounter("synvm_input_lines_total", "Total number of lines read from the terminal"),
		Faults:       NewCounter("synvm_faults_total", "Total number of fatal interpreter faults"),

		// Gauges
		StackDepth:   NewGauge("synvm_stack_depth", "Current depth of the machine stack"),
		ProgramWords: NewGauge("synvm_program_words", "Number of words in the loaded program image"),
		CurrentPC:    NewGauge("synvm_current_pc", "Most recently sampled instruction pointer"),
		MemoryBytes:  NewGauge("synvm_memory_bytes", "Host memory usage in bytes"),
		Goroutines:   NewGauge("synvm_goroutines", "Number of active goroutines"),

		// Histograms
		InputWaitDuration: NewHistogram(
			"synvm_input_wait_seconds",
			"Time spent blocked waiting for terminal input in seconds",
			[]float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
		),
	}

	// Register all metrics
	m.register(m.Instructions)
	m.register(m.OutputChars)
	m.register(m.InputChars)
	m.register(m.InputLines)
	m.register(m.Faults)
	m.register(m.StackDepth)
	m.register(m.ProgramWords)
	m.register(m.CurrentPC)
	m.register(m.MemoryBytes)
	m.register(m.Goroutines)
	m.register(m.InputWaitDuration)

	return m
}

// register adds a metric to the internal registry.
func (m *Metrics) register(metric Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics[metric.Name()] = metric
}

// Get returns a metric by name.
func (m *Metrics) Get(name string) Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics[name]
}

// All returns all registered metrics.
func (m *Metrics) All() map[string]Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]Metric, len(m.metrics))
	for k, v := range m.metrics {
		result[k] = v
	}
	return result
}

// Format formats all metrics in Prometheus text format.
func (m *Metrics) Format() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sb strings.Builder

	// Sort metric names for consistent output
	names := make([]string, 0, len(m.metrics))
	for name := range m.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		metric := m.metrics[name]
		sb.WriteString(formatMetric(metric))
		sb.WriteString("\n")
	}

	return sb.String()
}

// formatMetric formats a single metric in Prometheus text format.
func formatMetric(metric Metric) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", metric.Name(), metric.Help()))
	sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", metric.Name(), metric.Type()))

	switch m := metric.(type) {
	case *Counter:
		sb.WriteString(fmt.Sprintf("%s %d\n", m.Name(), m.Value()))
	case *Gauge:
		sb.WriteString(fmt.Sprintf("%s %d\n", m.Name(), m.Value()))
	case *Histogram:
		snap := m.Snapshot()
		cumulative := uint64(0)
		for _, bucket := range snap.Buckets {
			cumulative += bucket.Count
			sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%.3f\"} %d\n", m.Name(), bucket.UpperBound, cumulative))
		}
		sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", m.Name(), snap.Count))
		sb.WriteString(fmt.Sprintf("%s_sum %.6f\n", m.Name(), snap.Sum))
		sb.WriteString(fmt.Sprintf("%s_count %d\n", m.Name(), snap.Count))
	}

	return sb.String()
}

// RecordProgress records an execution progress sample. The step delta is
// added to the instruction counter; the instruction pointer and stack
// depth replace the previous sample.
func (m *Metrics) RecordProgress(stepDelta uint64, pc uint16, stackDepth int) {
	m.Instructions.Add(stepDelta)
	m.CurrentPC.Set(int64(pc))
	m.StackDepth.Set(int64(stackDepth))
}

// RecordOutput records one character written to the terminal.
func (m *Metrics) RecordOutput() {
	m.OutputChars.Inc()
}

// RecordInputLine records a line read from the terminal and the time the
// machine spent blocked waiting for it.
func (m *Metrics) RecordInputLine(chars int, wait time.Duration) {
	m.InputLines.Inc()
	m.InputChars.Add(uint64(chars))
	m.InputWaitDuration.ObserveDuration(wait)
}

// RecordFault records a fatal interpreter fault.
func (m *Metrics) RecordFault() {
	m.Faults.Inc()
}

// SetProgramSize records the size of the loaded program image.
func (m *Metrics) SetProgramSize(words int) {
	m.ProgramWords.Set(int64(words))
}

// Global default metrics instance.
var defaultMetrics *Metrics
var defaultMetricsOnce sync.Once

// DefaultMetrics returns the global default metrics instance.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}
