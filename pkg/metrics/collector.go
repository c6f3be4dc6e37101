package metrics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is an interface for metrics collectors.
type Collector interface {
	// Collect collects metrics.
	Collect()
	// Start starts the collector.
	Start(ctx context.Context)
	// Stop stops the collector.
	Stop()
}

// RuntimeCollector collects Go runtime statistics.
type RuntimeCollector struct {
	mu       sync.RWMutex
	metrics  *Metrics
	interval time.Duration
	running  atomic.Bool
	stopCh   chan struct{}

	// Additional runtime metrics
	HeapAlloc     *Gauge
	HeapInuse     *Gauge
	HeapObjects   *Gauge
	StackInuse    *Gauge
	GCPauseNs     *Gauge
	NumGC         *Gauge
	NumForcedGC   *Gauge
	GCCPUFraction *Gauge
	LastGCPauseNs *Gauge
}

// NewRuntimeCollector creates a new runtime collector.
func NewRuntimeCollector(m *Metrics, interval time.Duration) *RuntimeCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	rc := &RuntimeCollector{
		metrics:  m,
		interval: interval,
		stopCh:   make(chan struct{}),

		HeapAlloc:     NewGauge("synvm_runtime_heap_alloc_bytes", "Heap allocation in bytes"),
		HeapInuse:     NewGauge("synvm_runtime_heap_inuse_bytes", "Heap in use in bytes"),
		HeapObjects:   NewGauge("synvm_runtime_heap_objects", "Number of allocated heap objects"),
		StackInuse:    NewGauge("synvm_runtime_stack_inuse_bytes", "Stack in use in bytes"),
		GCPauseNs:     NewGauge("synvm_runtime_gc_pause_total_ns", "Total GC pause time in nanoseconds"),
		NumGC:         NewGauge("synvm_runtime_gc_completed_cycles", "Number of completed GC cycles"),
		NumForcedGC:   NewGauge("synvm_runtime_gc_forced_cycles", "Number of forced GC cycles"),
		GCCPUFraction: NewGauge("synvm_runtime_gc_cpu_fraction", "Fraction of CPU time used by GC (scaled by 1e6)"),
		LastGCPauseNs: NewGauge("synvm_runtime_gc_last_pause_ns", "Last GC pause duration in nanoseconds"),
	}

	return rc
}

// Collect collects runtime metrics.
func (rc *RuntimeCollector) Collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	// Update core metrics
	if rc.metrics != nil {
		rc.metrics.MemoryBytes.SetUint64(memStats.Alloc)
		rc.metrics.Goroutines.SetUint64(uint64(runtime.NumGoroutine()))
	}

	// Update additional metrics
	rc.HeapAlloc.SetUint64(memStats.HeapAlloc)
	rc.HeapInuse.SetUint64(memStats.HeapInuse)
	rc.HeapObjects.SetUint64(memStats.HeapObjects)
	rc.StackInuse.SetUint64(memStats.StackInuse)
	rc.GCPauseNs.SetUint64(memStats.PauseTotalNs)
	rc.NumGC.SetUint64(uint64(memStats.NumGC))
	rc.NumForcedGC.SetUint64(uint64(memStats.NumForcedGC))
	// Scale GCCPUFraction by 1e6 for better precision in int64
	rc.GCCPUFraction.SetFloat64(memStats.GCCPUFraction * 1e6)

	// Get last GC pause time
	if memStats.NumGC > 0 {
		lastPauseIdx := (memStats.NumGC + 255) % 256
		rc.LastGCPauseNs.SetUint64(memStats.PauseNs[lastPauseIdx])
	}
}

// Start starts periodic collection.
func (rc *RuntimeCollector) Start(ctx context.Context) {
	if rc.running.Swap(true) {
		return // Already running
	}

	go func() {
		ticker := time.NewTicker(rc.interval)
		defer ticker.Stop()

		// Collect immediately
		rc.Collect()

		for {
			select {
			case <-ctx.Done():
				rc.running.Store(false)
				return
			case <-rc.stopCh:
				rc.running.Store(false)
				return
			case <-ticker.C:
				rc.Collect()
			}
		}
	}()
}

// Stop stops the collector.
func (rc *RuntimeCollector) Stop() {
	if rc.running.Load() {
		close(rc.stopCh)
	}
}

// AdditionalMetrics returns additional runtime metrics for registration.
func (rc *RuntimeCollector) AdditionalMetrics() []Metric {
	return []Metric{
		rc.HeapAlloc,
		rc.HeapInuse,
		rc.HeapObjects,
		rc.StackInuse,
		rc.GCPauseNs,
		rc.NumGC,
		rc.NumForcedGC,
		rc.GCCPUFraction,
		rc.LastGCPauseNs,
	}
}

// VMStatsProvider supplies live interpreter state for periodic sampling.
// The vm.VM accessors satisfy it directly.
type VMStatsProvider interface {
	// GetStepCount returns the number of instructions executed so far.
	GetStepCount() uint64
	// GetPC returns the current instruction pointer.
	GetPC() uint16
	// GetStackDepth returns the current stack depth.
	GetStackDepth() int
}

// VMCollector samples interpreter progress from a running machine.
type VMCollector struct {
	mu       sync.RWMutex
	metrics  *Metrics
	provider VMStatsProvider
	interval time.Duration
	running  atomic.Bool
	stopCh   chan struct{}

	lastSteps uint64
}

// NewVMCollector creates a new interpreter progress collector.
func NewVMCollector(m *Metrics, provider VMStatsProvider, interval time.Duration) *VMCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &VMCollector{
		metrics:  m,
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Collect samples the interpreter and updates the progress metrics. The
// instruction counter advances by the step delta since the last sample.
func (vc *VMCollector) Collect() {
	vc.mu.Lock()
	defer vc.mu.Unlock()

	if vc.provider == nil || vc.metrics == nil {
		return
	}

	steps := vc.provider.GetStepCount()
	var delta uint64
	if steps > vc.lastSteps {
		delta = steps - vc.lastSteps
	}
	vc.lastSteps = steps

	vc.metrics.RecordProgress(delta, vc.provider.GetPC(), vc.provider.GetStackDepth())
}

// Start starts periodic collection.
func (vc *VMCollector) Start(ctx context.Context) {
	if vc.running.Swap(true) {
		return // Already running
	}

	go func() {
		ticker := time.NewTicker(vc.interval)
		defer ticker.Stop()

		// Collect immediately
		vc.Collect()

		for {
			select {
			case <-ctx.Done():
				vc.running.Store(false)
				return
			case <-vc.stopCh:
				vc.running.Store(false)
				return
			case <-ticker.C:
				vc.Collect()
			}
		}
	}()
}

// Stop stops the collector.
func (vc *VMCollector) Stop() {
	if vc.running.Load() {
		close(vc.stopCh)
	}
}

// SetProvider sets the interpreter stats provider.
func (vc *VMCollector) SetProvider(provider VMStatsProvider) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.provider = provider
}

// CollectorManager manages multiple collectors.
type CollectorManager struct {
	mu         sync.RWMutex
	collectors []Collector
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
}

// NewCollectorManager creates a new collector manager.
func NewCollectorManager() *CollectorManager {
	return &CollectorManager{
		collectors: make([]Collector, 0),
	}
}

// Add adds a collector to the manager.
func (cm *CollectorManager) Add(c Collector) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.collectors = append(cm.collectors, c)
}

// Start starts all collectors.
func (cm *CollectorManager) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.running {
		return
	}

	cm.ctx, cm.cancel = context.WithCancel(context.Background())
	cm.running = true

	for _, c := range cm.collectors {
		c.Start(cm.ctx)
	}
}

// Stop stops all collectors.
func (cm *CollectorManager) Stop() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.running {
		return
	}

	cm.cancel()
	cm.running = false

	for _, c := range cm.collectors {
		c.Stop()
	}
}

// CollectAll triggers collection on all collectors.
func (cm *CollectorManager) CollectAll() {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, c := range cm.collectors {
		c.Collect()
	}
}
