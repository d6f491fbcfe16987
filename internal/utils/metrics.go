// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector holds named counters, gauges and histograms
type MetricsCollector struct {
	counters   map[string]*atomic.Int64
	gauges     map[string]*atomic.Int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*atomic.Int64),
		gauges:     make(map[string]*atomic.Int64),
		histograms: make(map[string]*Histogram),
	}
}

// value returns the named slot, creating it under the write lock on first use
func (m *MetricsCollector) value(set map[string]*atomic.Int64, name string) *atomic.Int64 {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = new(atomic.Int64)
		set[name] = v
	}
	return v
}

func (m *MetricsCollector) load(set map[string]*atomic.Int64, name string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := set[name]; ok {
		return v.Load()
	}
	return 0
}

// IncrementCounter increments a counter
func (m *MetricsCollector) IncrementCounter(name string) {
	m.value(m.counters, name).Add(1)
}

// AddCounter adds value to a counter
func (m *MetricsCollector) AddCounter(name string, value int64) {
	m.value(m.counters, name).Add(value)
}

// GetCounterValue returns the current counter value
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	return m.load(m.counters, name)
}

// SetGauge sets a gauge
func (m *MetricsCollector) SetGauge(name string, value int64) {
	m.value(m.gauges, name).Store(value)
}

// IncGauge increments a gauge
func (m *MetricsCollector) IncGauge(name string) {
	m.value(m.gauges, name).Add(1)
}

// DecGauge decrements a gauge
func (m *MetricsCollector) DecGauge(name string) {
	m.value(m.gauges, name).Add(-1)
}

// GetGauge returns the current gauge value
func (m *MetricsCollector) GetGauge(name string) int64 {
	return m.load(m.gauges, name)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = v.Load()
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = v.Load()
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// APIMetrics records request, reorder and store metrics
type APIMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewAPIMetrics creates a new API metrics instance
func NewAPIMetrics() *APIMetrics {
	return NewAPIMetricsWith(GetMetricsCollector(), GetLogger())
}

// NewAPIMetricsWith uses the given collector and logger
func NewAPIMetricsWith(m *MetricsCollector, l *Logger) *APIMetrics {
	return &APIMetrics{metrics: m, logger: l}
}

// Collector returns the underlying collector
func (am *APIMetrics) Collector() *MetricsCollector {
	return am.metrics
}

// RecordAPIRequest records metrics for an API request
func (am *APIMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api_requests_total")
	am.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	am.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	am.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")

	am.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordReorder records the outcome of one drop: succeeded, rejected, failed, noop
func (am *APIMetrics) RecordReorder(outcome string, duration time.Duration) {
	am.metrics.IncrementCounter("reorder_total")
	am.metrics.IncrementCounter("reorder_" + outcome)
	if outcome == "succeeded" || outcome == "failed" {
		am.metrics.RecordHistogram("reorder_persist_ms", duration.Milliseconds())
	}
}

// RecordStoreWrite records a store write and whether it failed
func (am *APIMetrics) RecordStoreWrite(op string, err error) {
	am.metrics.IncrementCounter("store_writes_" + op)
	if err != nil {
		am.metrics.IncrementCounter("store_write_failures_" + op)
	}
}

// TrackWebSocket adjusts the open connection gauge
func (am *APIMetrics) TrackWebSocket(delta int) {
	if delta > 0 {
		am.metrics.IncGauge("websocket_connections")
		am.metrics.IncrementCounter("websocket_connections_total")
		return
	}
	am.metrics.DecGauge("websocket_connections")
}

// RecordError records an error metric
func (am *APIMetrics) RecordError(errorType, component string) {
	am.metrics.IncrementCounter("errors_total")
	am.metrics.IncrementCounter("errors_" + errorType)
	am.metrics.IncrementCounter("errors_" + component)

	am.logger.Warn("Error recorded", map[string]interface{}{
		"type":      errorType,
		"component": component,
	})
}

// StartMetricsCollection periodically logs a metrics summary until ctx is done
func (am *APIMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				am.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": am.metrics.GetMetrics(),
				})
			}
		}
	}()
}
