package mqttv3

import (
	"cmp"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryMetrics keeps metrics in process memory. It backs tests and the
// statistics printed by the command line client.
type MemoryMetrics struct {
	mu      sync.Mutex
	metrics map[string]*memoryMetric
}

// NewMemoryMetrics creates an empty collector.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{metrics: make(map[string]*memoryMetric)}
}

// MetricSample is a point-in-time reading of one metric.
type MetricSample struct {
	Name   string
	Labels MetricLabels
	Type   MetricType

	// Value is the counter or gauge value, or the histogram sum.
	Value float64

	// Count is the number of histogram observations.
	Count uint64
}

// String formats the sample as name{k=v,...} value.
func (s MetricSample) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if len(s.Labels) > 0 {
		b.WriteByte('{')
		for i, k := range slices.Sorted(maps.Keys(s.Labels)) {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k + "=" + s.Labels[k])
		}
		b.WriteByte('}')
	}
	return b.String()
}

func metricKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}
	return MetricSample{Name: name, Labels: labels}.String()
}

func (m *MemoryMetrics) metric(name string, labels MetricLabels, typ MetricType) *memoryMetric {
	key := metricKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.metrics[key]; ok && v.typ == typ {
		return v
	}

	v := &memoryMetric{name: name, labels: maps.Clone(labels), typ: typ}
	m.metrics[key] = v
	return v
}

func (m *MemoryMetrics) lookup(name string, labels MetricLabels, typ MetricType) *memoryMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.metrics[metricKey(name, labels)]; ok && v.typ == typ {
		return v
	}
	return nil
}

// Counter returns the counter for name and labels, creating it on first use.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	return (*memoryCounter)(m.metric(name, labels, MetricTypeCounter))
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	return (*memoryGauge)(m.metric(name, labels, MetricTypeGauge))
}

// Histogram returns the histogram for name and labels, creating it on first use.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	return (*memoryHistogram)(m.metric(name, labels, MetricTypeHistogram))
}

// GetCounter returns an existing counter, or nil when none was created.
func (m *MemoryMetrics) GetCounter(name string, labels MetricLabels) Counter {
	if v := m.lookup(name, labels, MetricTypeCounter); v != nil {
		return (*memoryCounter)(v)
	}
	return nil
}

// GetGauge returns an existing gauge, or nil when none was created.
func (m *MemoryMetrics) GetGauge(name string, labels MetricLabels) Gauge {
	if v := m.lookup(name, labels, MetricTypeGauge); v != nil {
		return (*memoryGauge)(v)
	}
	return nil
}

// GetHistogram returns an existing histogram, or nil when none was created.
func (m *MemoryMetrics) GetHistogram(name string, labels MetricLabels) Histogram {
	if v := m.lookup(name, labels, MetricTypeHistogram); v != nil {
		return (*memoryHistogram)(v)
	}
	return nil
}

// Snapshot returns every metric ordered by name and labels.
func (m *MemoryMetrics) Snapshot() []MetricSample {
	m.mu.Lock()
	samples := make([]MetricSample, 0, len(m.metrics))
	for _, v := range m.metrics {
		samples = append(samples, MetricSample{
			Name:   v.name,
			Labels: maps.Clone(v.labels),
			Type:   v.typ,
			Value:  v.value.load(),
			Count:  v.count.Load(),
		})
	}
	m.mu.Unlock()

	slices.SortFunc(samples, func(a, b MetricSample) int {
		return cmp.Compare(a.String(), b.String())
	})
	return samples
}

// atomicFloat is a float64 updated with compare-and-swap.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64 { return math.Float64frombits(f.bits.Load()) }

func (f *atomicFloat) store(v float64) { f.bits.Store(math.Float64bits(v)) }

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type memoryMetric struct {
	name   string
	labels MetricLabels
	typ    MetricType
	value  atomicFloat
	count  atomic.Uint64
}

type memoryCounter memoryMetric

func (c *memoryCounter) Inc() { c.Add(1) }

// Add ignores negative deltas; counters only go up.
func (c *memoryCounter) Add(delta float64) {
	if delta > 0 {
		c.value.add(delta)
	}
}

func (c *memoryCounter) Value() float64 { return c.value.load() }

type memoryGauge memoryMetric

func (g *memoryGauge) Set(value float64) { g.value.store(value) }
func (g *memoryGauge) Inc()              { g.value.add(1) }
func (g *memoryGauge) Dec()              { g.value.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.value.add(delta) }
func (g *memoryGauge) Sub(delta float64) { g.value.add(-delta) }
func (g *memoryGauge) Value() float64    { return g.value.load() }

type memoryHistogram memoryMetric

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.value.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }
func (h *memoryHistogram) Count() uint64                   { return h.count.Load() }
func (h *memoryHistogram) Sum() float64                    { return h.value.load() }
