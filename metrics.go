package authclient

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authclient/gateway"
)

// MetricID identifies a session counter or histogram.
type MetricID uint16

const (
	MetricInitializeRestored MetricID = iota
	MetricInitializeAnonymous
	MetricInitializeFailed
	// MetricInitializeExpiredDiscarded counts persisted JWTs dropped locally as expired.
	MetricInitializeExpiredDiscarded
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRejectedInFlight
	MetricRegisterSuccess
	MetricRegisterFailure
	MetricLogout
	MetricForcedLogout
	MetricProfileUpdateSuccess
	MetricProfileUpdateFailure
	MetricRequestSuccess
	MetricRequestRejected
	MetricRequestUnauthorized
	MetricRequestForbidden
	MetricRequestServerError
	MetricRequestTransportError
	MetricRequestDecodeError
	MetricCredentialStoreError
	// MetricRequestLatency is the only histogram.
	MetricRequestLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters and the request latency histogram.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy. Histogram buckets are not cumulative.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricRequestLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// RecordResponse counts one gateway outcome and observes its latency.
func (m *Metrics) RecordResponse(kind gateway.Kind, elapsed time.Duration) {
	if m == nil || !m.enabled {
		return
	}
	switch kind {
	case gateway.KindNone:
		m.Inc(MetricRequestSuccess)
	case gateway.KindRequest:
		m.Inc(MetricRequestRejected)
	case gateway.KindUnauthorized:
		m.Inc(MetricRequestUnauthorized)
	case gateway.KindForbidden:
		m.Inc(MetricRequestForbidden)
	case gateway.KindServer:
		m.Inc(MetricRequestServerError)
	case gateway.KindTransport:
		m.Inc(MetricRequestTransportError)
	case gateway.KindDecode:
		m.Inc(MetricRequestDecodeError)
	}
	m.Observe(MetricRequestLatency, elapsed)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricRequestLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricRequestLatency].buckets[i])
		}
		s.Histograms[MetricRequestLatency] = buckets
	}

	return s
}

// bucketIndex maps a latency to buckets of 50ms, 100ms, 250ms, 500ms, 1s, 2.5s, 5s
// and +Inf. Backend calls are slower than in-process work, so the bounds are wider
// than a server-side histogram would use.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 50:
		return 0
	case ms <= 100:
		return 1
	case ms <= 250:
		return 2
	case ms <= 500:
		return 3
	case ms <= 1000:
		return 4
	case ms <= 2500:
		return 5
	case ms <= 5000:
		return 6
	default:
		return 7
	}
}
