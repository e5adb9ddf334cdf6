package authclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authclient/authtest"
	"github.com/MrEthical07/authclient/gateway"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRequestSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRequestSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		20 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		5 * time.Second,
		30 * time.Second,
	}

	for _, d := range observations {
		m.Observe(MetricRequestLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricRequestLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatal("counters must not grow histograms")
	}
}

func TestMetricsRecordResponse(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	cases := map[gateway.Kind]MetricID{
		gateway.KindNone:         MetricRequestSuccess,
		gateway.KindRequest:      MetricRequestRejected,
		gateway.KindUnauthorized: MetricRequestUnauthorized,
		gateway.KindForbidden:    MetricRequestForbidden,
		gateway.KindServer:       MetricRequestServerError,
		gateway.KindTransport:    MetricRequestTransportError,
		gateway.KindDecode:       MetricRequestDecodeError,
	}
	for kind := range cases {
		m.RecordResponse(kind, 10*time.Millisecond)
	}

	snap := m.Snapshot()
	for kind, id := range cases {
		if snap.Counters[id] != 1 {
			t.Fatalf("kind %s: expected counter 1, got %d", kind, snap.Counters[id])
		}
	}
	if _, ok := snap.Counters[MetricRequestLatency]; ok {
		t.Fatal("latency histogram must not appear among counters")
	}
	if got := snap.Histograms[MetricRequestLatency][0]; got != uint64(len(cases)) {
		t.Fatalf("expected %d fast observations, got %d", len(cases), got)
	}
}

func TestClientMetricsTrackSession(t *testing.T) {
	env := newTestEnv(t, nil, func(cfg *Config) { cfg.Metrics.EnableLatencyHistograms = true })
	env.backend.AddUser(authtest.Account{Email: "a@b.com", Password: "secret1", Name: "aiko"})
	ctx := context.Background()

	if _, err := env.client.Login(ctx, "a@b.com", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	if _, err := env.client.Login(ctx, "a@b.com", "secret1"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	env.client.Logout(ctx)

	snap := env.client.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 1 || snap.Counters[MetricLogout] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	if snap.Counters[MetricRequestSuccess] != 1 || snap.Counters[MetricRequestRejected] != 1 {
		t.Fatalf("unexpected request counters %+v", snap.Counters)
	}
	var total uint64
	for _, v := range snap.Histograms[MetricRequestLatency] {
		total += v
	}
	if total != 2 {
		t.Fatalf("expected 2 latency samples, got %d", total)
	}
}
