package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on each collection. *authclient.Client satisfies it.
type Source interface {
	MetricsSnapshot() authclient.MetricsSnapshot
	EventStats() authclient.EventStats
	State() authclient.State
}

type counterInstrument struct {
	id authclient.MetricID
	ic metric.Int64ObservableCounter
}

// latencyInstrument reports one histogram as cumulative bucket gauges sharing a name,
// distinguished by the le attribute.
type latencyInstrument struct {
	id      authclient.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	le      [8]metric.MeasurementOption
}

type OTelExporter struct {
	source       Source
	registration metric.Registration

	counters []counterInstrument
	latency  []latencyInstrument

	authenticated metric.Int64ObservableGauge
	pending       metric.Int64ObservableGauge
	delivered     metric.Int64ObservableCounter
	dropped       metric.Int64ObservableCounter
	panicked      metric.Int64ObservableCounter
}

// NewOTelExporter registers observable instruments that read the client's metrics,
// session state and event stats on every collection. Close unregisters them.
func NewOTelExporter(meter metric.Meter, client *authclient.Client) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, client)
}

func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ic, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, ic: ic})
		observables = append(observables, ic)
	}

	for _, def := range internaldefs.HistogramDefs {
		li := latencyInstrument{id: def.ID}
		var err error
		li.buckets, err = meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{request}"))
		if err != nil {
			return nil, fmt.Errorf("create bucket gauge %s: %w", def.Name, err)
		}
		li.count, err = meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{request}"))
		if err != nil {
			return nil, fmt.Errorf("create count gauge %s: %w", def.Name, err)
		}
		for i, bound := range internaldefs.HistogramBounds {
			li.le[i] = metric.WithAttributes(attribute.String("le", bound))
		}
		e.latency = append(e.latency, li)
		observables = append(observables, li.buckets, li.count)
	}

	var err error
	if e.authenticated, err = meter.Int64ObservableGauge("authclient_session_authenticated",
		metric.WithDescription("1 while a user and credential are held, else 0.")); err != nil {
		return nil, fmt.Errorf("create authenticated gauge: %w", err)
	}
	if e.pending, err = meter.Int64ObservableGauge("authclient_login_pending",
		metric.WithDescription("1 while a login or registration is in flight, else 0.")); err != nil {
		return nil, fmt.Errorf("create pending gauge: %w", err)
	}
	if e.delivered, err = meter.Int64ObservableCounter("authclient_events_delivered_total",
		metric.WithDescription("Session events handed to the sink.")); err != nil {
		return nil, fmt.Errorf("create events delivered counter: %w", err)
	}
	if e.dropped, err = meter.Int64ObservableCounter("authclient_events_dropped_total",
		metric.WithDescription("Session events dropped due to dispatcher backpressure.")); err != nil {
		return nil, fmt.Errorf("create events dropped counter: %w", err)
	}
	if e.panicked, err = meter.Int64ObservableCounter("authclient_events_panicked_total",
		metric.WithDescription("Session events lost to a panicking sink.")); err != nil {
		return nil, fmt.Errorf("create events panicked counter: %w", err)
	}
	observables = append(observables, e.authenticated, e.pending, e.delivered, e.dropped, e.panicked)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.ic, int64(snapshot.Counters[c.id]))
	}
	for _, li := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[li.id]))
		for i, v := range cumulative {
			o.ObserveInt64(li.buckets, int64(v), li.le[i])
		}
		o.ObserveInt64(li.count, int64(cumulative[len(cumulative)-1]))
	}

	st := e.source.State()
	o.ObserveInt64(e.authenticated, boolGauge(st.Authenticated()))
	o.ObserveInt64(e.pending, boolGauge(st.Pending))

	stats := e.source.EventStats()
	o.ObserveInt64(e.delivered, int64(stats.Delivered))
	o.ObserveInt64(e.dropped, int64(stats.Dropped))
	o.ObserveInt64(e.panicked, int64(stats.Panicked))
	return nil
}

func boolGauge(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
