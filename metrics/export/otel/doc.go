// Package otel binds client session metrics to an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one observable counter per session counter, a pair of
// gauges for request latency (cumulative buckets keyed by the le attribute, and the
// sample count), the authclient_session_authenticated and authclient_login_pending
// gauges, and the event dispatcher totals. A single callback reads
// [authclient.Client.MetricsSnapshot], [authclient.Client.State] and
// [authclient.Client.EventStats] on each collection cycle.
//
// Callers own the MeterProvider. The exporter never mutates the client.
package otel
