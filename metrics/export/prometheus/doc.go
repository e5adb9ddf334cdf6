// Package prometheus exposes client session metrics through client_golang.
//
// [NewPrometheusExporter] wraps a [authclient.Client] in a [prometheus.Collector].
// Counter names are authclient_*_total; the single histogram is
// authclient_request_latency_seconds.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry. Callers register the
//     collector or mount Handler.
//   - Mutate client state.
package prometheus
