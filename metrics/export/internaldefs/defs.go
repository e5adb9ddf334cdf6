package internaldefs

import (
	"github.com/MrEthical07/authclient"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

// HistogramDef names one exported histogram.
type HistogramDef struct {
	ID   authclient.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authclient.MetricInitializeRestored, Name: "authclient_initialize_restored_total", Help: "Sessions restored from a persisted credential."},
	{ID: authclient.MetricInitializeAnonymous, Name: "authclient_initialize_anonymous_total", Help: "Initializations that found no persisted credential."},
	{ID: authclient.MetricInitializeFailed, Name: "authclient_initialize_failed_total", Help: "Persisted credentials discarded after a failed profile fetch."},
	{ID: authclient.MetricInitializeExpiredDiscarded, Name: "authclient_initialize_expired_discarded_total", Help: "Persisted credentials discarded locally as expired."},
	{ID: authclient.MetricLoginSuccess, Name: "authclient_login_success_total", Help: "Successful logins."},
	{ID: authclient.MetricLoginFailure, Name: "authclient_login_failure_total", Help: "Failed logins."},
	{ID: authclient.MetricLoginRejectedInFlight, Name: "authclient_login_rejected_in_flight_total", Help: "Logins refused because another was pending."},
	{ID: authclient.MetricRegisterSuccess, Name: "authclient_register_success_total", Help: "Successful registrations."},
	{ID: authclient.MetricRegisterFailure, Name: "authclient_register_failure_total", Help: "Failed registrations."},
	{ID: authclient.MetricLogout, Name: "authclient_logout_total", Help: "Explicit logouts."},
	{ID: authclient.MetricForcedLogout, Name: "authclient_forced_logout_total", Help: "Sessions ended by a rejected credential."},
	{ID: authclient.MetricProfileUpdateSuccess, Name: "authclient_profile_update_success_total", Help: "Successful profile updates."},
	{ID: authclient.MetricProfileUpdateFailure, Name: "authclient_profile_update_failure_total", Help: "Failed profile updates."},
	{ID: authclient.MetricRequestSuccess, Name: "authclient_request_success_total", Help: "Backend requests answered with 2xx."},
	{ID: authclient.MetricRequestRejected, Name: "authclient_request_rejected_total", Help: "Backend requests answered with another 4xx."},
	{ID: authclient.MetricRequestUnauthorized, Name: "authclient_request_unauthorized_total", Help: "Backend requests answered with 401."},
	{ID: authclient.MetricRequestForbidden, Name: "authclient_request_forbidden_total", Help: "Backend requests answered with 403."},
	{ID: authclient.MetricRequestServerError, Name: "authclient_request_server_error_total", Help: "Backend requests answered with 5xx."},
	{ID: authclient.MetricRequestTransportError, Name: "authclient_request_transport_error_total", Help: "Backend requests that produced no response."},
	{ID: authclient.MetricRequestDecodeError, Name: "authclient_request_decode_error_total", Help: "Successful responses whose body could not be decoded."},
	{ID: authclient.MetricCredentialStoreError, Name: "authclient_credential_store_error_total", Help: "Credential repository failures."},
}

var HistogramDefs = []HistogramDef{
	{ID: authclient.MetricRequestLatency, Name: "authclient_request_latency_seconds", Help: "Backend request latency."},
}

// HistogramBounds are the upper bounds in seconds, matching the core buckets.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramUpperBounds are the finite bounds of HistogramBounds as numbers.
var HistogramUpperBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
