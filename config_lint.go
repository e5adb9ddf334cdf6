package authclient

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// LintSeverity ranks configuration warnings.
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "HIGH"
	case LintWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// LintWarning is one finding of Config.Lint.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of findings of Config.Lint.
type LintResult []LintWarning

// Codes returns the finding codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the findings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError joins the findings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	var errs []error
	for _, w := range r.BySeverity(min) {
		errs = append(errs, errors.New(w.Severity.String()+" "+w.Code+": "+w.Message))
	}
	return errors.Join(errs...)
}

// Lint reports settings that are valid but risky. It does not replace Validate.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if u, err := url.Parse(c.Gateway.BaseURL); err == nil && u.Scheme == "http" && !loopbackHost(u.Hostname()) {
		add("insecure_base_url", LintHigh, "bearer credentials would be sent over plain http to a remote host")
	}
	if c.Gateway.Timeout > time.Minute {
		add("timeout_long", LintWarn, "requests may hang for more than a minute before surfacing a network error")
	}
	if c.Session.DiscardExpiredCredentials {
		add("expired_discard_enabled", LintInfo, "expired JWT credentials are dropped on start without running forced-logout handlers")
	}
	if c.Storage.PersistUser {
		add("persist_user_enabled", LintInfo, "the profile record is written to durable storage")
	}
	if c.Events.Enabled && !c.Events.DropIfFull {
		add("events_blocking", LintWarn, "a slow event sink stalls session transitions")
	}
	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo, "session metrics are not collected")
	}

	return ws
}

func loopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
