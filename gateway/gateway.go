package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authclient/credential"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout is the request timeout used when Config.Timeout is zero.
	DefaultTimeout = 10 * time.Second
	// DefaultContentType is sent on requests with a body and no explicit type.
	DefaultContentType = "application/json"
	// DefaultEntryPoint is the unauthenticated entry point handed to handlers.
	DefaultEntryPoint = "/login"

	// HeaderRequestID carries the per-request correlation id.
	HeaderRequestID = "X-Request-ID"

	formContentType     = "application/x-www-form-urlencoded"
	defaultMaxErrorBody = 64 << 10
	defaultMaxBody      = 4 << 20
)

// Config configures a Gateway.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	ContentType string
	EntryPoint  string
	UserAgent   string
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ContentType == "" {
		c.ContentType = DefaultContentType
	}
	if c.EntryPoint == "" {
		c.EntryPoint = DefaultEntryPoint
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("gateway BaseURL required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("gateway BaseURL invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("gateway BaseURL must be http or https")
	}
	if u.Host == "" {
		return errors.New("gateway BaseURL must include a host")
	}
	if c.Timeout < 0 {
		return errors.New("gateway Timeout must be >= 0")
	}
	return nil
}

// Unauthenticated describes a forced logout.
type Unauthenticated struct {
	// Credential is the rejected credential; empty when the call carried none.
	Credential string
	// Cleared reports whether the repository still held Credential and it was removed.
	Cleared    bool
	Method     string
	Path       string
	RequestID  string
	EntryPoint string
}

// UnauthenticatedFunc reacts to a forced logout. Handlers run synchronously on the
// goroutine of the request that received the 401, in registration order.
type UnauthenticatedFunc func(ctx context.Context, ev Unauthenticated)

// Recorder receives one observation per completed call.
type Recorder interface {
	RecordResponse(kind Kind, elapsed time.Duration)
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithHTTPClient replaces the underlying client. Its Timeout is overwritten by
// Config.Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		if c != nil {
			clone := *c
			g.client = &clone
		}
	}
}

// WithNotifier sets the notifier used by the response policy.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) {
		if n != nil {
			g.notifier = n
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// Gateway applies the request and response policies to every backend call.
// It is safe for concurrent use.
type Gateway struct {
	cfg      Config
	base     string
	client   *http.Client
	repo     credential.Repository
	notifier Notifier
	recorder Recorder
	logger   zerolog.Logger

	mu    sync.RWMutex
	hooks []UnauthenticatedFunc
}

// New builds a Gateway reading credentials from repo.
func New(cfg Config, repo credential.Repository, opts ...Option) (*Gateway, error) {
	if repo == nil {
		return nil, errors.New("credential repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		cfg:      cfg,
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		client:   &http.Client{},
		repo:     repo,
		notifier: NoOpNotifier{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client.Timeout = cfg.Timeout

	return g, nil
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config {
	return g.cfg
}

// EntryPoint returns the unauthenticated entry point.
func (g *Gateway) EntryPoint() string {
	return g.cfg.EntryPoint
}

// OnUnauthenticated registers fn to run on every forced logout.
func (g *Gateway) OnUnauthenticated(fn UnauthenticatedFunc) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.hooks = append(g.hooks, fn)
	g.mu.Unlock()
}

// URL resolves path against the base address. Absolute URLs are returned unchanged.
func (g *Gateway) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return g.base + "/" + strings.TrimLeft(path, "/")
}

// NewRequest builds a request for path relative to the base address.
func (g *Gateway) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, g.URL(path), body)
}

// Do sends req through the request and response policies. A nil error means a 2xx
// response whose body the caller must close; every other outcome is an [*Error].
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	anonymous := IsAnonymous(ctx)

	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(HeaderRequestID, requestID)
	}
	if req.Body != nil && req.Body != http.NoBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", g.cfg.ContentType)
	}
	if g.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", g.cfg.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	sent := ""
	if anonymous {
		req.Header.Del("Authorization")
	} else {
		sent = g.attachCredential(ctx, req)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return nil, g.transportFault(ctx, req, requestID, err, elapsed)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		g.record(KindNone, elapsed)
		g.logger.Debug().
			Str("request_id", requestID).
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("gateway: request completed")
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, defaultMaxErrorBody))
	_ = resp.Body.Close()

	gerr := &Error{
		Status:    resp.StatusCode,
		Method:    req.Method,
		Path:      req.URL.Path,
		RequestID: requestID,
		Detail:    parseDetail(body),
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && !anonymous:
		gerr.Kind = KindUnauthorized
		gerr.Handled = g.rejectCredential(ctx, req, requestID, sent)
	case resp.StatusCode == http.StatusForbidden:
		gerr.Kind = KindForbidden
		g.notify(ctx, Notification{Level: LevelError, Kind: KindForbidden, Message: "Access denied", RequestID: requestID})
		gerr.Handled = true
	case resp.StatusCode >= 500:
		gerr.Kind = KindServer
		g.notify(ctx, Notification{Level: LevelError, Kind: KindServer, Message: "Server error. Please try again later.", RequestID: requestID})
		gerr.Handled = true
	default:
		gerr.Kind = KindRequest
	}

	g.record(gerr.Kind, elapsed)
	g.logger.Debug().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Str("outcome", gerr.Kind.String()).
		Dur("elapsed", elapsed).
		Msg("gateway: request failed")

	return nil, gerr
}

// GetJSON issues a GET and decodes the JSON response into out (if non-nil).
func (g *Gateway) GetJSON(ctx context.Context, path string, out any) error {
	return g.sendJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with in encoded as JSON.
func (g *Gateway) PostJSON(ctx context.Context, path string, in, out any) error {
	return g.sendJSON(ctx, http.MethodPost, path, in, out)
}

// PutJSON issues a PUT with in encoded as JSON.
func (g *Gateway) PutJSON(ctx context.Context, path string, in, out any) error {
	return g.sendJSON(ctx, http.MethodPut, path, in, out)
}

// DeleteJSON issues a DELETE and decodes an optional JSON response.
func (g *Gateway) DeleteJSON(ctx context.Context, path string, out any) error {
	return g.sendJSON(ctx, http.MethodDelete, path, nil, out)
}

// PostForm issues a form-encoded POST.
func (g *Gateway) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := g.NewRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", formContentType)
	return g.doDecode(req, out)
}

func (g *Gateway) sendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s request: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := g.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.doDecode(req, out)
}

func (g *Gateway) doDecode(req *http.Request, out any) error {
	resp, err := g.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, defaultMaxErrorBody))
		_ = resp.Body.Close()
	}()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, defaultMaxBody)).Decode(out); err != nil {
		return &Error{
			Kind:      KindDecode,
			Status:    resp.StatusCode,
			Method:    req.Method,
			Path:      req.URL.Path,
			RequestID: req.Header.Get(HeaderRequestID),
			Err:       err,
		}
	}
	return nil
}

func (g *Gateway) attachCredential(ctx context.Context, req *http.Request) string {
	token, err := g.repo.Get(ctx)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			g.logger.Warn().Err(err).Msg("gateway: credential lookup failed; sending unauthenticated")
		}
		req.Header.Del("Authorization")
		return ""
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return token
}

// rejectCredential runs the forced-logout policy. It reports false when the response
// concerned a credential that has already been replaced or cleared.
func (g *Gateway) rejectCredential(ctx context.Context, req *http.Request, requestID, sent string) bool {
	ctx = context.WithoutCancel(ctx)

	cleared := false
	if sent != "" {
		ok, err := g.repo.CompareAndClear(ctx, sent)
		if err != nil {
			g.logger.Error().Err(err).Str("request_id", requestID).Msg("gateway: clearing rejected credential failed")
		} else if !ok {
			g.logger.Debug().Str("request_id", requestID).Msg("gateway: 401 for a credential that is no longer current")
			return false
		}
		cleared = ok
	}

	g.logger.Warn().
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Bool("cleared", cleared).
		Msg("gateway: credential rejected; forcing logout")

	ev := Unauthenticated{
		Credential: sent,
		Cleared:    cleared,
		Method:     req.Method,
		Path:       req.URL.Path,
		RequestID:  requestID,
		EntryPoint: g.cfg.EntryPoint,
	}

	g.mu.RLock()
	hooks := make([]UnauthenticatedFunc, len(g.hooks))
	copy(hooks, g.hooks)
	g.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, ev)
	}
	return true
}

func (g *Gateway) transportFault(ctx context.Context, req *http.Request, requestID string, err error, elapsed time.Duration) error {
	gerr := &Error{
		Kind:      KindTransport,
		Method:    req.Method,
		Path:      req.URL.Path,
		RequestID: requestID,
		Err:       err,
	}
	g.record(KindTransport, elapsed)

	// A caller that cancelled its own context is not a connectivity failure.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return gerr
	}

	g.notify(ctx, Notification{
		Level:     LevelError,
		Kind:      KindTransport,
		Message:   "Network error: " + transportDetail(err),
		RequestID: requestID,
	})
	gerr.Handled = true

	g.logger.Debug().
		Err(err).
		Str("request_id", requestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Dur("elapsed", elapsed).
		Msg("gateway: no response")
	return gerr
}

func (g *Gateway) notify(ctx context.Context, n Notification) {
	g.notifier.Notify(context.WithoutCancel(ctx), n)
}

func (g *Gateway) record(kind Kind, elapsed time.Duration) {
	if g.recorder != nil {
		g.recorder.RecordResponse(kind, elapsed)
	}
}

func transportDetail(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err.Error()
	}
	return err.Error()
}
