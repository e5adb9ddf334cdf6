package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authclient/credential"
)

type recordedCall struct {
	kind    Kind
	elapsed time.Duration
}

type captureRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *captureRecorder) RecordResponse(kind Kind, elapsed time.Duration) {
	r.mu.Lock()
	r.calls = append(r.calls, recordedCall{kind: kind, elapsed: elapsed})
	r.mu.Unlock()
}

func (r *captureRecorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.kind)
	}
	return out
}

func newTestGateway(t *testing.T, handler http.Handler, repo credential.Repository, opts ...Option) (*Gateway, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, repo, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return gw, srv
}

func statusHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func drain(n *ChannelNotifier) []Notification {
	var out []Notification
	for {
		select {
		case v := <-n.Notifications():
			out = append(out, v)
		default:
			return out
		}
	}
}

func TestRequestPolicyAttachesPersistedCredential(t *testing.T) {
	var gotAuth atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	})

	repo := credential.NewMemoryWithToken("tok-123")
	gw, _ := newTestGateway(t, handler, repo)

	if err := gw.GetJSON(context.Background(), "/api/courses", nil); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got := gotAuth.Load().(string); got != "Bearer tok-123" {
		t.Fatalf("expected bearer header, got %q", got)
	}

	_ = repo.Clear(context.Background())
	if err := gw.GetJSON(context.Background(), "/api/courses", nil); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if got := gotAuth.Load().(string); got != "" {
		t.Fatalf("expected no authorization header, got %q", got)
	}
}

func TestRequestPolicyAnonymousSendsNoCredential(t *testing.T) {
	var gotAuth atomic.Value
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	})
	gw, _ := newTestGateway(t, handler, credential.NewMemoryWithToken("tok-123"))

	if err := gw.PostForm(Anonymous(context.Background()), "/api/auth/login", url.Values{"username": {"a"}}, nil); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	if got := gotAuth.Load().(string); got != "" {
		t.Fatalf("anonymous call must not carry a credential, got %q", got)
	}
}

func TestRequestPolicySetsHeaders(t *testing.T) {
	type seen struct {
		contentType string
		requestID   string
		userAgent   string
	}
	ch := make(chan seen, 2)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch <- seen{
			contentType: r.Header.Get("Content-Type"),
			requestID:   r.Header.Get(HeaderRequestID),
			userAgent:   r.Header.Get("User-Agent"),
		}
		_, _ = io.WriteString(w, `{}`)
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()
	gw, err := New(Config{BaseURL: srv.URL + "/", UserAgent: "authclient-test"}, credential.NewMemory())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := gw.PutJSON(context.Background(), "api/auth/me", map[string]string{"bio": "x"}, nil); err != nil {
		t.Fatalf("PutJSON failed: %v", err)
	}
	got := <-ch
	if got.contentType != "application/json" {
		t.Fatalf("expected json content type, got %q", got.contentType)
	}
	if got.requestID == "" {
		t.Fatal("expected request id header")
	}
	if got.userAgent != "authclient-test" {
		t.Fatalf("expected user agent, got %q", got.userAgent)
	}

	if err := gw.PostForm(context.Background(), "/api/auth/login", url.Values{"username": {"a"}}, nil); err != nil {
		t.Fatalf("PostForm failed: %v", err)
	}
	got = <-ch
	if got.contentType != "application/x-www-form-urlencoded" {
		t.Fatalf("expected form content type, got %q", got.contentType)
	}
}

func TestResponsePolicyUnauthorizedForcesLogout(t *testing.T) {
	repo := credential.NewMemoryWithToken("tok-stale")
	gw, _ := newTestGateway(t, statusHandler(http.StatusUnauthorized, `{"detail":"Could not validate credentials"}`), repo)

	var events []Unauthenticated
	gw.OnUnauthenticated(func(_ context.Context, ev Unauthenticated) {
		events = append(events, ev)
	})

	err := gw.GetJSON(context.Background(), "/api/courses", nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if !Handled(err) {
		t.Fatal("expected forced logout to mark the error handled")
	}
	if Detail(err) != "Could not validate credentials" {
		t.Fatalf("unexpected detail %q", Detail(err))
	}
	if _, err := repo.Get(context.Background()); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected credential cleared, got %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one unauthenticated event, got %d", len(events))
	}
	ev := events[0]
	if ev.Credential != "tok-stale" || !ev.Cleared || ev.EntryPoint != DefaultEntryPoint || ev.Path != "/api/courses" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestResponsePolicyUnauthorizedClearsExactlyOnce(t *testing.T) {
	const callers = 8

	repo := credential.NewMemoryWithToken("tok-stale")
	var arrived atomic.Int64
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if arrived.Add(1) == callers {
			close(release)
		}
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	gw, _ := newTestGateway(t, handler, repo)

	var fired atomic.Int64
	gw.OnUnauthenticated(func(context.Context, Unauthenticated) {
		fired.Add(1)
	})

	var handled atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gw.GetJSON(context.Background(), "/api/lessons", nil)
			if !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
			if Handled(err) {
				handled.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one forced logout, got %d", got)
	}
	if got := handled.Load(); got != 1 {
		t.Fatalf("expected exactly one handled error, got %d", got)
	}
	if _, err := repo.Get(context.Background()); !errors.Is(err, credential.ErrNotFound) {
		t.Fatalf("expected credential cleared, got %v", err)
	}
}

func TestResponsePolicyIgnoresStaleUnauthorized(t *testing.T) {
	repo := credential.NewMemoryWithToken("tok-old")
	arrived := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusUnauthorized)
	})
	gw, _ := newTestGateway(t, handler, repo)

	var fired atomic.Int64
	gw.OnUnauthenticated(func(context.Context, Unauthenticated) {
		fired.Add(1)
	})

	done := make(chan error, 1)
	go func() {
		done <- gw.GetJSON(context.Background(), "/api/courses", nil)
	}()

	// A new login lands while the old request is in flight.
	<-arrived
	if err := repo.Set(context.Background(), "tok-new"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	close(release)

	err := <-done
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if Handled(err) {
		t.Fatal("stale 401 must not count as a forced logout")
	}
	if fired.Load() != 0 {
		t.Fatal("stale 401 must not fire unauthenticated handlers")
	}
	if got, _ := repo.Get(context.Background()); got != "tok-new" {
		t.Fatalf("newer credential must survive, got %q", got)
	}
}

func TestResponsePolicyUnauthorizedWithoutCredential(t *testing.T) {
	gw, _ := newTestGateway(t, statusHandler(http.StatusUnauthorized, `{}`), credential.NewMemory())

	var events []Unauthenticated
	gw.OnUnauthenticated(func(_ context.Context, ev Unauthenticated) {
		events = append(events, ev)
	})

	if err := gw.GetJSON(context.Background(), "/api/courses", nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(events) != 1 || events[0].Cleared || events[0].Credential != "" {
		t.Fatalf("expected one uncleared event, got %+v", events)
	}
}

func TestResponsePolicyAnonymousUnauthorizedIsRejection(t *testing.T) {
	repo := credential.NewMemoryWithToken("tok-keep")
	gw, _ := newTestGateway(t, statusHandler(http.StatusUnauthorized, `{"detail":"Incorrect email or password"}`), repo)

	var fired atomic.Int64
	gw.OnUnauthenticated(func(context.Context, Unauthenticated) { fired.Add(1) })

	err := gw.PostForm(Anonymous(context.Background()), "/api/auth/login", url.Values{}, nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if Detail(err) != "Incorrect email or password" {
		t.Fatalf("unexpected detail %q", Detail(err))
	}
	if fired.Load() != 0 {
		t.Fatal("failed login must not force a logout")
	}
	if got, _ := repo.Get(context.Background()); got != "tok-keep" {
		t.Fatalf("existing credential must survive, got %q", got)
	}
}

func TestResponsePolicyForbiddenNotifies(t *testing.T) {
	repo := credential.NewMemoryWithToken("tok")
	notifier := NewChannelNotifier(4)
	gw, _ := newTestGateway(t, statusHandler(http.StatusForbidden, `{"detail":"Not enough permissions"}`), repo, WithNotifier(notifier))

	err := gw.GetJSON(context.Background(), "/api/analytics", nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got := drain(notifier)
	if len(got) != 1 || got[0].Message != "Access denied" || got[0].Kind != KindForbidden {
		t.Fatalf("unexpected notifications %+v", got)
	}
	if tok, _ := repo.Get(context.Background()); tok != "tok" {
		t.Fatal("403 must not alter the session")
	}
}

func TestResponsePolicyServerErrorNotifies(t *testing.T) {
	notifier := NewChannelNotifier(4)
	gw, _ := newTestGateway(t, statusHandler(http.StatusBadGateway, ``), credential.NewMemoryWithToken("tok"), WithNotifier(notifier))

	err := gw.GetJSON(context.Background(), "/api/courses", nil)
	if !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	got := drain(notifier)
	if len(got) != 1 || got[0].Message != "Server error. Please try again later." {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestResponsePolicyTransportFaultNotifiesWithDetail(t *testing.T) {
	srv := httptest.NewServer(statusHandler(http.StatusOK, `{}`))
	addr := srv.URL
	srv.Close()

	notifier := NewChannelNotifier(4)
	gw, err := New(Config{BaseURL: addr}, credential.NewMemoryWithToken("tok"), WithNotifier(notifier))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = gw.GetJSON(context.Background(), "/api/courses", nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	got := drain(notifier)
	if len(got) != 1 || !strings.HasPrefix(got[0].Message, "Network error: ") || len(got[0].Message) <= len("Network error: ") {
		t.Fatalf("unexpected notifications %+v", got)
	}
}

func TestResponsePolicyTimeoutIsTransportFault(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	notifier := NewChannelNotifier(4)
	gw, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, credential.NewMemory(), WithNotifier(notifier))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := gw.GetJSON(context.Background(), "/slow", nil); !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if got := drain(notifier); len(got) != 1 {
		t.Fatalf("expected one notification, got %d", len(got))
	}
}

func TestCallerCancellationIsNotSurfaced(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	notifier := NewChannelNotifier(4)
	gw, _ := newTestGateway(t, handler, credential.NewMemory(), WithNotifier(notifier))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := gw.GetJSON(ctx, "/api/courses", nil)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if Handled(err) {
		t.Fatal("caller cancellation must not be surfaced")
	}
	if got := drain(notifier); len(got) != 0 {
		t.Fatalf("expected no notifications, got %+v", got)
	}
}

func TestResponsePolicyValidationDetailPassesThrough(t *testing.T) {
	notifier := NewChannelNotifier(4)
	body := `{"detail":[{"loc":["body","email"],"msg":"value is not a valid email address"},{"loc":["body","password"],"msg":"field required"}]}`
	gw, _ := newTestGateway(t, statusHandler(http.StatusUnprocessableEntity, body), credential.NewMemory(), WithNotifier(notifier))

	err := gw.PostJSON(Anonymous(context.Background()), "/api/auth/register", map[string]string{}, nil)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if KindOf(err) != KindRequest {
		t.Fatalf("expected KindRequest, got %v", KindOf(err))
	}
	want := "value is not a valid email address; field required"
	if Detail(err) != want {
		t.Fatalf("expected %q, got %q", want, Detail(err))
	}
	if Handled(err) {
		t.Fatal("business failures are left to the caller")
	}
	if got := drain(notifier); len(got) != 0 {
		t.Fatalf("expected no notifications, got %+v", got)
	}
}

func TestDecodeFailure(t *testing.T) {
	gw, _ := newTestGateway(t, statusHandler(http.StatusOK, `not json`), credential.NewMemory())

	var out map[string]any
	err := gw.GetJSON(context.Background(), "/api/auth/me", &out)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestRecorderObservesEveryOutcome(t *testing.T) {
	status := atomic.Int64{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = io.WriteString(w, `{}`)
	})
	rec := &captureRecorder{}
	gw, _ := newTestGateway(t, handler, credential.NewMemory(), WithRecorder(rec))

	for _, code := range []int{200, 400, 401, 403, 503} {
		status.Store(int64(code))
		_ = gw.GetJSON(context.Background(), "/x", nil)
	}

	want := []Kind{KindNone, KindRequest, KindUnauthorized, KindForbidden, KindServer}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("observation %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestErrorMessageFormat(t *testing.T) {
	err := &Error{Kind: KindRequest, Status: 400, Method: "POST", Path: "/api/auth/register", Detail: "Email already registered"}
	if got := err.Error(); got != "POST /api/auth/register: 400 rejected: Email already registered" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]Config{
		"missing base": {},
		"bad scheme":   {BaseURL: "ftp://example.com"},
		"no host":      {BaseURL: "http://"},
		"neg timeout":  {BaseURL: "http://localhost:8000", Timeout: -time.Second},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := (Config{BaseURL: "http://localhost:8000"}).Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestNewRequiresRepository(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://localhost:8000"}, nil); err == nil {
		t.Fatal("expected error without repository")
	}
}

func TestURLJoinsBase(t *testing.T) {
	gw, err := New(Config{BaseURL: "http://localhost:8000/"}, credential.NewMemory())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := gw.URL("/api/auth/me"); got != "http://localhost:8000/api/auth/me" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := gw.URL("https://cdn.example.com/x"); got != "https://cdn.example.com/x" {
		t.Fatalf("absolute url must pass through, got %q", got)
	}
}
