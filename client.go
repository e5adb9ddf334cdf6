package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authclient/credential"
	"github.com/MrEthical07/authclient/gateway"
	"github.com/MrEthical07/authclient/internal/events"
	"github.com/MrEthical07/authclient/jwt"
	"github.com/rs/zerolog"
)

// Client holds the session of one process: the signed-in user and the bearer
// credential, always set and cleared together.
type Client struct {
	cfg      Config
	gw       *gateway.Gateway
	repo     credential.Repository
	notifier gateway.Notifier
	logger   zerolog.Logger
	metrics  *Metrics
	events   *events.Dispatcher
	now      func() time.Time

	mu         sync.RWMutex
	user       *User
	credential string
	pending    int
	closed     bool

	// commitMu orders writes of whole sessions (login commits and logouts) so the
	// repository and memory always agree on the last writer.
	commitMu sync.Mutex

	initOnce sync.Once
	initDone chan struct{}
	initErr  error
}

/*
====================================
INITIALIZE
====================================
*/

// Initialize restores the session persisted by a previous process. Only the first call
// does any work; later calls wait for it and return its result.
//
// With no persisted credential the client stays signed out and nothing is sent. A
// persisted credential is restored optimistically and confirmed by fetching the profile;
// if that fails for any reason the credential is discarded and the error returned.
func (c *Client) Initialize(ctx context.Context) error {
	if c == nil {
		return ErrClientNotReady
	}
	c.initOnce.Do(func() {
		c.initErr = c.initialize(ctx)
		close(c.initDone)
	})
	return c.initErr
}

// InitializeAsync runs Initialize on its own goroutine. The returned channel receives
// the result once and is then closed. Until then State reports no user.
func (c *Client) InitializeAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	go func() {
		out <- c.Initialize(ctx)
		close(out)
	}()
	return out
}

// Initialized is closed when the first Initialize call has finished.
func (c *Client) Initialized() <-chan struct{} {
	return c.initDone
}

func (c *Client) initialize(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientNotReady
	}

	token, restored, err := c.restoreCredential(ctx)
	if err != nil || !restored {
		return err
	}

	var u User
	if err := c.gw.GetJSON(ctx, c.cfg.Endpoints.Profile, &u); err != nil {
		c.discardRestored(ctx, token)
		c.metrics.Inc(MetricInitializeFailed)
		c.logger.Info().Err(err).Msg("persisted credential not accepted; discarded")
		c.emit(ctx, EventSessionRestoreFailed, nil, err, map[string]string{"reason": gateway.KindOf(err).String()})
		return err
	}

	c.mu.Lock()
	if c.credential != token {
		// A login, logout or forced logout replaced the session while the profile was
		// in flight; that outcome stands.
		c.mu.Unlock()
		return nil
	}
	c.user = &u
	c.mu.Unlock()

	if c.cfg.Storage.PersistUser {
		c.persistRecord(ctx, token, u)
	}

	c.metrics.Inc(MetricInitializeRestored)
	c.logger.Info().Int64("user_id", u.ID).Msg("session restored")
	c.emit(ctx, EventSessionRestored, &u, nil, nil)
	return nil
}

// restoreCredential reads the persisted credential and adopts it into memory. It holds
// commitMu so a concurrent Login cannot interleave between the read and the adoption.
// restored is false when there is nothing to confirm.
func (c *Client) restoreCredential(ctx context.Context) (token string, restored bool, err error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	token, err = c.repo.Get(ctx)
	if errors.Is(err, credential.ErrNotFound) {
		c.metrics.Inc(MetricInitializeAnonymous)
		c.logger.Debug().Msg("no persisted credential")
		return "", false, nil
	}
	if err != nil {
		c.metrics.Inc(MetricCredentialStoreError)
		c.metrics.Inc(MetricInitializeFailed)
		c.logger.Error().Err(err).Msg("reading persisted credential failed")
		return "", false, fmt.Errorf("%w: %v", ErrCredentialStore, err)
	}

	if c.cfg.Session.DiscardExpiredCredentials {
		if claims, err := jwt.Inspect(token); err == nil && claims.Expired(c.now(), c.cfg.Session.ExpiryLeeway) {
			if _, err := c.repo.CompareAndClear(context.WithoutCancel(ctx), token); err != nil {
				c.metrics.Inc(MetricCredentialStoreError)
				c.logger.Error().Err(err).Msg("discarding persisted credential failed")
			}
			c.metrics.Inc(MetricInitializeExpiredDiscarded)
			c.metrics.Inc(MetricInitializeFailed)
			c.logger.Info().Time("expired_at", claims.ExpiresAt).Msg("persisted credential expired; discarded")
			c.emit(ctx, EventSessionRestoreFailed, nil, ErrCredentialExpired, map[string]string{"reason": "expired"})
			return "", false, ErrCredentialExpired
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credential == token && c.user != nil {
		// A Login already committed this credential.
		return token, false, nil
	}
	c.credential = token
	c.user = nil
	return token, true, nil
}

// discardRestored drops token from storage and memory unless it has been replaced.
func (c *Client) discardRestored(ctx context.Context, token string) {
	if _, err := c.repo.CompareAndClear(context.WithoutCancel(ctx), token); err != nil {
		c.metrics.Inc(MetricCredentialStoreError)
		c.logger.Error().Err(err).Msg("discarding persisted credential failed")
	}
	c.mu.Lock()
	if c.credential == token {
		c.credential = ""
		c.user = nil
	}
	c.mu.Unlock()
}

/*
====================================
LOGIN / REGISTER
====================================
*/

// Login exchanges identifier (email or username) and secret for a session. Pending is
// reported while the call is in flight. On success the credential is persisted and
// the user and credential are set together; on failure the previous session is left
// as it was, a message is surfaced, and the error is returned unchanged.
func (c *Client) Login(ctx context.Context, identifier, secret string) (User, error) {
	if c == nil {
		return User{}, ErrClientNotReady
	}
	if c.isClosed() {
		c.surface(ctx, ErrClientNotReady, c.cfg.Messages.LoginFailed)
		return User{}, ErrClientNotReady
	}

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		c.metrics.Inc(MetricLoginFailure)
		c.surface(ctx, ErrCredentialsRequired, c.cfg.Messages.LoginFailed)
		return User{}, ErrCredentialsRequired
	}

	if !c.beginPending() {
		c.metrics.Inc(MetricLoginRejectedInFlight)
		c.surface(ctx, ErrLoginInFlight, c.cfg.Messages.LoginFailed)
		return User{}, ErrLoginInFlight
	}
	defer c.endPending()

	u, err := c.login(ctx, identifier, secret)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.logger.Info().Err(err).Msg("login failed")
		c.emit(ctx, EventLogin, nil, err, nil)
		c.surface(ctx, err, c.cfg.Messages.LoginFailed)
		return User{}, err
	}

	c.metrics.Inc(MetricLoginSuccess)
	c.logger.Info().Int64("user_id", u.ID).Msg("logged in")
	c.emit(ctx, EventLogin, &u, nil, nil)
	c.announce(ctx, c.cfg.Messages.LoginSucceeded)
	return u, nil
}

func (c *Client) login(ctx context.Context, identifier, secret string) (User, error) {
	form := url.Values{
		"username": {identifier},
		"password": {secret},
	}

	var resp loginResponse
	if err := c.gw.PostForm(gateway.Anonymous(ctx), c.cfg.Endpoints.Login, form, &resp); err != nil {
		return User{}, err
	}

	token := resp.credential()
	if token == "" {
		return User{}, ErrMissingToken
	}
	if resp.User == nil {
		return User{}, ErrMissingUser
	}

	if err := c.commit(ctx, token, *resp.User); err != nil {
		return User{}, err
	}
	return resp.User.clone(), nil
}

// commit persists and adopts a new session. Concurrent commits are serialized; the last
// one to run wins in both storage and memory.
func (c *Client) commit(ctx context.Context, token string, u User) error {
	ctx = context.WithoutCancel(ctx)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if err := c.repo.Set(ctx, token); err != nil {
		c.metrics.Inc(MetricCredentialStoreError)
		c.logger.Error().Err(err).Msg("persisting credential failed")
		return fmt.Errorf("%w: %v", ErrCredentialStore, err)
	}
	if c.cfg.Storage.PersistUser {
		c.persistRecord(ctx, token, u)
	}

	c.mu.Lock()
	c.user = &u
	c.credential = token
	c.mu.Unlock()
	return nil
}

// Register creates an account and then signs in with the same email and password.
// A registration failure is surfaced and no login is attempted; a login failure after
// a successful registration is returned as is.
func (c *Client) Register(ctx context.Context, in RegisterInput) (User, error) {
	if c == nil {
		return User{}, ErrClientNotReady
	}
	if c.isClosed() {
		c.surface(ctx, ErrClientNotReady, c.cfg.Messages.RegisterFailed)
		return User{}, ErrClientNotReady
	}

	if err := in.Validate(); err != nil {
		c.metrics.Inc(MetricRegisterFailure)
		c.surface(ctx, err, c.cfg.Messages.RegisterFailed)
		return User{}, err
	}

	if !c.beginPending() {
		c.metrics.Inc(MetricLoginRejectedInFlight)
		c.surface(ctx, ErrLoginInFlight, c.cfg.Messages.RegisterFailed)
		return User{}, ErrLoginInFlight
	}
	defer c.endPending()

	var created User
	if err := c.gw.PostJSON(gateway.Anonymous(ctx), c.cfg.Endpoints.Register, in, &created); err != nil {
		c.metrics.Inc(MetricRegisterFailure)
		c.logger.Info().Err(err).Msg("registration failed")
		c.emit(ctx, EventRegister, nil, err, nil)
		c.surface(ctx, err, c.cfg.Messages.RegisterFailed)
		return User{}, err
	}
	c.metrics.Inc(MetricRegisterSuccess)
	c.logger.Info().Int64("user_id", created.ID).Msg("registered")
	c.emit(ctx, EventRegister, &created, nil, nil)

	u, err := c.login(ctx, strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		c.metrics.Inc(MetricLoginFailure)
		c.logger.Info().Err(err).Msg("login after registration failed")
		c.emit(ctx, EventLogin, nil, err, map[string]string{"after": "register"})
		c.surface(ctx, err, c.cfg.Messages.LoginFailed)
		return User{}, err
	}

	c.metrics.Inc(MetricLoginSuccess)
	c.emit(ctx, EventLogin, &u, nil, map[string]string{"after": "register"})
	c.announce(ctx, c.cfg.Messages.RegisterSucceeded)
	return u, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout ends the session locally. It never fails and can be called at any time;
// storage errors are logged.
func (c *Client) Logout(ctx context.Context) {
	if c == nil {
		return
	}

	c.commitMu.Lock()
	if err := c.repo.Clear(context.WithoutCancel(ctx)); err != nil {
		c.metrics.Inc(MetricCredentialStoreError)
		c.logger.Error().Err(err).Msg("clearing persisted credential failed")
	}
	c.mu.Lock()
	prev := c.user
	hadSession := c.credential != ""
	c.user = nil
	c.credential = ""
	c.mu.Unlock()
	c.commitMu.Unlock()

	c.metrics.Inc(MetricLogout)
	if !hadSession {
		return
	}
	c.logger.Info().Msg("logged out")
	c.emit(ctx, EventLogout, prev, nil, nil)
	c.announce(ctx, c.cfg.Messages.LoggedOut)
}

// onUnauthenticated is the Gateway handler for a rejected credential. It drops the
// in-memory session when it belongs to the rejected credential.
func (c *Client) onUnauthenticated(ctx context.Context, ev gateway.Unauthenticated) {
	c.mu.Lock()
	if c.credential == "" || (ev.Credential != "" && c.credential != ev.Credential) {
		c.mu.Unlock()
		return
	}
	prev := c.user
	c.user = nil
	c.credential = ""
	c.mu.Unlock()

	c.metrics.Inc(MetricForcedLogout)
	c.logger.Warn().Str("request_id", ev.RequestID).Str("path", ev.Path).Msg("session rejected by backend")
	c.emit(ctx, EventForcedLogout, prev, nil, map[string]string{
		"path":        ev.Path,
		"entry_point": ev.EntryPoint,
	})
}

/*
====================================
PROFILE
====================================
*/

// UpdateProfile sends a partial update. The server's full record replaces the
// in-memory user; nothing is merged locally. On failure the user is unchanged.
func (c *Client) UpdateProfile(ctx context.Context, p ProfileUpdate) (User, error) {
	if c == nil {
		return User{}, ErrClientNotReady
	}
	if c.isClosed() {
		c.surface(ctx, ErrClientNotReady, c.cfg.Messages.ProfileUpdateFailed)
		return User{}, ErrClientNotReady
	}

	if err := p.validate(); err != nil {
		c.metrics.Inc(MetricProfileUpdateFailure)
		c.surface(ctx, err, c.cfg.Messages.ProfileUpdateFailed)
		return User{}, err
	}

	c.mu.RLock()
	token := c.credential
	signedIn := c.user != nil && token != ""
	c.mu.RUnlock()
	if !signedIn {
		c.metrics.Inc(MetricProfileUpdateFailure)
		c.surface(ctx, ErrNotAuthenticated, c.cfg.Messages.ProfileUpdateFailed)
		return User{}, ErrNotAuthenticated
	}

	var u User
	if err := c.gw.PutJSON(ctx, c.cfg.Endpoints.Profile, p, &u); err != nil {
		c.metrics.Inc(MetricProfileUpdateFailure)
		c.logger.Info().Err(err).Msg("profile update failed")
		c.emit(ctx, EventProfileUpdated, nil, err, nil)
		c.surface(ctx, err, c.cfg.Messages.ProfileUpdateFailed)
		return User{}, err
	}

	c.mu.Lock()
	adopted := c.credential == token
	if adopted {
		c.user = &u
	}
	c.mu.Unlock()

	if adopted && c.cfg.Storage.PersistUser {
		c.persistRecord(ctx, token, u)
	}

	c.metrics.Inc(MetricProfileUpdateSuccess)
	c.emit(ctx, EventProfileUpdated, &u, nil, nil)
	c.announce(ctx, c.cfg.Messages.ProfileUpdated)
	return u.clone(), nil
}

/*
====================================
STATE
====================================
*/

// State returns a copy of the current session.
func (c *Client) State() State {
	if c == nil {
		return State{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := State{
		Credential: c.credential,
		Pending:    c.pending > 0,
	}
	if c.user != nil {
		u := c.user.clone()
		s.User = &u
	}
	return s
}

// User returns the signed-in user, if any.
func (c *Client) User() (User, bool) {
	s := c.State()
	if s.User == nil {
		return User{}, false
	}
	return *s.User, true
}

func (c *Client) Credential() string {
	return c.State().Credential
}

// Pending reports whether a login or registration is in flight.
func (c *Client) Pending() bool {
	return c.State().Pending
}

func (c *Client) Authenticated() bool {
	return c.State().Authenticated()
}

// Gateway returns the Gateway this Client sends through. Other features of the
// application use it for their own backend calls.
func (c *Client) Gateway() *gateway.Gateway {
	return c.gw
}

func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// EventsDropped returns the number of session events lost to a full buffer.
func (c *Client) EventsDropped() uint64 {
	return c.events.Dropped()
}

func (c *Client) EventStats() EventStats {
	return c.events.Stats()
}

// Close flushes pending events. Operations after Close return ErrClientNotReady;
// the session itself is left in storage.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.events.Close()
}

/*
====================================
HELPERS
====================================
*/

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) beginPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.Session.RejectConcurrentLogin && c.pending > 0 {
		return false
	}
	c.pending++
	return true
}

func (c *Client) endPending() {
	c.mu.Lock()
	c.pending--
	c.mu.Unlock()
}

// surface tells the person about a failure the Gateway has not already reported.
// A 401 on an authenticated call belongs to the Gateway's forced-logout policy, even
// when another caller's response already cleared the credential.
func (c *Client) surface(ctx context.Context, err error, fallback string) {
	if err == nil || gateway.Handled(err) || gateway.KindOf(err) == gateway.KindUnauthorized {
		return
	}
	c.notifier.Notify(context.WithoutCancel(ctx), gateway.Notification{
		Level:   gateway.LevelError,
		Kind:    gateway.KindOf(err),
		Message: Message(err, fallback),
	})
}

func (c *Client) announce(ctx context.Context, msg string) {
	if msg == "" {
		return
	}
	c.notifier.Notify(context.WithoutCancel(ctx), gateway.Notification{
		Level:   gateway.LevelSuccess,
		Message: msg,
	})
}

func (c *Client) persistRecord(ctx context.Context, token string, u User) {
	data, err := json.Marshal(sessionRecord{User: u, Credential: token, SavedAt: c.now().UTC()})
	if err == nil {
		err = c.repo.SetRecord(context.WithoutCancel(ctx), data)
	}
	if err != nil {
		c.metrics.Inc(MetricCredentialStoreError)
		c.logger.Error().Err(err).Msg("persisting session record failed")
	}
}

// StoredSession returns the persisted {user, credential} record written when
// Storage.PersistUser is enabled.
func (c *Client) StoredSession(ctx context.Context) (User, string, error) {
	data, err := c.repo.GetRecord(ctx)
	if err != nil {
		return User{}, "", err
	}
	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return User{}, "", fmt.Errorf("%w: decode session record: %v", ErrCredentialStore, err)
	}
	return rec.User, rec.Credential, nil
}
