package authclient

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authclient/credential"
	"github.com/MrEthical07/authclient/gateway"
)

// Config holds every setting of a Client. Start from DefaultConfig and override fields.
type Config struct {
	Gateway   gateway.Config
	Endpoints EndpointsConfig
	Storage   StorageConfig
	Session   SessionConfig
	Messages  MessagesConfig
	Events    EventsConfig
	Metrics   MetricsConfig
}

/*
====================================
ENDPOINTS CONFIG
====================================
*/

// EndpointsConfig holds the backend paths, relative to Gateway.BaseURL.
type EndpointsConfig struct {
	Login    string
	Register string
	// Profile serves both the profile fetch (GET) and the profile update (PUT).
	Profile string
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig controls what is persisted across restarts.
type StorageConfig struct {
	// Namespace prefixes the durable keys. Repositories built by the caller carry
	// their own namespace; this value is used by the CLI and by Lint.
	Namespace string
	// PersistUser also stores the {user, credential} record. Initialize still re-fetches
	// the user; the record is informational.
	PersistUser bool
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	// DiscardExpiredCredentials drops a persisted JWT whose exp has passed without
	// calling the backend, so no forced-logout handler runs for it. Off by default:
	// every persisted credential is confirmed with a profile fetch. Opaque credentials
	// are always confirmed remotely.
	DiscardExpiredCredentials bool
	ExpiryLeeway              time.Duration
	// RejectConcurrentLogin fails a Login with ErrLoginInFlight while another is
	// pending. When false, overlapping logins all run and the last to finish wins.
	RejectConcurrentLogin bool
}

/*
====================================
MESSAGES CONFIG
====================================
*/

// MessagesConfig holds the fallback texts surfaced when the backend sends no detail.
type MessagesConfig struct {
	LoginFailed         string
	RegisterFailed      string
	ProfileUpdateFailed string
	LoginSucceeded      string
	RegisterSucceeded   string
	LoggedOut           string
	ProfileUpdated      string
}

/*
====================================
EVENTS / METRICS CONFIG
====================================
*/

// EventsConfig controls the asynchronous session event stream.
type EventsConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration. Gateway.BaseURL must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Gateway: gateway.Config{
			Timeout:     gateway.DefaultTimeout,
			ContentType: gateway.DefaultContentType,
			EntryPoint:  gateway.DefaultEntryPoint,
		},
		Endpoints: EndpointsConfig{
			Login:    "/api/auth/login",
			Register: "/api/auth/register",
			Profile:  "/api/auth/me",
		},
		Storage: StorageConfig{
			Namespace: credential.DefaultNamespace,
		},
		Session: SessionConfig{
			DiscardExpiredCredentials: false,
			ExpiryLeeway:              30 * time.Second,
		},
		Messages: MessagesConfig{
			LoginFailed:         "Login failed",
			RegisterFailed:      "Registration failed",
			ProfileUpdateFailed: "Update failed",
			LoginSucceeded:      "Welcome back!",
			RegisterSucceeded:   "Account created",
			LoggedOut:           "Logged out",
			ProfileUpdated:      "Profile updated",
		},
		Events: EventsConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if err := c.Gateway.Validate(); err != nil {
		return err
	}

	for name, path := range map[string]string{
		"Login":    c.Endpoints.Login,
		"Register": c.Endpoints.Register,
		"Profile":  c.Endpoints.Profile,
	} {
		if strings.TrimSpace(path) == "" {
			return errors.New("Endpoints " + name + " must be set")
		}
		if strings.ContainsAny(path, " \t\r\n?#") {
			return errors.New("Endpoints " + name + " must be a plain path")
		}
	}

	if strings.TrimSpace(c.Storage.Namespace) == "" {
		return errors.New("Storage Namespace must be set")
	}

	if c.Session.ExpiryLeeway < 0 {
		return errors.New("Session ExpiryLeeway must be >= 0")
	}
	if c.Session.ExpiryLeeway > 10*time.Minute {
		return errors.New("Session ExpiryLeeway must be <= 10m")
	}

	if strings.TrimSpace(c.Messages.LoginFailed) == "" ||
		strings.TrimSpace(c.Messages.RegisterFailed) == "" ||
		strings.TrimSpace(c.Messages.ProfileUpdateFailed) == "" {
		return errors.New("Messages failure texts must be set")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0 when Events are enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
