package authclient

import (
	"errors"

	"github.com/MrEthical07/authclient/gateway"
)

var (
	// ErrClientNotReady is returned by operations on a nil or closed Client.
	ErrClientNotReady = errors.New("client not initialized")
	// ErrLoginInFlight is returned when Session.RejectConcurrentLogin is set and a login
	// is already pending.
	ErrLoginInFlight = errors.New("login already in flight")
	// ErrCredentialsRequired is returned when the identifier or secret is blank.
	ErrCredentialsRequired = errors.New("identifier and secret required")
	ErrRegistrationInvalid = errors.New("invalid registration request")
	ErrRoleInvalid         = errors.New("invalid role")
	ErrTierInvalid         = errors.New("invalid proficiency tier")
	// ErrMissingToken is returned when a login response carries no credential.
	ErrMissingToken = errors.New("login response carried no token")
	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("no active session")
	// ErrMissingUser is returned when a backend response carries no user record.
	ErrMissingUser = errors.New("response carried no user")
	// ErrCredentialStore wraps failures of the credential repository.
	ErrCredentialStore = errors.New("credential store failure")
	// ErrCredentialExpired is returned by Initialize when the persisted credential is a
	// JWT whose expiry has passed.
	ErrCredentialExpired = errors.New("persisted credential expired")
)

// Message returns the text to show a person for err: the backend detail when the
// response carried one, the error itself for local validation failures, and fallback
// otherwise.
func Message(err error, fallback string) string {
	if err == nil {
		return ""
	}
	if d := gateway.Detail(err); d != "" {
		return d
	}
	switch {
	case errors.Is(err, ErrCredentialsRequired),
		errors.Is(err, ErrRegistrationInvalid),
		errors.Is(err, ErrRoleInvalid),
		errors.Is(err, ErrTierInvalid),
		errors.Is(err, ErrLoginInFlight):
		return err.Error()
	}
	return fallback
}
