package credential

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when the requested key holds no value.
	ErrNotFound = errors.New("credential not found")
	// ErrUnavailable wraps failures of the underlying storage.
	ErrUnavailable = errors.New("credential storage unavailable")
	// ErrInvalidNamespace is returned by constructors given an unusable namespace.
	ErrInvalidNamespace = errors.New("invalid credential namespace")
	// ErrEmptyToken is returned by Set when asked to persist an empty credential.
	ErrEmptyToken = errors.New("empty credential")
)

// DefaultNamespace is used when a constructor receives an empty namespace.
const DefaultNamespace = "authclient"

// Repository is the credential store shared by the session store and the gateway.
//
// Implementations must be safe for concurrent use. Clear and CompareAndClear remove
// both the token and the session record.
type Repository interface {
	// Get returns the persisted credential or ErrNotFound.
	Get(ctx context.Context) (string, error)
	// Set persists the credential, replacing any previous one.
	Set(ctx context.Context, token string) error
	// Clear removes the credential and the session record. Clearing an empty
	// repository is not an error.
	Clear(ctx context.Context) error
	// CompareAndClear clears the repository only when the persisted credential equals
	// token. It reports whether anything was cleared.
	CompareAndClear(ctx context.Context, token string) (bool, error)

	// GetRecord returns the serialized session record or ErrNotFound.
	GetRecord(ctx context.Context) ([]byte, error)
	// SetRecord persists the serialized session record.
	SetRecord(ctx context.Context, data []byte) error
}

// Keys returns the token and session-record keys for namespace.
func Keys(namespace string) (token, record string) {
	ns := normalizeNamespace(namespace)
	return ns + ":token", ns + ":session"
}

func normalizeNamespace(namespace string) string {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

func validNamespace(namespace string) bool {
	ns := normalizeNamespace(namespace)
	if len(ns) > 128 || ns == "." || ns == ".." {
		return false
	}
	return !strings.ContainsAny(ns, "/\\: \t\n")
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var (
	_ Repository = (*Memory)(nil)
	_ Repository = (*File)(nil)
	_ Repository = (*Redis)(nil)
)
