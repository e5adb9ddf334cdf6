package gateway

import "context"

type anonymousContextKey struct{}

// Anonymous marks ctx for a call that establishes a credential. The gateway sends such
// calls without a bearer token, and a 401 response is treated as an ordinary rejection
// (bad password) rather than a forced logout.
func Anonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousContextKey{}, true)
}

// IsAnonymous reports whether ctx was marked with Anonymous.
func IsAnonymous(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(anonymousContextKey{}).(bool)
	return v
}
