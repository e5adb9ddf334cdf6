// Package jwt inspects bearer credentials that happen to be JWTs.
//
// The client never holds a verification key, so nothing here establishes trust. Inspect
// only reads the registered claims so the session store can drop a credential whose
// expiry has already passed without asking the backend. Opaque tokens are reported with
// [ErrNotJWT] and must be confirmed against the backend as usual.
package jwt
