package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned by Inspect for credentials that do not parse as a JWT.
var ErrNotJWT = errors.New("credential is not a jwt")

// maxTokenLength bounds the input handed to the parser.
const maxTokenLength = 8192

// Claims holds the registered claims of an unverified token. Zero times mean the claim
// was absent.
type Claims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Inspect decodes the registered claims of token without verifying its signature.
func Inspect(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > maxTokenLength || strings.Count(token, ".") != 2 {
		return Claims{}, ErrNotJWT
	}

	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	out := Claims{
		Subject: rc.Subject,
		Issuer:  rc.Issuer,
	}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, nil
}

// Expired reports whether the token's expiry, extended by leeway, is at or before now.
// Tokens without an expiry never expire locally.
func (c Claims) Expired(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	if leeway < 0 {
		leeway = 0
	}
	return !now.Before(c.ExpiresAt.Add(leeway))
}

// Remaining returns the time left before expiry, or zero when expired or absent.
func (c Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() {
		return 0
	}
	d := c.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
