// Package authtest runs an in-process fake of the learning platform's auth backend for
// tests: form login issuing HS256 JWTs, registration with bcrypt-hashed passwords, and
// the profile endpoints, plus controls to revoke tokens, force status codes and hold
// requests in flight.
package authtest
