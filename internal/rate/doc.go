// Package rate provides a Redis-backed fixed-window counter for failed sign-in
// attempts. The fake backend in authtest uses it to answer 429.
//
// # Window semantics
//
// INCR plus a conditional EXPIRE on the first hit. Keys are <prefix>al:<identifier>.
//
// # What this package must NOT do
//
//   - Decide HTTP status codes or messages.
//   - Be imported outside this module.
package rate
