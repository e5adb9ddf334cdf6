// Package credential provides the durable storage shared by the session store and the
// HTTP gateway: the bearer credential and, optionally, the serialized session record.
//
// # Keys
//
// Every repository lays its data out under one namespace:
//
//   - <namespace>:token holds the opaque bearer credential
//   - <namespace>:session holds the serialized {user, credential} record
//
// # Implementations
//
//   - [Memory]: process memory only; the substitute used in tests.
//   - [File]: one directory per namespace, written atomically.
//   - [Redis]: go-redis client; compare-and-clear runs as a Lua script.
//
// # What this package must NOT do
//
//   - Import authclient or gateway (no upward imports).
//   - Interpret the credential. Tokens are opaque here.
package credential
