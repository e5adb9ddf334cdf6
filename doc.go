// Package authclient is the session core of the learning platform client: it owns the
// authenticated user and bearer credential, restores them at process start, and keeps
// them consistent with the backend through the [gateway.Gateway] every call passes
// through.
//
// A [Client] is assembled with [Builder.Build] and is safe for concurrent use.
//
// # Architecture boundaries
//
// The root package owns session state and its transitions (Initialize, Login, Register,
// Logout, UpdateProfile). Request decoration and the reaction to 401/403/5xx/transport
// faults live in the gateway package. Durable storage of the credential lives in the
// credential package and is shared by both.
//
// # What this package must NOT do
//
//   - Navigate or render anything; forced logouts are reported through handlers.
//   - Retry failed calls or queue calls made while offline.
//   - Synchronize sessions across processes.
package authclient
