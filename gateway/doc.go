// Package gateway is the single configured HTTP transport through which every backend
// call passes.
//
// # Request policy
//
// Before a request leaves the process the gateway reads the shared
// [credential.Repository] and attaches the credential as a bearer token. Calls that
// establish a credential (login, registration) are marked with [Anonymous] and are sent
// without one.
//
// # Response policy
//
//   - 401: the credential that was sent is cleared (compare-and-clear, so a late 401 for
//     an old credential never removes a newer one) and every handler registered with
//     [Gateway.OnUnauthenticated] is called with the configured entry point.
//   - 403: "access denied" notification; session untouched.
//   - 5xx: "try again later" notification; session untouched.
//   - no response: notification carrying the transport error; session untouched.
//   - anything else passes through; non-2xx statuses are returned as [*Error].
//
// # What this package must NOT do
//
//   - Import authclient (the session store registers itself through OnUnauthenticated).
//   - Hold its own copy of the credential.
//   - Retry, queue, or cancel requests beyond the configured timeout.
package gateway
