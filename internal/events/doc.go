// Package events delivers session events (restores, logins, logouts, forced logouts,
// profile updates) to a caller-supplied sink without blocking the transition that
// produced them.
//
// The package owns buffering and delivery only. Which events exist and when they are
// emitted is decided by the root package.
package events
