// Package authcore is the authentication and session-security core of a
// web-application backend: typed JWT issuance and validation, a
// cache-backed revocation registry, brute-force login lockout, two-factor
// step-up authentication (email OTP and TOTP), session tracking, and
// OAuth identity linking.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (LoginResult, TOTPSetup, etc.). The durable
// identity store, the outbound notifier, and all HTTP wiring are external
// collaborators injected through the Builder; authcore never opens its
// own connections. The Redis client is an owned handle passed in by the
// caller, who remains responsible for closing it.
//
// # What this package must NOT do
//
//   - Expose Redis clients or cache key layouts in its public API.
//   - Trust token side-channel claims (username, role) in
//     authorization-sensitive paths; those always re-read the store.
//   - Reveal whether an identifier exists: unknown identifiers and wrong
//     passwords both fail with the same ErrInvalidCredentials.
//
// # Concurrency contract
//
// No in-process locks are held. Correctness under concurrent requests
// relies on the cache's atomic primitives (INCR+EXPIRE for counters,
// idempotent SET/DEL elsewhere). Token validation is pure and performs no
// I/O beyond the revocation lookup.
package authcore
