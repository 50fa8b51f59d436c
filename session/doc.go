// Package session provides Redis-backed tracking of active login
// sessions, one record per issued access token.
//
// # Architecture boundaries
//
// This package owns the [Registry] (Redis operations) and the [Record]
// model. It does NOT interpret JWT tokens, verify passwords, or enforce
// authentication policy; those responsibilities belong to the Engine.
// Session identifiers are derived from token material by [ID] so the
// registry never stores a usable credential.
package session
