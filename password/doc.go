// Package password wraps bcrypt hashing and verification for the
// authentication core. Comparison is constant-time by construction, and
// [Hasher.CompareDummy] lets callers burn an equivalent verification on
// paths where no real hash exists.
package password
