// Package token issues and validates the signed, stateless, typed tokens
// used by the authentication core: access, refresh, password_reset, and
// email_verification. Tokens are compact HS256 JWTs whose authoritative
// fields are the subject identity id, the type discriminator, and the
// absolute expiry; any other embedded claims are advisory only.
package token
