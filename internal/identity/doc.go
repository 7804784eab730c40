// Package identity authenticates gateway callers.
//
// A Provider issues and verifies short-lived bearer tokens. Two
// implementations exist:
//   - LocalProvider keeps accounts in the gateway SQLite database, hashes
//     passwords with Argon2id and signs HS256 tokens
//   - RemoteProvider talks to an Identity-Toolkit-compatible REST API and
//     verifies RS256 ID tokens against the provider's published keys
//
// Service layers profile documents on top of either provider and backs the
// /auth/register, /auth/login and /me endpoints.
package identity
