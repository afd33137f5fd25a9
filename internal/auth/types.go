// Package auth is the default JWT-backed implementation of the
// external auth collaborator: verify(bearer) -> {user_id, is_admin}.
// Signup, login, and password reset are out of scope — this package
// only answers "who is this principal?" for tokens it or an
// equivalent issuer minted.
package auth

import "time"

// Principal is the identity a verified bearer token resolves to.
type Principal struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// Claims is the JWT claim set carrying a Principal.
type Claims struct {
	UserID  string `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// TokenInfo is a validated token's decoded contents.
type TokenInfo struct {
	Principal Principal
	ExpiresAt time.Time
}

// ContextKey namespaces context values stored by this package.
type ContextKey string

// PrincipalContextKey is the context key the middleware stores the
// authenticated Principal under.
const PrincipalContextKey ContextKey = "principal"
