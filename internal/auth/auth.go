package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidToken is returned when a bearer token is malformed or
	// signed with an unexpected method.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a bearer token has expired.
	ErrTokenExpired = errors.New("token has expired")
)

// JWTClaims is the on-wire claim set for a Manager-issued token.
type JWTClaims struct {
	Claims
	jwt.RegisteredClaims
}

// Verifier is the external auth collaborator's consumer-facing
// contract: verify(bearer) -> {user_id, is_admin} | Error. The
// subscriber hub and command surface depend on this interface, not on
// Manager directly, so a different issuer can be substituted without
// touching either.
type Verifier interface {
	Verify(bearer string) (Principal, error)
}

// Manager is the default JWT-backed Verifier, plus the credential
// check and token issuance a login handler needs. It holds no
// per-user store: usernames/passwords are validated against whatever
// the caller supplies (wired to the storage collaborator's User
// table in production).
type Manager struct {
	jwtSecret      []byte
	tokenExpiryHrs int
}

// NewManager returns a Manager signing and verifying tokens with
// jwtSecret. tokenExpiryHrs <= 0 defaults to 24.
func NewManager(jwtSecret string, tokenExpiryHrs int) *Manager {
	if tokenExpiryHrs <= 0 {
		tokenExpiryHrs = 24
	}
	return &Manager{
		jwtSecret:      []byte(jwtSecret),
		tokenExpiryHrs: tokenExpiryHrs,
	}
}

// CheckPassword compares password against a bcrypt hash, returning
// ErrInvalidCredentials on mismatch.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword generates a bcrypt hash from a plain password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// IssueToken mints a bearer token for principal.
func (m *Manager) IssueToken(principal Principal) (token string, expiresAt int64, err error) {
	exp := time.Now().Add(time.Duration(m.tokenExpiryHrs) * time.Hour)

	claims := &JWTClaims{
		Claims: Claims{UserID: principal.UserID, IsAdmin: principal.IsAdmin},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "groundlink",
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(m.jwtSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, exp.Unix(), nil
}

// Verify validates bearer and returns the Principal it encodes.
func (m *Manager) Verify(bearer string) (Principal, error) {
	info, err := m.ValidateToken(bearer)
	if err != nil {
		return Principal{}, err
	}
	return info.Principal, nil
}

// ValidateToken parses and validates a bearer token, returning its
// full TokenInfo (principal plus expiry).
func (m *Manager) ValidateToken(tokenString string) (*TokenInfo, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return &TokenInfo{
		Principal: Principal{UserID: claims.UserID, IsAdmin: claims.IsAdmin},
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
