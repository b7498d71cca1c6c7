package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"exampro/pkg/domain"
)

const (
	tokenIssuer = "exampro"

	// DefaultTokenTTL is the lifetime of an API session token.
	DefaultTokenTTL = 24 * time.Hour
	defaultLeeway   = 30 * time.Second
)

// Claims are the session token claims: the registered set plus the role so
// admin checks do not need a store round trip.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 session tokens for the HTTP API.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

// NewTokens builds a token issuer from a shared secret.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, errors.New("session token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}, nil
}

// Issue signs a token for a user.
func (t *Tokens) Issue(email string, role domain.UserRole) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", errors.New("token subject required")
	}
	now := time.Now().UTC()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        randomHexID(12),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify validates a token and returns the subject email and role.
func (t *Tokens) Verify(token string) (string, domain.UserRole, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", errors.New("token required")
	}
	claims := Claims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(defaultLeeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return "", "", err
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", "", errors.New("token subject missing")
	}
	role := domain.UserRole(claims.Role)
	switch role {
	case domain.RoleStudent, domain.RoleAdmin:
	default:
		return "", "", fmt.Errorf("token has unknown role %q", claims.Role)
	}
	return subject, role, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}
