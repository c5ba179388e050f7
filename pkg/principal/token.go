package principal

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims carried by a principal token. The capability
// list in the token is the source of truth for what the bound caller may
// invoke; the HTTP layer rebuilds the Principal from it on every request.
type Claims struct {
	jwt.RegisteredClaims
	Capabilities []string `json:"capabilities"`
}

// TokenIssuer signs and validates principal tokens with a shared HMAC key.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewTokenIssuer creates an issuer. A nil or empty key disables issuance
// and makes validation fail closed.
func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenIssuer{key: key, ttl: ttl}
}

// Issue signs a token binding the principal's id and grants.
func (i *TokenIssuer) Issue(p *Principal) (string, error) {
	if len(i.key) == 0 {
		return "", fmt.Errorf("token issuer has no signing key")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Capabilities: p.Capabilities(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// Validate parses a token string and rebuilds the bound principal.
func (i *TokenIssuer) Validate(tokenStr string) (*Principal, error) {
	if len(i.key) == 0 {
		return nil, fmt.Errorf("token validation not configured")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	caps := make([]Capability, 0, len(claims.Capabilities))
	for _, c := range claims.Capabilities {
		caps = append(caps, Capability(c))
	}
	return New(claims.Subject, caps...), nil
}
