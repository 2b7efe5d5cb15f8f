package authz

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a capability token is malformed, expired or signed with another key.
var ErrInvalidToken = errors.New("invalid capability token")

const issuer = "proctoring-engine"

// CapabilityClaims are the JWT claims of a capability token.
type CapabilityClaims struct {
	jwt.RegisteredClaims
	Role Role `json:"role"`
}

// Tokens issues and validates HS256 capability tokens naming a subject and a role.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokens returns a Tokens signing with key. ttl <= 0 defaults to one hour.
func NewTokens(key []byte, ttl time.Duration) (*Tokens, error) {
	if len(key) < 16 {
		return nil, errors.New("authz: signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed token for c and its expiry.
func (t *Tokens) Issue(c Caller) (string, time.Time, error) {
	if c.Subject == "" || !c.Role.Valid() {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := t.now().UTC()
	exp := now.Add(t.ttl)
	claims := CapabilityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   c.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Role: c.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Validate parses and validates the token (signature, exp, iss) and returns the caller it names.
func (t *Tokens) Validate(token string) (Caller, error) {
	parsed, err := jwt.ParseWithClaims(token, &CapabilityClaims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.key, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(t.now))
	if err != nil {
		return Caller{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*CapabilityClaims)
	if !ok || !parsed.Valid || claims.Subject == "" || !claims.Role.Valid() {
		return Caller{}, ErrInvalidToken
	}
	return Caller{Subject: claims.Subject, Role: claims.Role}, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
