package fabric

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience is the "aud" claim carried by every gateway credential.
const Audience = "fabric-gateway"

// Signer issues and verifies HS256 credentials shared between the vault and
// the fabric gateway. The vault uses it to mint client assertions; the
// gateway uses it to verify them and to issue client-credentials tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewSigner creates a Signer. ttl defaults to five minutes.
func NewSigner(secret []byte, issuer string, ttl time.Duration) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("signing secret must be at least 16 bytes")
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Signer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// TTL returns the lifetime of issued credentials.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign returns a signed credential for subject.
func (s *Signer) Sign(subject string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.New().String(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign credential: %w", err)
	}
	return signed, nil
}

// Verify parses a credential and returns its subject.
func (s *Signer) Verify(tokenStr string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims,
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("verify credential: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid credential")
	}
	return claims.Subject, nil
}
