package tokengenerator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims of both session tokens. The subject is the user id.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	Type     string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// TokenGenerator signs and verifies session tokens
type TokenGenerator interface {
	// GenerateToken signs claims with the given lifetime and returns the token and its expiry
	GenerateToken(claims Claims, expiry time.Duration) (string, time.Time, error)

	// ParseToken verifies the signature and registered claims of a token
	ParseToken(tokenStr string) (*Claims, error)
}

// JwtTokenGenerator implements the TokenGenerator interface with HS256
type JwtTokenGenerator struct {
	Secret   string
	Issuer   string
	Audience string
	now      func() time.Time
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator
func NewJwtTokenGenerator(secret, issuer, audience string) *JwtTokenGenerator {
	return &JwtTokenGenerator{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GenerateToken creates a new token from claims, filling in the registered claims
func (g *JwtTokenGenerator) GenerateToken(claims Claims, expiry time.Duration) (string, time.Time, error) {
	now := g.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
		Issuer:    g.Issuer,
		Subject:   claims.Subject,
		ID:        uuid.New().String(),
	}
	if g.Audience != "" {
		claims.Audience = jwt.ClaimStrings{g.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed sign JWT Claim string!", "err", err)
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return ss, claims.ExpiresAt.Time, nil
}

// ParseToken parses and validates a token string. Every failure maps to
// ErrInvalidToken so callers cannot tell expiry from tampering.
func (g *JwtTokenGenerator) ParseToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
		jwt.WithExpirationRequired(),
	}
	if g.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.Issuer))
	}
	if g.Audience != "" {
		opts = append(opts, jwt.WithAudience(g.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(g.Secret), nil
	}, opts...)
	if err != nil {
		slog.Debug("Failed parse JWT string", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
