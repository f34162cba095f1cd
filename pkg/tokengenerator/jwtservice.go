package tokengenerator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Token names used in JSON bodies
const (
	ACCESS_TOKEN_NAME  = "access_token"
	REFRESH_TOKEN_NAME = "refresh_token"
)

// Default token expiry durations
const (
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 7 * 24 * time.Hour
)

// Subject identifies who a token pair is issued to
type Subject struct {
	UserID   uuid.UUID
	Email    string
	Role     string
	DeviceID uuid.UUID
}

// TokenPair is the access and refresh token issued for one device session
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// JwtService issues device-bound session tokens
type JwtService struct {
	generator          TokenGenerator
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// JwtServiceOption is a function that configures a JwtService
type JwtServiceOption func(*JwtService)

// WithAccessTokenExpiry sets the access token expiry duration
func WithAccessTokenExpiry(expiry time.Duration) JwtServiceOption {
	return func(js *JwtService) {
		if expiry > 0 {
			js.AccessTokenExpiry = expiry
		}
	}
}

// WithRefreshTokenExpiry sets the refresh token expiry duration
func WithRefreshTokenExpiry(expiry time.Duration) JwtServiceOption {
	return func(js *JwtService) {
		if expiry > 0 {
			js.RefreshTokenExpiry = expiry
		}
	}
}

// NewJwtService creates a new JwtService
func NewJwtService(generator TokenGenerator, options ...JwtServiceOption) *JwtService {
	js := &JwtService{
		generator:          generator,
		AccessTokenExpiry:  DefaultAccessTokenExpiry,
		RefreshTokenExpiry: DefaultRefreshTokenExpiry,
	}
	for _, opt := range options {
		opt(js)
	}
	return js
}

// IssueTokens signs an access and a refresh token for subject. Both carry
// the same user, role and device claims; only the refresh token has type=refresh.
func (js *JwtService) IssueTokens(subject Subject) (TokenPair, error) {
	claims := Claims{
		Email:    subject.Email,
		Role:     subject.Role,
		DeviceID: subject.DeviceID.String(),
	}
	claims.Subject = subject.UserID.String()

	access := claims
	access.Type = TokenTypeAccess
	accessToken, accessExpiry, err := js.generator.GenerateToken(access, js.AccessTokenExpiry)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	refresh := claims
	refresh.Type = TokenTypeRefresh
	refreshToken, refreshExpiry, err := js.generator.GenerateToken(refresh, js.RefreshTokenExpiry)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// ParseRefreshToken verifies a refresh token and returns its subject.
// Tokens of any other type are rejected with ErrInvalidToken.
func (js *JwtService) ParseRefreshToken(tokenStr string) (Subject, error) {
	return js.parse(tokenStr, TokenTypeRefresh)
}

// ParseAccessToken verifies an access token and returns its subject
func (js *JwtService) ParseAccessToken(tokenStr string) (Subject, error) {
	return js.parse(tokenStr, TokenTypeAccess)
}

func (js *JwtService) parse(tokenStr, tokenType string) (Subject, error) {
	claims, err := js.generator.ParseToken(tokenStr)
	if err != nil {
		return Subject{}, err
	}
	if claims.Type != tokenType {
		return Subject{}, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, tokenType, claims.Type)
	}
	return SubjectFromClaims(claims)
}

// SubjectFromClaims converts verified claims into a Subject
func SubjectFromClaims(claims *Claims) (Subject, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	deviceID, err := uuid.Parse(claims.DeviceID)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: bad device id", ErrInvalidToken)
	}
	return Subject{
		UserID:   userID,
		Email:    claims.Email,
		Role:     claims.Role,
		DeviceID: deviceID,
	}, nil
}
