package config

import (
	"time"
)

// JWTConfig holds token signing configuration
type JWTConfig struct {
	Secret             string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer             string `env:"JWT_ISSUER" env-default:"simple-lms"`
	Audience           string `env:"JWT_AUDIENCE" env-default:"simple-lms"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" env-default:"PT15M"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" env-default:"P7D"`
}

// ParseAccessTokenExpiry parses the access token expiry duration
func (j JWTConfig) ParseAccessTokenExpiry() (time.Duration, error) {
	return ParseDuration(j.AccessTokenExpiry)
}

// ParseRefreshTokenExpiry parses the refresh token expiry duration
func (j JWTConfig) ParseRefreshTokenExpiry() (time.Duration, error) {
	return ParseDuration(j.RefreshTokenExpiry)
}

// Validate checks the secret and both expiries
func (j JWTConfig) Validate() error {
	access, accessErr := j.ParseAccessTokenExpiry()
	refresh, refreshErr := j.ParseRefreshTokenExpiry()
	return Validate(func() ValidationErrors {
		errs := CollectErrors(
			RequireMinLength("JWT_SECRET", j.Secret, 16),
			RequireNonEmpty("JWT_ISSUER", j.Issuer),
		)
		if accessErr != nil {
			errs = append(errs, ValidationError{Field: "ACCESS_TOKEN_EXPIRY", Message: accessErr.Error()})
		} else if e := RequirePositiveDuration("ACCESS_TOKEN_EXPIRY", access); e != nil {
			errs = append(errs, *e)
		}
		if refreshErr != nil {
			errs = append(errs, ValidationError{Field: "REFRESH_TOKEN_EXPIRY", Message: refreshErr.Error()})
		} else if e := RequirePositiveDuration("REFRESH_TOKEN_EXPIRY", refresh); e != nil {
			errs = append(errs, *e)
		}
		return errs
	})
}
