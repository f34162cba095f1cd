package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/tendant/simple-lms/pkg/login"
	tg "github.com/tendant/simple-lms/pkg/tokengenerator"
)

// AuthUser is the caller identified by a verified access token
type AuthUser struct {
	UserID   uuid.UUID
	Email    string
	Role     login.Role
	DeviceID uuid.UUID
}

func (i AuthUser) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", i.UserID.String()),
		slog.String("role", string(i.Role)),
		slog.String("device", i.DeviceID.String()),
	)
}

// IsAdmin reports whether the caller holds the administrator role
func (i AuthUser) IsAdmin() bool {
	return i.Role.IsAdmin()
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "lms context value " + k.name
}

var (
	AuthUserKey = &contextKey{"AuthUser"}
)

// tokenClaims is the subset of session token claims the middleware reads
type tokenClaims struct {
	Subject  string `json:"sub"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	DeviceID string `json:"deviceId"`
	Type     string `json:"type"`
}

func LoadFromMap[T any](m map[string]interface{}, c *T) error {
	data, err := json.Marshal(m)
	if err == nil {
		err = json.Unmarshal(data, c)
	}
	return err
}

// NewJWTAuth returns the HS256 verifier matching tokengenerator.JwtTokenGenerator.
// A non-empty issuer or audience must be present in every verified token.
func NewJWTAuth(secret, issuer, audience string) *jwtauth.JWTAuth {
	var opts []jwt.ValidateOption
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return jwtauth.New("HS256", []byte(secret), nil, opts...)
}

// Verifier extracts and verifies a token from the Authorization header or
// the access_token cookie.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return jwtauth.Verify(ja, jwtauth.TokenFromHeader, TokenFromCookie)
}

func TokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(tg.ACCESS_TOKEN_NAME)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// AuthUserMiddleware turns verified access token claims into an AuthUser.
// Missing or invalid tokens, refresh tokens and tokens without a device are
// rejected with 401.
func AuthUserMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || claims == nil {
			slog.Debug("Rejected request without valid token", "err", err)
			http.Error(w, "missing or invalid token", http.StatusUnauthorized)
			return
		}

		var tc tokenClaims
		if err := LoadFromMap(claims, &tc); err != nil {
			slog.Error("failed to parse token claims", "error", err)
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		if tc.Type != tg.TokenTypeAccess {
			http.Error(w, "access token required", http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(tc.Subject)
		if err != nil {
			http.Error(w, "missing user ID in token", http.StatusUnauthorized)
			return
		}
		deviceID, err := uuid.Parse(tc.DeviceID)
		if err != nil {
			http.Error(w, "missing device ID in token", http.StatusUnauthorized)
			return
		}

		authUser := &AuthUser{
			UserID:   userID,
			Email:    tc.Email,
			Role:     login.Role(tc.Role),
			DeviceID: deviceID,
		}
		slog.Debug("authenticated user", "user", authUser)

		ctx := context.WithValue(r.Context(), AuthUserKey, authUser)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthUser returns the AuthUser stored by AuthUserMiddleware
func GetAuthUser(r *http.Request) (*AuthUser, bool) {
	authUser, ok := r.Context().Value(AuthUserKey).(*AuthUser)
	return authUser, ok && authUser != nil
}
