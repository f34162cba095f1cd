package client

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tendant/simple-lms/pkg/login"
)

// RequireAuth returns 401 unless AuthUserMiddleware identified the caller
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAuthUser(r); !ok {
			slog.Debug("Unauthenticated request to protected resource")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole returns a middleware that checks if the authenticated user has any of the specified roles.
// Returns 401 Unauthorized if not authenticated.
// Returns 403 Forbidden if authenticated but missing required role.
func RequireRole(roles ...login.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authUser, ok := GetAuthUser(r)
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if authUser.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Warn("User lacks required role",
				"userId", authUser.UserID,
				"userRole", authUser.Role,
				"requiredRoles", roles)
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
		})
	}
}

// RequireAdmin only lets administrators through
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(login.RoleAdmin)(next)
}

// DeviceChecker reports whether a device may still be used.
// *device.DeviceService satisfies it.
type DeviceChecker interface {
	IsDeviceActive(ctx context.Context, id uuid.UUID) (bool, error)
}

// RequireActiveDevice rejects access tokens bound to a revoked device. Without
// it, logout only takes effect when the access token expires.
func RequireActiveDevice(checker DeviceChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authUser, ok := GetAuthUser(r)
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			active, err := checker.IsDeviceActive(r.Context(), authUser.DeviceID)
			if err != nil {
				slog.Error("Failed to check device status", "err", err, "deviceID", authUser.DeviceID)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if !active {
				slog.Info("Rejected request from revoked device", "userId", authUser.UserID, "deviceID", authUser.DeviceID)
				http.Error(w, "device has been revoked", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
