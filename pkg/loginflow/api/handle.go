package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-lms/pkg/client"
	deviceapi "github.com/tendant/simple-lms/pkg/device/api"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
	"github.com/tendant/simple-lms/pkg/loginflow"
	tg "github.com/tendant/simple-lms/pkg/tokengenerator"
)

// Handle serves login, refresh and logout
type Handle struct {
	loginFlowService *loginflow.LoginFlowService
}

func NewHandle(loginFlowService *loginflow.LoginFlowService) Handle {
	return Handle{loginFlowService: loginFlowService}
}

// LoginRequest represents the request body of a login
type LoginRequest struct {
	Email      string               `json:"email"`
	Password   string               `json:"password"`
	DeviceInfo deviceapi.DeviceInfo `json:"deviceInfo"`
}

// RefreshRequest represents the request body of a token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UserResponse is the public view of the authenticated user
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

// TokenResponse carries a freshly issued token pair
type TokenResponse struct {
	AccessToken      string        `json:"accessToken"`
	RefreshToken     string        `json:"refreshToken"`
	AccessExpiresAt  time.Time     `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time     `json:"refreshExpiresAt"`
	DeviceID         string        `json:"deviceId,omitempty"`
	User             *UserResponse `json:"user,omitempty"`
}

// PendingApprovalResponse is returned when the device needs an administrator's approval
type PendingApprovalResponse struct {
	Status    string       `json:"status"`
	RequestID string       `json:"requestId"`
	Message   string       `json:"message"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Login authenticates the user and binds the session to the calling device.
// It answers 200 with tokens or 202 when the device awaits approval.
func (h Handle) Login(w http.ResponseWriter, r *http.Request) {
	var body LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErrorResponse(w, r, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	result, err := h.loginFlowService.Login(r.Context(), loginflow.Request{
		Email:       body.Email,
		Password:    body.Password,
		Fingerprint: body.DeviceInfo.Fingerprint(r),
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	user := toUserResponse(result.User)
	if result.Status == loginflow.StatusPendingApproval {
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, PendingApprovalResponse{
			Status:    string(result.Status),
			RequestID: result.EnrollmentRequest.ID.String(),
			Message:   result.Message,
			ExpiresAt: result.EnrollmentRequest.ExpiresAt,
			User:      user,
		})
		return
	}

	response := toTokenResponse(*result.Tokens)
	response.DeviceID = result.Device.ID.String()
	response.User = &user
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// Refresh exchanges a refresh token for a new pair bound to the same device
func (h Handle) Refresh(w http.ResponseWriter, r *http.Request) {
	var body RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
		renderErrorResponse(w, r, http.StatusUnauthorized, "invalid or expired token", string(apperrors.ErrCodeTokenInvalid))
		return
	}

	pair, err := h.loginFlowService.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toTokenResponse(pair))
}

// Logout revokes the device bound to the caller's access token
func (h Handle) Logout(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.GetAuthUser(r)
	if !ok {
		renderErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	if err := h.loginFlowService.Logout(r.Context(), authUser.UserID, authUser.DeviceID); err != nil {
		renderServiceError(w, r, err)
		return
	}
	slog.Info("User logged out", "userID", authUser.UserID, "deviceID", authUser.DeviceID)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, SuccessResponse{Status: "success", Message: "Logged out"})
}

// Handler returns a http.Handler for the auth API. The auth middlewares
// guard logout only.
func Handler(h Handle, auth ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.With(auth...).Post("/logout", h.Logout)

	return r
}

func toUserResponse(u login.User) UserResponse {
	return UserResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      string(u.Role),
	}
}

func toTokenResponse(pair tg.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

// renderServiceError renders a coded service error with its mapped status
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.HTTPStatusCode() >= http.StatusInternalServerError {
		slog.Error("Auth request failed", "err", err)
		renderErrorResponse(w, r, http.StatusInternalServerError, "Internal server error", string(apperrors.ErrCodeInternal))
		return
	}
	renderErrorResponse(w, r, appErr.HTTPStatusCode(), appErr.Message, string(appErr.Code))
}

// renderErrorResponse renders an error response with the given status code and message
func renderErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message, errorDetail string) {
	response := ErrorResponse{
		Status:  "error",
		Message: message,
	}

	if errorDetail != "" {
		response.Error = errorDetail
	}

	render.Status(r, statusCode)
	render.JSON(w, r, response)
}
