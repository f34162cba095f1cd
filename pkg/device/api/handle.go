package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-lms/pkg/client"
	"github.com/tendant/simple-lms/pkg/device"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
)

// UserGetter loads the caller's account. *login.LoginService satisfies it.
type UserGetter interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (login.User, error)
}

// DeviceHandler handles HTTP requests for device enrollment and management
type DeviceHandler struct {
	deviceService *device.DeviceService
	users         UserGetter
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *device.DeviceService, users UserGetter) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		users:         users,
	}
}

// DeviceInfo is the fingerprint a client reports about itself. Fields left
// empty fall back to the request headers.
type DeviceInfo struct {
	InstallID string `json:"installId,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Model     string `json:"model,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// Fingerprint overlays the reported device info on what the request itself reveals
func (d DeviceInfo) Fingerprint(r *http.Request) device.Fingerprint {
	return device.FingerprintFromRequest(r).Overlay(device.Fingerprint{
		InstallID: d.InstallID,
		IP:        d.IP,
		UserAgent: d.UserAgent,
		Platform:  d.Platform,
		Model:     d.Model,
	})
}

// EnrollRequest represents the request body for direct enrollment
type EnrollRequest struct {
	DeviceInfo DeviceInfo `json:"deviceInfo"`
}

// DeviceResponse is the public view of a device
type DeviceResponse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Platform    string    `json:"platform,omitempty"`
	Model       string    `json:"model,omitempty"`
	InstallID   string    `json:"installId,omitempty"`
	LastIP      string    `json:"lastIp,omitempty"`
	Active      bool      `json:"active"`
	Trusted     bool      `json:"trusted"`
	ApprovedAt  time.Time `json:"approvedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// EnrollmentResponse is the public view of an enrollment request
type EnrollmentResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Platform  string    `json:"platform,omitempty"`
	Model     string    `json:"model,omitempty"`
	IP        string    `json:"ip,omitempty"`
	DeviceID  string    `json:"deviceId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// EnrollResponse represents the response body for direct enrollment
type EnrollResponse struct {
	Status    string          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Device    *DeviceResponse `json:"device,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

// ApproveRequest represents the optional body of an approval
type ApproveRequest struct {
	DeviceName string `json:"deviceName,omitempty"`
	IsTrusted  bool   `json:"isTrusted,omitempty"`
}

// RenameRequest represents the request body for renaming a device
type RenameRequest struct {
	Name string `json:"name"`
}

// TrustRequest represents the request body for changing device trust
type TrustRequest struct {
	Trusted bool `json:"trusted"`
}

// ListDevicesResponse represents the response body for listing devices
type ListDevicesResponse struct {
	Status  string           `json:"status"`
	Devices []DeviceResponse `json:"devices"`
}

// ListEnrollmentsResponse represents the response body for listing enrollment requests
type ListEnrollmentsResponse struct {
	Status      string               `json:"status"`
	Enrollments []EnrollmentResponse `json:"enrollments"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Enroll registers the caller's current device
func (h *DeviceHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.GetAuthUser(r)
	if !ok {
		renderErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized", "")
		return
	}

	var body EnrollRequest
	if err := decodeOptional(r, &body); err != nil {
		renderErrorResponse(w, r, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	user, err := h.users.GetUserByID(r.Context(), authUser.UserID)
	if err != nil {
		if errors.Is(err, login.ErrUserNotFound) {
			renderErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized", "")
			return
		}
		slog.Error("Failed to load user for enrollment", "err", err, "userID", authUser.UserID)
		renderErrorResponse(w, r, http.StatusInternalServerError, "Failed to load user", "")
		return
	}

	result, err := h.deviceService.Enroll(r.Context(), user, body.DeviceInfo.Fingerprint(r))
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	if result.Outcome == device.EnrollPending {
		expiresAt := result.Request.ExpiresAt
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, EnrollResponse{
			Status:    string(result.Outcome),
			Message:   "Device limit reached. An administrator must approve this device.",
			RequestID: result.Request.ID.String(),
			ExpiresAt: &expiresAt,
		})
		return
	}

	response := toDeviceResponse(*result.Device)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, EnrollResponse{
		Status: string(result.Outcome),
		Device: &response,
	})
}

// ListMyDevices lists the caller's devices
func (h *DeviceHandler) ListMyDevices(w http.ResponseWriter, r *http.Request) {
	authUser, ok := client.GetAuthUser(r)
	if !ok {
		renderErrorResponse(w, r, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	h.renderDevices(w, r, authUser.UserID)
}

// ListUserDevices lists the devices of the user in the path
func (h *DeviceHandler) ListUserDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	h.renderDevices(w, r, userID)
}

func (h *DeviceHandler) renderDevices(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	devices, err := h.deviceService.ListDevices(r.Context(), userID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	response := ListDevicesResponse{Status: "success", Devices: make([]DeviceResponse, 0, len(devices))}
	for _, d := range devices {
		response.Devices = append(response.Devices, toDeviceResponse(d))
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// ListUserEnrollments lists a user's enrollment requests; ?pending=true
// keeps only those still awaiting a decision.
func (h *DeviceHandler) ListUserEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}
	pendingOnly := r.URL.Query().Get("pending") == "true"

	requests, err := h.deviceService.ListEnrollmentRequests(r.Context(), userID, pendingOnly)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	response := ListEnrollmentsResponse{Status: "success", Enrollments: make([]EnrollmentResponse, 0, len(requests))}
	for _, req := range requests {
		response.Enrollments = append(response.Enrollments, toEnrollmentResponse(req))
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response)
}

// ApproveEnrollment approves a pending enrollment request
func (h *DeviceHandler) ApproveEnrollment(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var body ApproveRequest
	if err := decodeOptional(r, &body); err != nil {
		renderErrorResponse(w, r, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	d, err := h.deviceService.ApproveEnrollment(r.Context(), requestID, device.ApproveOptions{
		DisplayName: body.DeviceName,
		Trusted:     body.IsTrusted,
	})
	if err != nil {
		renderServiceError(w, r, err)
		return
	}

	if authUser, ok := client.GetAuthUser(r); ok {
		slog.Info("Enrollment approved", "requestID", requestID, "deviceID", d.ID, "admin", authUser.UserID)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toDeviceResponse(d))
}

// RejectEnrollment rejects a pending enrollment request
func (h *DeviceHandler) RejectEnrollment(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	req, err := h.deviceService.RejectEnrollment(r.Context(), requestID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toEnrollmentResponse(req))
}

// RenameDevice changes a device's display name
func (h *DeviceHandler) RenameDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var body RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErrorResponse(w, r, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	d, err := h.deviceService.Rename(r.Context(), deviceID, body.Name)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toDeviceResponse(d))
}

// SetDeviceTrusted marks a device trusted or untrusted
func (h *DeviceHandler) SetDeviceTrusted(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var body TrustRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		renderErrorResponse(w, r, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	d, err := h.deviceService.SetTrusted(r.Context(), deviceID, body.Trusted)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toDeviceResponse(d))
}

// RevokeDevice deactivates a device, freeing a slot under the cap
func (h *DeviceHandler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	d, err := h.deviceService.Revoke(r.Context(), deviceID)
	if err != nil {
		renderServiceError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, toDeviceResponse(d))
}

// Handler returns a http.Handler for the caller-facing device API.
// It expects client.AuthUserMiddleware to run first.
func Handler(h *DeviceHandler) http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.ListMyDevices)
	r.Post("/enroll", h.Enroll)

	return r
}

// AdminHandler returns a http.Handler for the administrator device API.
// Callers are expected to guard it with client.RequireAdmin.
func AdminHandler(h *DeviceHandler) http.Handler {
	r := chi.NewRouter()

	r.Post("/enrollments/{id}/approve", h.ApproveEnrollment)
	r.Post("/enrollments/{id}/reject", h.RejectEnrollment)
	r.Get("/users/{userID}/devices", h.ListUserDevices)
	r.Get("/users/{userID}/enrollments", h.ListUserEnrollments)
	r.Put("/devices/{id}/name", h.RenameDevice)
	r.Put("/devices/{id}/trusted", h.SetDeviceTrusted)
	r.Post("/devices/{id}/revoke", h.RevokeDevice)

	return r
}

func toDeviceResponse(d device.Device) DeviceResponse {
	return DeviceResponse{
		ID:          d.ID.String(),
		UserID:      d.UserID.String(),
		DisplayName: d.DisplayName,
		Platform:    d.Platform,
		Model:       d.Model,
		InstallID:   d.InstallID,
		LastIP:      d.LastIP,
		Active:      d.Active,
		Trusted:     d.Trusted,
		ApprovedAt:  d.ApprovedAt,
		LastSeenAt:  d.LastSeenAt,
	}
}

func toEnrollmentResponse(req device.EnrollmentRequest) EnrollmentResponse {
	resp := EnrollmentResponse{
		ID:        req.ID.String(),
		UserID:    req.UserID.String(),
		Status:    string(req.Status),
		Platform:  req.Platform,
		Model:     req.Model,
		IP:        req.IP,
		CreatedAt: req.CreatedAt,
		ExpiresAt: req.ExpiresAt,
	}
	if req.DeviceID != uuid.Nil {
		resp.DeviceID = req.DeviceID.String()
	}
	return resp
}

// decodeOptional decodes a JSON body that may be absent
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		renderErrorResponse(w, r, http.StatusBadRequest, "Invalid "+name, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// renderServiceError renders a coded service error with its mapped status
func renderServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		slog.Error("Unexpected device service error", "err", err)
		renderErrorResponse(w, r, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	status := appErr.HTTPStatusCode()
	if status >= http.StatusInternalServerError {
		slog.Error("Device request failed", "err", err)
		renderErrorResponse(w, r, status, "Internal server error", string(appErr.Code))
		return
	}
	renderErrorResponse(w, r, status, appErr.Message, string(appErr.Code))
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
