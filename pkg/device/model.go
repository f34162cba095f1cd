package device

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDeviceNotFound            = errors.New("device not found")
	ErrEnrollmentRequestNotFound = errors.New("enrollment request not found")
	// ErrEnrollmentNotPending is returned by conditional status transitions
	// when the request has already left PENDING.
	ErrEnrollmentNotPending = errors.New("enrollment request is not pending")
)

const (
	DefaultMaxActiveDevices = 3
	DefaultEnrollmentTTL    = 15 * time.Minute
)

// Fingerprint is the client supplied description of the device used at login
type Fingerprint struct {
	InstallID string `json:"install_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Device is one client installation bound to exactly one user
type Device struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	InstallID   string    `json:"install_id,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	Model       string    `json:"model,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	FirstIP     string    `json:"first_ip,omitempty"`
	LastIP      string    `json:"last_ip,omitempty"`
	DisplayName string    `json:"display_name"`
	Active      bool      `json:"active"`
	Trusted     bool      `json:"trusted"`
	ApprovedAt  time.Time `json:"approved_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EnrollmentStatus is the state of an EnrollmentRequest.
// PENDING is the only non-terminal state.
type EnrollmentStatus string

const (
	EnrollmentPending  EnrollmentStatus = "PENDING"
	EnrollmentApproved EnrollmentStatus = "APPROVED"
	EnrollmentExpired  EnrollmentStatus = "EXPIRED"
	EnrollmentRejected EnrollmentStatus = "REJECTED"
)

// EnrollmentRequest is a time-boxed, single-use intent to register a device
type EnrollmentRequest struct {
	ID         uuid.UUID        `json:"id"`
	UserID     uuid.UUID        `json:"user_id"`
	InstallID  string           `json:"install_id,omitempty"`
	Platform   string           `json:"platform,omitempty"`
	Model      string           `json:"model,omitempty"`
	UserAgent  string           `json:"user_agent,omitempty"`
	IP         string           `json:"ip,omitempty"`
	Status     EnrollmentStatus `json:"status"`
	DeviceID   uuid.UUID        `json:"device_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	ResolvedAt time.Time        `json:"resolved_at,omitempty"`
}

// IsExpired reports whether the request can no longer be approved at now.
// Expiry is evaluated lazily; a stored PENDING status may be stale.
func (r EnrollmentRequest) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Fingerprint returns the fingerprint captured when the request was created
func (r EnrollmentRequest) Fingerprint() Fingerprint {
	return Fingerprint{
		InstallID: r.InstallID,
		IP:        r.IP,
		UserAgent: r.UserAgent,
		Platform:  r.Platform,
		Model:     r.Model,
	}
}

// Criteria selects devices by exact match on every non-empty field.
// IP is compared with the device's first-seen IP.
type Criteria struct {
	IP        string
	UserAgent string
	Platform  string
	Model     string
}

// IsEmpty reports whether the criteria would match every device
func (c Criteria) IsEmpty() bool {
	return c.IP == "" && c.UserAgent == "" && c.Platform == "" && c.Model == ""
}

// Matches reports whether d satisfies every non-empty field of c
func (c Criteria) Matches(d Device) bool {
	if c.IsEmpty() {
		return false
	}
	return (c.IP == "" || d.FirstIP == c.IP) &&
		(c.UserAgent == "" || d.UserAgent == c.UserAgent) &&
		(c.Platform == "" || d.Platform == c.Platform) &&
		(c.Model == "" || d.Model == c.Model)
}

// MatchesAny reports whether d matches fp on install id, first-seen IP,
// user agent, or platform and model together.
func MatchesAny(d Device, fp Fingerprint) bool {
	switch {
	case fp.InstallID != "" && d.InstallID == fp.InstallID:
		return true
	case fp.IP != "" && d.FirstIP == fp.IP:
		return true
	case fp.UserAgent != "" && d.UserAgent == fp.UserAgent:
		return true
	case fp.Platform != "" && fp.Model != "" && d.Platform == fp.Platform && d.Model == fp.Model:
		return true
	}
	return false
}

// DeviceRepository is the device store. Every Find* lookup is scoped to one
// user and only returns active devices; when several devices match, the most
// recently seen one wins.
type DeviceRepository interface {
	FindDeviceByInstallID(ctx context.Context, userID uuid.UUID, installID string) (Device, error)
	FindDeviceByCriteria(ctx context.Context, userID uuid.UUID, criteria Criteria) (Device, error)
	FindDeviceByAnyCriteria(ctx context.Context, userID uuid.UUID, fp Fingerprint) (Device, error)
	GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error)
	FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error)
	CreateDevice(ctx context.Context, device Device) (Device, error)
	UpdateDevice(ctx context.Context, device Device) (Device, error)
	CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error)

	CreateEnrollmentRequest(ctx context.Context, request EnrollmentRequest) (EnrollmentRequest, error)
	FindEnrollmentRequestByID(ctx context.Context, id uuid.UUID) (EnrollmentRequest, error)
	FindEnrollmentRequestsByUser(ctx context.Context, userID uuid.UUID) ([]EnrollmentRequest, error)
	// UpdateEnrollmentRequestStatus moves a request from one status to another
	// only if it is currently in from; otherwise ErrEnrollmentNotPending.
	UpdateEnrollmentRequestStatus(ctx context.Context, id uuid.UUID, from, to EnrollmentStatus, at time.Time) (EnrollmentRequest, error)
	// ApproveEnrollmentRequest atomically flips a PENDING request to APPROVED
	// and creates device. A request that is no longer PENDING yields
	// ErrEnrollmentNotPending and no device.
	ApproveEnrollmentRequest(ctx context.Context, id uuid.UUID, device Device, at time.Time) (Device, EnrollmentRequest, error)
}

// newest returns the most recently seen device, or false when none match
func newest(devices []Device, match func(Device) bool) (Device, bool) {
	var best Device
	found := false
	for _, d := range devices {
		if !d.Active || !match(d) {
			continue
		}
		if !found || d.LastSeenAt.After(best.LastSeenAt) {
			best = d
			found = true
		}
	}
	return best, found
}
