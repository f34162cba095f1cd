package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
)

// UserLookup resolves the owner of a device or enrollment request.
// *login.LoginService satisfies it.
type UserLookup interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (login.User, error)
}

// DeviceService handles device recognition, enrollment and management
type DeviceService struct {
	repository    DeviceRepository
	resolver      *Resolver
	users         UserLookup
	maxActive     int
	enrollmentTTL time.Duration
	now           func() time.Time
}

// Option configures a DeviceService
type Option func(*DeviceService)

// WithMaxActiveDevices sets the per-user cap on active devices
func WithMaxActiveDevices(n int) Option {
	return func(s *DeviceService) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// WithEnrollmentTTL sets how long an enrollment request stays approvable
func WithEnrollmentTTL(ttl time.Duration) Option {
	return func(s *DeviceService) {
		if ttl > 0 {
			s.enrollmentTTL = ttl
		}
	}
}

// WithUserLookup lets approvals find the owner's role when the caller does not supply it
func WithUserLookup(users UserLookup) Option {
	return func(s *DeviceService) {
		s.users = users
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *DeviceService) {
		s.now = now
	}
}

// WithResolver replaces the default resolver
func WithResolver(resolver *Resolver) Option {
	return func(s *DeviceService) {
		s.resolver = resolver
	}
}

// NewDeviceService creates a new device service with the given repository
func NewDeviceService(repository DeviceRepository, opts ...Option) *DeviceService {
	s := &DeviceService{
		repository:    repository,
		maxActive:     DefaultMaxActiveDevices,
		enrollmentTTL: DefaultEnrollmentTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewResolver(repository)
	}
	return s
}

// Resolver returns the resolver used for login-time matching
func (s *DeviceService) Resolver() *Resolver {
	return s.resolver
}

// MaxActiveDevices returns the configured cap
func (s *DeviceService) MaxActiveDevices() int {
	return s.maxActive
}

// CheckLimit counts the user's active devices and applies the limit policy
func (s *DeviceService) CheckLimit(ctx context.Context, userID uuid.UUID, role login.Role) (LimitDecision, int, error) {
	count, err := s.repository.CountActiveDevices(ctx, userID)
	if err != nil {
		return LimitReached, 0, apperrors.InternalWrap(err, "failed to count active devices")
	}
	return EvaluateDeviceLimit(count, s.maxActive, role), count, nil
}

// Touch records a successful sign-in from the device
func (s *DeviceService) Touch(ctx context.Context, device Device, ip string) (Device, error) {
	if ip != "" {
		device.LastIP = ip
	}
	device.LastSeenAt = s.now()
	updated, err := s.repository.UpdateDevice(ctx, device)
	if err != nil {
		return Device{}, s.deviceError(err, device.ID)
	}
	return updated, nil
}

// GetDevice returns a device by id, active or not
func (s *DeviceService) GetDevice(ctx context.Context, id uuid.UUID) (Device, error) {
	device, err := s.repository.GetDeviceByID(ctx, id)
	if err != nil {
		return Device{}, s.deviceError(err, id)
	}
	return device, nil
}

// IsDeviceActive reports whether the device exists and has not been revoked
func (s *DeviceService) IsDeviceActive(ctx context.Context, id uuid.UUID) (bool, error) {
	device, err := s.repository.GetDeviceByID(ctx, id)
	if errors.Is(err, ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get device: %w", err)
	}
	return device.Active, nil
}

// ListDevices returns every device of a user, including revoked ones
func (s *DeviceService) ListDevices(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	devices, err := s.repository.FindDevicesByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to list devices")
	}
	return devices, nil
}

// ListEnrollmentRequests returns the user's requests. With pendingOnly set,
// requests that are PENDING but past their expiry are left out.
func (s *DeviceService) ListEnrollmentRequests(ctx context.Context, userID uuid.UUID, pendingOnly bool) ([]EnrollmentRequest, error) {
	requests, err := s.repository.FindEnrollmentRequestsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to list enrollment requests")
	}
	if !pendingOnly {
		return requests, nil
	}
	now := s.now()
	pending := requests[:0]
	for _, r := range requests {
		if r.Status == EnrollmentPending && !r.IsExpired(now) {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// Rename sets the display name of a device
func (s *DeviceService) Rename(ctx context.Context, id uuid.UUID, name string) (Device, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Device{}, apperrors.InvalidInput("name", "must not be empty")
	}
	return s.mutate(ctx, id, func(d *Device) { d.DisplayName = name })
}

// SetTrusted toggles the trusted flag of a device
func (s *DeviceService) SetTrusted(ctx context.Context, id uuid.UUID, trusted bool) (Device, error) {
	return s.mutate(ctx, id, func(d *Device) { d.Trusted = trusted })
}

// Revoke deactivates a device. Revoked devices are never matched or counted
// again; revoking twice is a no-op.
func (s *DeviceService) Revoke(ctx context.Context, id uuid.UUID) (Device, error) {
	device, err := s.mutate(ctx, id, func(d *Device) { d.Active = false })
	if err != nil {
		return Device{}, err
	}
	slog.Info("Device revoked", "deviceID", id, "userID", device.UserID)
	return device, nil
}

func (s *DeviceService) mutate(ctx context.Context, id uuid.UUID, fn func(*Device)) (Device, error) {
	device, err := s.repository.GetDeviceByID(ctx, id)
	if err != nil {
		return Device{}, s.deviceError(err, id)
	}
	fn(&device)
	updated, err := s.repository.UpdateDevice(ctx, device)
	if err != nil {
		return Device{}, s.deviceError(err, id)
	}
	return updated, nil
}

func (s *DeviceService) deviceError(err error, id uuid.UUID) error {
	if errors.Is(err, ErrDeviceNotFound) {
		return apperrors.Wrap(err, apperrors.ErrCodeDeviceNotFound, "device not found").WithDetail("device_id", id.String())
	}
	slog.Error("Device store failure", "err", err, "deviceID", id)
	return apperrors.InternalWrap(err, "device store failure")
}
