package device

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
)

// ApproveOptions carries the caller's choices for a new device
type ApproveOptions struct {
	// DisplayName overrides the name derived from the fingerprint
	DisplayName string
	// Trusted marks the device trusted
	Trusted bool
	// OwnerRole is the role of the request's owner for the limit re-check.
	// When empty the owner is looked up through UserLookup.
	OwnerRole login.Role
}

// EnrollOutcome describes what direct enrollment did
type EnrollOutcome string

const (
	EnrollExisting EnrollOutcome = "existing"
	EnrollApproved EnrollOutcome = "approved"
	EnrollPending  EnrollOutcome = "pending_approval"
)

// EnrollResult is returned by Enroll; Request is set unless Outcome is EnrollExisting
type EnrollResult struct {
	Outcome EnrollOutcome
	Device  *Device
	Request *EnrollmentRequest
}

// RequestEnrollment creates a PENDING request carrying fp that expires after
// the configured TTL.
func (s *DeviceService) RequestEnrollment(ctx context.Context, userID uuid.UUID, fp Fingerprint) (EnrollmentRequest, error) {
	now := s.now()
	request, err := s.repository.CreateEnrollmentRequest(ctx, EnrollmentRequest{
		ID:        uuid.New(),
		UserID:    userID,
		InstallID: fp.InstallID,
		Platform:  fp.Platform,
		Model:     fp.Model,
		UserAgent: fp.UserAgent,
		IP:        fp.IP,
		Status:    EnrollmentPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.enrollmentTTL),
	})
	if err != nil {
		slog.Error("Failed to create enrollment request", "err", err, "userID", userID)
		return EnrollmentRequest{}, apperrors.InternalWrap(err, "failed to create enrollment request")
	}
	slog.Info("Enrollment request created", "requestID", request.ID, "userID", userID, "expiresAt", request.ExpiresAt)
	return request, nil
}

// ApproveEnrollment turns a PENDING, unexpired request into an active device.
// The device limit is re-evaluated against the live count. The status flip
// and device creation are a single store operation, so a second approval of
// the same request fails with ENROLLMENT_NOT_PENDING.
func (s *DeviceService) ApproveEnrollment(ctx context.Context, requestID uuid.UUID, opts ApproveOptions) (Device, error) {
	request, err := s.repository.FindEnrollmentRequestByID(ctx, requestID)
	if err != nil {
		return Device{}, s.requestError(err, requestID)
	}

	now := s.now()
	switch request.Status {
	case EnrollmentPending:
		if request.IsExpired(now) {
			s.markExpired(ctx, request)
			return Device{}, expiredError(requestID)
		}
	case EnrollmentExpired:
		return Device{}, expiredError(requestID)
	case EnrollmentApproved, EnrollmentRejected:
		return Device{}, notPendingError(requestID, request.Status)
	default:
		return Device{}, apperrors.Newf(apperrors.ErrCodeInternal, "enrollment request has unknown status %q", request.Status)
	}

	role, err := s.ownerRole(ctx, request.UserID, opts.OwnerRole)
	if err != nil {
		return Device{}, err
	}
	decision, count, err := s.CheckLimit(ctx, request.UserID, role)
	if err != nil {
		return Device{}, err
	}
	if !decision.CanAutoApprove() {
		slog.Warn("Enrollment approval blocked by device limit", "requestID", requestID, "userID", request.UserID, "activeDevices", count)
		return Device{}, apperrors.Newf(apperrors.ErrCodeDeviceLimitExceeded,
			"user already has %d active devices", count).WithDetail("max_active", s.maxActive)
	}

	fp := request.Fingerprint()
	name := opts.DisplayName
	if name == "" {
		name = DefaultDisplayName(fp)
	}
	device, _, err := s.repository.ApproveEnrollmentRequest(ctx, requestID, Device{
		ID:          uuid.New(),
		UserID:      request.UserID,
		InstallID:   fp.InstallID,
		Platform:    fp.Platform,
		Model:       fp.Model,
		UserAgent:   fp.UserAgent,
		FirstIP:     fp.IP,
		LastIP:      fp.IP,
		DisplayName: name,
		Active:      true,
		Trusted:     opts.Trusted,
		ApprovedAt:  now,
		LastSeenAt:  now,
	}, now)
	if err != nil {
		return Device{}, s.requestError(err, requestID)
	}

	slog.Info("Enrollment request approved", "requestID", requestID, "deviceID", device.ID, "userID", device.UserID, "trusted", device.Trusted)
	return device, nil
}

// RejectEnrollment moves a PENDING request to REJECTED
func (s *DeviceService) RejectEnrollment(ctx context.Context, requestID uuid.UUID) (EnrollmentRequest, error) {
	request, err := s.repository.UpdateEnrollmentRequestStatus(ctx, requestID, EnrollmentPending, EnrollmentRejected, s.now())
	if err != nil {
		return EnrollmentRequest{}, s.requestError(err, requestID)
	}
	slog.Info("Enrollment request rejected", "requestID", requestID, "userID", request.UserID)
	return request, nil
}

// Enroll registers the caller's device outside of login. Any single matching
// signal returns the existing device; otherwise a request is created and
// approved immediately while the user is under the cap.
func (s *DeviceService) Enroll(ctx context.Context, user login.User, fp Fingerprint) (EnrollResult, error) {
	resolution, err := s.resolver.ResolveBroad(ctx, user.ID, fp)
	if err != nil {
		return EnrollResult{}, apperrors.InternalWrap(err, "failed to resolve device")
	}
	if resolution != nil {
		device, err := s.Touch(ctx, resolution.Device, fp.IP)
		if err != nil {
			return EnrollResult{}, err
		}
		return EnrollResult{Outcome: EnrollExisting, Device: &device}, nil
	}

	decision, _, err := s.CheckLimit(ctx, user.ID, user.Role)
	if err != nil {
		return EnrollResult{}, err
	}
	request, err := s.RequestEnrollment(ctx, user.ID, fp)
	if err != nil {
		return EnrollResult{}, err
	}
	if !decision.CanAutoApprove() {
		return EnrollResult{Outcome: EnrollPending, Request: &request}, nil
	}

	device, err := s.ApproveEnrollment(ctx, request.ID, ApproveOptions{
		OwnerRole: user.Role,
		Trusted:   user.Role.IsAdmin(),
	})
	if apperrors.IsCode(err, apperrors.ErrCodeDeviceLimitExceeded) {
		return EnrollResult{Outcome: EnrollPending, Request: &request}, nil
	}
	if err != nil {
		return EnrollResult{}, err
	}
	request.Status = EnrollmentApproved
	request.DeviceID = device.ID
	return EnrollResult{Outcome: EnrollApproved, Device: &device, Request: &request}, nil
}

func (s *DeviceService) ownerRole(ctx context.Context, userID uuid.UUID, role login.Role) (login.Role, error) {
	if role != "" || s.users == nil {
		return role, nil
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", apperrors.InternalWrap(err, "failed to load enrollment owner")
	}
	return user.Role, nil
}

// markExpired records a lazily detected expiry. Losing the race to another
// transition is fine; the request is terminal either way.
func (s *DeviceService) markExpired(ctx context.Context, request EnrollmentRequest) {
	_, err := s.repository.UpdateEnrollmentRequestStatus(ctx, request.ID, EnrollmentPending, EnrollmentExpired, s.now())
	if err != nil && !errors.Is(err, ErrEnrollmentNotPending) {
		slog.Warn("Failed to mark enrollment request expired", "err", err, "requestID", request.ID)
	}
}

func (s *DeviceService) requestError(err error, requestID uuid.UUID) error {
	switch {
	case errors.Is(err, ErrEnrollmentRequestNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeEnrollmentNotFound, "enrollment request not found").
			WithDetail("request_id", requestID.String())
	case errors.Is(err, ErrEnrollmentNotPending):
		return apperrors.Wrap(err, apperrors.ErrCodeEnrollmentNotPending, "enrollment request is not pending").
			WithDetail("request_id", requestID.String())
	}
	slog.Error("Enrollment store failure", "err", err, "requestID", requestID)
	return apperrors.InternalWrap(err, "enrollment store failure")
}

func expiredError(requestID uuid.UUID) error {
	return apperrors.New(apperrors.ErrCodeEnrollmentExpired, "enrollment request has expired").
		WithDetail("request_id", requestID.String())
}

func notPendingError(requestID uuid.UUID, status EnrollmentStatus) error {
	return apperrors.Wrap(ErrEnrollmentNotPending, apperrors.ErrCodeEnrollmentNotPending, "enrollment request is not pending").
		WithDetail("request_id", requestID.String()).
		WithDetail("status", string(status))
}
