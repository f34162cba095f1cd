package loginflow

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-lms/pkg/device"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	tg "github.com/tendant/simple-lms/pkg/tokengenerator"
)

// PendingApprovalMessage is returned to clients whose device awaits an administrator
const PendingApprovalMessage = "This device must be approved by an administrator before you can sign in. Please try again later."

// StepDataMatchedBy holds the name of the matcher that resolved the device
const StepDataMatchedBy = "matched_by"

// CredentialAuthenticationStep handles user credential validation
type CredentialAuthenticationStep struct{}

func NewCredentialAuthenticationStep() *CredentialAuthenticationStep {
	return &CredentialAuthenticationStep{}
}

func (s *CredentialAuthenticationStep) Name() string {
	return "credential_authentication"
}

func (s *CredentialAuthenticationStep) Order() int {
	return OrderCredentialAuthentication
}

func (s *CredentialAuthenticationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *CredentialAuthenticationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	user, err := flowContext.Services.LoginService.ValidateCredentials(ctx, flowContext.Request.Email, flowContext.Request.Password)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeInvalidCredentials) {
			slog.Info("Login rejected", "reason", "invalid_credentials")
			return &StepResult{Error: err}, nil
		}
		return nil, err
	}

	flowContext.User = user
	flowContext.Result.User = user
	return &StepResult{Continue: true}, nil
}

// AdminDeviceStep binds administrators to a device by install id only.
// An unknown install id is enrolled, approved and trusted on the spot;
// administrators never reach the limit check.
type AdminDeviceStep struct{}

func NewAdminDeviceStep() *AdminDeviceStep {
	return &AdminDeviceStep{}
}

func (s *AdminDeviceStep) Name() string {
	return "admin_device"
}

func (s *AdminDeviceStep) Order() int {
	return OrderAdminDevice
}

func (s *AdminDeviceStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return !flowContext.User.Role.IsAdmin()
}

func (s *AdminDeviceStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	devices := flowContext.Services.DeviceService
	user := flowContext.User
	fp := flowContext.Request.Fingerprint

	resolution, err := devices.Resolver().ResolveByInstallID(ctx, user.ID, fp.InstallID)
	if err != nil {
		return nil, err
	}
	if resolution != nil {
		flowContext.Device = &resolution.Device
		return &StepResult{Continue: true, Data: map[string]interface{}{StepDataMatchedBy: resolution.MatchedBy}}, nil
	}

	request, err := devices.RequestEnrollment(ctx, user.ID, fp)
	if err != nil {
		return nil, err
	}
	approved, err := devices.ApproveEnrollment(ctx, request.ID, device.ApproveOptions{
		OwnerRole: user.Role,
		Trusted:   true,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Administrator device auto-enrolled", "userID", user.ID, "deviceID", approved.ID)
	flowContext.Device = &approved
	flowContext.Result.NewDevice = true
	return &StepResult{Continue: true}, nil
}

// DeviceResolutionStep matches the attempt to one of the user's active devices
type DeviceResolutionStep struct{}

func NewDeviceResolutionStep() *DeviceResolutionStep {
	return &DeviceResolutionStep{}
}

func (s *DeviceResolutionStep) Name() string {
	return "device_resolution"
}

func (s *DeviceResolutionStep) Order() int {
	return OrderDeviceResolution
}

func (s *DeviceResolutionStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.Device != nil
}

func (s *DeviceResolutionStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	resolution, err := flowContext.Services.DeviceService.Resolver().Resolve(ctx, flowContext.User.ID, flowContext.Request.Fingerprint)
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return &StepResult{Continue: true}, nil
	}
	flowContext.Device = &resolution.Device
	return &StepResult{Continue: true, Data: map[string]interface{}{StepDataMatchedBy: resolution.MatchedBy}}, nil
}

// DeviceEnrollmentStep enrolls an unresolved device. Under the cap the request
// is approved immediately and untrusted; at or above it the flow ends with a
// pending approval result and no tokens.
type DeviceEnrollmentStep struct{}

func NewDeviceEnrollmentStep() *DeviceEnrollmentStep {
	return &DeviceEnrollmentStep{}
}

func (s *DeviceEnrollmentStep) Name() string {
	return "device_enrollment"
}

func (s *DeviceEnrollmentStep) Order() int {
	return OrderDeviceEnrollment
}

func (s *DeviceEnrollmentStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.Device != nil
}

func (s *DeviceEnrollmentStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	devices := flowContext.Services.DeviceService
	user := flowContext.User

	decision, count, err := devices.CheckLimit(ctx, user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	request, err := devices.RequestEnrollment(ctx, user.ID, flowContext.Request.Fingerprint)
	if err != nil {
		return nil, err
	}

	if decision.CanAutoApprove() {
		approved, err := devices.ApproveEnrollment(ctx, request.ID, device.ApproveOptions{OwnerRole: user.Role})
		switch {
		case err == nil:
			flowContext.Device = &approved
			flowContext.Result.NewDevice = true
			return &StepResult{Continue: true}, nil
		case apperrors.IsCode(err, apperrors.ErrCodeDeviceLimitExceeded):
			// another login took the last slot between the check and the approval
		default:
			return nil, err
		}
	}

	slog.Info("Device enrollment pending approval", "userID", user.ID, "requestID", request.ID, "activeDevices", count)
	flowContext.Result.Status = StatusPendingApproval
	flowContext.Result.EnrollmentRequest = &request
	flowContext.Result.Message = PendingApprovalMessage
	return &StepResult{EarlyReturn: true}, nil
}

// DeviceTouchStep records the sign-in on the bound device
type DeviceTouchStep struct{}

func NewDeviceTouchStep() *DeviceTouchStep {
	return &DeviceTouchStep{}
}

func (s *DeviceTouchStep) Name() string {
	return "device_touch"
}

func (s *DeviceTouchStep) Order() int {
	return OrderDeviceTouch
}

func (s *DeviceTouchStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.Device == nil
}

func (s *DeviceTouchStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	touched, err := flowContext.Services.DeviceService.Touch(ctx, *flowContext.Device, flowContext.Request.Fingerprint.IP)
	if err != nil {
		return nil, err
	}
	flowContext.Device = &touched
	return &StepResult{Continue: true}, nil
}

// TokenGenerationStep issues the session tokens bound to the device
type TokenGenerationStep struct{}

func NewTokenGenerationStep() *TokenGenerationStep {
	return &TokenGenerationStep{}
}

func (s *TokenGenerationStep) Name() string {
	return "token_generation"
}

func (s *TokenGenerationStep) Order() int {
	return OrderTokenGeneration
}

func (s *TokenGenerationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *TokenGenerationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	if flowContext.Device == nil {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "no device bound to login")
	}

	user := flowContext.User
	pair, err := flowContext.Services.TokenService.IssueTokens(tg.Subject{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     string(user.Role),
		DeviceID: flowContext.Device.ID,
	})
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to issue tokens")
	}

	if matchedBy, ok := flowContext.StepData[StepDataMatchedBy].(string); ok {
		flowContext.Result.MatchedBy = matchedBy
	}
	flowContext.Result.Status = StatusAuthenticated
	flowContext.Result.Tokens = &pair
	flowContext.Result.Device = flowContext.Device
	slog.Info("Login succeeded", "userID", user.ID, "deviceID", flowContext.Device.ID, "matchedBy", flowContext.Result.MatchedBy)
	return &StepResult{Continue: true}, nil
}
