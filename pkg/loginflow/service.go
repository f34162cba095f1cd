package loginflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tendant/simple-lms/pkg/device"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
	tg "github.com/tendant/simple-lms/pkg/tokengenerator"
)

// Status is the outcome of a login that did not fail
type Status string

const (
	StatusAuthenticated   Status = "authenticated"
	StatusPendingApproval Status = "pending_approval"
)

// Request contains all the data needed for a login flow
type Request struct {
	Email       string
	Password    string
	Fingerprint device.Fingerprint
}

// Result contains the result of a login flow operation. Tokens and Device are
// set when authenticated; EnrollmentRequest and Message when pending approval.
type Result struct {
	Status            Status
	User              login.User
	Device            *device.Device
	Tokens            *tg.TokenPair
	EnrollmentRequest *device.EnrollmentRequest
	Message           string
	MatchedBy         string
	NewDevice         bool
}

// LoginFlowService orchestrates device-bound login, refresh and logout
type LoginFlowService struct {
	services  *ServiceDependencies
	loginFlow *FlowExecutor
}

// Option configures a LoginFlowService
type Option func(*LoginFlowService)

// WithFlow replaces the login flow
func WithFlow(flow *FlowExecutor) Option {
	return func(s *LoginFlowService) {
		s.loginFlow = flow
	}
}

// NewLoginFlowService creates a new login flow service
func NewLoginFlowService(
	loginService *login.LoginService,
	deviceService *device.DeviceService,
	tokenService *tg.JwtService,
	opts ...Option,
) *LoginFlowService {
	services := &ServiceDependencies{
		LoginService:  loginService,
		DeviceService: deviceService,
		TokenService:  tokenService,
	}
	s := &LoginFlowService{services: services}
	for _, opt := range opts {
		opt(s)
	}
	if s.loginFlow == nil {
		s.loginFlow = NewLoginFlowBuilders(services).BuildDeviceLoginFlow()
	}
	return s
}

// Services exposes the dependencies so custom flows can be built on them
func (s *LoginFlowService) Services() *ServiceDependencies {
	return s.services
}

// Login authenticates the user and binds the session to a device
func (s *LoginFlowService) Login(ctx context.Context, request Request) (Result, error) {
	request.Email = login.NormalizeEmail(request.Email)
	if request.Email == "" || request.Password == "" {
		return Result{}, apperrors.InvalidCredentials()
	}
	return s.loginFlow.Execute(ctx, request)
}

// Refresh exchanges a refresh token for a new pair bound to the same device.
// The user is reloaded so role changes apply; the device id is carried over
// from the token, but a revoked device ends the session.
func (s *LoginFlowService) Refresh(ctx context.Context, refreshToken string) (tg.TokenPair, error) {
	subject, err := s.services.TokenService.ParseRefreshToken(refreshToken)
	if err != nil {
		slog.Debug("Refresh token rejected", "err", err)
		return tg.TokenPair{}, apperrors.InvalidToken()
	}

	user, err := s.services.LoginService.GetUserByID(ctx, subject.UserID)
	if err != nil {
		if errors.Is(err, login.ErrUserNotFound) {
			return tg.TokenPair{}, apperrors.InvalidToken()
		}
		return tg.TokenPair{}, apperrors.InternalWrap(err, "failed to load user")
	}
	if !user.Active {
		return tg.TokenPair{}, apperrors.InvalidToken()
	}

	active, err := s.services.DeviceService.IsDeviceActive(ctx, subject.DeviceID)
	if err != nil {
		return tg.TokenPair{}, apperrors.InternalWrap(err, "failed to check device")
	}
	if !active {
		slog.Info("Refresh rejected for revoked device", "userID", user.ID, "deviceID", subject.DeviceID)
		return tg.TokenPair{}, apperrors.InvalidToken()
	}

	pair, err := s.services.TokenService.IssueTokens(tg.Subject{
		UserID:   user.ID,
		Email:    user.Email,
		Role:     string(user.Role),
		DeviceID: subject.DeviceID,
	})
	if err != nil {
		return tg.TokenPair{}, apperrors.InternalWrap(err, "failed to issue tokens")
	}
	return pair, nil
}

// Logout revokes the device the session is bound to. Issued access tokens
// stay valid until they expire.
func (s *LoginFlowService) Logout(ctx context.Context, userID, deviceID uuid.UUID) error {
	d, err := s.services.DeviceService.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return apperrors.Forbidden("device belongs to another user")
	}
	if !d.Active {
		return nil
	}
	_, err = s.services.DeviceService.Revoke(ctx, deviceID)
	return err
}
