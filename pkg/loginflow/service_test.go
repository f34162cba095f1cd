package loginflow

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lms/pkg/device"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
	tg "github.com/tendant/simple-lms/pkg/tokengenerator"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct horse battery"

type testEnv struct {
	flow    *LoginFlowService
	users   *login.LoginService
	devices *device.DeviceService
	tokens  *tg.JwtService
	repo    *device.InMemDeviceRepository
}

func setupTestEnv(t *testing.T) *testEnv {
	userRepo := login.NewInMemoryUserRepository()
	users := login.NewLoginService(userRepo, login.WithPasswordHasher(&login.BcryptHasher{Cost: bcrypt.MinCost}))
	deviceRepo := device.NewInMemDeviceRepository()
	devices := device.NewDeviceService(deviceRepo, device.WithUserLookup(users))
	tokens := tg.NewJwtService(tg.NewJwtTokenGenerator("0123456789abcdef0123456789abcdef", "simple-lms", ""))

	return &testEnv{
		flow:    NewLoginFlowService(users, devices, tokens),
		users:   users,
		devices: devices,
		tokens:  tokens,
		repo:    deviceRepo,
	}
}

func (e *testEnv) createUser(t *testing.T, role login.Role) login.User {
	user, err := e.users.CreateUser(context.Background(), login.CreateUserParams{
		Email:     uuid.NewString() + "@example.com",
		Password:  testPassword,
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) login(t *testing.T, user login.User, fp device.Fingerprint) (Result, error) {
	return e.flow.Login(context.Background(), Request{Email: user.Email, Password: testPassword, Fingerprint: fp})
}

func (e *testEnv) activeCount(t *testing.T, userID uuid.UUID) int {
	n, err := e.repo.CountActiveDevices(context.Background(), userID)
	require.NoError(t, err)
	return n
}

func (e *testEnv) fillDevices(t *testing.T, userID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		_, err := e.repo.CreateDevice(context.Background(), device.Device{UserID: userID, InstallID: uuid.NewString(), Active: true})
		require.NoError(t, err)
	}
}

func TestLogin_EndToEnd(t *testing.T) {
	env := setupTestEnv(t)
	student := env.createUser(t, login.RoleStudent)

	first, err := env.login(t, student, device.Fingerprint{InstallID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, first.Status)
	require.NotNil(t, first.Tokens)
	require.NotNil(t, first.Device)
	assert.True(t, first.NewDevice)
	assert.True(t, first.Device.Active)
	assert.False(t, first.Device.Trusted)
	assert.Empty(t, first.User.PasswordHash)
	assert.Equal(t, 1, env.activeCount(t, student.ID))

	second, err := env.login(t, student, device.Fingerprint{InstallID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, second.Status)
	assert.Equal(t, first.Device.ID, second.Device.ID)
	assert.Equal(t, "install_id", second.MatchedBy)
	assert.False(t, second.NewDevice)
	assert.Equal(t, 1, env.activeCount(t, student.ID))

	subject, err := env.tokens.ParseAccessToken(second.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, first.Device.ID, subject.DeviceID)
	assert.Equal(t, student.ID, subject.UserID)
	assert.Equal(t, string(login.RoleStudent), subject.Role)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := setupTestEnv(t)
	student := env.createUser(t, login.RoleStudent)

	_, wrongPassword := env.flow.Login(context.Background(), Request{Email: student.Email, Password: "nope"})
	_, unknownEmail := env.flow.Login(context.Background(), Request{Email: "ghost@example.com", Password: "nope"})
	_, empty := env.flow.Login(context.Background(), Request{})

	for _, err := range []error{wrongPassword, unknownEmail, empty} {
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidCredentials))
		assert.Equal(t, wrongPassword.Error(), err.Error())
	}
	assert.Equal(t, 0, env.activeCount(t, student.ID))
}

func TestLogin_UnderCapAutoEnrolls(t *testing.T) {
	env := setupTestEnv(t)
	student := env.createUser(t, login.RoleStudent)
	env.fillDevices(t, student.ID, device.DefaultMaxActiveDevices-1)

	result, err := env.login(t, student, device.Fingerprint{InstallID: "new", Platform: "web"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, result.Status)
	assert.True(t, result.NewDevice)
	assert.Equal(t, device.DefaultMaxActiveDevices, env.activeCount(t, student.ID))

	requests, err := env.devices.ListEnrollmentRequests(context.Background(), student.ID, false)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, device.EnrollmentApproved, requests[0].Status)
}

func TestLogin_AtCapPendsApproval(t *testing.T) {
	env := setupTestEnv(t)
	student := env.createUser(t, login.RoleInstructor)
	env.fillDevices(t, student.ID, device.DefaultMaxActiveDevices)

	result, err := env.login(t, student, device.Fingerprint{InstallID: "fourth"})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, result.Status)
	assert.Nil(t, result.Tokens)
	assert.Nil(t, result.Device)
	require.NotNil(t, result.EnrollmentRequest)
	assert.Equal(t, device.EnrollmentPending, result.EnrollmentRequest.Status)
	assert.Equal(t, PendingApprovalMessage, result.Message)
	assert.Equal(t, student.ID, result.User.ID)
	assert.Equal(t, device.DefaultMaxActiveDevices, env.activeCount(t, student.ID))

	pending, err := env.devices.ListEnrollmentRequests(context.Background(), student.ID, true)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// an administrator frees a slot and approves
	devices, err := env.devices.ListDevices(context.Background(), student.ID)
	require.NoError(t, err)
	_, err = env.devices.Revoke(context.Background(), devices[0].ID)
	require.NoError(t, err)
	approved, err := env.devices.ApproveEnrollment(context.Background(), result.EnrollmentRequest.ID, device.ApproveOptions{DisplayName: "Office PC"})
	require.NoError(t, err)

	again, err := env.login(t, student, device.Fingerprint{InstallID: "fourth"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, again.Status)
	assert.Equal(t, approved.ID, again.Device.ID)
}

func TestLogin_AdminNeverPends(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.createUser(t, login.RoleAdmin)
	env.fillDevices(t, admin.ID, 10)

	result, err := env.login(t, admin, device.Fingerprint{InstallID: "admin-laptop", Platform: "mac"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, result.Status)
	require.NotNil(t, result.Device)
	assert.True(t, result.Device.Trusted)
	assert.True(t, result.NewDevice)
	assert.Equal(t, 11, env.activeCount(t, admin.ID))

	again, err := env.login(t, admin, device.Fingerprint{InstallID: "admin-laptop"})
	require.NoError(t, err)
	assert.Equal(t, result.Device.ID, again.Device.ID)

	// no install id: weaker signals are not consulted for administrators
	noID, err := env.login(t, admin, device.Fingerprint{Platform: "mac"})
	require.NoError(t, err)
	assert.Equal(t, StatusAuthenticated, noID.Status)
	assert.NotEqual(t, result.Device.ID, noID.Device.ID)
}

func TestLogin_ResolvesByWeakerSignal(t *testing.T) {
	env := setupTestEnv(t)
	student := env.createUser(t, login.RoleStudent)

	first, err := env.login(t, student, device.Fingerprint{IP: "203.0.113.7", UserAgent: "Mozilla/5.0", Platform: "web"})
	require.NoError(t, err)

	second, err := env.login(t, student, device.Fingerprint{InstallID: "lost-and-regenerated", IP: "198.51.100.1", UserAgent: "Mozilla/5.0"})
	require.NoError(t, err)
	assert.Equal(t, first.Device.ID, second.Device.ID)
	assert.Equal(t, "user_agent", second.MatchedBy)
	assert.Equal(t, "198.51.100.1", second.Device.LastIP)
	assert.Equal(t, "203.0.113.7", second.Device.FirstIP)
}

func TestLogout_RevokesDevice(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	student := env.createUser(t, login.RoleStudent)

	first, err := env.login(t, student, device.Fingerprint{InstallID: "d1"})
	require.NoError(t, err)

	require.NoError(t, env.flow.Logout(ctx, student.ID, first.Device.ID))
	require.NoError(t, env.flow.Logout(ctx, student.ID, first.Device.ID), "logout is idempotent")
	assert.Equal(t, 0, env.activeCount(t, student.ID))

	other := env.createUser(t, login.RoleStudent)
	err = env.flow.Logout(ctx, other.ID, first.Device.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))

	again, err := env.login(t, student, device.Fingerprint{InstallID: "d1"})
	require.NoError(t, err)
	assert.True(t, again.NewDevice, "a revoked device is never reused")
	assert.NotEqual(t, first.Device.ID, again.Device.ID)
}

func TestRefresh(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	student := env.createUser(t, login.RoleStudent)

	result, err := env.login(t, student, device.Fingerprint{InstallID: "d1"})
	require.NoError(t, err)

	pair, err := env.flow.Refresh(ctx, result.Tokens.RefreshToken)
	require.NoError(t, err)
	subject, err := env.tokens.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.Device.ID, subject.DeviceID)

	_, err = env.flow.Refresh(ctx, result.Tokens.AccessToken)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTokenInvalid), "access tokens are not refresh tokens")

	_, err = env.flow.Refresh(ctx, "garbage")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTokenInvalid))

	require.NoError(t, env.flow.Logout(ctx, student.ID, result.Device.ID))
	_, err = env.flow.Refresh(ctx, pair.RefreshToken)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTokenInvalid), "revoked devices cannot refresh")
}

func TestRefresh_UnknownUser(t *testing.T) {
	env := setupTestEnv(t)

	pair, err := env.tokens.IssueTokens(tg.Subject{UserID: uuid.New(), Role: "STUDENT", DeviceID: uuid.New()})
	require.NoError(t, err)

	_, err = env.flow.Refresh(context.Background(), pair.RefreshToken)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTokenInvalid))
}

func TestLogin_ConcurrentApprovalOfPendingRequest(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	student := env.createUser(t, login.RoleStudent)
	env.fillDevices(t, student.ID, device.DefaultMaxActiveDevices)

	result, err := env.login(t, student, device.Fingerprint{InstallID: "x"})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, result.Status)

	devices, err := env.devices.ListDevices(ctx, student.ID)
	require.NoError(t, err)
	_, err = env.devices.Revoke(ctx, devices[0].ID)
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := env.devices.ApproveEnrollment(ctx, result.EnrollmentRequest.ID, device.ApproveOptions{})
			errs <- err
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			if err != nil {
				failures = append(failures, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("approval did not finish")
		}
	}
	require.Len(t, failures, 1)
	assert.True(t, apperrors.IsCode(failures[0], apperrors.ErrCodeEnrollmentNotPending) ||
		apperrors.IsCode(failures[0], apperrors.ErrCodeDeviceLimitExceeded))
	assert.Equal(t, device.DefaultMaxActiveDevices, env.activeCount(t, student.ID))
}
