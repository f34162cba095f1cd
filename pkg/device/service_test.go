package device

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type stubUsers map[uuid.UUID]login.User

func (s stubUsers) GetUserByID(ctx context.Context, id uuid.UUID) (login.User, error) {
	u, ok := s[id]
	if !ok {
		return login.User{}, login.ErrUserNotFound
	}
	return u, nil
}

func setupDeviceService(t *testing.T, opts ...Option) (*DeviceService, *InMemDeviceRepository, *fakeClock) {
	repo := NewInMemDeviceRepository()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewDeviceService(repo, opts...), repo, clock
}

func seedDevices(t *testing.T, repo DeviceRepository, userID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		_, err := repo.CreateDevice(context.Background(), Device{UserID: userID, InstallID: uuid.NewString(), Active: true})
		require.NoError(t, err)
	}
}

func TestDeviceService_ApproveEnrollment(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := setupDeviceService(t)
	user := uuid.New()

	req, err := svc.RequestEnrollment(ctx, user, Fingerprint{InstallID: "d1", Platform: "iOS", Model: "iPhone", IP: "10.0.0.9"})
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, req.Status)
	assert.Equal(t, clock.Now().Add(DefaultEnrollmentTTL), req.ExpiresAt)

	device, err := svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{OwnerRole: login.RoleStudent})
	require.NoError(t, err)
	assert.True(t, device.Active)
	assert.False(t, device.Trusted)
	assert.Equal(t, "d1", device.InstallID)
	assert.Equal(t, "10.0.0.9", device.FirstIP)
	assert.Equal(t, "iOS iPhone", device.DisplayName)
	assert.Equal(t, clock.Now(), device.ApprovedAt)

	stored, err := repo.FindEnrollmentRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentApproved, stored.Status)
	assert.Equal(t, device.ID, stored.DeviceID)
}

func TestDeviceService_ApproveTwice(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setupDeviceService(t)
	user := uuid.New()

	req, err := svc.RequestEnrollment(ctx, user, Fingerprint{InstallID: "d1"})
	require.NoError(t, err)

	_, err = svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{OwnerRole: login.RoleStudent})
	require.NoError(t, err)

	_, err = svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{OwnerRole: login.RoleStudent})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentNotPending))
	assert.ErrorIs(t, err, ErrEnrollmentNotPending)

	count, err := repo.CountActiveDevices(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeviceService_ApproveExpired(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := setupDeviceService(t)
	user := uuid.New()

	req, err := svc.RequestEnrollment(ctx, user, Fingerprint{InstallID: "d1"})
	require.NoError(t, err)

	clock.Advance(DefaultEnrollmentTTL + time.Second)

	stored, err := repo.FindEnrollmentRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, stored.Status, "expiry is only detected lazily")

	_, err = svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{OwnerRole: login.RoleStudent})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentExpired))

	stored, err = repo.FindEnrollmentRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentExpired, stored.Status)

	_, err = svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{OwnerRole: login.RoleStudent})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentExpired))

	count, err := repo.CountActiveDevices(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeviceService_ApproveNotFound(t *testing.T) {
	svc, _, _ := setupDeviceService(t)

	_, err := svc.ApproveEnrollment(context.Background(), uuid.New(), ApproveOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentNotFound))
}

func TestDeviceService_ApproveRechecksLimit(t *testing.T) {
	ctx := context.Background()
	user := uuid.New()
	admin := uuid.New()
	users := stubUsers{
		user:  {ID: user, Role: login.RoleStudent},
		admin: {ID: admin, Role: login.RoleAdmin},
	}
	svc, repo, _ := setupDeviceService(t, WithUserLookup(users))

	req, err := svc.RequestEnrollment(ctx, user, Fingerprint{InstallID: "late"})
	require.NoError(t, err)
	seedDevices(t, repo, user, DefaultMaxActiveDevices)

	_, err = svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDeviceLimitExceeded))

	stored, err := repo.FindEnrollmentRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentPending, stored.Status, "a blocked approval leaves the request pending")

	adminReq, err := svc.RequestEnrollment(ctx, admin, Fingerprint{InstallID: "a1"})
	require.NoError(t, err)
	seedDevices(t, repo, admin, 5)
	device, err := svc.ApproveEnrollment(ctx, adminReq.ID, ApproveOptions{Trusted: true})
	require.NoError(t, err)
	assert.True(t, device.Trusted)
}

func TestDeviceService_RejectEnrollment(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupDeviceService(t)

	req, err := svc.RequestEnrollment(ctx, uuid.New(), Fingerprint{InstallID: "d1"})
	require.NoError(t, err)

	rejected, err := svc.RejectEnrollment(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, EnrollmentRejected, rejected.Status)

	_, err = svc.ApproveEnrollment(ctx, req.ID, ApproveOptions{OwnerRole: login.RoleStudent})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentNotPending))

	_, err = svc.RejectEnrollment(ctx, req.ID)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentNotPending))

	_, err = svc.RejectEnrollment(ctx, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEnrollmentNotFound))
}

func TestDeviceService_Enroll(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setupDeviceService(t)
	user := login.User{ID: uuid.New(), Role: login.RoleStudent}

	first, err := svc.Enroll(ctx, user, Fingerprint{InstallID: "d1", UserAgent: "app/1.0"})
	require.NoError(t, err)
	assert.Equal(t, EnrollApproved, first.Outcome)
	require.NotNil(t, first.Device)
	require.NotNil(t, first.Request)
	assert.Equal(t, EnrollmentApproved, first.Request.Status)

	again, err := svc.Enroll(ctx, user, Fingerprint{InstallID: "other", UserAgent: "app/1.0"})
	require.NoError(t, err)
	assert.Equal(t, EnrollExisting, again.Outcome)
	assert.Equal(t, first.Device.ID, again.Device.ID)
	assert.Nil(t, again.Request)

	seedDevices(t, repo, user.ID, DefaultMaxActiveDevices-1)
	pending, err := svc.Enroll(ctx, user, Fingerprint{InstallID: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, EnrollPending, pending.Outcome)
	assert.Nil(t, pending.Device)
	require.NotNil(t, pending.Request)
	assert.Equal(t, EnrollmentPending, pending.Request.Status)

	count, err := repo.CountActiveDevices(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxActiveDevices, count)
}

func TestDeviceService_ManageDevice(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := setupDeviceService(t)
	user := uuid.New()

	device, err := repo.CreateDevice(ctx, Device{UserID: user, InstallID: "d1", Active: true})
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, device.ID, "  Work laptop ")
	require.NoError(t, err)
	assert.Equal(t, "Work laptop", renamed.DisplayName)

	_, err = svc.Rename(ctx, device.ID, " ")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))

	trusted, err := svc.SetTrusted(ctx, device.ID, true)
	require.NoError(t, err)
	assert.True(t, trusted.Trusted)

	clock.Advance(time.Hour)
	touched, err := svc.Touch(ctx, trusted, "192.168.1.4")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.4", touched.LastIP)
	assert.Equal(t, clock.Now(), touched.LastSeenAt)

	active, err := svc.IsDeviceActive(ctx, device.ID)
	require.NoError(t, err)
	assert.True(t, active)

	revoked, err := svc.Revoke(ctx, device.ID)
	require.NoError(t, err)
	assert.False(t, revoked.Active)
	assert.Equal(t, "Work laptop", revoked.DisplayName)

	active, err = svc.IsDeviceActive(ctx, device.ID)
	require.NoError(t, err)
	assert.False(t, active)

	active, err = svc.IsDeviceActive(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, active)

	_, err = svc.Revoke(ctx, uuid.New())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDeviceNotFound))

	devices, err := svc.ListDevices(ctx, user)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestDeviceService_ListEnrollmentRequests(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := setupDeviceService(t)
	user := uuid.New()

	stale, err := svc.RequestEnrollment(ctx, user, Fingerprint{InstallID: "old"})
	require.NoError(t, err)
	clock.Advance(DefaultEnrollmentTTL)
	fresh, err := svc.RequestEnrollment(ctx, user, Fingerprint{InstallID: "new"})
	require.NoError(t, err)

	all, err := svc.ListEnrollmentRequests(ctx, user, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := svc.ListEnrollmentRequests(ctx, user, true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)
	assert.NotEqual(t, stale.ID, pending[0].ID)
}
