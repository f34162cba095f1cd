package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lms/pkg/client"
	"github.com/tendant/simple-lms/pkg/device"
	"github.com/tendant/simple-lms/pkg/login"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	router  http.Handler
	repo    *device.InMemDeviceRepository
	users   *login.LoginService
	caller  *client.AuthUser
	devices *device.DeviceService
}

func setupTestEnv(t *testing.T) *testEnv {
	users := login.NewLoginService(login.NewInMemoryUserRepository(), login.WithPasswordHasher(&login.BcryptHasher{Cost: bcrypt.MinCost}))
	repo := device.NewInMemDeviceRepository()
	devices := device.NewDeviceService(repo, device.WithUserLookup(users))
	h := NewDeviceHandler(devices, users)

	env := &testEnv{repo: repo, users: users, devices: devices}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if env.caller != nil {
				r = r.WithContext(context.WithValue(r.Context(), client.AuthUserKey, env.caller))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Mount("/api/devices", Handler(h))
	r.Mount("/api/admin", AdminHandler(h))
	env.router = r
	return env
}

func (e *testEnv) actAs(t *testing.T, role login.Role) login.User {
	user, err := e.users.CreateUser(context.Background(), login.CreateUserParams{
		Email:    uuid.NewString() + "@example.com",
		Password: "secret-password",
		Role:     role,
	})
	require.NoError(t, err)
	e.caller = &client.AuthUser{UserID: user.ID, Email: user.Email, Role: user.Role, DeviceID: uuid.New()}
	return user
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) fill(t *testing.T, userID uuid.UUID, n int) []device.Device {
	var out []device.Device
	for i := 0; i < n; i++ {
		d, err := e.repo.CreateDevice(context.Background(), device.Device{ID: uuid.New(), UserID: userID, InstallID: uuid.NewString(), Active: true})
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

func TestEnroll_UnderCapThenExisting(t *testing.T) {
	env := setupTestEnv(t)
	env.actAs(t, login.RoleStudent)
	body := EnrollRequest{DeviceInfo: DeviceInfo{InstallID: "install-1", Platform: "ios", Model: "iPhone15"}}

	rec := env.do(t, http.MethodPost, "/api/devices/enroll", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[EnrollResponse](t, rec)
	assert.Equal(t, string(device.EnrollApproved), first.Status)
	require.NotNil(t, first.Device)
	assert.Equal(t, "ios iPhone15", first.Device.DisplayName)
	assert.False(t, first.Device.Trusted)

	rec = env.do(t, http.MethodPost, "/api/devices/enroll", body)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[EnrollResponse](t, rec)
	assert.Equal(t, string(device.EnrollExisting), second.Status)
	assert.Equal(t, first.Device.ID, second.Device.ID)

	rec = env.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListDevicesResponse](t, rec).Devices, 1)
}

func TestEnroll_Unauthenticated(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/devices/enroll", EnrollRequest{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnroll_AtCapThenAdminApproval(t *testing.T) {
	env := setupTestEnv(t)
	student := env.actAs(t, login.RoleStudent)
	existing := env.fill(t, student.ID, device.DefaultMaxActiveDevices)

	rec := env.do(t, http.MethodPost, "/api/devices/enroll", EnrollRequest{DeviceInfo: DeviceInfo{InstallID: "fourth"}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	pending := decode[EnrollResponse](t, rec)
	assert.Equal(t, string(device.EnrollPending), pending.Status)
	require.NotEmpty(t, pending.RequestID)
	assert.Nil(t, pending.Device)

	env.actAs(t, login.RoleAdmin)
	approvePath := "/api/admin/enrollments/" + pending.RequestID + "/approve"

	rec = env.do(t, http.MethodPost, approvePath, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DEVICE_LIMIT_EXCEEDED", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/admin/devices/"+existing[0].ID.String()+"/revoke", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[DeviceResponse](t, rec).Active)

	rec = env.do(t, http.MethodPost, approvePath, ApproveRequest{DeviceName: "Lab tablet", IsTrusted: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[DeviceResponse](t, rec)
	assert.Equal(t, "Lab tablet", approved.DisplayName)
	assert.True(t, approved.Trusted)
	assert.Equal(t, student.ID.String(), approved.UserID)

	rec = env.do(t, http.MethodPost, approvePath, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ENROLLMENT_NOT_PENDING", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, http.MethodGet, "/api/admin/users/"+student.ID.String()+"/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListDevicesResponse](t, rec).Devices, device.DefaultMaxActiveDevices+1)
}

func TestRejectEnrollment(t *testing.T) {
	env := setupTestEnv(t)
	student := env.actAs(t, login.RoleStudent)
	request, err := env.devices.RequestEnrollment(context.Background(), student.ID, device.Fingerprint{InstallID: "x"})
	require.NoError(t, err)

	env.actAs(t, login.RoleAdmin)
	rec := env.do(t, http.MethodGet, "/api/admin/users/"+student.ID.String()+"/enrollments?pending=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListEnrollmentsResponse](t, rec).Enrollments, 1)

	rec = env.do(t, http.MethodPost, "/api/admin/enrollments/"+request.ID.String()+"/reject", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(device.EnrollmentRejected), decode[EnrollmentResponse](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/admin/enrollments/"+request.ID.String()+"/approve", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/admin/users/"+student.ID.String()+"/enrollments?pending=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListEnrollmentsResponse](t, rec).Enrollments)
}

func TestApproveEnrollment_Errors(t *testing.T) {
	env := setupTestEnv(t)
	env.actAs(t, login.RoleAdmin)

	rec := env.do(t, http.MethodPost, "/api/admin/enrollments/not-a-uuid/approve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/enrollments/"+uuid.NewString()+"/approve", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ENROLLMENT_NOT_FOUND", decode[ErrorResponse](t, rec).Error)
}

func TestDeviceManagement(t *testing.T) {
	env := setupTestEnv(t)
	student := env.actAs(t, login.RoleStudent)
	d := env.fill(t, student.ID, 1)[0]
	env.actAs(t, login.RoleAdmin)
	base := "/api/admin/devices/" + d.ID.String()

	rec := env.do(t, http.MethodPut, base+"/name", RenameRequest{Name: "  Classroom iPad  "})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Classroom iPad", decode[DeviceResponse](t, rec).DisplayName)

	rec = env.do(t, http.MethodPut, base+"/name", RenameRequest{Name: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/trusted", TrustRequest{Trusted: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[DeviceResponse](t, rec).Trusted)

	rec = env.do(t, http.MethodPost, "/api/admin/devices/"+uuid.NewString()+"/revoke", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DEVICE_NOT_FOUND", decode[ErrorResponse](t, rec).Error)
}
