package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeInvalidCredentials, http.StatusUnauthorized},
		{ErrCodeTokenInvalid, http.StatusUnauthorized},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeDeviceNotFound, http.StatusNotFound},
		{ErrCodeEnrollmentNotFound, http.StatusNotFound},
		{ErrCodeEnrollmentNotPending, http.StatusConflict},
		{ErrCodeDeviceLimitExceeded, http.StatusConflict},
		{ErrCodeEnrollmentExpired, http.StatusGone},
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorCodeToHTTPStatus(tt.code))
		})
	}
}

func TestWrapAndInspect(t *testing.T) {
	cause := errors.New("row missing")
	err := fmt.Errorf("approve: %w", Wrap(cause, ErrCodeEnrollmentNotFound, "enrollment request not found"))

	assert.True(t, IsCode(err, ErrCodeEnrollmentNotFound))
	assert.False(t, IsCode(err, ErrCodeDeviceNotFound))
	assert.Equal(t, ErrCodeEnrollmentNotFound, GetCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[ENROLLMENT_NOT_FOUND] enrollment request not found: row missing")

	assert.Nil(t, Wrap(nil, ErrCodeInternal, "nothing"))
	assert.Equal(t, ErrCodeInternal, GetCode(cause))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeDeviceNotFound, "device not found").WithDetail("device_id", "abc")

	assert.Equal(t, "abc", err.Details["device_id"])
	assert.Equal(t, http.StatusNotFound, err.HTTPStatusCode())
}

func TestInvalidCredentials_IsGeneric(t *testing.T) {
	assert.Equal(t, InvalidCredentials().Error(), InvalidCredentials().Error())
	assert.Equal(t, "[INVALID_CREDENTIALS] invalid credentials", InvalidCredentials().Error())
}
