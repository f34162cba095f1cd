// Package errors provides structured error handling with error codes for simple-lms.
//
// Services return *Error values carrying an ErrorCode; HTTP adapters map the
// code to a status with MapErrorCodeToHTTPStatus.
//
// # Basic Usage
//
//	import "github.com/tendant/simple-lms/pkg/errors"
//
//	// Generic credential failure, identical for unknown email and wrong password
//	return errors.InvalidCredentials()
//
//	// Wrap a repository error
//	return errors.Wrap(err, errors.ErrCodeEnrollmentNotFound, "enrollment request not found")
//
// # Error Inspection
//
//	if errors.IsCode(err, errors.ErrCodeEnrollmentExpired) {
//		// ask the user to log in again
//	}
//
// Error code to HTTP status mapping:
//   - ErrCodeInvalidInput → 400 Bad Request
//   - ErrCodeInvalidCredentials, ErrCodeTokenInvalid → 401 Unauthorized
//   - ErrCodeForbidden → 403 Forbidden
//   - ErrCodeDeviceNotFound, ErrCodeEnrollmentNotFound → 404 Not Found
//   - ErrCodeEnrollmentNotPending, ErrCodeDeviceLimitExceeded → 409 Conflict
//   - ErrCodeEnrollmentExpired → 410 Gone
//   - ErrCodeInternal → 500 Internal Server Error
package errors
