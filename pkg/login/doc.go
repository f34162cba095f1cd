// Package login validates user credentials for simple-lms.
//
// A LoginService looks a user up by email and verifies the password against
// a stored bcrypt hash. Unknown email, wrong password and a deactivated
// account are reported identically as errors.ErrCodeInvalidCredentials so
// callers cannot enumerate accounts.
//
// # Basic Usage
//
//	repo := login.NewInMemoryUserRepository()
//	service := login.NewLoginService(repo)
//
//	user, err := service.ValidateCredentials(ctx, "student@example.com", "secret")
//	if err != nil {
//		// errors.IsCode(err, errors.ErrCodeInvalidCredentials)
//	}
//	fmt.Println(user.ID, user.Role) // PasswordHash is always empty here
//
// # Persistence
//
// NewUserRepository selects a backend by name: "postgres", "file" or "memory".
package login
