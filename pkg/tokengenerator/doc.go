// Package tokengenerator issues and verifies the HS256 session tokens bound to a device.
//
// An access token and a refresh token are issued together. Both carry the user
// id as subject plus email, role and deviceId claims; the refresh token is
// marked type=refresh and lives longer.
//
//	generator := tokengenerator.NewJwtTokenGenerator(secret, "simple-lms", "")
//	tokens := tokengenerator.NewJwtService(generator,
//		tokengenerator.WithAccessTokenExpiry(15*time.Minute),
//		tokengenerator.WithRefreshTokenExpiry(7*24*time.Hour),
//	)
//	pair, err := tokens.IssueTokens(tokengenerator.Subject{UserID: u.ID, Role: "STUDENT", DeviceID: d.ID})
package tokengenerator
