// Package client holds the HTTP middleware that protects LMS routes.
//
// Verifier and AuthUserMiddleware turn a bearer access token into an AuthUser
// carrying the user id, role and the device the session is bound to.
// RequireAuth, RequireRole and RequireAdmin guard routes by identity and role.
// RequireActiveDevice additionally rejects tokens whose device was revoked.
//
//	ja := client.NewJWTAuth(secret, issuer, audience)
//	r.Group(func(r chi.Router) {
//		r.Use(client.Verifier(ja), client.AuthUserMiddleware, client.RequireAuth)
//		r.Get("/api/devices", ...)
//	})
package client
