// Package device binds logins to the physical devices they come from.
//
// A Device belongs to one user and is matched at login by a Resolver that walks
// an ordered list of matchers (install id, first-seen IP, user agent, platform
// and model, platform). Unknown devices go through an EnrollmentRequest that is
// either approved on the spot while the user is under the device cap or left
// PENDING for an administrator.
//
// # Basic Usage
//
//	repo, err := device.NewDeviceRepository("postgres", device.RepositoryConfig{DB: pool})
//	if err != nil {
//		return err
//	}
//	svc := device.NewDeviceService(repo,
//		device.WithMaxActiveDevices(3),
//		device.WithEnrollmentTTL(15*time.Minute),
//		device.WithUserLookup(loginService),
//	)
//
//	res, err := svc.Resolver().Resolve(ctx, user.ID, device.FingerprintFromRequest(r))
//	if res == nil {
//		req, _ := svc.RequestEnrollment(ctx, user.ID, fp)
//		dev, err := svc.ApproveEnrollment(ctx, req.ID, device.ApproveOptions{OwnerRole: user.Role})
//	}
//
// # Enrollment states
//
// PENDING moves exactly once to APPROVED, EXPIRED or REJECTED. Expiry is
// detected when an approval is attempted; nothing sweeps stale requests.
//
// # Storage backends
//
//   - PostgresDeviceRepository: tables from migrations/lms_auth.sql
//   - FileDeviceRepository: devices.json in a data directory
//   - InMemDeviceRepository: tests and single-process demos
package device
