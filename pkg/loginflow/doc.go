// Package loginflow orchestrates device-bound login as an ordered list of steps.
//
// The default flow built by LoginFlowBuilders.BuildDeviceLoginFlow runs:
//
//	credential_authentication  validate email and password
//	admin_device               administrators: match by install id or enroll trusted
//	device_resolution          everyone else: walk the device matchers
//	device_enrollment          unknown device: approve under the cap, else pend
//	device_touch               record last-seen IP and time
//	token_generation           issue access and refresh tokens bound to the device
//
// A login either fails with a coded error from package errors, or succeeds
// with Status authenticated (tokens) or pending_approval (enrollment request id).
//
// # Basic Usage
//
//	flow := loginflow.NewLoginFlowService(loginService, deviceService, jwtService)
//	result, err := flow.Login(ctx, loginflow.Request{
//		Email:       "student@example.com",
//		Password:    "secret",
//		Fingerprint: device.FingerprintFromRequest(r),
//	})
//
// Custom steps implement LoginFlowStep and are ordered by Order():
//
//	custom := loginflow.NewFlowBuilder().
//		AddStep(loginflow.NewCredentialAuthenticationStep()).
//		AddStep(myAuditStep).
//		AddStep(loginflow.NewDeviceResolutionStep()).
//		Build(flow.Services())
package loginflow
