package device

import (
	"github.com/tendant/simple-lms/pkg/login"
)

// LimitDecision is the outcome of the device limit policy
type LimitDecision int

const (
	// LimitAllowed means the user is below the cap
	LimitAllowed LimitDecision = iota
	// LimitExempt means the role is not subject to the cap
	LimitExempt
	// LimitReached means the user is at or above the cap
	LimitReached
)

func (d LimitDecision) String() string {
	switch d {
	case LimitAllowed:
		return "allowed"
	case LimitExempt:
		return "exempt"
	case LimitReached:
		return "reached"
	}
	return "unknown"
}

// CanAutoApprove reports whether a new device may be approved without an administrator
func (d LimitDecision) CanAutoApprove() bool {
	return d == LimitAllowed || d == LimitExempt
}

// EvaluateDeviceLimit decides whether a user with activeCount active devices
// may gain another one. Administrators are exempt. A non-positive maxActive
// is treated as DefaultMaxActiveDevices.
func EvaluateDeviceLimit(activeCount, maxActive int, role login.Role) LimitDecision {
	if role.IsAdmin() {
		return LimitExempt
	}
	if maxActive <= 0 {
		maxActive = DefaultMaxActiveDevices
	}
	if activeCount < maxActive {
		return LimitAllowed
	}
	return LimitReached
}
