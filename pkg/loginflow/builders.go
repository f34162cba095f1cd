package loginflow

// LoginFlowBuilders provides pre-configured flow builders
type LoginFlowBuilders struct {
	services *ServiceDependencies
}

// NewLoginFlowBuilders creates a new instance of LoginFlowBuilders
func NewLoginFlowBuilders(services *ServiceDependencies) *LoginFlowBuilders {
	return &LoginFlowBuilders{
		services: services,
	}
}

// BuildDeviceLoginFlow creates the standard device-bound login flow:
// credentials, administrator bypass, resolution, enrollment, last-seen, tokens.
func (b *LoginFlowBuilders) BuildDeviceLoginFlow() *FlowExecutor {
	return NewFlowBuilder().
		AddStep(NewCredentialAuthenticationStep()).
		AddStep(NewAdminDeviceStep()).
		AddStep(NewDeviceResolutionStep()).
		AddStep(NewDeviceEnrollmentStep()).
		AddStep(NewDeviceTouchStep()).
		AddStep(NewTokenGenerationStep()).
		Build(b.services)
}

// BuildCustomFlow creates a custom flow with specified steps
func (b *LoginFlowBuilders) BuildCustomFlow(steps []LoginFlowStep) *FlowExecutor {
	builder := NewFlowBuilder()
	for _, step := range steps {
		builder.AddStep(step)
	}
	return builder.Build(b.services)
}
