package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tendant/simple-lms/pkg/device"
	apperrors "github.com/tendant/simple-lms/pkg/errors"
	"github.com/tendant/simple-lms/pkg/login"
	tg "github.com/tendant/simple-lms/pkg/tokengenerator"
)

// LoginFlowStep represents a single step in the login flow
type LoginFlowStep interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// Execute performs the step's logic
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool
}

// FlowContext carries state between login flow steps
type FlowContext struct {
	// Input data
	Request Request

	// Current state
	Result *Result
	User   login.User
	Device *device.Device

	// Step-specific data (can be used by steps to store intermediate results)
	StepData map[string]interface{}

	// Services (injected by the flow executor)
	Services *ServiceDependencies
}

// StepResult represents the result of executing a login flow step
type StepResult struct {
	// Continue indicates whether the flow should continue to the next step
	Continue bool

	// EarlyReturn indicates the flow should return immediately with the current result
	EarlyReturn bool

	// Error rejects the attempt; it is returned to the caller as is
	Error error

	// Data can contain step-specific data to be stored in FlowContext.StepData
	Data map[string]interface{}
}

// ServiceDependencies contains all the services needed by login flow steps
type ServiceDependencies struct {
	LoginService  *login.LoginService
	DeviceService *device.DeviceService
	TokenService  *tg.JwtService
}

// StepRegistry manages and orders login flow steps
type StepRegistry struct {
	steps []LoginFlowStep
}

// NewStepRegistry creates a new step registry
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make([]LoginFlowStep, 0),
	}
}

// AddStep adds a step to the registry
func (r *StepRegistry) AddStep(step LoginFlowStep) *StepRegistry {
	r.steps = append(r.steps, step)
	return r
}

// GetOrderedSteps returns steps sorted by their order
func (r *StepRegistry) GetOrderedSteps() []LoginFlowStep {
	orderedSteps := make([]LoginFlowStep, len(r.steps))
	copy(orderedSteps, r.steps)

	sort.SliceStable(orderedSteps, func(i, j int) bool {
		return orderedSteps[i].Order() < orderedSteps[j].Order()
	})

	return orderedSteps
}

// FlowExecutor orchestrates the execution of login flow steps
type FlowExecutor struct {
	registry *StepRegistry
	services *ServiceDependencies
}

// NewFlowExecutor creates a new flow executor
func NewFlowExecutor(registry *StepRegistry, services *ServiceDependencies) *FlowExecutor {
	return &FlowExecutor{
		registry: registry,
		services: services,
	}
}

// Execute runs the complete login flow. A returned error is a rejection of
// the attempt; pending approval is a successful Result.
func (e *FlowExecutor) Execute(ctx context.Context, request Request) (Result, error) {
	flowContext := &FlowContext{
		Request:  request,
		Result:   &Result{},
		StepData: make(map[string]interface{}),
		Services: e.services,
	}

	for _, step := range e.registry.GetOrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			slog.Error("Login flow step failed", "step", step.Name(), "err", err)
			var coded *apperrors.Error
			if errors.As(err, &coded) {
				return Result{}, err
			}
			return Result{}, apperrors.InternalWrap(err, fmt.Sprintf("step %s failed", step.Name()))
		}

		if stepResult.Error != nil {
			return Result{}, stepResult.Error
		}

		for key, value := range stepResult.Data {
			flowContext.StepData[key] = value
		}

		if stepResult.EarlyReturn {
			return *flowContext.Result, nil
		}
		if !stepResult.Continue {
			break
		}
	}

	return *flowContext.Result, nil
}

// FlowBuilder provides a fluent interface for building login flows
type FlowBuilder struct {
	registry *StepRegistry
}

// NewFlowBuilder creates a new flow builder
func NewFlowBuilder() *FlowBuilder {
	return &FlowBuilder{
		registry: NewStepRegistry(),
	}
}

// AddStep adds a step to the flow
func (b *FlowBuilder) AddStep(step LoginFlowStep) *FlowBuilder {
	b.registry.AddStep(step)
	return b
}

// Build creates a flow executor with the configured steps
func (b *FlowBuilder) Build(services *ServiceDependencies) *FlowExecutor {
	return NewFlowExecutor(b.registry, services)
}

// Predefined step orders
const (
	OrderCredentialAuthentication = 100
	OrderAdminDevice              = 200
	OrderDeviceResolution         = 300
	OrderDeviceEnrollment         = 400
	OrderDeviceTouch              = 500
	OrderTokenGeneration          = 600
)
