package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Matcher is one step of the login resolution sequence. Find reports
// ErrDeviceNotFound when the step does not apply or finds nothing.
type Matcher struct {
	Name string
	Find func(ctx context.Context, repo DeviceRepository, userID uuid.UUID, fp Fingerprint) (Device, error)
}

// Resolution names the step that matched a device
type Resolution struct {
	Device    Device
	MatchedBy string
}

// LoginMatchers is the resolution sequence used at login, most specific first.
// The first step that yields a device wins; weaker evidence is never consulted
// once a stronger step has matched.
var LoginMatchers = []Matcher{
	{Name: "install_id", Find: func(ctx context.Context, repo DeviceRepository, userID uuid.UUID, fp Fingerprint) (Device, error) {
		return repo.FindDeviceByInstallID(ctx, userID, fp.InstallID)
	}},
	criteriaMatcher("ip", func(fp Fingerprint) Criteria { return Criteria{IP: fp.IP} }),
	criteriaMatcher("user_agent", func(fp Fingerprint) Criteria { return Criteria{UserAgent: fp.UserAgent} }),
	criteriaMatcher("platform_model", func(fp Fingerprint) Criteria {
		if fp.Platform == "" || fp.Model == "" {
			return Criteria{}
		}
		return Criteria{Platform: fp.Platform, Model: fp.Model}
	}),
	criteriaMatcher("platform", func(fp Fingerprint) Criteria { return Criteria{Platform: fp.Platform} }),
}

func criteriaMatcher(name string, build func(Fingerprint) Criteria) Matcher {
	return Matcher{Name: name, Find: func(ctx context.Context, repo DeviceRepository, userID uuid.UUID, fp Fingerprint) (Device, error) {
		criteria := build(fp)
		if criteria.IsEmpty() {
			return Device{}, ErrDeviceNotFound
		}
		return repo.FindDeviceByCriteria(ctx, userID, criteria)
	}}
}

// Resolver maps a fingerprint onto one of a user's active devices
type Resolver struct {
	repo     DeviceRepository
	matchers []Matcher
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithMatchers replaces the login resolution sequence
func WithMatchers(matchers ...Matcher) ResolverOption {
	return func(r *Resolver) {
		r.matchers = matchers
	}
}

// NewResolver creates a resolver using LoginMatchers
func NewResolver(repo DeviceRepository, opts ...ResolverOption) *Resolver {
	r := &Resolver{repo: repo, matchers: LoginMatchers}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks the matcher sequence. A nil Resolution with a nil error
// means no active device of the user matches.
func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID, fp Fingerprint) (*Resolution, error) {
	for _, m := range r.matchers {
		device, err := m.Find(ctx, r.repo, userID, fp)
		if errors.Is(err, ErrDeviceNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve device by %s: %w", m.Name, err)
		}
		slog.Debug("Device resolved", "userID", userID, "deviceID", device.ID, "matchedBy", m.Name)
		return &Resolution{Device: device, MatchedBy: m.Name}, nil
	}
	return nil, nil
}

// ResolveByInstallID only consults the install id; used on the administrator path
func (r *Resolver) ResolveByInstallID(ctx context.Context, userID uuid.UUID, installID string) (*Resolution, error) {
	device, err := r.repo.FindDeviceByInstallID(ctx, userID, installID)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve device by install_id: %w", err)
	}
	return &Resolution{Device: device, MatchedBy: "install_id"}, nil
}

// ResolveBroad matches on any single fingerprint signal. It trades precision
// for recall and is only used by direct enrollment.
func (r *Resolver) ResolveBroad(ctx context.Context, userID uuid.UUID, fp Fingerprint) (*Resolution, error) {
	device, err := r.repo.FindDeviceByAnyCriteria(ctx, userID, fp)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve device by any criteria: %w", err)
	}
	return &Resolution{Device: device, MatchedBy: "any"}, nil
}
