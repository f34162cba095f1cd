package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// deviceState holds the maps shared by the in-memory and file repositories.
// Callers hold the owning repository's lock.
type deviceState struct {
	devices  map[uuid.UUID]Device
	requests map[uuid.UUID]EnrollmentRequest
}

func newDeviceState() deviceState {
	return deviceState{
		devices:  make(map[uuid.UUID]Device),
		requests: make(map[uuid.UUID]EnrollmentRequest),
	}
}

func (s deviceState) userDevices(userID uuid.UUID) []Device {
	var out []Device
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s deviceState) findActive(userID uuid.UUID, match func(Device) bool) (Device, error) {
	d, ok := newest(s.userDevices(userID), match)
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return d, nil
}

func (s deviceState) insertDevice(device Device) Device {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	s.devices[device.ID] = device
	return device
}

func (s deviceState) updateDevice(device Device) (Device, error) {
	existing, ok := s.devices[device.ID]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	device.UserID = existing.UserID
	device.CreatedAt = existing.CreatedAt
	device.UpdatedAt = time.Now().UTC()
	s.devices[device.ID] = device
	return device, nil
}

func (s deviceState) countActive(userID uuid.UUID) int {
	n := 0
	for _, d := range s.devices {
		if d.UserID == userID && d.Active {
			n++
		}
	}
	return n
}

func (s deviceState) insertRequest(request EnrollmentRequest) EnrollmentRequest {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	s.requests[request.ID] = request
	return request
}

func (s deviceState) userRequests(userID uuid.UUID) []EnrollmentRequest {
	var out []EnrollmentRequest
	for _, r := range s.requests {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s deviceState) transition(id uuid.UUID, from, to EnrollmentStatus, at time.Time) (EnrollmentRequest, error) {
	request, ok := s.requests[id]
	if !ok {
		return EnrollmentRequest{}, ErrEnrollmentRequestNotFound
	}
	if request.Status != from {
		return request, ErrEnrollmentNotPending
	}
	request.Status = to
	request.ResolvedAt = at
	s.requests[id] = request
	return request, nil
}

func (s deviceState) approve(id uuid.UUID, device Device, at time.Time) (Device, EnrollmentRequest, error) {
	if current, ok := s.requests[id]; ok && !current.ExpiresAt.After(at) {
		return Device{}, current, ErrEnrollmentNotPending
	}
	request, err := s.transition(id, EnrollmentPending, EnrollmentApproved, at)
	if err != nil {
		return Device{}, request, err
	}
	device = s.insertDevice(device)
	request.DeviceID = device.ID
	s.requests[id] = request
	return device, request, nil
}

// InMemDeviceRepository implements DeviceRepository using in-memory storage
type InMemDeviceRepository struct {
	mu    sync.Mutex
	state deviceState
}

// NewInMemDeviceRepository creates a new in-memory device repository
func NewInMemDeviceRepository() *InMemDeviceRepository {
	return &InMemDeviceRepository{state: newDeviceState()}
}

func (r *InMemDeviceRepository) FindDeviceByInstallID(ctx context.Context, userID uuid.UUID, installID string) (Device, error) {
	if installID == "" {
		return Device{}, ErrDeviceNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.findActive(userID, func(d Device) bool { return d.InstallID == installID })
}

func (r *InMemDeviceRepository) FindDeviceByCriteria(ctx context.Context, userID uuid.UUID, criteria Criteria) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.findActive(userID, criteria.Matches)
}

func (r *InMemDeviceRepository) FindDeviceByAnyCriteria(ctx context.Context, userID uuid.UUID, fp Fingerprint) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.findActive(userID, func(d Device) bool { return MatchesAny(d, fp) })
}

func (r *InMemDeviceRepository) GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, ok := r.state.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return device, nil
}

func (r *InMemDeviceRepository) FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.userDevices(userID), nil
}

func (r *InMemDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.insertDevice(device), nil
}

func (r *InMemDeviceRepository) UpdateDevice(ctx context.Context, device Device) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.updateDevice(device)
}

func (r *InMemDeviceRepository) CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.countActive(userID), nil
}

func (r *InMemDeviceRepository) CreateEnrollmentRequest(ctx context.Context, request EnrollmentRequest) (EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.insertRequest(request), nil
}

func (r *InMemDeviceRepository) FindEnrollmentRequestByID(ctx context.Context, id uuid.UUID) (EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	request, ok := r.state.requests[id]
	if !ok {
		return EnrollmentRequest{}, ErrEnrollmentRequestNotFound
	}
	return request, nil
}

func (r *InMemDeviceRepository) FindEnrollmentRequestsByUser(ctx context.Context, userID uuid.UUID) ([]EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.userRequests(userID), nil
}

func (r *InMemDeviceRepository) UpdateEnrollmentRequestStatus(ctx context.Context, id uuid.UUID, from, to EnrollmentStatus, at time.Time) (EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.transition(id, from, to, at)
}

func (r *InMemDeviceRepository) ApproveEnrollmentRequest(ctx context.Context, id uuid.UUID, device Device, at time.Time) (Device, EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.approve(id, device, at)
}
