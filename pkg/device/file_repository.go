package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const deviceDataFile = "devices.json"

// FileDeviceRepository implements DeviceRepository using file-based storage.
// Every mutation rewrites the data file before the lock is released.
type FileDeviceRepository struct {
	dataDir string
	state   deviceState
	mutex   sync.RWMutex
}

// deviceData represents the structure of data stored in the JSON file
type deviceData struct {
	Devices            []Device            `json:"devices"`
	EnrollmentRequests []EnrollmentRequest `json:"enrollment_requests"`
}

// NewFileDeviceRepository creates a new file-based device repository
func NewFileDeviceRepository(dataDir string) (*FileDeviceRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileDeviceRepository{
		dataDir: dataDir,
		state:   newDeviceState(),
	}
	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}
	return repo, nil
}

func (r *FileDeviceRepository) FindDeviceByInstallID(ctx context.Context, userID uuid.UUID, installID string) (Device, error) {
	if installID == "" {
		return Device{}, ErrDeviceNotFound
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.findActive(userID, func(d Device) bool { return d.InstallID == installID })
}

func (r *FileDeviceRepository) FindDeviceByCriteria(ctx context.Context, userID uuid.UUID, criteria Criteria) (Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.findActive(userID, criteria.Matches)
}

func (r *FileDeviceRepository) FindDeviceByAnyCriteria(ctx context.Context, userID uuid.UUID, fp Fingerprint) (Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.findActive(userID, func(d Device) bool { return MatchesAny(d, fp) })
}

func (r *FileDeviceRepository) GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	device, ok := r.state.devices[id]
	if !ok {
		return Device{}, ErrDeviceNotFound
	}
	return device, nil
}

func (r *FileDeviceRepository) FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.userDevices(userID), nil
}

func (r *FileDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	created := r.state.insertDevice(device)
	if err := r.save(); err != nil {
		delete(r.state.devices, created.ID)
		return Device{}, err
	}
	return created, nil
}

func (r *FileDeviceRepository) UpdateDevice(ctx context.Context, device Device) (Device, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, ok := r.state.devices[device.ID]
	updated, err := r.state.updateDevice(device)
	if err != nil {
		return Device{}, err
	}
	if err := r.save(); err != nil {
		if ok {
			r.state.devices[device.ID] = previous
		}
		return Device{}, err
	}
	return updated, nil
}

func (r *FileDeviceRepository) CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.countActive(userID), nil
}

func (r *FileDeviceRepository) CreateEnrollmentRequest(ctx context.Context, request EnrollmentRequest) (EnrollmentRequest, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	created := r.state.insertRequest(request)
	if err := r.save(); err != nil {
		delete(r.state.requests, created.ID)
		return EnrollmentRequest{}, err
	}
	return created, nil
}

func (r *FileDeviceRepository) FindEnrollmentRequestByID(ctx context.Context, id uuid.UUID) (EnrollmentRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	request, ok := r.state.requests[id]
	if !ok {
		return EnrollmentRequest{}, ErrEnrollmentRequestNotFound
	}
	return request, nil
}

func (r *FileDeviceRepository) FindEnrollmentRequestsByUser(ctx context.Context, userID uuid.UUID) ([]EnrollmentRequest, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.userRequests(userID), nil
}

func (r *FileDeviceRepository) UpdateEnrollmentRequestStatus(ctx context.Context, id uuid.UUID, from, to EnrollmentStatus, at time.Time) (EnrollmentRequest, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous := r.state.requests[id]
	updated, err := r.state.transition(id, from, to, at)
	if err != nil {
		return updated, err
	}
	if err := r.save(); err != nil {
		r.state.requests[id] = previous
		return EnrollmentRequest{}, err
	}
	return updated, nil
}

func (r *FileDeviceRepository) ApproveEnrollmentRequest(ctx context.Context, id uuid.UUID, device Device, at time.Time) (Device, EnrollmentRequest, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous := r.state.requests[id]
	created, request, err := r.state.approve(id, device, at)
	if err != nil {
		return Device{}, request, err
	}
	if err := r.save(); err != nil {
		delete(r.state.devices, created.ID)
		r.state.requests[id] = previous
		return Device{}, EnrollmentRequest{}, err
	}
	return created, request, nil
}

// load reads device data from file
func (r *FileDeviceRepository) load() error {
	filePath := filepath.Join(r.dataDir, deviceDataFile)

	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var devData deviceData
	if err := json.Unmarshal(data, &devData); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	for _, device := range devData.Devices {
		r.state.devices[device.ID] = device
	}
	for _, request := range devData.EnrollmentRequests {
		r.state.requests[request.ID] = request
	}
	return nil
}

// save writes device data to file atomically
func (r *FileDeviceRepository) save() error {
	data := deviceData{
		Devices:            make([]Device, 0, len(r.state.devices)),
		EnrollmentRequests: make([]EnrollmentRequest, 0, len(r.state.requests)),
	}
	for _, device := range r.state.devices {
		data.Devices = append(data.Devices, device)
	}
	for _, request := range r.state.requests {
		data.EnrollmentRequests = append(data.EnrollmentRequests, request)
	}

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, deviceDataFile+".tmp")
	if err := os.WriteFile(tempFile, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, filepath.Join(r.dataDir, deviceDataFile)); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
