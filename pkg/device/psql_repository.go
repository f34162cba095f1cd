package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresDeviceRepository implements DeviceRepository using PostgreSQL
type PostgresDeviceRepository struct {
	db DBTX
}

// NewPostgresDeviceRepository creates a new PostgreSQL device repository
func NewPostgresDeviceRepository(db DBTX) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db}
}

const deviceColumns = `id, user_id, install_id, platform, model, user_agent, first_ip, last_ip,
	display_name, active, trusted, approved_at, last_seen_at, created_at, updated_at`

const requestColumns = `id, user_id, install_id, platform, model, user_agent, ip, status,
	device_id, created_at, expires_at, resolved_at`

func scanDevice(row pgx.Row) (Device, error) {
	var d Device
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.InstallID,
		&d.Platform,
		&d.Model,
		&d.UserAgent,
		&d.FirstIP,
		&d.LastIP,
		&d.DisplayName,
		&d.Active,
		&d.Trusted,
		&d.ApprovedAt,
		&d.LastSeenAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	return d, err
}

func scanRequest(row pgx.Row) (EnrollmentRequest, error) {
	var req EnrollmentRequest
	var status string
	var deviceID uuid.NullUUID
	var resolvedAt sql.NullTime
	err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.InstallID,
		&req.Platform,
		&req.Model,
		&req.UserAgent,
		&req.IP,
		&status,
		&deviceID,
		&req.CreatedAt,
		&req.ExpiresAt,
		&resolvedAt,
	)
	req.Status = EnrollmentStatus(status)
	if deviceID.Valid {
		req.DeviceID = deviceID.UUID
	}
	if resolvedAt.Valid {
		req.ResolvedAt = resolvedAt.Time
	}
	return req, err
}

// findOneDevice runs a device query and maps no rows to ErrDeviceNotFound
func (r *PostgresDeviceRepository) findOneDevice(ctx context.Context, query string, args ...interface{}) (Device, error) {
	device, err := scanDevice(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		slog.Error("Failed to query device", "err", err)
		return Device{}, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

func (r *PostgresDeviceRepository) FindDeviceByInstallID(ctx context.Context, userID uuid.UUID, installID string) (Device, error) {
	if installID == "" {
		return Device{}, ErrDeviceNotFound
	}
	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE user_id = $1 AND active AND install_id = $2
		ORDER BY last_seen_at DESC LIMIT 1`
	return r.findOneDevice(ctx, query, userID, installID)
}

func (r *PostgresDeviceRepository) FindDeviceByCriteria(ctx context.Context, userID uuid.UUID, criteria Criteria) (Device, error) {
	if criteria.IsEmpty() {
		return Device{}, ErrDeviceNotFound
	}

	conditions := []string{"user_id = $1", "active"}
	args := []interface{}{userID}
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("first_ip", criteria.IP)
	add("user_agent", criteria.UserAgent)
	add("platform", criteria.Platform)
	add("model", criteria.Model)

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY last_seen_at DESC LIMIT 1`
	return r.findOneDevice(ctx, query, args...)
}

func (r *PostgresDeviceRepository) FindDeviceByAnyCriteria(ctx context.Context, userID uuid.UUID, fp Fingerprint) (Device, error) {
	var alternatives []string
	args := []interface{}{userID}
	param := func(value string) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}
	if fp.InstallID != "" {
		alternatives = append(alternatives, "install_id = "+param(fp.InstallID))
	}
	if fp.IP != "" {
		alternatives = append(alternatives, "first_ip = "+param(fp.IP))
	}
	if fp.UserAgent != "" {
		alternatives = append(alternatives, "user_agent = "+param(fp.UserAgent))
	}
	if fp.Platform != "" && fp.Model != "" {
		alternatives = append(alternatives, "(platform = "+param(fp.Platform)+" AND model = "+param(fp.Model)+")")
	}
	if len(alternatives) == 0 {
		return Device{}, ErrDeviceNotFound
	}

	query := `SELECT ` + deviceColumns + ` FROM devices
		WHERE user_id = $1 AND active AND (` + strings.Join(alternatives, " OR ") + `)
		ORDER BY last_seen_at DESC LIMIT 1`
	return r.findOneDevice(ctx, query, args...)
}

func (r *PostgresDeviceRepository) GetDeviceByID(ctx context.Context, id uuid.UUID) (Device, error) {
	return r.findOneDevice(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

func (r *PostgresDeviceRepository) FindDevicesByUser(ctx context.Context, userID uuid.UUID) ([]Device, error) {
	rows, err := r.db.Query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("Failed to find devices by user", "err", err, "userID", userID)
		return nil, fmt.Errorf("failed to find devices by user: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return devices, nil
}

func (r *PostgresDeviceRepository) CreateDevice(ctx context.Context, device Device) (Device, error) {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	query := `
		INSERT INTO devices (
			id, user_id, install_id, platform, model, user_agent, first_ip, last_ip,
			display_name, active, trusted, approved_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + deviceColumns

	created, err := scanDevice(r.db.QueryRow(ctx, query,
		device.ID,
		device.UserID,
		device.InstallID,
		device.Platform,
		device.Model,
		device.UserAgent,
		device.FirstIP,
		device.LastIP,
		device.DisplayName,
		device.Active,
		device.Trusted,
		device.ApprovedAt,
		device.LastSeenAt,
	))
	if err != nil {
		slog.Error("Failed to create device", "err", err, "userID", device.UserID)
		return Device{}, fmt.Errorf("failed to create device: %w", err)
	}
	return created, nil
}

// UpdateDevice persists the mutable fields of a device
func (r *PostgresDeviceRepository) UpdateDevice(ctx context.Context, device Device) (Device, error) {
	query := `
		UPDATE devices SET
			install_id = $2, platform = $3, model = $4, user_agent = $5, last_ip = $6,
			display_name = $7, active = $8, trusted = $9, last_seen_at = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + deviceColumns

	return r.findOneDevice(ctx, query,
		device.ID,
		device.InstallID,
		device.Platform,
		device.Model,
		device.UserAgent,
		device.LastIP,
		device.DisplayName,
		device.Active,
		device.Trusted,
		device.LastSeenAt,
	)
}

func (r *PostgresDeviceRepository) CountActiveDevices(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM devices WHERE user_id = $1 AND active`, userID).Scan(&count)
	if err != nil {
		slog.Error("Failed to count active devices", "err", err, "userID", userID)
		return 0, fmt.Errorf("failed to count active devices: %w", err)
	}
	return count, nil
}

func (r *PostgresDeviceRepository) CreateEnrollmentRequest(ctx context.Context, request EnrollmentRequest) (EnrollmentRequest, error) {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	query := `
		INSERT INTO enrollment_requests (
			id, user_id, install_id, platform, model, user_agent, ip, status, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + requestColumns

	created, err := scanRequest(r.db.QueryRow(ctx, query,
		request.ID,
		request.UserID,
		request.InstallID,
		request.Platform,
		request.Model,
		request.UserAgent,
		request.IP,
		string(request.Status),
		request.ExpiresAt,
	))
	if err != nil {
		slog.Error("Failed to create enrollment request", "err", err, "userID", request.UserID)
		return EnrollmentRequest{}, fmt.Errorf("failed to create enrollment request: %w", err)
	}
	return created, nil
}

func (r *PostgresDeviceRepository) FindEnrollmentRequestByID(ctx context.Context, id uuid.UUID) (EnrollmentRequest, error) {
	request, err := scanRequest(r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM enrollment_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EnrollmentRequest{}, ErrEnrollmentRequestNotFound
		}
		slog.Error("Failed to find enrollment request", "err", err, "requestID", id)
		return EnrollmentRequest{}, fmt.Errorf("failed to find enrollment request: %w", err)
	}
	return request, nil
}

func (r *PostgresDeviceRepository) FindEnrollmentRequestsByUser(ctx context.Context, userID uuid.UUID) ([]EnrollmentRequest, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM enrollment_requests WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("Failed to find enrollment requests", "err", err, "userID", userID)
		return nil, fmt.Errorf("failed to find enrollment requests: %w", err)
	}
	defer rows.Close()

	var requests []EnrollmentRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollment requests: %w", err)
	}
	return requests, nil
}

// UpdateEnrollmentRequestStatus is a single conditional UPDATE; a request that
// exists but is not in from reports ErrEnrollmentNotPending.
func (r *PostgresDeviceRepository) UpdateEnrollmentRequestStatus(ctx context.Context, id uuid.UUID, from, to EnrollmentStatus, at time.Time) (EnrollmentRequest, error) {
	query := `
		UPDATE enrollment_requests SET status = $3, resolved_at = $4
		WHERE id = $1 AND status = $2
		RETURNING ` + requestColumns

	updated, err := scanRequest(r.db.QueryRow(ctx, query, id, string(from), string(to), at))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		slog.Error("Failed to update enrollment request status", "err", err, "requestID", id)
		return EnrollmentRequest{}, fmt.Errorf("failed to update enrollment request status: %w", err)
	}

	current, err := r.FindEnrollmentRequestByID(ctx, id)
	if err != nil {
		return EnrollmentRequest{}, err
	}
	return current, ErrEnrollmentNotPending
}

// ApproveEnrollmentRequest claims the request and inserts the device in one
// statement, so two concurrent approvals can never both create a device. An
// expired request is never claimed.
func (r *PostgresDeviceRepository) ApproveEnrollmentRequest(ctx context.Context, id uuid.UUID, device Device, at time.Time) (Device, EnrollmentRequest, error) {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	query := `
		WITH claimed AS (
			UPDATE enrollment_requests
			SET status = 'APPROVED', resolved_at = $2, device_id = $3
			WHERE id = $1 AND status = 'PENDING' AND expires_at > $2
			RETURNING user_id
		)
		INSERT INTO devices (
			id, user_id, install_id, platform, model, user_agent, first_ip, last_ip,
			display_name, active, trusted, approved_at, last_seen_at
		)
		SELECT $3::uuid, claimed.user_id, $4::text, $5::text, $6::text, $7::text, $8::text, $9::text,
			$10::text, $11::boolean, $12::boolean, $2::timestamptz, $13::timestamptz
		FROM claimed
		RETURNING ` + deviceColumns

	created, err := scanDevice(r.db.QueryRow(ctx, query,
		id,
		at,
		device.ID,
		device.InstallID,
		device.Platform,
		device.Model,
		device.UserAgent,
		device.FirstIP,
		device.LastIP,
		device.DisplayName,
		device.Active,
		device.Trusted,
		device.LastSeenAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			current, findErr := r.FindEnrollmentRequestByID(ctx, id)
			if findErr != nil {
				return Device{}, EnrollmentRequest{}, findErr
			}
			return Device{}, current, ErrEnrollmentNotPending
		}
		slog.Error("Failed to approve enrollment request", "err", err, "requestID", id)
		return Device{}, EnrollmentRequest{}, fmt.Errorf("failed to approve enrollment request: %w", err)
	}

	request, err := r.FindEnrollmentRequestByID(ctx, id)
	if err != nil {
		return created, EnrollmentRequest{}, err
	}
	return created, request, nil
}
