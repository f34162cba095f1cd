package config

import (
	"time"
)

// Persistence types understood by device.NewDeviceRepository
const (
	PersistencePostgres = "postgres"
	PersistenceFile     = "file"
	PersistenceMemory   = "memory"
)

// DeviceConfig holds device enrollment configuration
type DeviceConfig struct {
	Persistence   string `env:"DEVICE_PERSISTENCE" env-default:"postgres"`
	DataDir       string `env:"DEVICE_DATA_DIR" env-default:"data"`
	MaxActive     int    `env:"DEVICE_MAX_ACTIVE" env-default:"3"`
	EnrollmentTTL string `env:"DEVICE_ENROLLMENT_TTL" env-default:"PT15M"`
	// Reject bearer tokens bound to a revoked device on every request,
	// not only at refresh.
	EnforceActive bool `env:"DEVICE_ENFORCE_ACTIVE" env-default:"false"`
}

// ParseEnrollmentTTL parses how long a pending enrollment request stays approvable
func (d DeviceConfig) ParseEnrollmentTTL() (time.Duration, error) {
	return ParseDuration(d.EnrollmentTTL)
}

// Validate checks persistence settings and limits
func (d DeviceConfig) Validate() error {
	ttl, ttlErr := d.ParseEnrollmentTTL()
	return Validate(func() ValidationErrors {
		errs := CollectErrors(
			RequireOneOf("DEVICE_PERSISTENCE", d.Persistence, []string{PersistencePostgres, PersistenceFile, PersistenceMemory}),
			RequirePositive("DEVICE_MAX_ACTIVE", d.MaxActive),
		)
		if d.Persistence == PersistenceFile {
			if e := RequireNonEmpty("DEVICE_DATA_DIR", d.DataDir); e != nil {
				errs = append(errs, *e)
			}
		}
		if ttlErr != nil {
			errs = append(errs, ValidationError{Field: "DEVICE_ENROLLMENT_TTL", Message: ttlErr.Error()})
		} else if e := RequirePositiveDuration("DEVICE_ENROLLMENT_TTL", ttl); e != nil {
			errs = append(errs, *e)
		}
		return errs
	})
}
