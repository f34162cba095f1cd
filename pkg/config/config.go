package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// ServerConfig holds process level settings
type ServerConfig struct {
	BaseUrl           string `env:"BASE_URL" env-default:"http://localhost:4000"`
	LogLevel          string `env:"LOG_LEVEL" env-default:"info"`
	SeedAdminEmail    string `env:"SEED_ADMIN_EMAIL"`
	SeedAdminPassword string `env:"SEED_ADMIN_PASSWORD"`
}

// Config aggregates every section read by cmd/lmsauth
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Device   DeviceConfig
}

// Validate validates every section; the database section only matters for
// postgres persistence.
func (c Config) Validate() error {
	var all ValidationErrors
	sections := []error{c.JWT.Validate(), c.Device.Validate()}
	if c.Device.Persistence == PersistencePostgres {
		sections = append(sections, c.Database.Validate())
	}
	if c.Server.SeedAdminEmail != "" {
		sections = append(sections, Validate(func() ValidationErrors {
			errs := CollectErrors(RequireValidEmail("SEED_ADMIN_EMAIL", c.Server.SeedAdminEmail))
			// an empty password is generated at bootstrap
			if c.Server.SeedAdminPassword != "" {
				if e := RequireMinLength("SEED_ADMIN_PASSWORD", c.Server.SeedAdminPassword, 8); e != nil {
					errs = append(errs, *e)
				}
			}
			return errs
		}))
	}
	for _, err := range sections {
		if errs, ok := err.(ValidationErrors); ok {
			all = append(all, errs...)
		}
	}
	if all.HasErrors() {
		return all
	}
	return nil
}

// Load reads an optional .env file and then the environment into a Config
func Load() (Config, error) {
	LoadEnvFile()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile loads .env from the executable directory, falling back to the
// working directory. A missing file is not an error.
func LoadEnvFile() {
	envFile := ""
	if execPath, err := os.Executable(); err == nil {
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
	}

	if _, err := os.Stat(envFile); envFile == "" || os.IsNotExist(err) {
		cwd, err := os.Getwd()
		if err != nil {
			slog.Error("Failed to get current working directory", "error", err)
			return
		}
		envFile = filepath.Join(cwd, ".env")
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		slog.Debug("No .env file found", "path", envFile)
		return
	}

	if err := godotenv.Load(envFile); err != nil {
		slog.Error("Failed to load .env file", "error", err, "path", envFile)
		return
	}
	slog.Info("Configuration loaded from .env file", "path", envFile)
}

// ParseLogLevel maps LOG_LEVEL onto a slog level, defaulting to info
func ParseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
