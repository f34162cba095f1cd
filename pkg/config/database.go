package config

import (
	"fmt"

	dbutils "github.com/tendant/db-utils/db"
)

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `env:"LMS_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"LMS_PG_PORT" env-default:"5432"`
	Database string `env:"LMS_PG_DATABASE" env-default:"lms_db"`
	User     string `env:"LMS_PG_USER" env-default:"lms"`
	Password string `env:"LMS_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"LMS_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s,public",
		d.User, d.Password, d.Host, d.Port, d.Database, d.Schema)
}

// ToDbConfig converts the config to a db-utils DbConfig. db-utils has no
// schema setting; a non-default schema needs ToDatabaseURL.
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

// UsesDefaultSchema reports whether the pool can be opened without a search_path
func (d DatabaseConfig) UsesDefaultSchema() bool {
	return d.Schema == "" || d.Schema == "public"
}

// Validate checks the fields needed to open a connection pool
func (d DatabaseConfig) Validate() error {
	return Validate(func() ValidationErrors {
		return CollectErrors(
			RequireNonEmpty("LMS_PG_HOST", d.Host),
			RequireValidPort("LMS_PG_PORT", d.Port),
			RequireNonEmpty("LMS_PG_DATABASE", d.Database),
			RequireNonEmpty("LMS_PG_USER", d.User),
		)
	})
}
