// Package config provides configuration loading and validation for simple-lms.
//
// Configuration is read from the environment with cleanenv, after an optional
// .env file has been loaded with godotenv. Every section exposes Validate so
// a misconfigured binary stops at startup instead of at the first request.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		slog.Error("Invalid configuration", "err", err)
//		os.Exit(-1)
//	}
//	ttl, _ := cfg.Device.ParseEnrollmentTTL()
//
// # Durations
//
// Duration settings accept ISO-8601 ("PT15M", "P7D") as well as Go
// notation ("15m", "168h"):
//
//	d, err := config.ParseDuration("P7D") // 168h
//
// # Validation
//
//	func (c MyConfig) Validate() error {
//		return config.Validate(func() config.ValidationErrors {
//			return config.CollectErrors(
//				config.RequireNonEmpty("HOST", c.Host),
//				config.RequireValidPort("PORT", c.Port),
//			)
//		})
//	}
package config
