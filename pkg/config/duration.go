package config

import (
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration tries to parse s as ISO8601 first, then as a Go duration
func ParseDuration(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}
