package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidModelName indicates the model name is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidToolRounds indicates the tool-round cap is out of range.
	ErrInvalidToolRounds = errors.New("invalid max tool rounds")

	// ErrInvalidCommitThreshold indicates the commit gate is out of range.
	ErrInvalidCommitThreshold = errors.New("invalid commit threshold")

	// ErrInvalidRetention indicates the retention window is invalid.
	ErrInvalidRetention = errors.New("invalid retention hours")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidSSLMode indicates an unrecognized sslmode value.
	ErrInvalidSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// maxToolRoundsCeiling guards against configuring an effectively
// unbounded tool loop.
const maxToolRoundsCeiling = 10

var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
	"prefer":      true,
	"allow":       true,
}

// Validate checks the configuration and fails fast with a sentinel
// error on the first problem found.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxToolRounds < 1 || c.MaxToolRounds > maxToolRoundsCeiling {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidToolRounds, maxToolRoundsCeiling, c.MaxToolRounds)
	}
	if c.CommitThreshold <= 0 || c.CommitThreshold >= 1 {
		return fmt.Errorf("%w: must be in (0, 1), got %.2f", ErrInvalidCommitThreshold, c.CommitThreshold)
	}
	if c.RetentionHours < 1 {
		return fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidRetention, c.RetentionHours)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidSSLMode, c.PostgresSSLMode)
	}
	return nil
}
