// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType classifies configuration failures for diagnostics.
type ConfigErrorType string

const (
	// ErrParsing indicates envconfig failed to map environment variables
	// onto the Config struct.
	ErrParsing ConfigErrorType = "PARSING"

	// ErrValidation indicates the populated Config struct failed its
	// validate tags.
	ErrValidation ConfigErrorType = "VALIDATION"
)

// ConfigError is a diagnostic error type returned by Load to aid debugging.
// It wraps a ConfigErrorType and an underlying error message.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// dotenvLoad matches the signature of godotenv.Load and allows injection
// for testing.
type dotenvLoad func(filenames ...string) error

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without touching files in the working directory.
type loaderDeps struct {
	loadDotenv dotenvLoad
}

// defaultDeps returns the standard godotenv-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		loadDotenv: godotenv.Load,
	}
}

// Load loads and validates the vinewatch configuration.
//
// It performs the following steps in order:
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present (non-fatal if missing).
//  3. Processes envconfig tags to populate the Config struct.
//  4. Validates the Config struct.
//
// The returned Config is a fresh value owned by the caller; loading never
// mutates package-level state other than time.Local.
func Load() (*Config, error) {
	return loadWithDeps(defaultDeps())
}

// loadWithDeps is the internal implementation of Load that accepts injectable
// dependencies for testing.
func loadWithDeps(deps loaderDeps) (*Config, error) {
	// Step 1: Enforce UTC timezone to prevent drift bugs. Every timestamp
	// in the pipeline, from day boundaries to forecast horizons, is
	// computed in UTC.
	time.Local = time.UTC

	// Step 2: Load .env file (non-fatal if absent).
	// godotenv.Load() will silently succeed if no .env file exists in the
	// working directory. It does NOT override existing environment variables.
	_ = deps.loadDotenv()

	// Step 3: Process envconfig tags to populate the Config struct.
	// The empty prefix "" means envconfig will use the exact tag values
	// (e.g., envconfig:"APP_ENV" reads APP_ENV directly).
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: Validate the populated struct.
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}
