// Package runtime holds the environment-driven configuration for the
// cmd/biscuit binary: logging, metrics, and default signing choices. It
// carries no token semantics of its own — that lives in token and its
// dependencies.
package runtime

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/telemetry"
)

// Config is the CLI's full environment-derived configuration. Every field
// has a default, so an unconfigured environment still produces a working
// (if unopinionated) logger and signing algorithm.
type Config struct {
	// Logging
	LogLevel  string // "debug", "info", "warn", "error"
	LogFormat string // "json" or "text"
	LogOutput string // "stdout", "stderr", or a file path

	// Metrics
	MetricsAddr string // empty disables the metrics listener

	// Signing
	DefaultAlgorithm string // "ed25519" or "secp256r1"

	// KeyDir is loaded from BISCUIT_KEY_DIR but no subcommand reads it;
	// key files are located only through their explicit path flags.
	KeyDir string
}

// Load reads configuration from the process environment, defaulting every
// field that is unset. Unlike a network service's config, nothing here is
// required — there is no external system to dial.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:         getEnv("BISCUIT_LOG_LEVEL", "info"),
		LogFormat:        getEnv("BISCUIT_LOG_FORMAT", "text"),
		LogOutput:        getEnv("BISCUIT_LOG_OUTPUT", "stderr"),
		MetricsAddr:      getEnv("BISCUIT_METRICS_ADDR", ""),
		DefaultAlgorithm: getEnv("BISCUIT_DEFAULT_ALGORITHM", "ed25519"),
		KeyDir:           getEnv("BISCUIT_KEY_DIR", "."),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration values no code path below knows how to
// interpret, rather than failing later with a less direct error.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid BISCUIT_LOG_FORMAT %q: must be json or text", c.LogFormat)
	}
	if _, err := c.Algorithm(); err != nil {
		return err
	}
	if _, err := telemetry.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid BISCUIT_LOG_LEVEL: %w", err)
	}
	return nil
}

// Algorithm resolves DefaultAlgorithm to its chainsig.Algorithm value.
func (c *Config) Algorithm() (chainsig.Algorithm, error) {
	switch c.DefaultAlgorithm {
	case "ed25519":
		return chainsig.AlgorithmEd25519, nil
	case "secp256r1":
		return chainsig.AlgorithmSecp256r1, nil
	default:
		return 0, fmt.Errorf("invalid BISCUIT_DEFAULT_ALGORITHM %q: must be ed25519 or secp256r1", c.DefaultAlgorithm)
	}
}

// NewLogger builds the telemetry.Logger this config describes.
func (c *Config) NewLogger() (*telemetry.Logger, error) {
	level, err := telemetry.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	return telemetry.NewLogger(&telemetry.Config{
		Level:     level,
		Format:    c.LogFormat,
		Output:    c.LogOutput,
		AddSource: level == slog.LevelDebug,
	})
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
