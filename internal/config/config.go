package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	OTPSalt     string
	// RedisURL is optional; without it sessions, revocations and
	// notifications stay in process.
	RedisURL string

	OTPDevMode           bool
	AutoVerifyNumbers    []string
	DefaultCountryPrefix string
	ResendCooldown       time.Duration
	CredentialTTL        time.Duration
	FlowTTL              time.Duration

	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 "8080",
		DefaultCountryPrefix: "91",
		ResendCooldown:       120 * time.Second,
		CredentialTTL:        24 * time.Hour,
		FlowTTL:              30 * time.Minute,
		LogLevel:             "info",
		Environment:          "development",
	}

	var err error
	if cfg.DatabaseURL, err = required("DATABASE_URL"); err != nil {
		return nil, err
	}
	if cfg.JWTSecret, err = required("JWT_SECRET"); err != nil {
		return nil, err
	}
	if cfg.OTPSalt, err = required("OTP_SALT"); err != nil {
		return nil, err
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.OTPDevMode = os.Getenv("OTP_DEV_MODE") == "true"

	for _, n := range strings.Split(os.Getenv("OTP_AUTO_VERIFY_NUMBERS"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			cfg.AutoVerifyNumbers = append(cfg.AutoVerifyNumbers, n)
		}
	}

	if prefix := strings.TrimPrefix(strings.TrimSpace(os.Getenv("DEFAULT_COUNTRY_PREFIX")), "+"); prefix != "" {
		if !allDigits(prefix) {
			return nil, fmt.Errorf("DEFAULT_COUNTRY_PREFIX must be numeric, got %q", prefix)
		}
		cfg.DefaultCountryPrefix = prefix
	}

	if err := duration("RESEND_COOLDOWN", &cfg.ResendCooldown); err != nil {
		return nil, err
	}
	if err := duration("CREDENTIAL_TTL", &cfg.CredentialTTL); err != nil {
		return nil, err
	}
	if err := duration("FLOW_TTL", &cfg.FlowTTL); err != nil {
		return nil, err
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}

	return cfg, nil
}

func required(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s environment variable is required", key)
	}
	return v, nil
}

func duration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fmt.Errorf("%s must be a positive duration such as 120s, got %q", key, raw)
	}
	*dst = d
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
