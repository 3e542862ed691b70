package config

import (
	"fmt"
	"time"
)

const minSessionSecretLen = 32

// SessionConfig configures issuing and verifying relay session tokens.
type SessionConfig struct {
	Secret    []byte
	Issuer    string
	TTL       time.Duration
	ClockSkew time.Duration
}

// sessionEnv holds raw env values before post-parse validation.
type sessionEnv struct {
	Secret    string        `env:"SESSION_SECRET"`
	Issuer    string        `env:"SESSION_ISSUER" envDefault:"bookkeeping-relay"`
	TTL       time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	ClockSkew time.Duration `env:"SESSION_CLOCK_SKEW" envDefault:"30s"`
}

func LoadSessionConfigFromEnv() (SessionConfig, error) {
	var raw sessionEnv
	if err := ParseEnv(&raw); err != nil {
		return SessionConfig{}, err
	}
	if len(raw.Secret) < minSessionSecretLen {
		return SessionConfig{}, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}
	if raw.TTL <= 0 {
		return SessionConfig{}, fmt.Errorf("SESSION_TTL must be positive")
	}
	if raw.ClockSkew < 0 {
		return SessionConfig{}, fmt.Errorf("SESSION_CLOCK_SKEW must not be negative")
	}
	return SessionConfig{
		Secret:    []byte(raw.Secret),
		Issuer:    raw.Issuer,
		TTL:       raw.TTL,
		ClockSkew: raw.ClockSkew,
	}, nil
}
