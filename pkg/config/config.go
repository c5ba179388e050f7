// Package config loads server configuration from environment variables,
// optionally layered under a chantier.yaml file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	Port        string        `yaml:"port"`
	LogLevel    string        `yaml:"log_level"`
	DatabaseURL string        `yaml:"database_url"`
	MirrorPath  string        `yaml:"mirror_path"`
	RedisAddr   string        `yaml:"redis_addr"`
	ActionTTL   time.Duration `yaml:"action_ttl"`
	TokenKey    string        `yaml:"token_key"`
	OTLP        OTLPConfig    `yaml:"otlp"`
}

// OTLPConfig controls telemetry export. Disabled when Endpoint is empty.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Port:        envOr("PORT", "8080"),
		LogLevel:    envOr("LOG_LEVEL", "INFO"),
		DatabaseURL: envOr("DATABASE_URL", "postgres://chantier@localhost:5432/chantier?sslmode=disable"),
		MirrorPath:  os.Getenv("MIRROR_PATH"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		TokenKey:    os.Getenv("TOKEN_KEY"),
		ActionTTL:   5 * time.Minute,
		OTLP: OTLPConfig{
			Endpoint: os.Getenv("OTLP_ENDPOINT"),
			Insecure: os.Getenv("OTLP_INSECURE") == "true",
		},
	}
	if raw := os.Getenv("ACTION_TTL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.ActionTTL = d
		}
	}
	return cfg
}

// LoadFile reads a YAML config file and overlays environment values on
// top: the environment always wins, yaml fills the gaps.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	var merged Config
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	env := Load()
	if os.Getenv("PORT") != "" || merged.Port == "" {
		merged.Port = env.Port
	}
	if os.Getenv("LOG_LEVEL") != "" || merged.LogLevel == "" {
		merged.LogLevel = env.LogLevel
	}
	if os.Getenv("DATABASE_URL") != "" || merged.DatabaseURL == "" {
		merged.DatabaseURL = env.DatabaseURL
	}
	if env.MirrorPath != "" {
		merged.MirrorPath = env.MirrorPath
	}
	if env.RedisAddr != "" {
		merged.RedisAddr = env.RedisAddr
	}
	if env.TokenKey != "" {
		merged.TokenKey = env.TokenKey
	}
	if os.Getenv("ACTION_TTL") != "" || merged.ActionTTL <= 0 {
		merged.ActionTTL = env.ActionTTL
	}
	if env.OTLP.Endpoint != "" {
		merged.OTLP = env.OTLP
	}
	return &merged, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
