package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen            = ":8645"
	defaultRegistry          = "vaultd.registry.toml"
	defaultRequestsPerMinute = 600
	defaultBurst             = 60
	defaultEventHistory      = 1024
	defaultLogSizeMB         = 100
)

// Config captures the runtime settings for the vault service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	RegistryPath  string          `yaml:"registry"`
	DataDir       string          `yaml:"data_dir"`
	EventHistory  int             `yaml:"event_history"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Log           LogConfig       `yaml:"log"`
}

// LogConfig enables a rotating JSON log file next to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuthConfig maps API tokens to the addresses they act as.
type AuthConfig struct {
	Principals []Principal `yaml:"principals"`
}

// Principal is one API token and the address calls made with it use as
// caller. Admin principals may drive the sandbox clock, prices and pauses.
type Principal struct {
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	Address string `yaml:"address"`
	Admin   bool   `yaml:"admin"`
}

// RateLimitConfig bounds requests per principal.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig toggles the OTLP exporters.
type TelemetryConfig struct {
	Traces  bool `yaml:"traces"`
	Metrics bool `yaml:"metrics"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
		RegistryPath:  defaultRegistry,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.RegistryPath = strings.TrimSpace(cfg.RegistryPath)
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = defaultRegistry
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.EventHistory <= 0 {
		cfg.EventHistory = defaultEventHistory
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	if cfg.Log.File != "" && cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = defaultLogSizeMB
	}
	cfg.Auth.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: retention must not be negative")
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	principals := make([]Principal, 0, len(cfg.Principals))
	for _, p := range cfg.Principals {
		p.Name = strings.TrimSpace(p.Name)
		p.Token = strings.TrimSpace(p.Token)
		p.Address = strings.TrimSpace(p.Address)
		if p.Token == "" && p.Address == "" && p.Name == "" {
			continue
		}
		principals = append(principals, p)
	}
	cfg.Principals = principals
}

func (cfg AuthConfig) validate() error {
	if len(cfg.Principals) == 0 {
		return fmt.Errorf("at least one principal must be configured")
	}
	tokens := make(map[string]struct{}, len(cfg.Principals))
	for i, p := range cfg.Principals {
		if p.Token == "" {
			return fmt.Errorf("principals[%d]: token required", i)
		}
		if _, dup := tokens[p.Token]; dup {
			return fmt.Errorf("principals[%d]: duplicate token", i)
		}
		tokens[p.Token] = struct{}{}
		if !common.IsHexAddress(p.Address) {
			return fmt.Errorf("principals[%d]: invalid address %q", i, p.Address)
		}
	}
	return nil
}

// AddressOf returns the principal address as a typed value.
func (p Principal) AddressOf() common.Address { return common.HexToAddress(p.Address) }
