package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Admin      AdminConfig      `yaml:"admin"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Defaults   DefaultsConfig   `yaml:"defaults"`
	Database   DatabaseConfig   `yaml:"database"`
	Voices     VoicesConfig     `yaml:"voices"`
	Logging    LoggingConfig    `yaml:"logging"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AdminConfig gates the dashboard. The password is stored as a bcrypt hash;
// SessionSecret signs dashboard session tokens.
type AdminConfig struct {
	Username      string `yaml:"username"`
	PasswordHash  string `yaml:"password_hash"`
	SessionSecret string `yaml:"session_secret"`
}

// UpstreamConfig is the process-wide default TTS provider credential,
// used when a custom key has no linked original key.
type UpstreamConfig struct {
	APIKey         string `yaml:"api_key"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type DefaultsConfig struct {
	RateLimitPerDay int `yaml:"rate_limit_per_day"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// VoicesConfig controls the voice catalog snapshot file and its
// freshness window.
type VoicesConfig struct {
	CachePath  string `yaml:"cache_path"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type PrometheusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (c *LoggingConfig) IsDebug() bool {
	return c.Level == "debug"
}

var configPath string

func Load(path string) (*Config, error) {
	configPath = path
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	cfg, err = ensureCredentials(cfg, path)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Upstream.TimeoutSeconds == 0 {
		cfg.Upstream.TimeoutSeconds = 30
	}
	if cfg.Defaults.RateLimitPerDay == 0 {
		cfg.Defaults.RateLimitPerDay = 1000
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/gateway.db"
	}
	if cfg.Voices.CachePath == "" {
		cfg.Voices.CachePath = "./data/voices.json"
	}
	if cfg.Voices.TTLMinutes == 0 {
		cfg.Voices.TTLMinutes = 60
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func createDefaultConfig(path string) (*Config, error) {
	secret := generateRandomString(32)
	defaultPassword := generateRandomString(16)
	hash, err := bcrypt.GenerateFromPassword([]byte(defaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Admin: AdminConfig{
			Username:      "admin",
			PasswordHash:  string(hash),
			SessionSecret: secret,
		},
		Upstream: UpstreamConfig{
			TimeoutSeconds: 30,
		},
		Defaults: DefaultsConfig{
			RateLimitPerDay: 1000,
		},
		Database: DatabaseConfig{
			Path: "./data/gateway.db",
		},
		Voices: VoicesConfig{
			CachePath:  "./data/voices.json",
			TTLMinutes: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./logs/gateway.log",
		},
	}

	if err := saveConfig(cfg, path); err != nil {
		return nil, err
	}

	fmt.Printf("\n===========================================\n")
	fmt.Printf("  Default credentials generated!\n")
	fmt.Printf("===========================================\n")
	fmt.Printf("  Username: admin\n")
	fmt.Printf("  Password: %s\n", defaultPassword)
	fmt.Printf("  (Save this - it will not be shown again)\n")
	fmt.Printf("===========================================\n\n")

	return cfg, nil
}

func ensureCredentials(cfg Config, path string) (Config, error) {
	changed := false

	if cfg.Admin.SessionSecret == "" {
		cfg.Admin.SessionSecret = generateRandomString(32)
		changed = true
	}

	if cfg.Prometheus.Enabled && cfg.Prometheus.Username == "" {
		cfg.Prometheus.Username = "prometheus"
		changed = true
	}

	if cfg.Prometheus.Enabled && cfg.Prometheus.Password == "" {
		cfg.Prometheus.Password = generateRandomString(20)
		changed = true
		fmt.Printf("\n===========================================\n")
		fmt.Printf("  Prometheus credentials generated!\n")
		fmt.Printf("  Username: %s\n", cfg.Prometheus.Username)
		fmt.Printf("  Password: %s\n", cfg.Prometheus.Password)
		fmt.Printf("===========================================\n\n")
	}

	if changed {
		if err := saveConfig(&cfg, path); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

// ResetAdminPassword replaces the admin password hash with a hash of the
// given plaintext.
func ResetAdminPassword(cfg *Config, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	cfg.Admin.PasswordHash = string(hash)
	return nil
}

func saveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// SaveConfig exports saveConfig for external use
func SaveConfig(cfg *Config, path string) error {
	return saveConfig(cfg, path)
}

func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return hex.EncodeToString(b)[:length]
}

func Save(cfg *Config) {
	if configPath == "" {
		return
	}
	saveConfig(cfg, configPath)
}
