package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all presend configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	LogLevel    string `json:"log_level" env:"PRESEND_LOG_LEVEL"`
	PassThrough bool   `json:"pass_through" env:"PRESEND_PASS_THROUGH"`
	Environment string `json:"environment" env:"PRESEND_ENVIRONMENT"`

	// Variable stores. DBPath enables the libSQL store; RedisAddr adds a
	// Redis-backed store layered on top of it.
	DBPath        string `json:"db_path" env:"PRESEND_DB_PATH"`
	RedisAddr     string `json:"redis_addr" env:"PRESEND_REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"PRESEND_REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"PRESEND_REDIS_DB"`

	// Secrets vault. An empty passphrase disables the vault.
	VaultPassphrase string `json:"vault_passphrase" env:"PRESEND_VAULT_PASSPHRASE"`
	VaultSalt       string `json:"vault_salt" env:"PRESEND_VAULT_SALT"`

	// Dynamic variable refresh. Zero disables the refresher.
	RefreshInterval time.Duration `json:"refresh_interval" env:"PRESEND_REFRESH_INTERVAL"`

	// Sender.
	SendTimeout     time.Duration `json:"send_timeout" env:"PRESEND_SEND_TIMEOUT"`
	MaxResponseBody int64         `json:"max_response_body" env:"PRESEND_MAX_RESPONSE_BODY"`
	FollowRedirects bool          `json:"follow_redirects" env:"PRESEND_FOLLOW_REDIRECTS"`
	MaxRedirects    int           `json:"max_redirects" env:"PRESEND_MAX_REDIRECTS"`
	TLSSkipVerify   bool          `json:"tls_skip_verify" env:"PRESEND_TLS_SKIP_VERIFY"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:        "info",
		Environment:     "default",
		SendTimeout:     30 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    10,
	}
}

func presendDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".presend"
	}
	return filepath.Join(home, ".presend")
}

func settingsPath() string {
	return filepath.Join(presendDir(), "settings.json")
}

func loadConfig() (Config, error) {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(), err)
		}
	}

	// Layer 3: env vars override.
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}
