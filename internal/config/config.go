// Package config provides configuration management for the Loom server.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all configuration for the Loom server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// JWTSecret signs access tokens. Generated once and stored in DataDir
	// when not provided via LOOM_JWT_SECRET.
	JWTSecret string

	// LLM provider API keys. Anthropic is preferred when both are set.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Model overrides the default generation model for the configured provider.
	Model string

	// Slack integration (optional). When both are set, version publishes and
	// suggestion batches are announced in the channel.
	SlackToken   string
	SlackChannel string

	// GitHubToken enables exporting prompt versions as gists (optional).
	GitHubToken string
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("LOOM_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:      envOr("LOOM_ADDR", ":7090"),
		DataDir:         dataDir,
		DatabasePath:    filepath.Join(dataDir, "loom.db"),
		JWTSecret:       os.Getenv("LOOM_JWT_SECRET"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:           os.Getenv("LOOM_MODEL"),
		SlackToken:      os.Getenv("SLACK_BOT_TOKEN"),
		SlackChannel:    os.Getenv("LOOM_SLACK_CHANNEL"),
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
	}

	if cfg.JWTSecret == "" {
		secret, err := loadOrCreateSecret(filepath.Join(dataDir, "jwt.secret"))
		if err != nil {
			return nil, fmt.Errorf("loading JWT secret: %w", err)
		}
		cfg.JWTSecret = secret
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackToken != "" && c.SlackChannel != ""
}

// GistEnabled returns true if gist export is configured.
func (c *Config) GistEnabled() bool {
	return c.GitHubToken != ""
}

func loadOrCreateSecret(path string) (string, error) {
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		return string(b), nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(b)
	if err := os.WriteFile(path, []byte(secret), 0o600); err != nil {
		return "", err
	}
	return secret, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".loom"
	}
	return filepath.Join(home, ".loom")
}
