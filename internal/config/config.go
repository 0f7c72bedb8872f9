package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the client application configuration
type Config struct {
	// Backend generation service
	ServerURL    string `yaml:"server_url"`
	WebSocketURL string `yaml:"websocket_url"`

	// Local settings database (sqlite:// path or empty for the default
	// per-user location)
	DatabaseURL string `yaml:"database_url"`

	// Where downloaded artifacts land by default
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from an optional YAML file, then applies
// environment variable overrides. A missing file is not an error; the
// defaults target a local backend.
func Load(path string) (*Config, error) {
	cfg := &Config{
		ServerURL: "http://localhost:8000",
		DataDir:   "./data",
		LogLevel:  "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ServerURL = getEnv("NL2SQL_SERVER_URL", cfg.ServerURL)
	cfg.WebSocketURL = getEnv("NL2SQL_WS_URL", cfg.WebSocketURL)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DataDir = getEnv("NL2SQL_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.WebSocketURL == "" {
		ws, err := deriveWebSocketURL(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		cfg.WebSocketURL = ws
	}

	return cfg, nil
}

// deriveWebSocketURL maps the HTTP base URL onto its websocket counterpart
func deriveWebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}

	return strings.TrimRight(u.String(), "/"), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
