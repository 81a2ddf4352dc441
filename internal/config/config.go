package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort  string
	HTTPSPort string
	Domain    string
	TURNPort  int
	TURNRealm string
	StunURLs  []string
	LogLevel  string
	// HTTP-only mode (no TLS, run behind an external terminator)
	HTTPOnly bool
}

// fileConfig is the subset persisted in config.json.
type fileConfig struct {
	HTTPPort  string   `json:"http_port"`
	HTTPSPort string   `json:"https_port"`
	Domain    string   `json:"domain"`
	TURNPort  int      `json:"turn_port"`
	TURNRealm string   `json:"turn_realm"`
	StunURLs  []string `json:"stun_urls"`
	LogLevel  string   `json:"log_level"`
	HTTPOnly  bool     `json:"http_only"`
}

// Load builds the configuration from environment defaults, overlays
// config.json next to the executable if present, and finally applies
// command-line flags.
func Load(httpOnly *bool) *Config {
	cfg := &Config{
		HTTPPort:  getEnv("HTTP_PORT", "8080"),
		HTTPSPort: getEnv("HTTPS_PORT", "8443"),
		Domain:    getEnv("DOMAIN", "localhost"),
		TURNPort:  getEnvInt("TURN_PORT", 3478),
		TURNRealm: getEnv("TURN_REALM", "classmeet"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		StunURLs:  splitList(getEnv("STUN_URLS", "")),
	}

	if fc, err := loadConfigFile(); err == nil {
		fmt.Println("NOTE: Custom configuration loaded from config.json")
		applyFileConfig(cfg, fc)
	}

	if httpOnly != nil && *httpOnly {
		cfg.HTTPOnly = true
	}

	return cfg
}

func loadConfigFile() (*fileConfig, error) {
	data, err := os.ReadFile(configFilePath())
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config.json: %w", err)
	}
	return &fc, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	if fc.HTTPPort != "" {
		cfg.HTTPPort = fc.HTTPPort
	}
	if fc.HTTPSPort != "" {
		cfg.HTTPSPort = fc.HTTPSPort
	}
	if fc.Domain != "" {
		cfg.Domain = fc.Domain
	}
	if fc.TURNPort != 0 {
		cfg.TURNPort = fc.TURNPort
	}
	if fc.TURNRealm != "" {
		cfg.TURNRealm = fc.TURNRealm
	}
	if len(fc.StunURLs) > 0 {
		cfg.StunURLs = fc.StunURLs
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.HTTPOnly {
		cfg.HTTPOnly = true
	}
}

func configFilePath() string {
	execPath, err := os.Executable()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(filepath.Dir(execPath), "config.json")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
