package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Values come from an optional YAML
// file with environment variables taking precedence.
type Config struct {
	Port       string        `yaml:"port"`
	NATSURL    string        `yaml:"nats_url"`
	RoomTTL    time.Duration `yaml:"-"`
	RoomTTLSec int           `yaml:"room_ttl_seconds"`
	CORSOrigin string        `yaml:"cors_origin"`
	LogLevel   string        `yaml:"log_level"`
}

func defaultConfig() Config {
	return Config{
		Port:       "8080",
		NATSURL:    "nats://localhost:4222",
		RoomTTLSec: 6 * 60 * 60,
		CORSOrigin: "*",
		LogLevel:   "info",
	}
}

// loadConfig builds the effective configuration: defaults, then the YAML
// file at path (if any), then environment overrides.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)
	config.RoomTTLSec = getEnvAsInt("ROOM_TTL_SECONDS", config.RoomTTLSec)
	config.CORSOrigin = getEnv("CORS_ORIGIN", config.CORSOrigin)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)

	config.RoomTTL = time.Duration(config.RoomTTLSec) * time.Second
	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
