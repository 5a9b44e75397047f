// Package config loads server configuration from the environment and
// tenant governance profiles from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port         string
	LogLevel     string
	DatabaseURL  string
	RedisAddr    string
	SQLitePath   string
	ProfilesDir  string
	OTLPEndpoint string
}

// Load reads configuration from environment variables, with defaults
// suited to a local single-node run.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "bos.db"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		Port:         port,
		LogLevel:     logLevel,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		SQLitePath:   sqlitePath,
		ProfilesDir:  profilesDir,
		OTLPEndpoint: os.Getenv("OTLP_ENDPOINT"),
	}
}
