package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all salesgrid server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
	Workers  int    `json:"workers"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(salesgridDir(), "salesgrid.db"),
		LogLevel: "info",
		Workers:  8,
	}
}

func salesgridDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".salesgrid"
	}
	return filepath.Join(home, ".salesgrid")
}

func settingsPath() string {
	return filepath.Join(salesgridDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("SALESGRID_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SALESGRID_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SALESGRID_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}

	return cfg
}
