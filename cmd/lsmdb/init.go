package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"lsmengine/pkg/config"
)

const defaultConfigPath = "config.yaml"

// initEnv loads .env into the process environment. Variables already set win.
func initEnv() error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// initConfig resolves the config path (flag, then LSMDB_CONFIG, then config.yaml) and loads it.
func initConfig(path string) (config.Config, error) {
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		path = defaultConfigPath
	}
	return config.Load(path)
}

// initLogger installs the global slog logger, JSON or text.
func initLogger(cfg config.LoggerConfig) {
	opts := &slog.HandlerOptions{AddSource: true, Level: cfg.SlogLevel()}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", "level", cfg.Level, "json", cfg.JSON)
}
