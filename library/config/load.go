// Package config loads the yaml settings file into the shared go-config store.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/joho/godotenv"

	"github.com/Laisky/keyword-enricher/library/log"
)

// LoadFromFile loads cfgPath into gconfig.Shared and records its directory
// under `cfg_dir` so relative paths (alias tables, portfolio files) resolve.
func LoadFromFile(cfgPath string) {
	gconfig.Shared.Set("cfg_dir", filepath.Dir(cfgPath))
	if err := gconfig.Shared.LoadFromFile(cfgPath); err != nil {
		log.Logger.Panic("load configuration",
			zap.Error(err),
			zap.String("config", cfgPath))
	}

	log.Logger.Info("load configuration",
		zap.String("config", cfgPath))
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process env.
// Missing files are ignored when optional is true.
func LoadEnvFile(path string, optional bool) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat env file %q", path)
	}

	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load env file %q", path)
	}

	log.Logger.Info("load env file", zap.String("path", path))
	return nil
}

// ResolvePath joins a relative path with the config directory.
func ResolvePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	dir := gconfig.Shared.GetString("cfg_dir")
	if dir == "" {
		return path
	}

	return filepath.Join(dir, path)
}

// ExpandEnv replaces ${VAR} references in secrets read from config.
func ExpandEnv(value string) string {
	return os.ExpandEnv(strings.TrimSpace(value))
}

// ExpandEnvList applies ExpandEnv to every entry and drops empty results.
func ExpandEnvList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if expanded := ExpandEnv(v); expanded != "" {
			out = append(out, expanded)
		}
	}
	return out
}
