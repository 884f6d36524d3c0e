package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mlenz/resell-scout/internal/pipeline"
)

const (
	AppName     = "resell-scout"
	EnvFileName = "config.env"
)

// Defaults for everything the environment leaves unset.
const (
	DefaultMaxIterations  = 3
	DefaultMinMatches     = 3
	DefaultMinMatchRatio  = 0.5
	DefaultMarketplaceURL = "https://www.kleinanzeigen.de"
	DefaultLang           = "de"
	DefaultHTTPTimeoutSec = 15
	DefaultDBPath         = "resell.db"
	DefaultOutputDir      = "runs"
	DefaultMinItems       = 10
)

// Config holds all runtime settings, resolved from the environment.
type Config struct {
	GeminiAPIKey   string
	MaxIterations  int
	MinMatches     int
	MinMatchRatio  float64
	MarketplaceURL string
	Lang           string
	HTTPTimeoutSec int
	DBPath         string
	OutputDir      string
	PersonaFile    string
	MinItems       int
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// FromEnv builds a Config from the RESELL_* environment variables, applying
// defaults for anything unset. Invalid values are a *pipeline.ConfigurationError.
func FromEnv() (*Config, error) {
	cfg := &Config{
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		MaxIterations:  DefaultMaxIterations,
		MinMatches:     DefaultMinMatches,
		MinMatchRatio:  DefaultMinMatchRatio,
		MarketplaceURL: DefaultMarketplaceURL,
		Lang:           DefaultLang,
		HTTPTimeoutSec: DefaultHTTPTimeoutSec,
		DBPath:         DefaultDBPath,
		OutputDir:      DefaultOutputDir,
		PersonaFile:    os.Getenv("RESELL_PERSONA_FILE"),
		MinItems:       DefaultMinItems,
	}

	if cfg.GeminiAPIKey == "" {
		return nil, &pipeline.ConfigurationError{Reason: "GEMINI_API_KEY is not set"}
	}

	var err error
	if cfg.MaxIterations, err = intVar("RESELL_MAX_ITERATIONS", cfg.MaxIterations); err != nil {
		return nil, err
	}
	if cfg.MaxIterations <= 0 {
		return nil, &pipeline.ConfigurationError{Reason: fmt.Sprintf("RESELL_MAX_ITERATIONS must be positive, got %d", cfg.MaxIterations)}
	}

	if cfg.MinMatches, err = intVar("RESELL_MIN_MATCHES", cfg.MinMatches); err != nil {
		return nil, err
	}
	if cfg.MinMatches <= 0 {
		return nil, &pipeline.ConfigurationError{Reason: fmt.Sprintf("RESELL_MIN_MATCHES must be positive, got %d", cfg.MinMatches)}
	}

	if cfg.MinMatchRatio, err = floatVar("RESELL_MIN_MATCH_RATIO", cfg.MinMatchRatio); err != nil {
		return nil, err
	}
	if cfg.MinMatchRatio < 0 || cfg.MinMatchRatio > 1 {
		return nil, &pipeline.ConfigurationError{Reason: fmt.Sprintf("RESELL_MIN_MATCH_RATIO must be between 0 and 1, got %g", cfg.MinMatchRatio)}
	}

	if v := os.Getenv("RESELL_MARKETPLACE_URL"); v != "" {
		cfg.MarketplaceURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("RESELL_LANG"); v != "" {
		cfg.Lang = v
	}

	if cfg.HTTPTimeoutSec, err = intVar("RESELL_HTTP_TIMEOUT", cfg.HTTPTimeoutSec); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeoutSec <= 0 {
		return nil, &pipeline.ConfigurationError{Reason: fmt.Sprintf("RESELL_HTTP_TIMEOUT must be positive, got %d", cfg.HTTPTimeoutSec)}
	}

	if v := os.Getenv("RESELL_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("RESELL_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}

	if cfg.MinItems, err = intVar("RESELL_MIN_ITEMS", cfg.MinItems); err != nil {
		return nil, err
	}
	if cfg.MinItems <= 0 {
		return nil, &pipeline.ConfigurationError{Reason: fmt.Sprintf("RESELL_MIN_ITEMS must be positive, got %d", cfg.MinItems)}
	}

	return cfg, nil
}

func intVar(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &pipeline.ConfigurationError{Reason: fmt.Sprintf("%s must be an integer, got %q", name, v)}
	}
	return n, nil
}

func floatVar(name string, def float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &pipeline.ConfigurationError{Reason: fmt.Sprintf("%s must be a number, got %q", name, v)}
	}
	return f, nil
}
