/*
Package config loads server settings.

SOURCES (later wins):
  1. Defaults
  2. YAML file named by DUES_CONFIG (optional)
  3. Environment, after loading an optional .env file (DUES_ENV_FILE, default ".env")
  4. Command-line flags (cmd/server)

ENVIRONMENT:
  DUES_ADDR            HTTP listen address (":8080")
  DUES_DB              SQLite path ("dues.db")
  DUES_BLOB_DIR        Evidence directory ("data/evidence")
  DUES_JWT_SECRET      HS256 secret (required)
  DUES_SWEEP_SCHEDULE  Cron spec for the mora sweep ("0 1 * * *"); "off" disables
  DUES_START_MONTH     First month of the school year (9)
  DUES_CORS_ORIGINS    Comma-separated allowed origins
  DUES_LOG_LEVEL       debug, info, warn, error

The YAML file may also carry the initial payment configuration and academic
periods; both are seeded only when the store has none.
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/warp/dues-engine/factory"
	"github.com/warp/dues-engine/generic"
)

// Config defines server configuration.
type Config struct {
	Addr          string   `yaml:"addr"`
	DBPath        string   `yaml:"db_path"`
	BlobDir       string   `yaml:"blob_dir"`
	JWTSecret     string   `yaml:"jwt_secret"`
	SweepSchedule string   `yaml:"sweep_schedule"`
	StartMonth    int      `yaml:"start_month"`
	CORSOrigins   []string `yaml:"cors_origins"`
	LogLevel      string   `yaml:"log_level"`

	Payments *factory.ConfigJSON  `yaml:"payments"`
	Periods  []factory.PeriodJSON `yaml:"periods"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:          ":8080",
		DBPath:        "dues.db",
		BlobDir:       "data/evidence",
		SweepSchedule: "0 1 * * *",
		StartMonth:    int(generic.DefaultStartMonth),
		CORSOrigins:   []string{"*"},
		LogLevel:      "info",
	}
}

// Load reads defaults, the YAML file and the environment.
func Load() (Config, error) {
	envFile := getenvDefault("DUES_ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg := Default()
	if path := os.Getenv("DUES_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Addr = getenvDefault("DUES_ADDR", cfg.Addr)
	cfg.DBPath = getenvDefault("DUES_DB", cfg.DBPath)
	cfg.BlobDir = getenvDefault("DUES_BLOB_DIR", cfg.BlobDir)
	cfg.JWTSecret = getenvDefault("DUES_JWT_SECRET", cfg.JWTSecret)
	cfg.SweepSchedule = getenvDefault("DUES_SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.LogLevel = getenvDefault("DUES_LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("DUES_START_MONTH"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: DUES_START_MONTH: %w", err)
		}
		cfg.StartMonth = m
	}
	if v := os.Getenv("DUES_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}

	return cfg, cfg.Validate()
}

// Validate checks settings that would otherwise fail at startup.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: jwt secret required (DUES_JWT_SECRET)")
	}
	if c.StartMonth < 1 || c.StartMonth > 12 {
		return fmt.Errorf("config: start month %d out of range", c.StartMonth)
	}
	if c.SweepEnabled() {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			return fmt.Errorf("config: sweep schedule %q: %w", c.SweepSchedule, err)
		}
	}
	return nil
}

// SweepEnabled reports whether the mora sweep should be scheduled.
func (c Config) SweepEnabled() bool {
	return c.SweepSchedule != "" && c.SweepSchedule != "off"
}

func (c Config) StartTimeMonth() time.Month { return time.Month(c.StartMonth) }

// InitialConfiguration returns the payment configuration to seed, falling
// back to the built-in default.
func (c Config) InitialConfiguration() (generic.PaymentConfiguration, error) {
	cj := factory.DefaultConfigJSON()
	if c.Payments != nil {
		cj = *c.Payments
	}
	return factory.FromJSON(cj)
}

// InitialPeriods returns the academic periods listed in the YAML file.
func (c Config) InitialPeriods() ([]generic.AcademicPeriod, error) {
	periods := make([]generic.AcademicPeriod, 0, len(c.Periods))
	for _, pj := range c.Periods {
		p, err := factory.PeriodFromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("config: period %q: %w", pj.ID, err)
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// SlogLevel maps LogLevel to a slog level; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitCSV(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
