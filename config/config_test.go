package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/config"
	"github.com/warp/dues-engine/generic"
)

// isolate points every source at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range []string{
		"DUES_CONFIG", "DUES_ADDR", "DUES_DB", "DUES_BLOB_DIR", "DUES_JWT_SECRET",
		"DUES_SWEEP_SCHEDULE", "DUES_START_MONTH", "DUES_CORS_ORIGINS", "DUES_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("DUES_ENV_FILE", filepath.Join(dir, "missing.env"))
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv("DUES_JWT_SECRET", "s3cret")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "dues.db", cfg.DBPath)
	assert.Equal(t, time.September, cfg.StartTimeMonth())
	assert.True(t, cfg.SweepEnabled())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())

	initial, err := cfg.InitialConfiguration()
	require.NoError(t, err)
	assert.Equal(t, generic.NewAmounts(5000, 175000), initial.BasePrice)
}

func TestLoad_MissingSecret(t *testing.T) {
	isolate(t)
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "dues.yaml")
	writeFile(t, path, `
addr: ":9090"
db_path: /var/lib/dues/dues.db
jwt_secret: from-yaml
sweep_schedule: "30 2 * * *"
cors_origins: ["https://colegio.example"]
log_level: debug
payments:
  base_price_usd: "60.00"
  base_price_ves: "2100.00"
  penalty_percent: "10"
  cutoff_day: 5
  pricing_policy: frozen
periods:
  - id: "2025-2026"
    name: "Año escolar 2025-2026"
    months:
      - {month: 9, year: 2025}
      - {month: 10, year: 2025, override_usd: "30.00", override_ves: "1050.00"}
`)
	t.Setenv("DUES_CONFIG", path)
	t.Setenv("DUES_ADDR", ":7070")

	cfg, err := config.Load()
	require.NoError(t, err)

	// GIVEN both sources, THEN env wins over YAML
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "/var/lib/dues/dues.db", cfg.DBPath)
	assert.Equal(t, "from-yaml", cfg.JWTSecret)
	assert.Equal(t, []string{"https://colegio.example"}, cfg.CORSOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	initial, err := cfg.InitialConfiguration()
	require.NoError(t, err)
	assert.Equal(t, generic.NewAmounts(6000, 210000), initial.BasePrice)
	assert.Equal(t, generic.BasisPoints(1000), initial.PenaltyRate)
	assert.Equal(t, generic.PolicyFrozen, initial.PricingPolicy)

	periods, err := cfg.InitialPeriods()
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, 2025, periods[0].StartYear)
	require.NotNil(t, periods[0].Months[1].Override)
	assert.Equal(t, generic.NewAmounts(3000, 105000), *periods[0].Months[1].Override)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "DUES_JWT_SECRET=from-dotenv\nDUES_CORS_ORIGINS=https://a.example, https://b.example\n")
	t.Setenv("DUES_ENV_FILE", envFile)
	os.Unsetenv("DUES_JWT_SECRET")
	os.Unsetenv("DUES_CORS_ORIGINS")
	t.Cleanup(func() {
		os.Unsetenv("DUES_JWT_SECRET")
		os.Unsetenv("DUES_CORS_ORIGINS")
	})

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.JWTSecret)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"default with secret", func(c *config.Config) {}, true},
		{"sweep off", func(c *config.Config) { c.SweepSchedule = "off" }, true},
		{"bad cron", func(c *config.Config) { c.SweepSchedule = "every day" }, false},
		{"bad start month", func(c *config.Config) { c.StartMonth = 13 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.JWTSecret = "x"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
