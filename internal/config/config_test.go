package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("GYM_DB_PATH", "data/gym.db")
	yamlContent := `
database:
  path: "${GYM_DB_PATH}"
schedule:
  timezone: "Europe/Moscow"
  blocked_hours: [12, 13]
rules:
  week_anchor: slot
guard:
  idempotency_ttl: 1h
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "data/gym.db", cfg.Database.Path)
	assert.Equal(t, []int{12, 13}, cfg.Schedule.BlockedHours)
	assert.Equal(t, WeekAnchorSlot, cfg.Rules.WeekAnchor)
	assert.Equal(t, time.Hour, cfg.Guard.IdempotencyTTL)

	loc, err := cfg.Schedule.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()

	assert.Equal(t, 8, cfg.Schedule.OpenHour)
	assert.Equal(t, 20, cfg.Schedule.CloseHour)
	assert.Equal(t, []int{13}, cfg.Schedule.BlockedHours)
	assert.Equal(t, 50, cfg.Schedule.Capacity)
	assert.Equal(t, 30, cfg.Schedule.HorizonDays)
	assert.Equal(t, 24, cfg.Rules.MinLeadHours)
	assert.Equal(t, LeadModeClock, cfg.Rules.LeadMode)
	assert.Equal(t, 2, cfg.Rules.DailyLimit)
	assert.Equal(t, 3, cfg.Rules.WeeklyLimit)
	assert.Equal(t, WeekAnchorNow, cfg.Rules.WeekAnchor)
	assert.Equal(t, 24*time.Hour, cfg.Guard.IdempotencyTTL)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Path: "path"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "inverted hours", mutate: func(c *Config) { c.Schedule.OpenHour, c.Schedule.CloseHour = 20, 8 }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "bad lead mode", mutate: func(c *Config) { c.Rules.LeadMode = "fuzzy" }, wantErr: true},
		{name: "bad week anchor", mutate: func(c *Config) { c.Rules.WeekAnchor = "moon" }, wantErr: true},
		{name: "telegram without token", mutate: func(c *Config) { c.Telegram.Enabled = true }, wantErr: true},
		{name: "google without sheet", mutate: func(c *Config) {
			c.Google.Enabled = true
			c.Google.GoogleCredentialsFile = "creds.json"
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
