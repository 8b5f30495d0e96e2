package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, 10*time.Minute, cfg.Game.TurnWindow)
	assert.Equal(t, ExpiryNone, cfg.Game.ExpiryPolicy)
	assert.Equal(t, DriverNone, cfg.Database.Driver)
	assert.Equal(t, time.Duration(0), cfg.Room.DisconnectGrace)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  http_address: ":9999"
game:
  turn_window: 2m
  expiry_policy: forfeit
database:
  driver: sqlite
  sqlite:
    path: /tmp/xo.db
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.HTTPAddress)
	assert.Equal(t, 2*time.Minute, cfg.Game.TurnWindow)
	assert.Equal(t, ExpiryForfeit, cfg.Game.ExpiryPolicy)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "/tmp/xo.db", cfg.Database.SQLite.Path)
	// untouched keys keep their defaults
	assert.Equal(t, ":9090", cfg.Server.RPCAddress)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("XO_GAME_EXPIRY_POLICY", "forfeit")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ExpiryForfeit, cfg.Game.ExpiryPolicy)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongo" }},
		{"unknown policy", func(c *Config) { c.Game.ExpiryPolicy = "coinflip" }},
		{"zero turn window", func(c *Config) { c.Game.TurnWindow = 0 }},
		{"negative grace", func(c *Config) { c.Room.DisconnectGrace = -time.Second }},
		{"zero resolution", func(c *Config) { c.Timer.Resolution = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "xo", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=xo sslmode=disable", p.PostgresDSN())
}
