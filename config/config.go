package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Game     GameConfig     `mapstructure:"game"`
	Room     RoomConfig     `mapstructure:"room"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Timer    TimerConfig    `mapstructure:"timer"`
}

type ServerConfig struct {
	HTTPAddress      string        `mapstructure:"http_address"`
	RPCAddress       string        `mapstructure:"rpc_address"`
	MetricsNamespace string        `mapstructure:"metrics_namespace"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	Heartbeat        time.Duration `mapstructure:"heartbeat"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type GameConfig struct {
	TurnWindow   time.Duration `mapstructure:"turn_window"`
	ExpiryPolicy string        `mapstructure:"expiry_policy"`
	AIDepth      int           `mapstructure:"ai_depth"`
	AITimeBudget time.Duration `mapstructure:"ai_time_budget"`
}

type RoomConfig struct {
	InvitationTTL   time.Duration `mapstructure:"invitation_ttl"`
	EmptyGrace      time.Duration `mapstructure:"empty_grace"`
	DisconnectGrace time.Duration `mapstructure:"disconnect_grace"`
	MaxSpectators   int           `mapstructure:"max_spectators"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type ChatConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

type TimerConfig struct {
	Resolution time.Duration `mapstructure:"resolution"`
}

const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverPQ       = "pq"
	DriverSQLite   = "sqlite"

	ExpiryNone    = "none"
	ExpiryForfeit = "forfeit"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":9090")
	v.SetDefault("server.metrics_namespace", "xoserver")
	v.SetDefault("server.send_buffer", 256)
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.driver", DriverNone)
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "xoserver")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.sqlite.path", "xoserver.db")

	v.SetDefault("game.turn_window", 10*time.Minute)
	v.SetDefault("game.expiry_policy", ExpiryNone)
	v.SetDefault("game.ai_depth", 9)
	v.SetDefault("game.ai_time_budget", 750*time.Millisecond)

	v.SetDefault("room.invitation_ttl", 10*time.Minute)
	v.SetDefault("room.empty_grace", 5*time.Minute)
	v.SetDefault("room.disconnect_grace", time.Duration(0))
	v.SetDefault("room.max_spectators", 0)
	v.SetDefault("room.cleanup_interval", 30*time.Second)

	v.SetDefault("chat.max_length", 500)

	v.SetDefault("timer.resolution", 100*time.Millisecond)
}

// Default returns the configuration with every default applied and no file read.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config defaults do not decode: " + err.Error())
	}
	return &cfg
}

// LoadConfig reads config.yaml from path, overlays XO_* environment
// variables and validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("XO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverNone, DriverPostgres, DriverPQ, DriverSQLite:
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	switch c.Game.ExpiryPolicy {
	case ExpiryNone, ExpiryForfeit:
	default:
		return fmt.Errorf("config: unknown game.expiry_policy %q", c.Game.ExpiryPolicy)
	}
	if c.Game.TurnWindow <= 0 {
		return fmt.Errorf("config: game.turn_window must be positive")
	}
	if c.Game.AIDepth <= 0 {
		return fmt.Errorf("config: game.ai_depth must be positive")
	}
	if c.Room.InvitationTTL <= 0 || c.Room.CleanupInterval <= 0 {
		return fmt.Errorf("config: room.invitation_ttl and room.cleanup_interval must be positive")
	}
	if c.Room.DisconnectGrace < 0 || c.Room.EmptyGrace < 0 || c.Room.MaxSpectators < 0 {
		return fmt.Errorf("config: room grace periods and max_spectators cannot be negative")
	}
	if c.Timer.Resolution <= 0 {
		return fmt.Errorf("config: timer.resolution must be positive")
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("config: server.send_buffer must be positive")
	}
	return nil
}

// PostgresDSN builds a key/value DSN understood by both lib/pq and pgx.
func (p PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}
