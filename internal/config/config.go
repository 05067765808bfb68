// Package config provides configuration management using viper.
// It supports loading from YAML files, a local .env file and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Session   SessionConfig   `mapstructure:"session"`
	Escrow    EscrowConfig    `mapstructure:"escrow"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Games     GamesConfig     `mapstructure:"games"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig identifies this worker process.
type ServerConfig struct {
	ID       string `mapstructure:"id"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// StatementTimeout bounds every statement; zero leaves the server default.
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// RedisConfig holds the shared volatile store configuration.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SessionConfig tunes the optimistic session store.
type SessionConfig struct {
	CASAttempts int           `mapstructure:"cas_attempts"`
	CASBackoff  time.Duration `mapstructure:"cas_backoff"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

// EscrowConfig holds settings for the internal transfer sub-API.
type EscrowConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	HoldingAccount string        `mapstructure:"holding_account"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// Token is the shared secret callers of the sub-API present. Empty disables the check.
	Token string `mapstructure:"token"`
}

// DirectoryConfig holds user-directory cache settings.
type DirectoryConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// GamesConfig holds game-specific configuration.
type GamesConfig struct {
	Coinflip   CoinflipConfig   `mapstructure:"coinflip"`
	Jackpot    JackpotConfig    `mapstructure:"jackpot"`
	CaseBattle CaseBattleConfig `mapstructure:"casebattle"`
}

// CoinflipConfig holds coinflip configuration.
type CoinflipConfig struct {
	StartDelay    time.Duration `mapstructure:"start_delay"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	TerminalGrace time.Duration `mapstructure:"terminal_grace"`
}

// JackpotConfig holds jackpot configuration.
type JackpotConfig struct {
	Countdown      time.Duration `mapstructure:"countdown"`
	AutoStartAfter time.Duration `mapstructure:"auto_start_after"`
	MaxPlayers     int           `mapstructure:"max_players"`
	House          bool          `mapstructure:"house"`
	HouseID        string        `mapstructure:"house_id"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	TerminalGrace  time.Duration `mapstructure:"terminal_grace"`
}

// CaseBattleConfig holds case battle configuration.
type CaseBattleConfig struct {
	RoundDelay    time.Duration `mapstructure:"round_delay"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	MaxRounds     int           `mapstructure:"max_rounds"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	TerminalGrace time.Duration `mapstructure:"terminal_grace"`
}

// SchedulerConfig holds polling intervals for the scheduler loops.
type SchedulerConfig struct {
	CoinflipInterval   time.Duration `mapstructure:"coinflip_interval"`
	JackpotInterval    time.Duration `mapstructure:"jackpot_interval"`
	CaseBattleInterval time.Duration `mapstructure:"casebattle_interval"`
	HeartbeatTTL       time.Duration `mapstructure:"heartbeat_ttl"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory. A .env file in the
// working directory is loaded into the environment first when present.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, REDIS_ADDR, GAMES_JACKPOT_COUNTDOWN
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.ID == "" {
		host, _ := os.Hostname()
		cfg.Server.ID = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks invariants the engine relies on.
func (c *Config) Validate() error {
	if c.Session.CASAttempts < 1 {
		return fmt.Errorf("session.cas_attempts must be at least 1")
	}
	if c.Session.LockTTL <= 0 {
		return fmt.Errorf("session.lock_ttl must be positive")
	}
	if c.Escrow.HoldingAccount == "" {
		return fmt.Errorf("escrow.holding_account is required")
	}
	if c.Games.Jackpot.MaxPlayers < 1 {
		return fmt.Errorf("games.jackpot.max_players must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"coinflip_interval":   c.Scheduler.CoinflipInterval,
		"jackpot_interval":    c.Scheduler.JackpotInterval,
		"casebattle_interval": c.Scheduler.CaseBattleInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("scheduler.%s must be positive", name)
		}
		if d >= c.Scheduler.HeartbeatTTL {
			return fmt.Errorf("scheduler.heartbeat_ttl must exceed scheduler.%s", name)
		}
	}
	// Running battles are relaunched once they look stale, so a live round
	// loop must always beat the threshold.
	if cb := c.Games.CaseBattle; cb.StaleAfter <= cb.RoundDelay {
		return fmt.Errorf("games.casebattle.stale_after must exceed games.casebattle.round_delay")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "wager")
	v.SetDefault("database.name", "wager")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.statement_timeout", "5s")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("session.cas_attempts", 3)
	v.SetDefault("session.cas_backoff", "50ms")
	v.SetDefault("session.lock_ttl", "5s")

	v.SetDefault("escrow.base_url", "http://localhost:8080")
	v.SetDefault("escrow.holding_account", "escrow-holding")
	v.SetDefault("escrow.timeout", "10s")

	v.SetDefault("directory.cache_ttl", "60s")

	// Game defaults
	v.SetDefault("games.coinflip.start_delay", "3s")
	v.SetDefault("games.coinflip.session_ttl", "24h")
	v.SetDefault("games.coinflip.terminal_grace", "2m")

	v.SetDefault("games.jackpot.countdown", "10s")
	v.SetDefault("games.jackpot.auto_start_after", "60s")
	v.SetDefault("games.jackpot.max_players", 20)
	v.SetDefault("games.jackpot.house", true)
	v.SetDefault("games.jackpot.house_id", "house")
	v.SetDefault("games.jackpot.session_ttl", "24h")
	v.SetDefault("games.jackpot.terminal_grace", "2m")

	v.SetDefault("games.casebattle.round_delay", "2s")
	v.SetDefault("games.casebattle.stale_after", "15s")
	v.SetDefault("games.casebattle.max_rounds", 50)
	v.SetDefault("games.casebattle.session_ttl", "24h")
	v.SetDefault("games.casebattle.terminal_grace", "2m")

	v.SetDefault("scheduler.coinflip_interval", "500ms")
	v.SetDefault("scheduler.jackpot_interval", "1s")
	v.SetDefault("scheduler.casebattle_interval", "2s")
	v.SetDefault("scheduler.heartbeat_ttl", "30s")
}
