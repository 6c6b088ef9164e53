// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Poller      PollerConfig      `mapstructure:"poller"`
	Matcher     MatcherConfig     `mapstructure:"matcher"`
	XPAPI       XPAPIConfig       `mapstructure:"xp_api"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener configuration of the ledger server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig holds ledger store configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
}

// RedisConfig holds the optional leaderboard cache configuration.
// An empty URL disables Redis and falls back to an in-process cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LedgerConfig holds the XP reward policy.
type LedgerConfig struct {
	WinXP      int64 `mapstructure:"win_xp"`
	LossXP     int64 `mapstructure:"loss_xp"`
	XPPerLevel int64 `mapstructure:"xp_per_level"`
	MaxLevel   int   `mapstructure:"max_level"`
}

// LeaderboardConfig holds leaderboard projection settings.
type LeaderboardConfig struct {
	Limit    int           `mapstructure:"limit"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// ChainConfig holds RPC and contract settings for the player client.
type ChainConfig struct {
	RPCURL          string `mapstructure:"rpc_url"`
	ContractAddress string `mapstructure:"contract_address"`
	MinWager        string `mapstructure:"min_wager"`
	MaxWager        string `mapstructure:"max_wager"`
}

// WagerBounds returns the fallback wager range used when the contract cannot be read.
func (c *ChainConfig) WagerBounds() (decimal.Decimal, decimal.Decimal, error) {
	lo, err := decimal.NewFromString(c.MinWager)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid chain.min_wager: %w", err)
	}
	hi, err := decimal.NewFromString(c.MaxWager)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid chain.max_wager: %w", err)
	}
	if lo.GreaterThan(hi) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("chain.min_wager %s exceeds chain.max_wager %s", lo, hi)
	}
	return lo, hi, nil
}

// WalletConfig holds the signer key. Empty means no wallet is available.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

// PollerConfig holds settlement polling configuration.
type PollerConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	HistorySize           int           `mapstructure:"history_size"`
	LookbackBlocks        uint64        `mapstructure:"lookback_blocks"`
	InitialLookbackBlocks uint64        `mapstructure:"initial_lookback_blocks"`
	MaxRetries            uint64        `mapstructure:"max_retries"`
}

// MatcherConfig holds the outcome matcher timeout.
type MatcherConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// XPAPIConfig points the player client at the ledger server.
type XPAPIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max_retries"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	return LoadWith(viper.New(), configPath)
}

// LoadWith is Load on a caller-provided viper instance, so flags bound to it
// take precedence over file and environment values.
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. DATABASE_HOST, CHAIN_RPC_URL, WALLET_PRIVATE_KEY
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

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Ledger.XPPerLevel <= 0 {
		return fmt.Errorf("ledger.xp_per_level must be positive")
	}
	if c.Ledger.MaxLevel < 1 {
		return fmt.Errorf("ledger.max_level must be at least 1")
	}
	if c.Ledger.WinXP < 0 || c.Ledger.LossXP < 0 {
		return fmt.Errorf("ledger rewards must not be negative")
	}
	if c.Poller.HistorySize <= 0 {
		return fmt.Errorf("poller.history_size must be positive")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "coinflip")
	v.SetDefault("database.name", "coinflip")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.sqlite_path", "coinflip.db")

	v.SetDefault("redis.url", "")

	v.SetDefault("ledger.win_xp", 2)
	v.SetDefault("ledger.loss_xp", 1)
	v.SetDefault("ledger.xp_per_level", 10)
	v.SetDefault("ledger.max_level", 100)

	v.SetDefault("leaderboard.limit", 100)
	v.SetDefault("leaderboard.cache_ttl", "30s")

	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.contract_address", "")
	v.SetDefault("chain.min_wager", "0.001")
	v.SetDefault("chain.max_wager", "0.1")

	v.SetDefault("wallet.private_key", "")

	v.SetDefault("poller.interval", "12s")
	v.SetDefault("poller.history_size", 10)
	v.SetDefault("poller.lookback_blocks", 500)
	v.SetDefault("poller.initial_lookback_blocks", 5000)
	v.SetDefault("poller.max_retries", 3)

	v.SetDefault("matcher.timeout", "90s")

	v.SetDefault("xp_api.base_url", "http://localhost:8080")
	v.SetDefault("xp_api.timeout", "10s")
	v.SetDefault("xp_api.max_retries", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
}
