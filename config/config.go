package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"dex-trading-bot/internal/api"
	"dex-trading-bot/internal/auth"
	"dex-trading-bot/internal/bot"
	"dex-trading-bot/internal/database"
	"dex-trading-bot/internal/logging"
	"dex-trading-bot/internal/marketfeed"
	"dex-trading-bot/internal/notification"
	"dex-trading-bot/internal/order"
	"dex-trading-bot/internal/risk"
	"dex-trading-bot/internal/strategy"
	"dex-trading-bot/internal/vault"
	"dex-trading-bot/internal/venue"
)

// EnvPrefix prefixes every environment override, e.g. BOT_RISK_MAX_DRAWDOWN
const EnvPrefix = "BOT"

// ErrMissingSigner is returned when no signing seed is configured and vault is off
var ErrMissingSigner = errors.New("signer seed is required: set signer.seed or enable vault")

type Config struct {
	Risk         risk.Config                `json:"risk" mapstructure:"risk"`
	Exits        risk.ExitConfig            `json:"exits" mapstructure:"exits"`
	Coordinator  strategy.CoordinatorConfig `json:"coordinator" mapstructure:"coordinator"`
	Strategies   StrategiesConfig           `json:"strategies" mapstructure:"strategies"`
	Orders       order.Config               `json:"orders" mapstructure:"orders"`
	Trading      TradingConfig              `json:"trading" mapstructure:"trading"`
	Logging      logging.Config             `json:"logging" mapstructure:"logging"`
	Notification NotificationConfig         `json:"notification" mapstructure:"notification"`
	Database     DatabaseConfig             `json:"database" mapstructure:"database"`
	Redis        RedisConfig                `json:"redis" mapstructure:"redis"`
	Vault        vault.Config               `json:"vault" mapstructure:"vault"`
	Signer       SignerConfig               `json:"signer" mapstructure:"signer"`
	Feed         FeedConfig                 `json:"feed" mapstructure:"feed"`
	Server       ServerConfig               `json:"server" mapstructure:"server"`
	Auth         auth.Config                `json:"auth" mapstructure:"auth"`
}

// StrategiesConfig holds the built-in strategies
type StrategiesConfig struct {
	Breakout strategy.BreakoutConfig `json:"breakout" mapstructure:"breakout"`
	Support  strategy.SupportConfig  `json:"support" mapstructure:"support"`
	RSI      strategy.RSIConfig      `json:"rsi" mapstructure:"rsi"`
}

// TradingConfig holds session and loop settings
type TradingConfig struct {
	bot.Config     `mapstructure:",squash"`
	InitialBalance float64           `json:"initial_balance" mapstructure:"initial_balance"`
	SessionID      string            `json:"session_id" mapstructure:"session_id"`
	Paper          venue.PaperConfig `json:"paper" mapstructure:"paper"`
}

type NotificationConfig struct {
	Enabled     bool                        `json:"enabled" mapstructure:"enabled"`
	MinSeverity string                      `json:"min_severity" mapstructure:"min_severity"`
	QueueSize   int                         `json:"queue_size" mapstructure:"queue_size"`
	Telegram    notification.TelegramConfig `json:"telegram" mapstructure:"telegram"`
	Discord     notification.DiscordConfig  `json:"discord" mapstructure:"discord"`
	Kafka       notification.KafkaConfig    `json:"kafka" mapstructure:"kafka"`
}

type DatabaseConfig struct {
	database.Config `mapstructure:",squash"`
	Enabled         bool `json:"enabled" mapstructure:"enabled"`
}

type RedisConfig struct {
	database.RedisConfig `mapstructure:",squash"`
	Enabled              bool          `json:"enabled" mapstructure:"enabled"`
	PendingTTL           time.Duration `json:"pending_ttl" mapstructure:"pending_ttl"`
}

// SignerConfig holds the ed25519 seed, hex or base64
type SignerConfig struct {
	Seed string `json:"seed" mapstructure:"seed"`
}

type FeedConfig struct {
	marketfeed.Config `mapstructure:",squash"`
	Enabled           bool `json:"enabled" mapstructure:"enabled"`
}

type ServerConfig struct {
	api.ServerConfig `mapstructure:",squash"`
	Enabled          bool `json:"enabled" mapstructure:"enabled"`
}

// Default returns the configuration used when nothing overrides it
func Default() Config {
	breakout := strategy.BreakoutConfig{
		Settings:         strategy.Settings{Name: "breakout", Enabled: true, Lookback: 20, StopLoss: 0.05, TakeProfit: 0.1, RiskFraction: 0.01},
		VolumeMultiplier: 1.5,
	}
	support := strategy.SupportConfig{
		Settings:      strategy.Settings{Name: "support", Enabled: true, Lookback: 30, StopLoss: 0.03, TakeProfit: 0.06, RiskFraction: 0.01},
		TouchDistance: 0.005,
	}
	rsi := strategy.RSIConfig{
		Settings:      strategy.Settings{Name: "rsi_reversal", Enabled: false, Lookback: 15, StopLoss: 0.04, TakeProfit: 0.08, RiskFraction: 0.01},
		Period:        14,
		OversoldLevel: 30,
	}

	return Config{
		Risk:        risk.DefaultConfig(),
		Exits:       risk.ExitConfig{TakeProfitPercent: 10, StopLossPercent: 5, TrailingPercent: 3, TrailingActivationPerc: 5},
		Coordinator: strategy.DefaultCoordinatorConfig(),
		Strategies:  StrategiesConfig{Breakout: breakout, Support: support, RSI: rsi},
		Orders:      order.DefaultConfig(),
		Trading: TradingConfig{
			Config:         bot.DefaultConfig(),
			InitialBalance: 1000,
			SessionID:      "default",
			Paper:          venue.PaperConfig{ConfirmAfter: 2},
		},
		Logging: logging.Config{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		Notification: NotificationConfig{
			MinSeverity: string(notification.SeverityWarning),
			QueueSize:   256,
			Kafka:       notification.KafkaConfig{Topic: "dexbot.alerts"},
		},
		Database: DatabaseConfig{
			Config: database.Config{Host: "localhost", Port: 5432, User: "dexbot", Database: "dexbot", SSLMode: "disable", MaxConns: 10},
		},
		Redis: RedisConfig{
			RedisConfig: database.RedisConfig{Addr: "localhost:6379"},
			PendingTTL:  database.DefaultPendingTTL,
		},
		Vault: vault.Config{
			Address:    "http://127.0.0.1:8200",
			MountPath:  "secret",
			SecretPath: "dexbot/signer",
			SeedField:  "seed",
		},
		Feed: FeedConfig{
			Config: marketfeed.Config{ReconnectDelay: 5 * time.Second, PingInterval: 30 * time.Second},
		},
		Server: ServerConfig{
			ServerConfig: api.ServerConfig{Host: "0.0.0.0", Port: 8090, ExitTimeout: 30 * time.Second},
			Enabled:      true,
		},
		Auth: auth.DefaultConfig(),
	}
}

// Load reads the configuration and validates the result
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads .env, then the optional config file at path, then BOT_*
// environment variables, without validating
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := json.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(defaults, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode defaults: %w", err)
	}
	// Every key needs a default for AutomaticEnv to see it during Unmarshal.
	setDefaults(v, "", tree)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]interface{}); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Validate fails fast on values the components cannot run with
func (c *Config) Validate() error {
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if c.Trading.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be positive, got %.2f", c.Trading.InitialBalance)
	}
	if c.Trading.SessionID == "" {
		return errors.New("trading.session_id must not be empty")
	}
	if c.Orders.PollInterval <= 0 || c.Orders.MaxPendingDuration <= 0 {
		return errors.New("orders.poll_interval and orders.max_pending_duration must be positive")
	}
	if c.Risk.SlippageBps < 0 || c.Risk.SlippageBps >= 10000 {
		return fmt.Errorf("risk.slippage_bps must be in [0, 10000), got %d", c.Risk.SlippageBps)
	}
	if c.Signer.Seed == "" && !c.Vault.Enabled {
		return ErrMissingSigner
	}
	if c.Signer.Seed != "" {
		if _, err := venue.ParseSeed(c.Signer.Seed); err != nil {
			return fmt.Errorf("signer.seed: %w", err)
		}
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return errors.New("feed.url is required when the feed is enabled")
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters when auth is enabled")
	}
	if c.Notification.Enabled {
		switch notification.Severity(c.Notification.MinSeverity) {
		case notification.SeverityInfo, notification.SeverityWarning, notification.SeverityCritical:
		default:
			return fmt.Errorf("notification.min_severity %q is not info, warning or critical", c.Notification.MinSeverity)
		}
		if c.Notification.Kafka.Enabled && (len(c.Notification.Kafka.Brokers) == 0 || c.Notification.Kafka.Topic == "") {
			return errors.New("notification.kafka needs brokers and a topic")
		}
	}
	return nil
}
