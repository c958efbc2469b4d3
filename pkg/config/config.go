// Package config loads and validates the oracle's configuration:
// two optional YAML documents merged deeply (defaults overridden by an
// environment-specific overlay), per spec.md §6, adapted from the
// reference's pkg/utils/config.Load. Validate() layers the
// coercion/revert-to-default rules viper itself does not know.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration document.
type Config struct {
	Network    NetworkConfig    `mapstructure:"network"`
	Wallets    WalletsConfig    `mapstructure:"wallets"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	API        APIConfig        `mapstructure:"api"`
}

// NetworkConfig configures the ledger streaming/request-response
// transports.
type NetworkConfig struct {
	WebsocketURL          string `mapstructure:"websocket_url"`
	MaxReconnectAttempts  int    `mapstructure:"max_reconnect_attempts"`
	ReconnectDelaySeconds int    `mapstructure:"reconnect_delay_seconds"`
}

// WalletsConfig names the account the Follower mirrors and the seed it
// signs with. Both are required; the system refuses to start without
// them (spec.md §6).
type WalletsConfig struct {
	TargetWallet string `mapstructure:"target_wallet"`
	FollowerSeed string `mapstructure:"follower_seed"`
}

// TradingConfig bounds the Follower's trust-line clamp and optional
// auto-purchase behavior.
type TradingConfig struct {
	MinTrustLineAmount    int64   `mapstructure:"min_trust_line_amount"`
	MaxTrustLineAmount    int64   `mapstructure:"max_trust_line_amount"`
	AutoPurchaseOnTrust   bool    `mapstructure:"auto_purchase_on_trust"`
	InitialPurchaseAmount float64 `mapstructure:"initial_purchase_amount"`
	SendMaxNative         float64 `mapstructure:"send_max_native"`
	SlippagePercent       float64 `mapstructure:"slippage_percent"`
}

// MonitoringConfig bounds TxParser/TokenTracker thresholds.
type MonitoringConfig struct {
	MinTradeVolume      float64 `mapstructure:"min_trade_volume"`
	MinTrustLines       int64   `mapstructure:"min_trust_lines"`
	SaveIntervalMinutes int     `mapstructure:"save_interval_minutes"`
	DataFile            string  `mapstructure:"data_file"`
}

// AnalyticsConfig bounds PriceMonitor's cadence and liquidity floor.
type AnalyticsConfig struct {
	PriceCheckIntervalMinutes int     `mapstructure:"price_check_interval_minutes"`
	MinLiquidity              float64 `mapstructure:"min_liquidity"`
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Filename string `mapstructure:"filename"`
}

// DatabaseConfig configures the pgstore connection pool.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConnections  int    `mapstructure:"max_connections"`
	MinConnections  int    `mapstructure:"min_connections"`
	MaxConnLifetime int    `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime int    `mapstructure:"max_conn_idle_time"`
}

// RedisConfig configures the eventbus/cache Redis client.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// APIConfig configures the observability HTTP/WebSocket server.
type APIConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

var approvedHostSuffixes = []string{".rippletest.net", "xrpl.org", "ripple.com", "xrplcluster.com"}

// Load reads config.yaml (defaults) then config.<APP_ENV>.yaml
// (overlay) from the usual search paths, merging the overlay over the
// defaults, then validates and coerces the result.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/xrpl-oracle")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: merge environment overlay: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.Validate()

	if cfg.Wallets.TargetWallet == "" || cfg.Wallets.FollowerSeed == "" {
		return nil, fmt.Errorf("config: wallets.target_wallet and wallets.follower_seed are required")
	}
	if !strings.HasPrefix(cfg.Wallets.TargetWallet, "r") {
		return nil, fmt.Errorf("config: wallets.target_wallet %q does not look like a ledger account", cfg.Wallets.TargetWallet)
	}

	return &cfg, nil
}

// Validate applies spec.md §6's coercion and revert-to-default rules
// that viper's plain Unmarshal does not express: an invalid
// websocket_url, non-positive reconnect settings, or an inverted
// trust-line clamp silently reverts to the corresponding default
// rather than failing the whole load.
func (c *Config) Validate() {
	def := defaultConfig()

	if !validWebsocketURL(c.Network.WebsocketURL) {
		c.Network.WebsocketURL = def.Network.WebsocketURL
	}
	if c.Network.MaxReconnectAttempts < 1 {
		c.Network.MaxReconnectAttempts = def.Network.MaxReconnectAttempts
	}
	if c.Network.ReconnectDelaySeconds < 1 {
		c.Network.ReconnectDelaySeconds = def.Network.ReconnectDelaySeconds
	}

	if c.Trading.MinTrustLineAmount <= 0 {
		c.Trading.MinTrustLineAmount = def.Trading.MinTrustLineAmount
	}
	if c.Trading.MaxTrustLineAmount <= 0 {
		c.Trading.MaxTrustLineAmount = def.Trading.MaxTrustLineAmount
	}
	if c.Trading.MaxTrustLineAmount < c.Trading.MinTrustLineAmount {
		c.Trading.MinTrustLineAmount = def.Trading.MinTrustLineAmount
		c.Trading.MaxTrustLineAmount = def.Trading.MaxTrustLineAmount
	}
}

func validWebsocketURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return false
	}
	host := u.Hostname()
	for _, suffix := range approvedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func defaultConfig() Config {
	return Config{
		Network: NetworkConfig{
			WebsocketURL:          "wss://s.altnet.rippletest.net:51233",
			MaxReconnectAttempts:  5,
			ReconnectDelaySeconds: 5,
		},
		Trading: TradingConfig{
			MinTrustLineAmount: 1,
			MaxTrustLineAmount: 1_000_000,
			SlippagePercent:    2.0,
		},
	}
}

func setDefaults() {
	d := defaultConfig()

	viper.SetDefault("network.websocket_url", d.Network.WebsocketURL)
	viper.SetDefault("network.max_reconnect_attempts", d.Network.MaxReconnectAttempts)
	viper.SetDefault("network.reconnect_delay_seconds", d.Network.ReconnectDelaySeconds)

	viper.SetDefault("trading.min_trust_line_amount", d.Trading.MinTrustLineAmount)
	viper.SetDefault("trading.max_trust_line_amount", d.Trading.MaxTrustLineAmount)
	viper.SetDefault("trading.auto_purchase_on_trust", false)
	viper.SetDefault("trading.initial_purchase_amount", 10.0)
	viper.SetDefault("trading.send_max_native", 15.0)
	viper.SetDefault("trading.slippage_percent", d.Trading.SlippagePercent)

	viper.SetDefault("monitoring.min_trade_volume", 1.0)
	viper.SetDefault("monitoring.min_trust_lines", 5)
	viper.SetDefault("monitoring.save_interval_minutes", 5)
	viper.SetDefault("monitoring.data_file", "snapshot.json")

	viper.SetDefault("analytics.price_check_interval_minutes", 2)
	viper.SetDefault("analytics.min_liquidity", 100.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.filename", "")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.database", "xrpl_oracle")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", 3600)
	viper.SetDefault("database.max_conn_idle_time", 1800)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.read_timeout", 30)
	viper.SetDefault("api.write_timeout", 30)
}
