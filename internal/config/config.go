// Package config loads gateway configuration. Values resolve in three
// layers: compiled-in defaults, then environment variables, then an
// optional yaml file which wins over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openclob/serum-gateway/pkg/executor"
)

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
	RateLimit       string        `yaml:"rate_limit" json:"rate_limit"`
}

// LoggingConfig represents logger configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// RetryConfig bounds a single logical RPC operation.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	Delay      time.Duration `yaml:"delay" json:"delay"`
}

// ParallelConfig bounds fan-out against the RPC endpoint.
type ParallelConfig struct {
	BatchSize           int           `yaml:"batch_size" json:"batch_size"`
	DelayBetweenBatches time.Duration `yaml:"delay_between_batches" json:"delay_between_batches"`
}

// SolanaConfig represents chain-level configuration.
type SolanaConfig struct {
	Network      string         `yaml:"network" json:"network"`
	RPCURL       string         `yaml:"rpc_url" json:"rpc_url"`
	KeystorePath string         `yaml:"keystore_path" json:"keystore_path"`
	TokenListURL string         `yaml:"token_list_url" json:"token_list_url"`
	Timeout      time.Duration  `yaml:"timeout" json:"timeout"`
	Retry        RetryConfig    `yaml:"retry" json:"retry"`
	Parallel     ParallelConfig `yaml:"parallel" json:"parallel"`
}

// MarketsConfig controls which markets the gateway serves.
type MarketsConfig struct {
	URL       string   `yaml:"url" json:"url"`
	Blacklist []string `yaml:"blacklist" json:"blacklist"`
	Whitelist []string `yaml:"whitelist" json:"whitelist"`
}

// CacheConfig holds TTLs for the market caches.
type CacheConfig struct {
	MarketsInformation time.Duration `yaml:"markets_information" json:"markets_information"`
	Markets            time.Duration `yaml:"markets" json:"markets"`
}

// OrdersConfig bounds order operations.
type OrdersConfig struct {
	FilledLimit             int `yaml:"filled_limit" json:"filled_limit"`
	CreateMaxPerTransaction int `yaml:"create_max_per_transaction" json:"create_max_per_transaction"`
	CancelMaxPerTransaction int `yaml:"cancel_max_per_transaction" json:"cancel_max_per_transaction"`
}

// TransactionsConfig controls whether same-market operations are merged
// into shared transactions.
type TransactionsConfig struct {
	MergeCreateOrders bool `yaml:"merge_create_orders" json:"merge_create_orders"`
	MergeCancelOrders bool `yaml:"merge_cancel_orders" json:"merge_cancel_orders"`
}

// TickersConfig ranks the price sources tried by the ticker resolver.
type TickersConfig struct {
	Sources []string `yaml:"sources" json:"sources"`
	URL     string   `yaml:"url" json:"url"`
}

// FillsConfig points at the off-chain trade history service.
type FillsConfig struct {
	HistoryURL string        `yaml:"history_url" json:"history_url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// SerumConfig represents venue-level configuration.
type SerumConfig struct {
	ProgramID    string             `yaml:"program_id" json:"program_id"`
	Markets      MarketsConfig      `yaml:"markets" json:"markets"`
	Cache        CacheConfig        `yaml:"cache" json:"cache"`
	Orders       OrdersConfig       `yaml:"orders" json:"orders"`
	Transactions TransactionsConfig `yaml:"transactions" json:"transactions"`
	Tickers      TickersConfig      `yaml:"tickers" json:"tickers"`
	Fills        FillsConfig        `yaml:"fills" json:"fills"`
}

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Solana  SolanaConfig  `yaml:"solana" json:"solana"`
	Serum   SerumConfig   `yaml:"serum" json:"serum"`
}

// RetryPolicy converts the chain retry settings into an executor policy.
func (c SolanaConfig) RetryPolicy() executor.RetryPolicy {
	return executor.RetryPolicy{
		MaxRetries: c.Retry.MaxRetries,
		Delay:      c.Retry.Delay,
		Timeout:    c.Timeout,
	}
}

// BatchPolicy converts the chain parallelism settings into an executor policy.
func (c SolanaConfig) BatchPolicy() executor.BatchPolicy {
	return executor.BatchPolicy{
		Size:  c.Parallel.BatchSize,
		Delay: c.Parallel.DelayBetweenBatches,
	}
}

// LoadConfig loads the application configuration. An empty path falls back
// to searching the usual locations for config.yaml.
func LoadConfig(path string) (*Config, error) {
	config := defaults()

	applyEnv(config)

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/serum-gateway")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			// No file, defaults plus environment stand.
			return config, config.validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyFile(config, v)
	return config, config.validate()
}

func defaults() *Config {
	config := &Config{}

	config.Server = ServerConfig{
		Host:            "0.0.0.0",
		Port:            15888,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		AllowedOrigins:  []string{"*"},
		RateLimit:       "100-S",
	}

	config.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}

	config.Solana = SolanaConfig{
		Network:      "mainnet-beta",
		RPCURL:       "https://api.mainnet-beta.solana.com",
		KeystorePath: "conf/wallets",
		TokenListURL: "https://raw.githubusercontent.com/solana-labs/token-list/main/src/tokens/solana.tokenlist.json",
		Timeout:      60 * time.Second,
		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      500 * time.Millisecond,
		},
		Parallel: ParallelConfig{
			BatchSize:           100,
			DelayBetweenBatches: 500 * time.Millisecond,
		},
	}

	config.Serum = SerumConfig{
		ProgramID: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Markets: MarketsConfig{
			URL: "https://raw.githubusercontent.com/project-serum/serum-ts/master/packages/serum/src/markets.json",
		},
		Cache: CacheConfig{
			MarketsInformation: time.Hour,
			Markets:            time.Hour,
		},
		Orders: OrdersConfig{
			FilledLimit:             1000,
			CreateMaxPerTransaction: 8,
			CancelMaxPerTransaction: 25,
		},
		Transactions: TransactionsConfig{
			MergeCreateOrders: true,
			MergeCancelOrders: true,
		},
		Tickers: TickersConfig{
			Sources: []string{"aggregator", "lastFill"},
			URL:     "https://nomics.com/data/exchange-markets-ticker?convert=USD&exchange=serum_dex&interval=1m&market=${marketAddress}",
		},
		Fills: FillsConfig{
			Timeout: 10 * time.Second,
		},
	}

	return config
}

func applyEnv(config *Config) {
	if port, err := strconv.Atoi(os.Getenv("GATEWAY_PORT")); err == nil {
		config.Server.Port = port
	}
	if host := os.Getenv("GATEWAY_HOST"); host != "" {
		config.Server.Host = host
	}
	if origins := os.Getenv("GATEWAY_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = strings.Split(origins, ",")
	}
	if level := os.Getenv("GATEWAY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("GATEWAY_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if network := os.Getenv("SOLANA_NETWORK"); network != "" {
		config.Solana.Network = network
	}
	if url := os.Getenv("SOLANA_RPC_URL"); url != "" {
		config.Solana.RPCURL = url
	}
	if path := os.Getenv("SOLANA_KEYSTORE_PATH"); path != "" {
		config.Solana.KeystorePath = path
	}
	if id := os.Getenv("SERUM_PROGRAM_ID"); id != "" {
		config.Serum.ProgramID = id
	}
	if url := os.Getenv("SERUM_MARKETS_URL"); url != "" {
		config.Serum.Markets.URL = url
	}
	if url := os.Getenv("SERUM_FILLS_HISTORY_URL"); url != "" {
		config.Serum.Fills.HistoryURL = url
	}
}

func applyFile(config *Config, v *viper.Viper) {
	if v.IsSet("server.host") {
		config.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("server.port") {
		config.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.read_timeout") {
		config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		config.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.idle_timeout") {
		config.Server.IdleTimeout = v.GetDuration("server.idle_timeout")
	}
	if v.IsSet("server.shutdown_timeout") {
		config.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	}
	if v.IsSet("server.allowed_origins") {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.rate_limit") {
		config.Server.RateLimit = v.GetString("server.rate_limit")
	}

	if v.IsSet("logging.level") {
		config.Logging.Level = v.GetString("logging.level")
	}
	if v.IsSet("logging.format") {
		config.Logging.Format = v.GetString("logging.format")
	}

	if v.IsSet("solana.network") {
		config.Solana.Network = v.GetString("solana.network")
	}
	if v.IsSet("solana.rpc_url") {
		config.Solana.RPCURL = v.GetString("solana.rpc_url")
	}
	if v.IsSet("solana.keystore_path") {
		config.Solana.KeystorePath = v.GetString("solana.keystore_path")
	}
	if v.IsSet("solana.token_list_url") {
		config.Solana.TokenListURL = v.GetString("solana.token_list_url")
	}
	if v.IsSet("solana.timeout") {
		config.Solana.Timeout = v.GetDuration("solana.timeout")
	}
	if v.IsSet("solana.retry.max_retries") {
		config.Solana.Retry.MaxRetries = v.GetInt("solana.retry.max_retries")
	}
	if v.IsSet("solana.retry.delay") {
		config.Solana.Retry.Delay = v.GetDuration("solana.retry.delay")
	}
	if v.IsSet("solana.parallel.batch_size") {
		config.Solana.Parallel.BatchSize = v.GetInt("solana.parallel.batch_size")
	}
	if v.IsSet("solana.parallel.delay_between_batches") {
		config.Solana.Parallel.DelayBetweenBatches = v.GetDuration("solana.parallel.delay_between_batches")
	}

	if v.IsSet("serum.program_id") {
		config.Serum.ProgramID = v.GetString("serum.program_id")
	}
	if v.IsSet("serum.markets.url") {
		config.Serum.Markets.URL = v.GetString("serum.markets.url")
	}
	if v.IsSet("serum.markets.blacklist") {
		config.Serum.Markets.Blacklist = v.GetStringSlice("serum.markets.blacklist")
	}
	if v.IsSet("serum.markets.whitelist") {
		config.Serum.Markets.Whitelist = v.GetStringSlice("serum.markets.whitelist")
	}
	if v.IsSet("serum.cache.markets_information") {
		config.Serum.Cache.MarketsInformation = v.GetDuration("serum.cache.markets_information")
	}
	if v.IsSet("serum.cache.markets") {
		config.Serum.Cache.Markets = v.GetDuration("serum.cache.markets")
	}
	if v.IsSet("serum.orders.filled_limit") {
		config.Serum.Orders.FilledLimit = v.GetInt("serum.orders.filled_limit")
	}
	if v.IsSet("serum.orders.create_max_per_transaction") {
		config.Serum.Orders.CreateMaxPerTransaction = v.GetInt("serum.orders.create_max_per_transaction")
	}
	if v.IsSet("serum.orders.cancel_max_per_transaction") {
		config.Serum.Orders.CancelMaxPerTransaction = v.GetInt("serum.orders.cancel_max_per_transaction")
	}
	if v.IsSet("serum.transactions.merge_create_orders") {
		config.Serum.Transactions.MergeCreateOrders = v.GetBool("serum.transactions.merge_create_orders")
	}
	if v.IsSet("serum.transactions.merge_cancel_orders") {
		config.Serum.Transactions.MergeCancelOrders = v.GetBool("serum.transactions.merge_cancel_orders")
	}
	if v.IsSet("serum.tickers.sources") {
		config.Serum.Tickers.Sources = v.GetStringSlice("serum.tickers.sources")
	}
	if v.IsSet("serum.tickers.url") {
		config.Serum.Tickers.URL = v.GetString("serum.tickers.url")
	}
	if v.IsSet("serum.fills.history_url") {
		config.Serum.Fills.HistoryURL = v.GetString("serum.fills.history_url")
	}
	if v.IsSet("serum.fills.timeout") {
		config.Serum.Fills.Timeout = v.GetDuration("serum.fills.timeout")
	}
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("solana.rpc_url must be set")
	}
	if c.Solana.Parallel.BatchSize <= 0 {
		return fmt.Errorf("solana.parallel.batch_size must be positive")
	}
	if c.Solana.Retry.MaxRetries < 0 {
		return fmt.Errorf("solana.retry.max_retries must not be negative")
	}
	if c.Serum.Orders.CreateMaxPerTransaction <= 0 || c.Serum.Orders.CancelMaxPerTransaction <= 0 {
		return fmt.Errorf("serum.orders per-transaction limits must be positive")
	}
	if c.Serum.Orders.FilledLimit <= 0 {
		return fmt.Errorf("serum.orders.filled_limit must be positive")
	}
	return nil
}
