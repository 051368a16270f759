// Package config defines the top-level configuration for the dex arbitrage
// agent and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DEXARB_* environment variables. The
// core treats the loaded value as an immutable snapshot for the run.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Wallet      WalletConfig      `toml:"wallet"`
	DEXes       []DEXConfig       `toml:"dex"`
	Tokens      []TokenConfig     `toml:"token"`
	Pairs       []PairConfig      `toml:"pair"`
	Arbitrage   ArbitrageConfig   `toml:"arbitrage"`
	Execution   ExecutionConfig   `toml:"execution"`
	VolumeBoost VolumeBoostConfig `toml:"volume_boost"`
	Ledger      LedgerConfig      `toml:"ledger"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and transaction parameters.
type ChainConfig struct {
	RPCURL       string   `toml:"rpc_url"`
	ChainID      int64    `toml:"chain_id"`
	RPCTimeout   duration `toml:"rpc_timeout"`
	GasLimit     uint64   `toml:"gas_limit"`
	SwapDeadline duration `toml:"swap_deadline"`
}

// WalletConfig holds the signing key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// DEXConfig describes one DEX. Type is uniswap_v2, algebra or static.
type DEXConfig struct {
	Name    string `toml:"name"`
	Type    string `toml:"type"`
	Router  string `toml:"router"`
	Factory string `toml:"factory"`
	Quoter  string `toml:"quoter"`
	FeeBps  int64  `toml:"fee_bps"`
	// StaticPrices maps pair id to a fixed price, used with type = "static".
	StaticPrices map[string]decimal.Decimal `toml:"static_prices"`
}

// TokenConfig describes one ERC20 token.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int32  `toml:"decimals"`
}

// PairConfig names a monitored pair by token symbols. Dexes restricts the
// pair to a subset of configured DEXes; empty means all.
type PairConfig struct {
	Base          string          `toml:"base"`
	Quote         string          `toml:"quote"`
	GasTokenPrice decimal.Decimal `toml:"gas_token_price"`
	Dexes         []string        `toml:"dexes"`
}

// ID returns the canonical "BASE/QUOTE" identifier.
func (p PairConfig) ID() string {
	return p.Base + "/" + p.Quote
}

// ArbitrageConfig holds detection and sizing thresholds. PriceDiffThreshold
// is a percentage; MaxSlippage is a fraction.
type ArbitrageConfig struct {
	MinProfitThreshold decimal.Decimal `toml:"min_profit_threshold"`
	MaxTradeAmount     decimal.Decimal `toml:"max_trade_amount"`
	PriceDiffThreshold decimal.Decimal `toml:"price_diff_threshold"`
	MaxSlippage        decimal.Decimal `toml:"max_slippage"`
	MaxGasPriceGwei    decimal.Decimal `toml:"max_gas_price_gwei"`
	GasUnitsPerSwap    int64           `toml:"gas_units_per_swap"`
	CycleBudget        decimal.Decimal `toml:"cycle_budget"`
	AmountPrecision    int32           `toml:"amount_precision"`
	PollInterval       duration        `toml:"poll_interval"`
	TradeInterval      duration        `toml:"trade_interval"`
	QuoteTimeout       duration        `toml:"quote_timeout"`
	QuoteStaleness     duration        `toml:"quote_staleness"`
	PollConcurrency    int             `toml:"poll_concurrency"`
}

// ExecutionConfig controls confirmation polling and concurrency.
type ExecutionConfig struct {
	ConfirmAttempts  int      `toml:"confirm_attempts"`
	BackoffBase      duration `toml:"backoff_base"`
	BackoffMax       duration `toml:"backoff_max"`
	MaxPendingOrders int      `toml:"max_pending_orders"`
	LockTTL          duration `toml:"lock_ttl"`
}

// ConfirmWindow is the longest an order can spend waiting between receipt
// polls across both legs.
func (e ExecutionConfig) ConfirmWindow() time.Duration {
	wait := min(e.BackoffBase.Duration, e.BackoffMax.Duration)
	if wait <= 0 {
		return 0
	}
	var leg time.Duration
	for i := 1; i < e.ConfirmAttempts; i++ {
		leg += wait
		wait = min(2*wait, e.BackoffMax.Duration)
	}
	return 2 * leg
}

// VolumeBoostConfig configures the volume boosting mode. LossTolerance is a
// fraction of boosted volume.
type VolumeBoostConfig struct {
	Enabled         bool            `toml:"enabled"`
	TargetDEX       string          `toml:"target_dex"`
	LossTolerance   decimal.Decimal `toml:"loss_tolerance"`
	MinTradeAmount  decimal.Decimal `toml:"min_trade_amount"`
	MaxTradeAmount  decimal.Decimal `toml:"max_trade_amount"`
	VolumeTarget    decimal.Decimal `toml:"volume_target"`
	GasUnitsPerSwap int64           `toml:"gas_units_per_swap"`
	IncludeGas      bool            `toml:"include_gas"`
}

// LedgerConfig selects where ledger entries are appended.
type LedgerConfig struct {
	Backend string `toml:"backend"` // file | postgres
	Path    string `toml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When enabled, Redis backs
// the quote cache, the in-flight order lock and the signal bus.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters for ledger archives.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds the status API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	Events         []string `toml:"events"`
}

// duration wraps time.Duration so it can be decoded from TOML strings like
// "5s" or "500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the agent's built-in defaults.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCTimeout:   duration{30 * time.Second},
			GasLimit:     200_000,
			SwapDeadline: duration{300 * time.Second},
		},
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold: decimal.RequireFromString("0.05"),
			MaxTradeAmount:     decimal.NewFromInt(1),
			PriceDiffThreshold: decimal.NewFromInt(1),
			MaxSlippage:        decimal.RequireFromString("0.01"),
			MaxGasPriceGwei:    decimal.NewFromInt(50),
			GasUnitsPerSwap:    170_000,
			AmountPrecision:    6,
			PollInterval:       duration{5 * time.Second},
			TradeInterval:      duration{5 * time.Second},
			QuoteTimeout:       duration{3 * time.Second},
			QuoteStaleness:     duration{15 * time.Second},
			PollConcurrency:    8,
		},
		Execution: ExecutionConfig{
			ConfirmAttempts:  10,
			BackoffBase:      duration{500 * time.Millisecond},
			BackoffMax:       duration{8 * time.Second},
			MaxPendingOrders: 5,
			LockTTL:          duration{5 * time.Minute},
		},
		VolumeBoost: VolumeBoostConfig{
			LossTolerance:   decimal.RequireFromString("0.01"),
			MinTradeAmount:  decimal.NewFromInt(7),
			MaxTradeAmount:  decimal.NewFromInt(10),
			VolumeTarget:    decimal.NewFromInt(55_000),
			GasUnitsPerSwap: 200_000,
			IncludeGas:      true,
		},
		Ledger: LedgerConfig{
			Backend: "file",
			Path:    "ledger.jsonl",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "dexarb",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			QuoteTTL:   duration{time.Minute},
		},
		S3: S3Config{
			Region:          "us-east-1",
			Prefix:          "ledger",
			ArchiveInterval: duration{time.Hour},
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_failed", "partial_leg_failure", "boost_stopped"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"arbitrage": true,
	"volume":    true,
	"monitor":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validDEXTypes = map[string]bool{
	"uniswap_v2": true,
	"algebra":    true,
	"static":     true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: arbitrage, volume, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	onChain := false
	dexNames := make(map[string]bool, len(c.DEXes))
	for i, d := range c.DEXes {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("dex[%d]: name must not be empty", i))
			continue
		}
		if dexNames[d.Name] {
			errs = append(errs, fmt.Sprintf("dex %s: duplicate name", d.Name))
		}
		dexNames[d.Name] = true
		if !validDEXTypes[d.Type] {
			errs = append(errs, fmt.Sprintf("dex %s: unknown type %q (valid: uniswap_v2, algebra, static)", d.Name, d.Type))
		}
		if d.FeeBps < 0 || d.FeeBps >= 10_000 {
			errs = append(errs, fmt.Sprintf("dex %s: fee_bps must be in [0, 10000), got %d", d.Name, d.FeeBps))
		}
		switch d.Type {
		case "uniswap_v2":
			onChain = true
			errs = appendAddr(errs, "dex "+d.Name+": router", d.Router)
			errs = appendAddr(errs, "dex "+d.Name+": factory", d.Factory)
		case "algebra":
			onChain = true
			errs = appendAddr(errs, "dex "+d.Name+": router", d.Router)
			errs = appendAddr(errs, "dex "+d.Name+": factory", d.Factory)
			errs = appendAddr(errs, "dex "+d.Name+": quoter", d.Quoter)
		}
	}
	if len(c.DEXes) < 2 && mode == "arbitrage" {
		errs = append(errs, "dex: arbitrage mode needs at least two dexes")
	}

	tokens := make(map[string]bool, len(c.Tokens))
	for _, t := range c.Tokens {
		tokens[t.Symbol] = true
		if onChain {
			errs = appendAddr(errs, "token "+t.Symbol+": address", t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			errs = append(errs, fmt.Sprintf("token %s: decimals must be in [0, 36], got %d", t.Symbol, t.Decimals))
		}
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, "pair: at least one pair must be configured")
	}
	for _, p := range c.Pairs {
		if !tokens[p.Base] || !tokens[p.Quote] {
			errs = append(errs, fmt.Sprintf("pair %s: base and quote must be configured tokens", p.ID()))
		}
		if p.GasTokenPrice.IsNegative() {
			errs = append(errs, fmt.Sprintf("pair %s: gas_token_price must be >= 0", p.ID()))
		}
		for _, d := range p.Dexes {
			if !dexNames[d] {
				errs = append(errs, fmt.Sprintf("pair %s: unknown dex %q", p.ID(), d))
			}
		}
	}

	if onChain && c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if mode == "arbitrage" || mode == "volume" {
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	a := c.Arbitrage
	if !a.MaxTradeAmount.IsPositive() {
		errs = append(errs, "arbitrage: max_trade_amount must be > 0")
	}
	if a.MinProfitThreshold.IsNegative() {
		errs = append(errs, "arbitrage: min_profit_threshold must be >= 0")
	}
	if a.PriceDiffThreshold.IsNegative() {
		errs = append(errs, "arbitrage: price_diff_threshold must be >= 0")
	}
	if a.MaxSlippage.IsNegative() || a.MaxSlippage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "arbitrage: max_slippage must be in [0, 1)")
	}
	if !a.MaxGasPriceGwei.IsPositive() {
		errs = append(errs, "arbitrage: max_gas_price_gwei must be > 0")
	}
	if a.GasUnitsPerSwap <= 0 {
		errs = append(errs, "arbitrage: gas_units_per_swap must be > 0")
	}
	if a.CycleBudget.IsNegative() {
		errs = append(errs, "arbitrage: cycle_budget must be >= 0")
	}
	if a.PollInterval.Duration <= 0 {
		errs = append(errs, "arbitrage: poll_interval must be > 0")
	}
	if a.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "arbitrage: quote_timeout must be > 0")
	}
	if a.QuoteStaleness.Duration <= 0 {
		errs = append(errs, "arbitrage: quote_staleness must be > 0")
	}
	if a.PollConcurrency < 1 {
		errs = append(errs, "arbitrage: poll_concurrency must be >= 1")
	}

	e := c.Execution
	if e.ConfirmAttempts < 1 {
		errs = append(errs, "execution: confirm_attempts must be >= 1")
	}
	if e.BackoffBase.Duration <= 0 || e.BackoffMax.Duration < e.BackoffBase.Duration {
		errs = append(errs, "execution: backoff_base must be > 0 and <= backoff_max")
	}
	if e.MaxPendingOrders < 1 {
		errs = append(errs, "execution: max_pending_orders must be >= 1")
	}
	switch ttl := e.LockTTL.Duration; {
	case ttl < 0:
		errs = append(errs, "execution: lock_ttl must be >= 0")
	case ttl == 0 && c.Redis.Enabled:
		errs = append(errs, "execution: lock_ttl must be > 0 when redis holds the lock")
	case ttl > 0 && ttl <= e.ConfirmWindow():
		errs = append(errs, fmt.Sprintf("execution: lock_ttl %s must exceed the confirmation window %s", ttl, e.ConfirmWindow()))
	}

	if mode == "volume" {
		v := c.VolumeBoost
		if !v.Enabled {
			errs = append(errs, "volume_boost: enabled must be true for mode volume")
		}
		if !dexNames[v.TargetDEX] {
			errs = append(errs, fmt.Sprintf("volume_boost: target_dex %q is not a configured dex", v.TargetDEX))
		}
		if v.LossTolerance.IsNegative() {
			errs = append(errs, "volume_boost: loss_tolerance must be >= 0")
		}
		if !v.MinTradeAmount.IsPositive() || v.MaxTradeAmount.LessThan(v.MinTradeAmount) {
			errs = append(errs, "volume_boost: need 0 < min_trade_amount <= max_trade_amount")
		}
		if v.VolumeTarget.IsNegative() {
			errs = append(errs, "volume_boost: volume_target must be >= 0")
		}
	}

	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.Path == "" {
			errs = append(errs, "ledger: path must not be empty for the file backend")
		}
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: file, postgres)", c.Ledger.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func appendAddr(errs []string, field, addr string) []string {
	if !common.IsHexAddress(addr) {
		return append(errs, fmt.Sprintf("%s must be a hex address, got %q", field, addr))
	}
	return errs
}
