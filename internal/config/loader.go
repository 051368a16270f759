package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DEXARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DEXARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. Secrets
// and per-deployment endpoints are expected to arrive this way.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "DEXARB_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "DEXARB_CHAIN_ID")
	setDuration(&cfg.Chain.RPCTimeout, "DEXARB_CHAIN_RPC_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "DEXARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "DEXARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "DEXARB_WALLET_KEY_PASSWORD")

	// ── Arbitrage ──
	setDecimal(&cfg.Arbitrage.MinProfitThreshold, "DEXARB_ARBITRAGE_MIN_PROFIT_THRESHOLD")
	setDecimal(&cfg.Arbitrage.MaxTradeAmount, "DEXARB_ARBITRAGE_MAX_TRADE_AMOUNT")
	setDecimal(&cfg.Arbitrage.PriceDiffThreshold, "DEXARB_ARBITRAGE_PRICE_DIFF_THRESHOLD")
	setDecimal(&cfg.Arbitrage.MaxSlippage, "DEXARB_ARBITRAGE_MAX_SLIPPAGE")
	setDecimal(&cfg.Arbitrage.MaxGasPriceGwei, "DEXARB_ARBITRAGE_MAX_GAS_PRICE_GWEI")
	setDecimal(&cfg.Arbitrage.CycleBudget, "DEXARB_ARBITRAGE_CYCLE_BUDGET")
	setDuration(&cfg.Arbitrage.PollInterval, "DEXARB_ARBITRAGE_POLL_INTERVAL")
	setDuration(&cfg.Arbitrage.TradeInterval, "DEXARB_ARBITRAGE_TRADE_INTERVAL")

	// ── Execution ──
	setInt(&cfg.Execution.ConfirmAttempts, "DEXARB_EXECUTION_CONFIRM_ATTEMPTS")
	setInt(&cfg.Execution.MaxPendingOrders, "DEXARB_EXECUTION_MAX_PENDING_ORDERS")

	// ── Volume boost ──
	setBool(&cfg.VolumeBoost.Enabled, "DEXARB_VOLUME_BOOST_ENABLED")
	setStr(&cfg.VolumeBoost.TargetDEX, "DEXARB_VOLUME_BOOST_TARGET_DEX")
	setDecimal(&cfg.VolumeBoost.LossTolerance, "DEXARB_VOLUME_BOOST_LOSS_TOLERANCE")
	setDecimal(&cfg.VolumeBoost.VolumeTarget, "DEXARB_VOLUME_BOOST_VOLUME_TARGET")

	// ── Ledger ──
	setStr(&cfg.Ledger.Backend, "DEXARB_LEDGER_BACKEND")
	setStr(&cfg.Ledger.Path, "DEXARB_LEDGER_PATH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DEXARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "DEXARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DEXARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DEXARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DEXARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DEXARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DEXARB_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "DEXARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DEXARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DEXARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DEXARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DEXARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "DEXARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DEXARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DEXARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DEXARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "DEXARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DEXARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DEXARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "DEXARB_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DEXARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DEXARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DEXARB_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DEXARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DEXARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "DEXARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DEXARB_MODE")
	setStr(&cfg.LogLevel, "DEXARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and parses cleanly.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
