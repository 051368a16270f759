package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"

	"github.com/alanyoungcy/dexarb/internal/arbitrage"
	s3blob "github.com/alanyoungcy/dexarb/internal/blob/s3"
	"github.com/alanyoungcy/dexarb/internal/cache/local"
	"github.com/alanyoungcy/dexarb/internal/cache/redis"
	"github.com/alanyoungcy/dexarb/internal/chain"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/contracts"
	"github.com/alanyoungcy/dexarb/internal/crypto"
	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/executor"
	"github.com/alanyoungcy/dexarb/internal/feed"
	"github.com/alanyoungcy/dexarb/internal/ledger"
	"github.com/alanyoungcy/dexarb/internal/monitor"
	"github.com/alanyoungcy/dexarb/internal/notify"
	"github.com/alanyoungcy/dexarb/internal/risk"
	"github.com/alanyoungcy/dexarb/internal/store/postgres"
)

// Dependencies bundles every component the driver and the status server
// need. It is constructed by wire and torn down by the returned cleanup.
type Dependencies struct {
	Pairs []domain.PairSpec
	DEXes map[string]domain.DEXSpec

	// Market data
	Registry *feed.Registry
	Monitor  *monitor.Monitor
	Detector *arbitrage.Detector
	Sizer    *risk.Sizer

	// Persistence
	LedgerStore domain.LedgerStore
	Ledger      *ledger.Ledger
	Executions  domain.ExecutionStore // nil unless the ledger lives in postgres

	// Caches and pub/sub
	Bus   domain.SignalBus
	Locks domain.LockManager

	// Execution; nil in monitor mode
	Engine *executor.Engine

	Archiver *s3blob.LedgerArchiver // nil unless s3 is enabled
	Notifier *notify.Notifier
}

// trades reports whether mode submits transactions.
func trades(mode string) bool {
	return mode == "arbitrage" || mode == "volume"
}

// onChain reports whether any configured dex is quoted from the chain.
func onChain(cfg *config.Config) bool {
	for _, d := range cfg.DEXes {
		if domain.DEXType(d.Type) != domain.DEXTypeStatic {
			return true
		}
	}
	return false
}

// wire constructs all concrete implementations from the configuration. The
// returned cleanup releases them in reverse order of construction.
func (a *App) wire(ctx context.Context) (*Dependencies, func(), error) {
	cfg := a.cfg
	logger := a.base

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	pairs, err := cfg.PairSpecs()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps := &Dependencies{Pairs: pairs, DEXes: cfg.DEXSpecs()}
	tradeMode := trades(a.mode)

	// --- Chain ---
	var client chain.Backend
	var caller ethereum.ContractCaller
	chainID := cfg.Chain.ChainID
	if onChain(cfg) || (tradeMode && a.chain == nil) {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout.Duration)
		ec, id, err := chain.Dial(dialCtx, cfg.Chain.RPCURL)
		cancel()
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, ec.Close)
		if chainID != 0 && id.Int64() != chainID {
			return fail(fmt.Errorf("wire: chain id mismatch: node reports %s, configured %d", id, chainID))
		}
		chainID = id.Int64()
		client, caller = ec, ec
		logger.InfoContext(ctx, "connected to chain", slog.Int64("chain_id", chainID))
	}

	// --- Price feeds ---
	deps.Registry = feed.NewRegistry()
	for _, d := range cfg.DEXes {
		adapter, err := feed.NewAdapter(deps.DEXes[d.Name], caller, d.StaticPrices)
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Registry.Register(adapter)
	}

	// --- Redis, or in-process stand-ins ---
	var quoteCache domain.QuoteCache
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		quoteCache = redis.NewQuoteCache(rc, cfg.Redis.QuoteTTL.Duration)
		deps.Locks = redis.NewLockManager(rc)
		deps.Bus = redis.NewSignalBus(rc)
	} else {
		deps.Locks = executor.NewLocalLocks()
		deps.Bus = local.NewBus()
	}

	// --- Ledger ---
	switch cfg.Ledger.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
		}
		deps.LedgerStore = postgres.NewLedgerStore(pg.Pool())
		deps.Executions = postgres.NewExecutionStore(pg.Pool())
	default:
		deps.LedgerStore = ledger.NewFileStore(cfg.Ledger.Path)
	}
	deps.Ledger, err = ledger.Open(ctx, deps.LedgerStore, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Monitor, detector, sizing ---
	var targets []monitor.Target
	for _, p := range pairs {
		for _, dex := range cfg.PairDEXes(p.ID) {
			targets = append(targets, monitor.Target{DEX: dex, Pair: p})
		}
	}
	deps.Monitor = monitor.New(deps.Registry, targets, monitor.Config{
		Timeout:     cfg.Arbitrage.QuoteTimeout.Duration,
		Concurrency: cfg.Arbitrage.PollConcurrency,
	}, logger).WithBus(deps.Bus)
	if quoteCache != nil {
		deps.Monitor.WithCache(quoteCache)
		if n, err := deps.Monitor.Warm(ctx); err != nil {
			logger.WarnContext(ctx, "quote cache warm-up failed", slog.String("error", err.Error()))
		} else {
			logger.InfoContext(ctx, "quotes restored from cache", slog.Int("count", n))
		}
	}

	arb := cfg.Arbitrage
	deps.Detector = arbitrage.NewDetector(arbitrage.DetectorConfig{
		Pairs: pairs,
		DEXes: deps.DEXes,
		Thresholds: arbitrage.Thresholds{
			MinProfitThreshold: arb.MinProfitThreshold,
			MaxTradeAmount:     arb.MaxTradeAmount,
			PriceDiffThreshold: arb.PriceDiffThreshold,
			MaxGasPriceGwei:    arb.MaxGasPriceGwei,
			GasUnitsPerSwap:    arb.GasUnitsPerSwap,
			AmountPrecision:    arb.AmountPrecision,
			QuoteStaleness:     arb.QuoteStaleness.Duration,
		},
		Bus:    deps.Bus,
		Logger: logger,
	})

	var opts []risk.Option
	if a.mode == "volume" {
		vb := cfg.VolumeBoost
		opts = append(opts, risk.WithBoost(risk.BoostLimits{
			TargetDEX:       vb.TargetDEX,
			FeeBps:          deps.DEXes[vb.TargetDEX].FeeBps,
			LossTolerance:   vb.LossTolerance,
			MinTradeAmount:  vb.MinTradeAmount,
			MaxTradeAmount:  vb.MaxTradeAmount,
			VolumeTarget:    vb.VolumeTarget,
			GasUnitsPerSwap: vb.GasUnitsPerSwap,
			MaxGasPriceGwei: arb.MaxGasPriceGwei,
			IncludeGas:      vb.IncludeGas,
			QuoteStaleness:  arb.QuoteStaleness.Duration,
		}))
	}
	deps.Sizer = risk.NewSizer(risk.Limits{
		MaxTradeAmount:  arb.MaxTradeAmount,
		MaxSlippage:     arb.MaxSlippage,
		CycleBudget:     arb.CycleBudget,
		AmountPrecision: arb.AmountPrecision,
	}, logger, opts...)
	if a.mode == "volume" {
		deps.Sizer.Seed(deps.Ledger.KindTotals(domain.PlanBoost))
	}

	// --- Execution ---
	if tradeMode {
		swaps := a.chain
		if swaps == nil {
			key, err := crypto.LoadKey(crypto.KeyConfig{
				PrivateKey:       cfg.Wallet.PrivateKey,
				EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
				KeyPassword:      cfg.Wallet.KeyPassword,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: %w", err))
			}
			sub := chain.NewSubmitter(client, key, deps.DEXes, chain.Config{
				ChainID:     big.NewInt(chainID),
				GasPriceWei: contracts.GweiToWei(arb.MaxGasPriceGwei),
				GasLimit:    cfg.Chain.GasLimit,
				Deadline:    cfg.Chain.SwapDeadline.Duration,
			}, logger)
			logger.InfoContext(ctx, "wallet loaded", slog.String("address", sub.Address().Hex()))
			swaps = sub
		}
		deps.Engine = executor.NewEngine(swaps, deps.Locks, pairs, executor.Config{
			ConfirmAttempts: cfg.Execution.ConfirmAttempts,
			BackoffBase:     cfg.Execution.BackoffBase.Duration,
			BackoffMax:      cfg.Execution.BackoffMax.Duration,
			LockTTL:         cfg.Execution.LockTTL.Duration,
		}, logger)
	}

	// --- S3 ledger archives ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Archiver = s3blob.NewLedgerArchiver(s3blob.NewWriter(sc), deps.LedgerStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
