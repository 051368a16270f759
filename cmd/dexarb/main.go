// Command dexarb runs the dex arbitrage agent in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/dexarb/internal/app"
	"github.com/alanyoungcy/dexarb/internal/config"
	"github.com/alanyoungcy/dexarb/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	encryptKey := flag.String("encrypt-key", "", "write wallet.private_key encrypted with wallet.key_password to this path and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if *encryptKey != "" {
		if err := writeKeyFile(*encryptKey, cfg.Wallet); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("encrypted key written to %s\n", *encryptKey)
		return
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("dexarb starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("dexarb stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writeKeyFile(path string, w config.WalletConfig) error {
	if w.PrivateKey == "" || w.KeyPassword == "" {
		return errors.New("wallet.private_key and wallet.key_password must be set (DEXARB_WALLET_PRIVATE_KEY, DEXARB_WALLET_KEY_PASSWORD)")
	}
	body, err := crypto.EncryptKey(w.PrivateKey, w.KeyPassword)
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}
