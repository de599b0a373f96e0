package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"deriv_client/internal/assets"
	"deriv_client/internal/chain"
	"deriv_client/internal/client"
	"deriv_client/internal/config"
	"deriv_client/internal/core"
	"deriv_client/internal/infrastructure/alert"
	"deriv_client/internal/infrastructure/health"
	"deriv_client/internal/infrastructure/metrics"
	"deriv_client/internal/market"
	"deriv_client/internal/storage"
	"deriv_client/pkg/logging"
	"deriv_client/pkg/telemetry"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/risk_monitor.yaml", "Path to configuration file")
	interval := flag.Duration("report", 30*time.Second, "Margin report interval")
	watch := flag.String("liquidatees", "", "Comma separated accounts to scan for liquidation")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("risk_monitor version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.System.LogLevel, Format: cfg.System.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting risk_monitor",
		"version", version,
		"network", cfg.App.Network,
		"cross_margin", cfg.App.CrossMargin,
	)

	if err := run(cfg, *interval, parseTargets(*watch, logger), logger); err != nil {
		logger.Error("risk_monitor stopped with error", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("risk_monitor stopped")
}

func run(cfg *config.Config, interval time.Duration, targets []solana.PublicKey, logger *logging.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup("risk_monitor", telemetry.Options{StdoutTraces: cfg.Telemetry.StdoutTraces})
	if err != nil {
		logger.Warn("Failed to initialize telemetry", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tel.Shutdown(shutdownCtx)
		}()
	}

	hm := health.NewHealthManager(logger)
	if cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(cfg.Telemetry.MetricsPort, hm, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(shutdownCtx)
		}()
	}

	key, err := loadKey(cfg.Wallet)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	ledger, err := chain.NewLedger(chain.Options{
		RPCURL:     cfg.Chain.RPCURL,
		WSURL:      cfg.Chain.WSURL,
		Commitment: core.Commitment(cfg.Chain.Commitment),
		RateLimit:  cfg.Chain.RateLimit,
		Burst:      cfg.Chain.Burst,
		MaxRetries: cfg.Chain.MaxRetries,
		BatchSize:  cfg.Chain.FetchBatchSize,

		ConfirmTimeout: cfg.Chain.ConfirmTimeout,
	}, []solana.PrivateKey{key}, logger)
	if err != nil {
		return err
	}
	ledger.Start(ctx)
	defer ledger.Close()

	programID, dexProgramID, err := cfg.ProgramIDs()
	if err != nil {
		return err
	}
	mctx := market.NewContext(programID, dexProgramID)
	provider := market.NewLedgerProvider(ledger, mctx.Deriver(), cfg.Sync.MarketPollInterval, logger)
	poller := market.NewPoller(mctx, provider, ledger, provider, cfg.MarketAssets(), cfg.Sync.MarketPollInterval, logger)
	if err := poller.Start(ctx); err != nil {
		return err
	}
	defer poller.Stop()

	opts, err := clientOptions(cfg)
	if err != nil {
		return err
	}
	if cfg.Storage.SnapshotPath != "" {
		snapshots, err := storage.NewSQLiteSnapshotStore(cfg.Storage.SnapshotPath)
		if err != nil {
			return err
		}
		defer func() { _ = snapshots.Close() }()
		opts.Sink = snapshots
	}

	c, err := client.Load(ctx, ledger, provider, mctx, key.PublicKey(), opts, logger, nil)
	if err != nil {
		return fmt.Errorf("load client: %w", err)
	}
	defer func() { _ = c.Close() }()
	hm.Register("account", c.HealthCheck)

	alerts := alert.NewManager(logger)
	if url := cfg.Alert.SlackWebhookURL.Reveal(); url != "" {
		alerts.AddChannel(alert.NewSlackChannel(url))
	}
	if token := cfg.Alert.TelegramBotToken.Reveal(); token != "" && cfg.Alert.TelegramChatID != "" {
		alerts.AddChannel(alert.NewTelegramChannel(token, cfg.Alert.TelegramChatID))
	}
	defer alerts.Wait()
	watcher := alert.NewMarginWatcher(alerts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			report(gctx, c, targets, watcher, logger)
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	logger.Info("risk_monitor running", "account", c.Address().String(), "delegated", c.Delegated())
	err = g.Wait()
	logger.Info("Shutting down")
	if cerr := c.Close(); cerr != nil {
		logger.Warn("Client close failed", "error", cerr)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func report(ctx context.Context, c *client.Client, targets []solana.PublicKey, watcher *alert.MarginWatcher, logger core.ILogger) {
	state, err := c.MarginAccountState(assets.UNDEFINED)
	switch {
	case errors.Is(err, core.ErrAccountNotFound):
		logger.Info("Margin account not created yet", "account", c.Address().String())
	case err != nil:
		logger.Warn("Margin state unavailable", "error", err)
	default:
		watcher.Observe(ctx, c.Address().String(), state)
		positions, orders := 0, 0
		for _, a := range assets.All() {
			positions += len(c.Positions(a))
			orders += len(c.Orders(a))
		}
		logger.Info("Margin state",
			"balance", state.Balance.String(),
			"initial_margin", state.InitialMargin.String(),
			"maintenance_margin", state.MaintenanceMargin.String(),
			"unrealized_pnl", state.UnrealizedPnl.String(),
			"available_initial", state.AvailableBalanceInitial.String(),
			"available_maintenance", state.AvailableBalanceMaintenance.String(),
			"positions", positions,
			"orders", orders,
		)
	}

	for _, target := range targets {
		candidates, tstate, err := c.LiquidationCandidates(ctx, target)
		if err != nil {
			logger.Warn("Liquidation scan failed", "target", target.String(), "error", err)
			continue
		}
		watcher.Observe(ctx, target.String(), tstate)
		if len(candidates) == 0 {
			continue
		}
		logger.Warn("Liquidatable account",
			"target", target.String(),
			"available_maintenance", tstate.AvailableBalanceMaintenance.String(),
			"candidates", len(candidates),
		)
		for _, cand := range candidates {
			take, err := c.MaxLiquidationSize(cand.Key, cand.NativeSize > 0)
			if err != nil {
				continue
			}
			logger.Info("Liquidation candidate",
				"target", target.String(),
				"market", cand.Key.String(),
				"size", cand.NativeSize,
				"max_take", take,
			)
		}
	}
}

func clientOptions(cfg *config.Config) (client.Options, error) {
	opts := client.DefaultOptions()
	opts.CrossMargin = cfg.App.CrossMargin
	opts.Subaccount = cfg.App.Subaccount
	opts.Whitelisted = cfg.App.Whitelisted
	if !cfg.App.CrossMargin {
		a, err := assets.Parse(cfg.App.Asset)
		if err != nil {
			return opts, fmt.Errorf("app.asset: %w", err)
		}
		opts.Asset = a
	}
	if cfg.Wallet.Delegator != "" {
		delegator, err := solana.PublicKeyFromBase58(cfg.Wallet.Delegator)
		if err != nil {
			return opts, fmt.Errorf("wallet.delegator: %w", err)
		}
		opts.Delegator = delegator
	}
	mint, err := solana.PublicKeyFromBase58(cfg.App.USDCMint)
	if err != nil {
		return opts, fmt.Errorf("app.usdc_mint: %w", err)
	}
	opts.Mint = mint

	opts.Commitment = core.Commitment(cfg.Chain.Commitment)
	opts.Submit = core.SubmitOptions{
		Commitment:    opts.Commitment,
		SkipPreflight: cfg.Chain.SkipPreflight,
		MaxRetries:    cfg.Chain.TxMaxRetries,
	}
	opts.Throttle = cfg.Sync.Throttle
	opts.PollInterval = cfg.Sync.PollInterval
	opts.RefreshInterval = cfg.Sync.RefreshInterval
	opts.StuckTimeout = cfg.Sync.StuckTimeout
	opts.RefreshAfterSubmit = cfg.Sync.RefreshAfterSubmit
	opts.InstructionsPerTx = cfg.Orders.InstructionsPerTx
	opts.TriggerFetchBatch = cfg.Orders.TriggerFetchBatch
	opts.BookPoolSize = cfg.Concurrency.BookPoolSize
	opts.BookPoolBuffer = cfg.Concurrency.BookPoolBuffer
	return opts, nil
}

func loadKey(w config.WalletConfig) (solana.PrivateKey, error) {
	if w.PrivateKey != "" {
		return solana.PrivateKeyFromBase58(w.PrivateKey.Reveal())
	}
	path := w.KeypairPath
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[2:])
	}
	return solana.PrivateKeyFromSolanaKeygenFile(path)
}

func parseTargets(list string, logger core.ILogger) []solana.PublicKey {
	var out []solana.PublicKey
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			logger.Warn("Ignoring invalid liquidatee", "value", s, "error", err)
			continue
		}
		out = append(out, pk)
	}
	return out
}
