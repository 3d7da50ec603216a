package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imanipay/blockchain-service/internal/api"
	"imanipay/blockchain-service/internal/assets"
	"imanipay/blockchain-service/internal/balances"
	"imanipay/blockchain-service/internal/config"
	"imanipay/blockchain-service/internal/emitters"
	"imanipay/blockchain-service/internal/fees"
	"imanipay/blockchain-service/internal/keyvault"
	"imanipay/blockchain-service/internal/ledger"
	"imanipay/blockchain-service/internal/orchestrator"
	"imanipay/blockchain-service/internal/platform/privacylog"
	"imanipay/blockchain-service/internal/platform/ratelimiter"
	"imanipay/blockchain-service/internal/txgroup"
	"imanipay/blockchain-service/internal/wallets"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	addr := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("custodyd version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "custodyd failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, addrOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addrOverride != "" {
		cfg.HTTPAddr = addrOverride
	}

	log := newLogger(cfg.LogLevel)
	log.Info("custodyd starting", "version", version, "network", cfg.Network)

	vault, err := keyvault.New(cfg.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("init key vault: %w", err)
	}
	registry, err := assets.NewRegistry(cfg.Assets)
	if err != nil {
		return fmt.Errorf("init asset registry: %w", err)
	}
	schedule, err := fees.New(cfg.FeeTiers)
	if err != nil {
		return fmt.Errorf("init fee schedule: %w", err)
	}
	client, err := ledger.NewHTTPClient(cfg.Node.URL, cfg.Node.APIKey, cfg.Node.Timeout, cfg.Node.RequestsPerSecond)
	if err != nil {
		return fmt.Errorf("init ledger client: %w", err)
	}
	walletStore, err := wallets.NewHTTPStore(cfg.WalletStore.URL, cfg.WalletStore.Token, cfg.Node.Timeout)
	if err != nil {
		return fmt.Errorf("init wallet store: %w", err)
	}

	var emitter emitters.Emitter = emitters.Noop{}
	if cfg.Kafka.BrokerAddress != "" {
		emitter = emitters.NewKafkaEmitter(cfg.Kafka.BrokerAddress, cfg.Kafka.Topic)
	}
	defer func() {
		if err := emitter.Close(); err != nil {
			log.Warn("emitter close failed", "err", err)
		}
	}()

	builder := txgroup.NewBuilder(registry, cfg.NetworkFeeBaseUnits)
	aggregator := balances.NewAggregator(client, registry, log)
	confirm := orchestrator.ConfirmPolicy{
		MaxAttempts: cfg.Confirmation.MaxAttempts,
		Interval:    cfg.Confirmation.Interval,
	}

	payments := orchestrator.NewPayments(
		vault, aggregator, schedule, builder, client, registry,
		cfg.Treasury.Address, confirm, emitter, log,
	)
	provisioner := orchestrator.NewProvisioner(
		vault, builder, client,
		cfg.Treasury.Address, cfg.Treasury.Mnemonic,
		cfg.FundingBaseUnits, cfg.CustodyAssetID,
		cfg.Network, confirm, emitter, log,
	)
	limiter := ratelimiter.New(cfg.SenderLimit.RPS, cfg.SenderLimit.Burst, 10*time.Minute)

	svc := api.NewService(payments, provisioner, aggregator, walletStore, client, limiter, log)
	server := api.NewServer(cfg.HTTPAddr, svc, log)

	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info("custodyd stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	log := slog.New(privacylog.WrapHandler(handler))
	slog.SetDefault(log)
	return log
}
