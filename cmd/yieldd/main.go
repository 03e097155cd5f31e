package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ligun0805/yield-desk/internal/api"
	"github.com/ligun0805/yield-desk/internal/chain"
	"github.com/ligun0805/yield-desk/internal/config"
	"github.com/ligun0805/yield-desk/internal/ledger"
	"github.com/ligun0805/yield-desk/internal/metrics"
	"github.com/ligun0805/yield-desk/internal/monitor"
	"github.com/ligun0805/yield-desk/internal/withdraw"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// .env is optional; .env.local wins over it.
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	cfg := config.Load()
	log, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Settings, log *zap.Logger) error {
	m := metrics.New()

	wallet := chain.NewManager(chain.ManagerOptions{
		Candidates:    cfg.RPCURLs,
		ChainID:       big.NewInt(cfg.ChainID),
		ProbeTimeout:  cfg.ProbeTimeout,
		PrivateKeyHex: cfg.PrivateKeyHex,
		Account: chain.AccountOptions{
			FallbackGasPrice: chain.GweiToWei(cfg.FallbackGasPriceGwei),
			PollInterval:     cfg.ConfirmationPoll,
			RatePerSecond:    cfg.RPCRatePerSec,
		},
	}, log, m)

	book := ledger.New(ledger.Options{Strategies: cfg.StrategyCount})
	sim := ledger.NewSimulator(book, cfg.SimulatorInterval, log, m)

	pipeline := withdraw.NewPipeline(withdraw.Config{
		MinGasETH:           cfg.MinGasETH,
		RecommendedGasETH:   cfg.RecommendedGasETH,
		GasReserveETH:       cfg.GasReserveETH,
		ETHPriceUSD:         cfg.ETHPriceUSD,
		FeeRecipient:        cfg.FeeRecipient,
		TreasuryWallet:      cfg.TreasuryWallet,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
		ExplorerTxURL:       cfg.ExplorerTxURL,
	}, withdraw.Via(wallet), book, log, m)

	watcher := monitor.NewWatcher(wallet, cfg.WatchSchedule, cfg.MinGasETH, log, m)

	srv := api.NewServer(api.Deps{
		Settings: cfg,
		Wallet:   wallet,
		Pipeline: pipeline,
		Ledger:   book,
		Watcher:  watcher,
		Metrics:  m,
		Logger:   log,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  65 * time.Second,
	}

	log.Info("Starting treasury backend",
		zap.String("addr", httpServer.Addr),
		zap.String("fee_recipient", cfg.FeeRecipient),
		zap.String("treasury_wallet", cfg.TreasuryWallet),
		zap.String("private_key", cfg.MaskedKey()),
		zap.Int("rpc_candidates", len(cfg.RPCURLs)),
		zap.Int("strategies", book.Summary().Strategies),
		zap.Float64("min_gas_eth", cfg.MinGasETH),
		zap.Float64("flash_loan_eth", cfg.FlashLoanAmountETH),
		zap.Bool("simulated", true))
	if cfg.PrivateKeyHex == "" {
		log.Warn("TREASURY_PRIVATE_KEY not set; withdrawals will be refused")
	}

	simCtx, stopSim := context.WithCancel(context.Background())
	defer stopSim()
	simDone := make(chan struct{})
	go func() {
		defer close(simDone)
		sim.Run(simCtx)
	}()

	if err := watcher.Start(); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	// Warm the connection so the first request does not pay for discovery.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		acct, err := wallet.Account(ctx)
		if err != nil {
			log.Warn("initial wallet connection failed", zap.Error(err))
			return
		}
		watcher.Check(ctx)
		log.Info("Treasury connected", zap.String("address", acct.Address().Hex()))
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info("Shutting down gracefully...", zap.String("signal", sig.String()))
	case err, ok := <-serveErr:
		if ok {
			stopSim()
			watcher.Stop()
			return fmt.Errorf("listen: %w", err)
		}
	}

	book.SetActive(false)
	stopSim()
	<-simDone
	watcher.Stop()
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced shutdown", zap.Error(err))
	}
	// closes the RPC client
	wallet.Reset()

	sum := book.Summary()
	log.Info("Shutdown complete",
		zap.String("total_earned_usd", strconv.FormatFloat(sum.TotalPnL, 'f', 2, 64)),
		zap.Int64("flash_loans", sum.FlashLoansExecuted))
	return nil
}
