// Package main runs the walletd daemon: HTTP/WebSocket API, mining loop and
// mempool janitor over a shared PostgreSQL-backed ledger.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waleed-se/walletd/internal/auth"
	"github.com/waleed-se/walletd/internal/config"
	"github.com/waleed-se/walletd/internal/janitor"
	"github.com/waleed-se/walletd/internal/miner"
	"github.com/waleed-se/walletd/internal/rpc"
	"github.com/waleed-se/walletd/internal/storage"
	"github.com/waleed-se/walletd/internal/txservice"
	"github.com/waleed-se/walletd/internal/walletsvc"
	"github.com/waleed-se/walletd/pkg/logging"
)

var version = "0.1.0-dev"

func main() {
	var (
		configFile  = flag.String("config", "", "YAML config file path (optional; env vars always win)")
		logLevel    = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		println("walletd " + version)
		os.Exit(0)
	}

	log := logging.New(&logging.Config{Level: "info", TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log = logging.New(&logging.Config{Level: cfg.LogLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	store, err := storage.New(storage.DefaultConfig(cfg.DatabaseURL, cfg.DatabaseMaxOpenConns))
	if err != nil {
		log.Fatal("failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("storage initialized", "database_max_open_conns", cfg.DatabaseMaxOpenConns)

	wallets, err := walletsvc.New(store, cfg.AESEncryptionKey)
	if err != nil {
		log.Fatal("failed to initialize wallet service", "error", err)
	}

	txs := txservice.New(store, wallets, cfg.TxFee, cfg.MaxClockSkew)

	m := miner.New(store, txs, cfg.MempoolBatchSize, cfg.MiningDifficulty)
	if err := m.EnsureGenesis(cfg.InitialReward, cfg.HalvingInterval); err != nil {
		log.Fatal("failed to create genesis block", "error", err)
	}
	log.Info("chain ready", "initial_reward", cfg.InitialReward, "halving_interval", cfg.HalvingInterval)

	mailer := auth.NewSMTPMailer("localhost:1025", "walletd@localhost", "", "", "localhost")
	authSvc := auth.New(store, wallets, mailer, cfg.JWTSecret)

	server := rpc.NewServer(store, wallets, txs, m, authSvc)
	if err := server.Start(cfg.ListenAddr); err != nil {
		log.Fatal("failed to start rpc server", "error", err)
	}

	j := janitor.New(store, cfg.JanitorInterval, cfg.PendingTTL)
	j.Start()
	log.Info("janitor started", "interval", cfg.JanitorInterval, "pending_ttl", cfg.PendingTTL)

	log.Info("walletd started", "listen_addr", cfg.ListenAddr, "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	j.Stop()
	m.Shutdown()
	if err := server.Stop(); err != nil {
		log.Error("error stopping rpc server", "error", err)
	}
	log.Info("goodbye")
}
