package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vctt94/bisonbotkit/logging"

	"github.com/vctt94/jackpotbot/server"
)

func realMain() error {
	defaultDataDir := filepath.Join(os.Getenv("HOME"), ".jackpotbot")

	flagDataDir := flag.String("datadir", defaultDataDir, "Directory holding the config and database")
	flagHTTPListen := flag.String("httplisten", "", "Override the HTTP listen address")
	flagDebugLevel := flag.String("debuglevel", "", "Override the logging level")
	flag.Parse()

	cfg, err := loadConfig(*flagDataDir)
	if err != nil {
		return err
	}
	if *flagHTTPListen != "" {
		cfg.HTTPListen = *flagHTTPListen
	}
	if *flagDebugLevel != "" {
		cfg.DebugLevel = *flagDebugLevel
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(cfg.DataDir, "logs", "jackpotbot.log"),
		DebugLevel:     cfg.DebugLevel,
		MaxLogFiles:    10,
		MaxBufferLines: 1000,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logBackend.Logger("MAIN")

	srv, err := server.NewServer(server.Config{
		LogBackend: logBackend,
		DataDir:    cfg.DataDir,
		HTTPListen: cfg.HTTPListen,

		TradeAPIURL:   cfg.TradeAPIURL,
		Account:       cfg.Account,
		Secret:        cfg.Secret,
		TwoFactorCode: cfg.TwoFactorCode,
		OfferMessage:  cfg.OfferMessage,
		OfferURLBase:  cfg.OfferURLBase,

		MaxLoginAttempts:     cfg.MaxLoginAttempts,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		LivenessInterval:     cfg.LivenessInterval,
		PollInterval:         cfg.PollInterval,
		MaxTracking:          cfg.MaxTracking,

		RatesURL:             cfg.RatesURL,
		RatesRefreshInterval: cfg.RatesRefreshInterval,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("jackpotbot starting (datadir %s)", cfg.DataDir)
	if err := srv.Run(ctx); err != nil {
		log.Errorf("server exited: %v", err)
		return err
	}
	log.Infof("jackpotbot stopped")
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
