package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"payportal/internal/config"
	"payportal/internal/gateway"
	apphttp "payportal/internal/http"
	"payportal/internal/integrations/telegram"
	"payportal/internal/ledger"
	applysvc "payportal/internal/service/apply"
	"payportal/internal/service/capture"
	"payportal/internal/service/limits"
	"payportal/internal/service/session"
	"payportal/internal/service/verify"
	storepkg "payportal/internal/store"
	"payportal/internal/store/memory"
	"payportal/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := config.Load()

	var st storepkg.Store
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, cfg.TokenEncryptionKey)
		if err != nil {
			log.Printf("postgres store unavailable, falling back to memory store: %v", err)
			st = memory.NewStore()
		} else {
			st = pgStore
		}
	} else {
		st = memory.NewStore()
	}

	gatewayClient := gateway.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewayTimeout,
		cfg.GatewayMaxRetries,
		cfg.GatewayRetryBase,
		cfg.GatewayRetryMax,
	)
	ledgerClient := ledger.NewClient(
		cfg.LedgerBaseURL,
		cfg.LedgerTimeout,
		cfg.LedgerMaxRetries,
		cfg.LedgerRetryBase,
		cfg.LedgerRetryMax,
	)

	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	sessions := session.NewManager(gatewayClient)
	guard := capture.NewFlowGuard()
	registry := capture.NewRegistry()
	sequencer := verify.NewSequencer(gatewayClient, ledgerClient, st, notifier, cfg.GatewayProbeAmount)
	host := capture.NewHost(sessions, guard, registry.Factory(gatewayClient), sequencer, st, cfg.WidgetMountTimeout)
	limitsEngine := limits.NewEngine(cfg.MaxPaymentAmount, strings.Split(cfg.OfflineMethods, ","))
	applyEngine := applysvc.NewEngine(ledgerClient, st)

	srv := apphttp.NewServer(cfg, st, host, registry, limitsEngine, applyEngine, notifier)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("payportal API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	host.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
