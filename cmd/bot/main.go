package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"TonMiner/internal/config"
	"TonMiner/internal/engine"
	"TonMiner/internal/history"
	"TonMiner/internal/notifier"
	"TonMiner/internal/pricing"
	"TonMiner/internal/scheduler"
	"TonMiner/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] TonMiner starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
		log.Fatalf("[FATAL] create data dir: %v", err)
	}

	// Open account/position store. Durable storage is not optional: every
	// balance must survive a restart.
	st, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[FATAL] open store: %v", err)
	}
	defer st.Close()

	// Audit history is best-effort.
	var trail history.Trail
	if ht, err := history.NewSQLiteTrail(cfg.Database.HistoryPath); err != nil {
		log.Printf("[WARN] init history trail failed, using noop: %v", err)
		trail = history.NewNoopTrail()
	} else {
		trail = ht
		defer ht.Close()
	}

	// Valuation source for rate-basis snapshots
	src := pricing.NewStatic(cfg.Mining.Valuation)
	log.Printf("[INFO] valuation source: %s", src.Name())

	// Init engine
	eng := engine.New(st, src, trail, engine.Config{
		ClaimMinimum:  cfg.Mining.ClaimMinimum,
		WelcomeCredit: cfg.Mining.WelcomeCredit,
		AdminID:       cfg.Telegram.AdminID,
	})

	// Init Telegram notifier
	tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.AdminID, cfg.Proxy)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, eng, tn)
	if err := sched.RegisterAll(cfg.Schedule.AccrualCron, cfg.Schedule.DigestCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// Start Telegram polling
	go tn.StartPolling(ctx, sched.HandleCommand)
	log.Println("[INFO] Telegram polling started")

	// Optional: catch up accrual immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, executing accrual pass now")
		go sched.RunAccrualNow()
	}

	log.Println("[INFO] TonMiner is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] TonMiner stopped")
}
