package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RatingWatch/internal/api"
	"RatingWatch/internal/config"
	"RatingWatch/internal/maintenance"
	"RatingWatch/internal/monitor"
	"RatingWatch/internal/provider"
	"RatingWatch/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] RatingWatch starting...")

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

	// Init store
	st, err := store.Open(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[FATAL] open store: %v", err)
	}
	defer st.Close()

	// Init fetcher
	var fetcher provider.Fetcher
	if cfg.Provider.BaseURL == "mock" {
		fetcher = &provider.MockFetcher{}
	} else {
		fetcher = provider.NewScreenerFetcher(cfg.Provider.BaseURL, cfg.Provider.Market, cfg.Proxy,
			cfg.Monitor.RangeStart, cfg.Monitor.RangeEnd)
	}
	log.Printf("[INFO] data source: %s", fetcher.Name())

	// Init monitor service
	svc := monitor.NewService(cfg, st, fetcher)
	svc.Start()
	defer svc.Stop()

	// Init retention job
	janitor := maintenance.NewJanitor(cfg, st)
	if err := janitor.Register(cfg.Retention.Cron); err != nil {
		log.Fatalf("[FATAL] register retention: %v", err)
	}
	defer janitor.Stop()

	// Optional: run a cycle immediately on start
	if os.Getenv("MONITOR_RUN_ON_START") == "true" {
		log.Println("[INFO] MONITOR_RUN_ON_START enabled, executing one cycle now")
		go svc.TriggerOnce()
	}

	// Init HTTP server
	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: api.NewServer(cfg, st, svc).Router(),
	}
	go func() {
		log.Printf("[INFO] http server listening on %s", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[FATAL] http server: %v", err)
		}
	}()

	log.Println("[INFO] RatingWatch is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] http shutdown: %v", err)
	}
	log.Println("[INFO] RatingWatch stopped")
}
