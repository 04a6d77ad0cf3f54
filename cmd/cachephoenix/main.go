// Command cachephoenix runs the cache media recovery engine as an HTTP
// service: scan a Chromium-family cache directory, list recoverable
// resources, and recover a selection to playable files.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cachephoenix/cachephoenix/internal/api"
	"github.com/cachephoenix/cachephoenix/internal/config"
	"github.com/cachephoenix/cachephoenix/internal/logger"
	"github.com/cachephoenix/cachephoenix/internal/recovery"
	"github.com/cachephoenix/cachephoenix/internal/scan"
	"github.com/cachephoenix/cachephoenix/internal/thumbcache"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./config/cachephoenix.yaml)")
	addr := flag.String("addr", "", "Override HTTP listen address from config")
	cachePath := flag.String("cache", "", "Override cache path from config")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			cfgPath = envPath
		} else {
			cfgPath = "config/cachephoenix.yaml"
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("Warning: Could not load config from %s: %v", cfgPath, err)
		cfg = config.DefaultConfig()
	}

	if envCache := os.Getenv("CACHE_PATH"); envCache != "" {
		cfg.CachePath = envCache
	}
	if *cachePath != "" {
		cfg.CachePath = *cachePath
	}
	if envAddr := os.Getenv("LISTEN_ADDR"); envAddr != "" {
		cfg.ListenAddr = envAddr
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	logger.Init(cfg.LogLevel)

	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                     CACHEPHOENIX                          ║")
	fmt.Println("║      Recover media from a Chromium-family disk cache       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Cache path:   %s\n", cfg.CachePath)
	fmt.Printf("  Out dir:      %s\n", cfg.OutDir)
	fmt.Printf("  Config:       %s\n", cfgPath)
	fmt.Printf("  FFmpeg:       %s\n", cfg.FFmpegPath)
	fmt.Printf("  Thumbs DB:    %s\n", cfg.DBPath)
	fmt.Println()

	thumbs, err := thumbcache.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open thumbnail cache: %v", err)
	}
	defer thumbs.Close()

	scanner := scan.NewScanner()
	driver := recovery.NewDriver(cfg).WithThumbnailCache(thumbs)

	handler := api.NewHandler(scanner, driver, cfg, cfgPath)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\n  Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	fmt.Printf("  Listening on %s\n", cfg.ListenAddr)
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	fmt.Println("  Goodbye!")
}
