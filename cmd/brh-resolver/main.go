package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"github.com/kswhitlock9493-jpg/brh/pkg/metrics"
	"github.com/kswhitlock9493-jpg/brh/pkg/resolver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	version = "dev"
)

func main() {
	cfg := &config.ResolverConfig{}

	flag.StringVar(&cfg.ListenAddr, "listen", ":8090", "Listen address for the federation API")
	flag.StringVar(&cfg.SharedSecret, "shared-secret", os.Getenv("BRH_SHARED_SECRET"), "Shared secret for federation authentication")
	flag.DurationVar(&cfg.StalenessWindow, "staleness-window", 0, "Maximum heartbeat age before a peer is excluded (default 300s)")
	flag.StringVar(&cfg.HistoryPath, "history-path", "/var/lib/brh/consensus.db", "Path of the consensus history database")
	flag.IntVar(&cfg.HistoryRetain, "history-retain", 0, "Consensus records to retain (default 512)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging (use --debug=true)")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	if cfg.SharedSecret == "" {
		klog.Warning("No shared secret configured - peer authentication disabled (not recommended for production)")
	}

	klog.InfoS("Starting BRH resolver",
		"version", version,
		"listen", cfg.ListenAddr,
		"stalenessWindow", cfg.StalenessWindow,
		"historyPath", cfg.HistoryPath,
		"historyRetain", cfg.HistoryRetain)

	history, err := resolver.OpenHistory(cfg.HistoryPath, cfg.HistoryRetain)
	if err != nil {
		klog.Fatalf("Failed to open consensus history: %v", err)
	}
	defer history.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	r := resolver.New(cfg, history, m)

	mux := r.Routes()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		klog.InfoS("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			klog.ErrorS(err, "Failed to shutdown HTTP server")
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		klog.Fatalf("Resolver error: %v", err)
	}

	klog.Info("Shutdown complete")
}
