package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/kswhitlock9493-jpg/brh/pkg/agent"
	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"github.com/kswhitlock9493-jpg/brh/pkg/events"
	"github.com/kswhitlock9493-jpg/brh/pkg/manifest"
	"github.com/kswhitlock9493-jpg/brh/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/klog/v2"
)

var (
	version = "dev"
)

func main() {
	cfg := &config.Config{}

	// Node identity and resolver
	flag.StringVar(&cfg.NodeID, "node-id", os.Getenv("BRH_NODE_ID"), "Node identifier (or BRH_NODE_ID env)")
	flag.StringVar(&cfg.ResolverURL, "resolver-url", os.Getenv("BRH_RESOLVER_URL"), "Resolver base URL (or BRH_RESOLVER_URL env)")
	flag.StringVar(&cfg.ListenAddr, "listen", os.Getenv("BRH_LISTEN"), "Listen address for the deploy gate (default :8080)")

	// Managed workload settings
	flag.StringVar(&cfg.Namespace, "namespace", os.Getenv("POD_NAMESPACE"), "Namespace of the managed containers (from downward API)")
	flag.StringVar(&cfg.LabelSelector, "label-selector", "brh.service", "Label selector for the managed container set")

	// Federation timing (zero means manifest value or default)
	flag.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", 0, "Interval between heartbeats (default 60s)")
	flag.DurationVar(&cfg.ConsensusInterval, "consensus-interval", 0, "Interval between election passes (default 180s)")
	flag.DurationVar(&cfg.LeaderPollInterval, "leader-poll-interval", 0, "Interval between leader polls (default 10s)")
	flag.DurationVar(&cfg.StalenessWindow, "staleness-window", 0, "Maximum heartbeat age before a peer is excluded from election (default 300s)")
	flag.BoolVar(&cfg.HeartbeatJitter, "heartbeat-jitter", false, "Randomize heartbeat start to avoid thundering herd")

	// Authentication
	flag.StringVar(&cfg.SharedSecret, "shared-secret", os.Getenv("BRH_SHARED_SECRET"), "Shared secret for federation authentication")

	// Runtime manifest
	flag.StringVar(&cfg.ManifestPath, "manifest", "bridge.runtime.yaml", "Path to the runtime manifest (optional)")

	// Event sink
	flag.StringVar(&cfg.EventsRedisAddr, "events-redis-addr", os.Getenv("BRH_EVENTS_REDIS_ADDR"), "Redis address for the event sink (empty disables)")
	flag.StringVar(&cfg.EventsRedisPassword, "events-redis-password", os.Getenv("BRH_EVENTS_REDIS_PASSWORD"), "Redis password for the event sink")
	flag.StringVar(&cfg.EventsChannel, "events-channel", "brh.events", "Redis channel for federation events")

	// Witness mode
	flag.BoolVar(&cfg.Witness, "witness", false, "Participate in elections without managing containers (use --witness=true)")

	// Logging
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging (use --debug=true)")
	flag.Parse()

	klog.InfoS("Starting BRH federation node",
		"version", version,
		"node", cfg.NodeID,
		"resolver", cfg.ResolverURL,
		"witness", cfg.Witness)

	// Manifest fills whatever flags left unset
	if cfg.ManifestPath != "" {
		if _, err := os.Stat(cfg.ManifestPath); err == nil {
			m, err := manifest.Load(cfg.ManifestPath)
			if err != nil {
				klog.Fatalf("Failed to load runtime manifest: %v", err)
			}
			m.ApplyTo(cfg)
			klog.InfoS("Loaded runtime manifest",
				"path", cfg.ManifestPath,
				"runtime", m.Runtime.Name,
				"services", len(m.Services))
		} else {
			klog.InfoS("No runtime manifest found, using flags and defaults", "path", cfg.ManifestPath)
		}
	}

	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	// Event sink
	var sink events.Sink = events.NopSink{}
	if cfg.EventsRedisAddr != "" {
		redisSink, err := events.NewRedisSink(cfg.EventsRedisAddr, cfg.EventsRedisPassword, cfg.EventsChannel)
		if err != nil {
			klog.Fatalf("Failed to connect event sink: %v", err)
		}
		sink = redisSink
	}

	// Kubernetes client (not needed in witness mode)
	var clientset kubernetes.Interface
	if !cfg.Witness {
		kubeConfig, err := rest.InClusterConfig()
		if err != nil {
			klog.Fatalf("Failed to create in-cluster config: %v", err)
		}

		clientset, err = kubernetes.NewForConfig(kubeConfig)
		if err != nil {
			klog.Fatalf("Failed to create Kubernetes client: %v", err)
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	a, err := agent.New(cfg, clientset, sink, m)
	if err != nil {
		klog.Fatalf("Failed to create agent: %v", err)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		klog.InfoS("Received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := a.Run(ctx); err != nil {
		klog.Fatalf("Agent error: %v", err)
	}

	klog.Info("Shutdown complete")
}
