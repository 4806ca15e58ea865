package config

import (
	"fmt"
	"time"
)

// Default federation timing. The consensus interval must stay at least
// twice the heartbeat interval so one heartbeat round completes between
// elections; Validate enforces this.
const (
	DefaultHeartbeatInterval  = 60 * time.Second
	DefaultConsensusInterval  = 180 * time.Second
	DefaultLeaderPollInterval = 10 * time.Second
	DefaultStalenessWindow    = 300 * time.Second

	// DefaultListenAddr serves the deploy gate and node state endpoints.
	DefaultListenAddr = ":8080"
)

// Config holds the configuration for a BRH federation node.
type Config struct {
	// Node identity, unique per running instance and immutable for the
	// process lifetime.
	NodeID string

	// Resolver endpoint, e.g. "http://brh-resolver:8090".
	ResolverURL string

	// Listen address of the node's own HTTP surface (deploy gate, state)
	ListenAddr string

	// Kubernetes settings for the managed workload set
	Namespace     string
	LabelSelector string

	// Federation timing
	HeartbeatInterval  time.Duration
	ConsensusInterval  time.Duration
	LeaderPollInterval time.Duration
	StalenessWindow    time.Duration
	HeartbeatJitter    bool

	// Authentication
	SharedSecret string // Shared secret for peer authentication

	// Runtime manifest (bridge.runtime.yaml); optional
	ManifestPath string

	// Event sink (Redis pub/sub); disabled when EventsRedisAddr is empty
	EventsRedisAddr     string
	EventsRedisPassword string
	EventsChannel       string

	// Witness mode: participate in heartbeats and elections without
	// managing containers
	Witness bool

	// Logging
	Debug bool
}

// ResolverConfig holds the configuration for the shared resolver service.
type ResolverConfig struct {
	ListenAddr      string
	SharedSecret    string
	StalenessWindow time.Duration

	// Consensus history persistence
	HistoryPath   string
	HistoryRetain int

	Debug bool
}

// Validate checks required fields and interval relationships.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node id is required")
	}
	if c.ResolverURL == "" {
		return fmt.Errorf("resolver url is required")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ConsensusInterval <= 0 {
		c.ConsensusInterval = DefaultConsensusInterval
	}
	if c.LeaderPollInterval <= 0 {
		c.LeaderPollInterval = DefaultLeaderPollInterval
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.ConsensusInterval < 2*c.HeartbeatInterval {
		return fmt.Errorf("consensus interval %v must be at least twice the heartbeat interval %v",
			c.ConsensusInterval, c.HeartbeatInterval)
	}
	if !c.Witness {
		if c.Namespace == "" {
			return fmt.Errorf("namespace is required unless running as witness")
		}
		if c.LabelSelector == "" {
			return fmt.Errorf("label selector is required unless running as witness")
		}
	}
	return nil
}

// Validate checks resolver settings and applies defaults.
func (c *ResolverConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.StalenessWindow <= 0 {
		c.StalenessWindow = DefaultStalenessWindow
	}
	if c.HistoryPath == "" {
		return fmt.Errorf("history path is required")
	}
	if c.HistoryRetain <= 0 {
		c.HistoryRetain = 512
	}
	return nil
}
