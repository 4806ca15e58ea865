package manifest

import (
	"fmt"
	"os"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"gopkg.in/yaml.v3"
)

// Manifest is the parsed bridge.runtime.yaml. It declares the managed
// service set and the federation settings a node inherits unless flags
// override them.
type Manifest struct {
	Version  string             `yaml:"version"`
	Runtime  Runtime            `yaml:"runtime"`
	Provider Provider           `yaml:"provider"`
	Services map[string]Service `yaml:"services"`
}

// Runtime carries node-level settings.
type Runtime struct {
	Name       string     `yaml:"name"`
	Federation Federation `yaml:"federation"`
}

// Federation configures participation in the leader-election protocol.
// Interval and TTL are in seconds.
type Federation struct {
	Enabled   bool      `yaml:"enabled"`
	Resolver  string    `yaml:"resolver"`
	Heartbeat Heartbeat `yaml:"heartbeat"`
}

// Heartbeat timing, in seconds.
type Heartbeat struct {
	Interval int `yaml:"interval"`
	TTL      int `yaml:"ttl"`
}

// Provider names the container runtime backing the managed services.
type Provider struct {
	Kind    string `yaml:"kind"`
	Network string `yaml:"network"`
}

// Service is one managed workload.
type Service struct {
	Image      string   `yaml:"image"`
	Context    string   `yaml:"context,omitempty"`
	Dockerfile string   `yaml:"dockerfile,omitempty"`
	Ports      []string `yaml:"ports,omitempty"`
	Volumes    []string `yaml:"volumes,omitempty"`
	Env        []string `yaml:"env,omitempty"`
	Health     *Health  `yaml:"health,omitempty"`
}

// Health is a service health probe spec.
type Health struct {
	HTTP     string `yaml:"http,omitempty"`
	TCP      string `yaml:"tcp,omitempty"`
	Interval string `yaml:"interval,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	Retries  int    `yaml:"retries,omitempty"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural requirements.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("manifest version is required")
	}
	for name, svc := range m.Services {
		if svc.Image == "" {
			return fmt.Errorf("service %s: image is required", name)
		}
	}
	if m.Runtime.Federation.Enabled {
		hb := m.Runtime.Federation.Heartbeat
		if hb.Interval > 0 && hb.TTL > 0 && hb.TTL < 2*hb.Interval {
			return fmt.Errorf("federation heartbeat ttl %ds must be at least twice the interval %ds",
				hb.TTL, hb.Interval)
		}
	}
	return nil
}

// ApplyTo fills unset federation fields of cfg from the manifest. Explicit
// flag values always win, so only zero values are touched.
func (m *Manifest) ApplyTo(cfg *config.Config) {
	fed := m.Runtime.Federation
	if !fed.Enabled {
		return
	}
	if cfg.ResolverURL == "" {
		cfg.ResolverURL = fed.Resolver
	}
	if cfg.HeartbeatInterval == 0 && fed.Heartbeat.Interval > 0 {
		cfg.HeartbeatInterval = time.Duration(fed.Heartbeat.Interval) * time.Second
	}
	if cfg.StalenessWindow == 0 && fed.Heartbeat.TTL > 0 {
		cfg.StalenessWindow = time.Duration(fed.Heartbeat.TTL) * time.Second
	}
}
