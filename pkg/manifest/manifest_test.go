package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
version: "1.0"
runtime:
  name: sovereign-node
  federation:
    enabled: true
    resolver: http://brh-resolver:8090
    heartbeat:
      interval: 60
      ttl: 300
provider:
  kind: docker
  network: brh_net
services:
  backend:
    image: bridge/backend:latest
    ports:
      - "8000:8000"
    health:
      http: http://localhost:8000/health
      interval: 10s
      timeout: 2s
      retries: 12
  relay:
    image: bridge/relay:latest
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadManifest(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "1.0", m.Version)
	assert.Equal(t, "sovereign-node", m.Runtime.Name)
	assert.True(t, m.Runtime.Federation.Enabled)
	assert.Equal(t, "http://brh-resolver:8090", m.Runtime.Federation.Resolver)
	assert.Equal(t, 60, m.Runtime.Federation.Heartbeat.Interval)
	assert.Equal(t, 300, m.Runtime.Federation.Heartbeat.TTL)
	assert.Equal(t, "docker", m.Provider.Kind)
	assert.Len(t, m.Services, 2)

	backend := m.Services["backend"]
	assert.Equal(t, "bridge/backend:latest", backend.Image)
	require.NotNil(t, backend.Health)
	assert.Equal(t, 12, backend.Health.Retries)
}

func TestLoadManifestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("missing version", func(t *testing.T) {
		_, err := Load(writeManifest(t, `
runtime:
  name: x
`))
		assert.ErrorContains(t, err, "version")
	})

	t.Run("service without image", func(t *testing.T) {
		_, err := Load(writeManifest(t, `
version: "1.0"
services:
  broken: {}
`))
		assert.ErrorContains(t, err, "image")
	})

	t.Run("ttl below twice interval", func(t *testing.T) {
		_, err := Load(writeManifest(t, `
version: "1.0"
runtime:
  federation:
    enabled: true
    heartbeat:
      interval: 60
      ttl: 90
`))
		assert.ErrorContains(t, err, "ttl")
	})
}

func TestApplyTo(t *testing.T) {
	m, err := Load(writeManifest(t, sampleManifest))
	require.NoError(t, err)

	t.Run("fills unset fields", func(t *testing.T) {
		cfg := &config.Config{}
		m.ApplyTo(cfg)

		assert.Equal(t, "http://brh-resolver:8090", cfg.ResolverURL)
		assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
		assert.Equal(t, 300*time.Second, cfg.StalenessWindow)
	})

	t.Run("flags win over manifest", func(t *testing.T) {
		cfg := &config.Config{
			ResolverURL:       "http://other:8090",
			HeartbeatInterval: 30 * time.Second,
		}
		m.ApplyTo(cfg)

		assert.Equal(t, "http://other:8090", cfg.ResolverURL)
		assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	})

	t.Run("disabled federation changes nothing", func(t *testing.T) {
		disabled, err := Load(writeManifest(t, `
version: "1.0"
runtime:
  federation:
    enabled: false
    resolver: http://ignored:8090
`))
		require.NoError(t, err)

		cfg := &config.Config{}
		disabled.ApplyTo(cfg)
		assert.Empty(t, cfg.ResolverURL)
	})
}
