package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dispatchd/internal/domain"
)

const sampleCatalog = `
routeTimeoutSeconds: 15
observability:
  listenAddress: "127.0.0.1:9999"
tools:
  - name: echo
    version: "1.0.0"
    description: echoes input
    cmd: ["echo-backend", "--stdio"]
    tags: [demo, text]
    circuitBreakerThreshold: 2
    recoveryTimeoutSeconds: 1
  - name: echo
    version: "2.0.0"
    cmd: ["echo-backend-v2", "--stdio"]
    makeLatest: false
    retries: 0
    circuitBreakerEnabled: false
`

func TestLoader_Parse(t *testing.T) {
	loader := NewLoader(nil)
	catalog, err := loader.Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Equal(t, 15, catalog.Runtime.RouteTimeoutSeconds)
	require.Equal(t, "127.0.0.1:9999", catalog.Runtime.Observability.ListenAddress)
	require.True(t, catalog.Runtime.Observability.EnableMetrics)

	require.Len(t, catalog.Tools, 2)
	first := catalog.Tools[0]
	require.Equal(t, "echo", first.Name)
	require.Equal(t, "1.0.0", first.Version)
	require.True(t, first.MakeLatest)
	require.True(t, first.CircuitBreakerEnabled)
	require.Equal(t, 2, first.CircuitBreakerThresh)
	require.Equal(t, domain.DefaultExecuteRetries, first.Retries)

	second := catalog.Tools[1]
	require.False(t, second.MakeLatest)
	require.False(t, second.CircuitBreakerEnabled)
	require.Zero(t, second.Retries)
}

func TestLoader_ParseDefaults(t *testing.T) {
	loader := NewLoader(nil)
	catalog, err := loader.Parse([]byte(`tools: []`))
	require.NoError(t, err)
	require.Equal(t, domain.DefaultRouteTimeoutSeconds, catalog.Runtime.RouteTimeoutSeconds)
	require.Equal(t, domain.DefaultObservabilityAddress, catalog.Runtime.Observability.ListenAddress)
	require.Empty(t, catalog.Tools)
}

func TestLoader_ParseRejectsInvalidSpecs(t *testing.T) {
	loader := NewLoader(nil)

	_, err := loader.Parse([]byte("tools:\n  - version: \"1.0.0\"\n    cmd: [x]\n"))
	require.ErrorContains(t, err, "name is required")

	_, err = loader.Parse([]byte("tools:\n  - name: echo\n    cmd: [x]\n"))
	require.ErrorContains(t, err, "version is required")

	_, err = loader.Parse([]byte("tools:\n  - name: echo\n    version: \"1.0.0\"\n"))
	require.ErrorContains(t, err, "cmd is required")
}

func TestLoader_ParseRejectsDuplicates(t *testing.T) {
	loader := NewLoader(nil)
	doubled := `
tools:
  - name: echo
    version: "1.0.0"
    cmd: [x]
  - name: echo
    version: "1.0.0"
    cmd: [y]
`
	_, err := loader.Parse([]byte(doubled))
	require.ErrorContains(t, err, "duplicate tool echo:1.0.0")
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o644))

	loader := NewLoader(nil)
	catalog, err := loader.Load(path)
	require.NoError(t, err)
	require.Len(t, catalog.Tools, 2)

	_, err = loader.Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "read catalog")
}
