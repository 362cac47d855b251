package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dispatchd/internal/domain"
)

// Loader reads the dispatch catalog: the pre-validated settings object
// listing tool backends and runtime defaults.
type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("config")}
}

func newCatalogViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("routeTimeoutSeconds", domain.DefaultRouteTimeoutSeconds)
	v.SetDefault("observability.listenAddress", domain.DefaultObservabilityAddress)
	v.SetDefault("observability.enableMetrics", true)
	v.SetDefault("observability.enableHealthz", true)
	return v
}

type rawCatalog struct {
	Tools               []rawToolSpec          `mapstructure:"tools"`
	RouteTimeoutSeconds int                    `mapstructure:"routeTimeoutSeconds"`
	Observability       rawObservabilityConfig `mapstructure:"observability"`
}

type rawToolSpec struct {
	Name        string            `mapstructure:"name"`
	Version     string            `mapstructure:"version"`
	Description string            `mapstructure:"description"`
	Cmd         []string          `mapstructure:"cmd"`
	Env         map[string]string `mapstructure:"env"`
	Cwd         string            `mapstructure:"cwd"`
	Tags        []string          `mapstructure:"tags"`
	MakeLatest  *bool             `mapstructure:"makeLatest"`

	Retries            *int `mapstructure:"retries"`
	BackoffBaseMillis  int  `mapstructure:"backoffBaseMillis"`
	CallTimeoutSeconds int  `mapstructure:"callTimeoutSeconds"`

	CircuitBreakerEnabled   *bool `mapstructure:"circuitBreakerEnabled"`
	CircuitBreakerThreshold int   `mapstructure:"circuitBreakerThreshold"`
	RecoveryTimeoutSeconds  int   `mapstructure:"recoveryTimeoutSeconds"`
	HealthCheckSeconds      int   `mapstructure:"healthCheckSeconds"`
}

type rawObservabilityConfig struct {
	ListenAddress string `mapstructure:"listenAddress"`
	EnableMetrics bool   `mapstructure:"enableMetrics"`
	EnableHealthz bool   `mapstructure:"enableHealthz"`
}

// Load reads and validates a catalog file.
func (l *Loader) Load(path string) (domain.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	catalog, err := l.Parse(data)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	l.logger.Info("catalog loaded",
		zap.String("path", path),
		zap.Int("tools", len(catalog.Tools)),
	)
	return catalog, nil
}

// Parse decodes catalog YAML and applies defaults.
func (l *Loader) Parse(data []byte) (domain.Catalog, error) {
	v := newCatalogViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return domain.Catalog{}, fmt.Errorf("decode yaml: %w", err)
	}

	var raw rawCatalog
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Catalog{}, fmt.Errorf("unmarshal catalog: %w", err)
	}

	catalog := domain.Catalog{
		Runtime: domain.RuntimeConfig{
			RouteTimeoutSeconds: raw.RouteTimeoutSeconds,
			Observability: domain.ObservabilityConfig{
				ListenAddress: raw.Observability.ListenAddress,
				EnableMetrics: raw.Observability.EnableMetrics,
				EnableHealthz: raw.Observability.EnableHealthz,
			},
		},
	}

	seen := make(map[string]struct{}, len(raw.Tools))
	for i, rawTool := range raw.Tools {
		spec, err := normalizeTool(rawTool)
		if err != nil {
			return domain.Catalog{}, fmt.Errorf("tool %d: %w", i, err)
		}
		key := spec.Name + ":" + spec.Version
		if _, dup := seen[key]; dup {
			return domain.Catalog{}, fmt.Errorf("duplicate tool %s", key)
		}
		seen[key] = struct{}{}
		catalog.Tools = append(catalog.Tools, spec)
	}

	return catalog, nil
}

func normalizeTool(raw rawToolSpec) (domain.ToolSpec, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return domain.ToolSpec{}, fmt.Errorf("name is required")
	}
	version := strings.TrimSpace(raw.Version)
	if version == "" {
		return domain.ToolSpec{}, fmt.Errorf("version is required for tool %s", name)
	}
	if len(raw.Cmd) == 0 {
		return domain.ToolSpec{}, fmt.Errorf("cmd is required for tool %s", name)
	}

	makeLatest := true
	if raw.MakeLatest != nil {
		makeLatest = *raw.MakeLatest
	}
	breakerEnabled := true
	if raw.CircuitBreakerEnabled != nil {
		breakerEnabled = *raw.CircuitBreakerEnabled
	}
	retries := domain.DefaultExecuteRetries
	if raw.Retries != nil && *raw.Retries >= 0 {
		retries = *raw.Retries
	}

	return domain.ToolSpec{
		Name:                   name,
		Version:                version,
		Description:            raw.Description,
		Cmd:                    raw.Cmd,
		Env:                    raw.Env,
		Cwd:                    raw.Cwd,
		Tags:                   raw.Tags,
		MakeLatest:             makeLatest,
		Retries:                retries,
		BackoffBaseMillis:      raw.BackoffBaseMillis,
		CallTimeoutSeconds:     raw.CallTimeoutSeconds,
		CircuitBreakerEnabled:  breakerEnabled,
		CircuitBreakerThresh:   raw.CircuitBreakerThreshold,
		RecoveryTimeoutSeconds: raw.RecoveryTimeoutSeconds,
		HealthCheckSeconds:     raw.HealthCheckSeconds,
	}, nil
}
