// Package config loads the service configuration from a yaml or json file
// with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/haulex/dispatch/api/orders"
	"github.com/haulex/dispatch/core/dispatch"
	"github.com/haulex/dispatch/core/match"
	"github.com/haulex/dispatch/core/metrics"
	"github.com/haulex/dispatch/core/reconciler"
	"github.com/haulex/dispatch/infra/mqtt"
	"github.com/haulex/dispatch/infra/redis"
	"github.com/haulex/dispatch/infra/store"
)

type Config struct {
	MQTT       mqtt.Config       `json:"mqtt"`
	MySQL      store.Config      `json:"mysql"`
	Redis      redis.Config      `json:"redis"`
	Match      match.Config      `json:"match"`
	Dispatch   dispatch.Config   `json:"dispatch"`
	Reconciler reconciler.Config `json:"reconciler"`
	Metrics    metrics.Config    `json:"metrics"`
	API        orders.Config     `json:"api"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MySQL.SetDefaults()
	cfg.Match.SetDefaults()
	cfg.Dispatch.SetDefaults()
	cfg.Reconciler.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.MySQL.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
