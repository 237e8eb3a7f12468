// Package config loads EngineConfig from environment variables and an
// optional file, grounded on the teacher pack's viper-backed "Load a
// Config struct, env overrides sensitive/toggle fields" shape. Core
// packages never read the environment themselves; only this loader
// and cmd/server do.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/atlas-desktop/sector-deliberation-engine/pkg/types"
)

// Load assembles an EngineConfig starting from spec-documented defaults,
// optionally overlaid by a YAML/JSON file at path (pass "" to skip),
// then by environment variables. Only SDE_SERVER_PORT, SDE_SERVER_HOST
// and SDE_STORE_DATADIR are read from the environment; other fields
// (for example the ticker period) can be set from the file but have no
// SDE_* override. USE_LLM and MAX_REGISTRY are read verbatim, matching
// spec.md §6's documented environment variables.
func Load(path string) (types.EngineConfig, error) {
	cfg := types.DefaultEngineConfig()

	v := viper.New()
	v.SetEnvPrefix("SDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal config file: %w", err)
		}
	}

	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	if v.IsSet("server.host") {
		cfg.Server.Host = v.GetString("server.host")
	}
	if v.IsSet("store.datadir") {
		cfg.Store.DataDir = v.GetString("store.datadir")
	}

	if val := os.Getenv("USE_LLM"); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			cfg.UseLLM = true
		default:
			cfg.UseLLM = false
		}
	}
	if val := os.Getenv("MAX_REGISTRY"); val != "" {
		cfg.MaxRegistry = val
	}

	return cfg, nil
}
