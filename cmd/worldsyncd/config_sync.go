package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zaklaus-sim/worldsync/internal/config"
	"gopkg.in/yaml.v3"
)

// orchestratorConfig checks for a configuration pushed by orchestration
// tooling through the environment (JSON or base64-encoded YAML) and, if
// present, decodes and validates it. It reports false when neither
// environment variable is set, so the caller falls back to -config and
// defaults.
func orchestratorConfig() (*config.Config, bool, error) {
	jsonPayload := os.Getenv("WORLDSYNC_CONFIG_JSON")
	yamlPayload := os.Getenv("WORLDSYNC_CONFIG_YAML_B64")

	if jsonPayload == "" && yamlPayload == "" {
		return nil, false, nil
	}

	var cfg config.Config
	if jsonPayload != "" {
		if err := json.Unmarshal([]byte(jsonPayload), &cfg); err != nil {
			return nil, false, fmt.Errorf("decode orchestrator config json: %w", err)
		}
	} else {
		data, err := base64.StdEncoding.DecodeString(yamlPayload)
		if err != nil {
			return nil, false, fmt.Errorf("decode orchestrator config yaml: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse orchestrator config yaml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("validate orchestrator config: %w", err)
	}
	return &cfg, true, nil
}

// persistConfigSnapshot writes cfg to cfgPath as JSON so an operator
// inspecting the instance sees the configuration it actually booted with,
// not just the environment payload that produced it. cfgPath may be empty,
// in which case this is a no-op: orchestrator-provided config is still used
// in memory even with no file to mirror it into.
func persistConfigSnapshot(cfgPath string, cfg *config.Config) error {
	if cfgPath == "" {
		return nil
	}
	if dir := filepath.Dir(cfgPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config json: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
