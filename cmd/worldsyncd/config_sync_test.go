package main

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/zaklaus-sim/worldsync/internal/config"
	"gopkg.in/yaml.v3"
)

func TestOrchestratorConfigJSON(t *testing.T) {
	t.Setenv("WORLDSYNC_CONFIG_YAML_B64", "")

	cfg := config.Default()
	cfg.Server.ID = "json-config"
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	t.Setenv("WORLDSYNC_CONFIG_JSON", string(data))

	got, present, err := orchestratorConfig()
	if err != nil {
		t.Fatalf("orchestratorConfig: %v", err)
	}
	if !present {
		t.Fatalf("expected a config to be present")
	}
	if got.Server.ID != "json-config" {
		t.Fatalf("unexpected server id: %q", got.Server.ID)
	}
}

func TestOrchestratorConfigYAML(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ID = "yaml-config"
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	t.Setenv("WORLDSYNC_CONFIG_JSON", "")
	t.Setenv("WORLDSYNC_CONFIG_YAML_B64", base64.StdEncoding.EncodeToString(data))

	got, present, err := orchestratorConfig()
	if err != nil {
		t.Fatalf("orchestratorConfig: %v", err)
	}
	if !present {
		t.Fatalf("expected a config to be present")
	}
	if got.Server.ID != "yaml-config" {
		t.Fatalf("unexpected server id: %q", got.Server.ID)
	}
}

func TestOrchestratorConfigNoPayload(t *testing.T) {
	t.Setenv("WORLDSYNC_CONFIG_JSON", "")
	t.Setenv("WORLDSYNC_CONFIG_YAML_B64", "")

	got, present, err := orchestratorConfig()
	if err != nil {
		t.Fatalf("orchestratorConfig: %v", err)
	}
	if present || got != nil {
		t.Fatalf("expected no config to be present, got %+v", got)
	}
}

func TestOrchestratorConfigInvalidIsRejected(t *testing.T) {
	t.Setenv("WORLDSYNC_CONFIG_YAML_B64", "")

	cfg := config.Default()
	cfg.World.BlockSize = -1
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	t.Setenv("WORLDSYNC_CONFIG_JSON", string(data))

	if _, _, err := orchestratorConfig(); err == nil {
		t.Fatalf("expected validation error for negative block size")
	}
}

func TestPersistConfigSnapshotWritesFile(t *testing.T) {
	cfg := config.Default()
	cfg.Server.ID = "snapshot-config"

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	if err := persistConfigSnapshot(path, cfg); err != nil {
		t.Fatalf("persistConfigSnapshot: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var decoded config.Config
	if err := json.Unmarshal(contents, &decoded); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if decoded.Server.ID != "snapshot-config" {
		t.Fatalf("unexpected server id: %q", decoded.Server.ID)
	}
}

func TestPersistConfigSnapshotNoPathIsNoop(t *testing.T) {
	if err := persistConfigSnapshot("", config.Default()); err != nil {
		t.Fatalf("persistConfigSnapshot: %v", err)
	}
}

func TestRenderPreviewMapDimensions(t *testing.T) {
	cfg := config.Default()
	out := renderPreviewMap(cfg.Grid())

	lines := 0
	for _, c := range out {
		if c == '\n' {
			lines++
		}
	}
	// one summary line plus one row per chunk on the world's y-axis.
	if lines != int(cfg.World.WorldSize)+1 {
		t.Fatalf("expected %d lines, got %d:\n%s", cfg.World.WorldSize+1, lines, out)
	}
}
