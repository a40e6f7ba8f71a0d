package main

import (
	"testing"

	"github.com/zaklaus-sim/worldsync/internal/config"
)

func TestLoadAndOverrideAppliesFlagsOverDefaults(t *testing.T) {
	cfg, err := loadAndOverride(nil, "", 99, false, 16, 2, 4, 30000)
	if err != nil {
		t.Fatalf("loadAndOverride: %v", err)
	}
	if cfg.World.Seed != 99 || cfg.World.BlockSize != 16 || cfg.World.ChunkSize != 2 || cfg.World.WorldSize != 4 || cfg.Network.Port != 30000 {
		t.Fatalf("unexpected overridden config: %+v", cfg)
	}
}

func TestLoadAndOverrideRandomSeedIgnoresSeedFlag(t *testing.T) {
	cfg, err := loadAndOverride(nil, "", 42, true, 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("loadAndOverride: %v", err)
	}
	if !cfg.World.RandomSeed {
		t.Fatalf("expected RandomSeed to be set")
	}
	if cfg.World.Seed == 42 {
		t.Fatalf("expected a freshly drawn seed, got the literal flag value")
	}
}

func TestLoadAndOverrideRejectsInvalidResult(t *testing.T) {
	if _, err := loadAndOverride(nil, "", 0, false, -1, 0, 0, 0); err == nil {
		t.Fatalf("expected validation error for negative block size")
	}
}

func TestLoadAndOverrideBasePrecedesFileButNotFlags(t *testing.T) {
	base := config.Default()
	base.World.BlockSize = 48
	base.Network.Port = 29000

	cfg, err := loadAndOverride(base, "", 0, false, 0, 0, 0, 31000)
	if err != nil {
		t.Fatalf("loadAndOverride: %v", err)
	}
	if cfg.World.BlockSize != 48 {
		t.Fatalf("expected base's block size to survive with no flag override, got %d", cfg.World.BlockSize)
	}
	if cfg.Network.Port != 31000 {
		t.Fatalf("expected the explicit port flag to win over base, got %d", cfg.Network.Port)
	}
}

func TestRunPreviewMapExitsZero(t *testing.T) {
	if code := run([]string{"-preview-map", "-world-size", "2"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if code := run([]string{"-not-a-flag"}); code != -1 {
		t.Fatalf("expected exit code -1 for a bad flag, got %d", code)
	}
}
