package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "missing server id",
			mutate: func(cfg *Config) {
				cfg.Server.ID = ""
			},
			wantErr: "server.id must be set",
		},
		{
			name: "non positive world dimensions",
			mutate: func(cfg *Config) {
				cfg.World.ChunkSize = 0
			},
			wantErr: "world dimensions must be positive",
		},
		{
			name: "missing network host",
			mutate: func(cfg *Config) {
				cfg.Network.Host = ""
			},
			wantErr: "network.host must be set",
		},
		{
			name: "port out of range",
			mutate: func(cfg *Config) {
				cfg.Network.Port = 70000
			},
			wantErr: "network.port must be between 1 and 65535",
		},
		{
			name: "non positive datagram size",
			mutate: func(cfg *Config) {
				cfg.Network.MaxDatagramSizeBytes = 0
			},
			wantErr: "network.maxDatagramSizeBytes must be positive",
		},
		{
			name: "non positive replication period",
			mutate: func(cfg *Config) {
				cfg.Replication.Period = 0
			},
			wantErr: "replication.period must be positive",
		},
		{
			name: "non positive replication buffer size",
			mutate: func(cfg *Config) {
				cfg.Replication.BufferSize = 0
			},
			wantErr: "replication.bufferSize must be positive",
		},
		{
			name: "negative replication radius",
			mutate: func(cfg *Config) {
				cfg.Replication.Radius = -1
			},
			wantErr: "replication.radius cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("default configuration mismatch:\nwant: %#v\n got: %#v", want, cfg)
	}
}

func TestLoadReadsFileAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Server.Description = "custom description"
	cfg.Network.Port = 29000

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.World.BlockSize = 0

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: world dimensions must be positive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGridUsesWorldSizing(t *testing.T) {
	cfg := Default()
	grid := cfg.Grid()
	if grid.BlockSize != cfg.World.BlockSize || grid.ChunkSize != cfg.World.ChunkSize || grid.WorldSize != cfg.World.WorldSize {
		t.Fatalf("grid sizing %+v does not match world config %+v", grid, cfg.World)
	}
}
