// Package config loads and validates the settings needed to bootstrap a
// worldsync server: world sizing, network endpoints, replication cadence
// and the metrics endpoint.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zaklaus-sim/worldsync/internal/chunkgrid"
)

// Config captures the tunable parameters needed to bootstrap a worldsync
// server.
type Config struct {
	Server      ServerConfig      `json:"server"`
	World       WorldConfig       `json:"world"`
	Network     NetworkConfig     `json:"network"`
	Replication ReplicationConfig `json:"replication"`
	Metrics     MetricsConfig     `json:"metrics"`
}

// ServerConfig identifies the running instance for log lines and metrics
// labels.
type ServerConfig struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// WorldConfig fixes the chunk grid's sizing and the world seed. BlockSize,
// ChunkSize and WorldSize map directly onto the WELCOME packet's fields, so
// a running server's config and what it advertises to clients never drift.
type WorldConfig struct {
	Seed       int64 `json:"seed"`
	RandomSeed bool  `json:"randomSeed"` // when true, Seed is ignored and a fresh one is drawn at startup
	BlockSize  int32 `json:"blockSize"`
	ChunkSize  int32 `json:"chunkSize"`
	WorldSize  int32 `json:"worldSize"`
}

// NetworkConfig configures the transport adapter's listen endpoint and
// liveness checks.
type NetworkConfig struct {
	Host                 string        `json:"host"`
	Port                 int           `json:"port"`
	HandshakeTimeout     time.Duration `json:"handshakeTimeout"`
	KeepAliveInterval    time.Duration `json:"keepAliveInterval"`
	MaxDatagramSizeBytes int           `json:"maxDatagramSizeBytes"`
}

// ReplicationConfig tunes the tick loop's replication window.
type ReplicationConfig struct {
	Period     time.Duration `json:"period"`     // how often the interest tracker is flushed to peers
	BufferSize int           `json:"bufferSize"` // per-peer TRACKER_UPDATE buffer, bytes
	Radius     int32         `json:"radius"`     // default Chebyshev chunk radius for new observers
}

// MetricsConfig configures the Prometheus HTTP endpoint.
type MetricsConfig struct {
	ListenAddr string `json:"listenAddr"` // empty disables the endpoint
}

// Load reads configuration from a JSON file if provided. An empty path
// returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file or override is
// supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:          "worldsync-0",
			Description: "local development world server",
		},
		World: WorldConfig{
			Seed:       1337,
			RandomSeed: false,
			BlockSize:  64,
			ChunkSize:  3,
			WorldSize:  8,
		},
		Network: NetworkConfig{
			Host:                 "0.0.0.0",
			Port:                 27000,
			HandshakeTimeout:     3 * time.Second,
			KeepAliveInterval:    5 * time.Second,
			MaxDatagramSizeBytes: 1 << 16,
		},
		Replication: ReplicationConfig{
			Period:     100 * time.Millisecond,
			BufferSize: 8 * 1024,
			Radius:     3,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9100",
		},
	}
}

// Validate reports the first configuration error found, if any.
func (c *Config) Validate() error {
	if c.Server.ID == "" {
		return errors.New("server.id must be set")
	}
	if c.World.BlockSize <= 0 || c.World.ChunkSize <= 0 || c.World.WorldSize <= 0 {
		return errors.New("world dimensions must be positive")
	}
	if c.Network.Host == "" {
		return errors.New("network.host must be set")
	}
	if c.Network.Port <= 0 || c.Network.Port > 65535 {
		return errors.New("network.port must be between 1 and 65535")
	}
	if c.Network.MaxDatagramSizeBytes <= 0 {
		return errors.New("network.maxDatagramSizeBytes must be positive")
	}
	if c.Replication.Period <= 0 {
		return errors.New("replication.period must be positive")
	}
	if c.Replication.BufferSize <= 0 {
		return errors.New("replication.bufferSize must be positive")
	}
	if c.Replication.Radius < 0 {
		return errors.New("replication.radius cannot be negative")
	}
	return nil
}

// Grid builds the chunkgrid.Grid this configuration describes.
func (c *Config) Grid() chunkgrid.Grid {
	return chunkgrid.New(c.World.BlockSize, c.World.ChunkSize, c.World.WorldSize)
}
