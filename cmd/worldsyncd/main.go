// Command worldsyncd runs the authoritative world-replication server: the
// chunk grid, entity registry, interest tracker, peer sessions and tick
// loop behind a transport adapter.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/zaklaus-sim/worldsync/internal/chunkgrid"
	"github.com/zaklaus-sim/worldsync/internal/config"
	"github.com/zaklaus-sim/worldsync/internal/metrics"
	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
	"github.com/zaklaus-sim/worldsync/internal/replication/tracker"
	"github.com/zaklaus-sim/worldsync/internal/session"
	"github.com/zaklaus-sim/worldsync/internal/tickloop"
	"github.com/zaklaus-sim/worldsync/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		cfgPath    string
		seed       int64
		randomSeed bool
		blockSize  int
		chunkSize  int
		worldSize  int
		port       int
		previewMap bool
	)

	fs := flag.NewFlagSet("worldsyncd", flag.ContinueOnError)
	fs.StringVar(&cfgPath, "config", "", "path to a JSON configuration file")
	fs.Int64Var(&seed, "seed", 0, "world seed (ignored if -random-seed is set)")
	fs.BoolVar(&randomSeed, "random-seed", false, "draw a fresh world seed at startup")
	fs.IntVar(&blockSize, "block-size", 0, "world units per block (default 64)")
	fs.IntVar(&chunkSize, "chunk-size", 0, "blocks per chunk edge (default 3)")
	fs.IntVar(&worldSize, "world-size", 0, "chunks per world edge (default 8)")
	fs.IntVar(&port, "port", 0, "reliable-channel listen port (default 27000)")
	fs.BoolVar(&previewMap, "preview-map", false, "render the chunk occupancy grid to stdout and exit")

	if err := fs.Parse(args); err != nil {
		return -1
	}

	orchCfg, orchPresent, err := orchestratorConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "worldsyncd:", err)
		return -1
	}
	if orchPresent {
		if err := persistConfigSnapshot(cfgPath, orchCfg); err != nil {
			fmt.Fprintln(os.Stderr, "worldsyncd:", err)
			return -1
		}
	}

	cfg, err := loadAndOverride(orchCfg, cfgPath, seed, randomSeed, blockSize, chunkSize, worldSize, port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worldsyncd:", err)
		return -1
	}

	if previewMap {
		fmt.Print(renderPreviewMap(cfg.Grid()))
		return 0
	}

	logger := log.New(os.Stdout, "worldsyncd ", log.LstdFlags|log.Lmicroseconds)

	if err := serve(cfg, logger); err != nil {
		logger.Printf("[ERROR] %v", err)
		return 1
	}
	return 0
}

// loadAndOverride resolves the base configuration and applies any flags the
// caller explicitly set, in precedence order: flags win over base, base
// (when the orchestrator supplied one) wins over cfgPath, and cfgPath (or
// defaults, if cfgPath is empty) is the fallback when base is nil.
func loadAndOverride(base *config.Config, cfgPath string, seed int64, randomSeed bool, blockSize, chunkSize, worldSize, port int) (*config.Config, error) {
	cfg := base
	if cfg == nil {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if randomSeed {
		cfg.World.RandomSeed = true
		cfg.World.Seed = rand.Int63()
	} else if seed != 0 {
		cfg.World.Seed = seed
	}
	if blockSize != 0 {
		cfg.World.BlockSize = int32(blockSize)
	}
	if chunkSize != 0 {
		cfg.World.ChunkSize = int32(chunkSize)
	}
	if worldSize != 0 {
		cfg.World.WorldSize = int32(worldSize)
	}
	if port != 0 {
		cfg.Network.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// renderPreviewMap draws the chunk grid's occupancy as an ASCII rectangle.
// A freshly started server has no tracked entities yet, so every cell
// starts empty ('.'); this is the same rendering a running server would
// use to dump its current occupancy for debugging, with terrain itself
// explicitly out of scope.
func renderPreviewMap(grid chunkgrid.Grid) string {
	var b strings.Builder
	fmt.Fprintf(&b, "world %dx%d chunks, %d blocks/chunk, %d units/block\n",
		grid.WorldSize, grid.WorldSize, grid.ChunkSize, grid.BlockSize)
	for cy := int32(0); cy < grid.WorldSize; cy++ {
		for cx := int32(0); cx < grid.WorldSize; cx++ {
			b.WriteByte('.')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func serve(cfg *config.Config, logger *log.Logger) error {
	grid := cfg.Grid()
	reg := registry.New()

	mc := metrics.New()

	trk := tracker.New(grid,
		func(id registry.EntityID) (codec.Snapshot, bool) { return snapshotOf(reg, id) },
		func(id registry.EntityID) (codec.Snapshot, bool) { return snapshotOf(reg, id) },
		tracker.WithDefaultRadius(cfg.Replication.Radius),
	)

	sessions := session.New(reg, trk, grid, logger, cfg.Replication.Radius, 0)

	tp := transport.New()
	if err := tp.Init(); err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	if err := tp.Listen(cfg.Network.Host, cfg.Network.Port); err != nil {
		return fmt.Errorf("listen %s:%d: %w", cfg.Network.Host, cfg.Network.Port, err)
	}

	loop := tickloop.New(tickloop.Config{
		Transport:         tp,
		Sessions:          sessions,
		Tracker:           trk,
		Dispatch:          newDispatcher(reg, sessions, logger),
		ReplicationPeriod: cfg.Replication.Period,
		BufferSize:        cfg.Replication.BufferSize,
		Logger:            logger,
		Metrics:           mc,
	})

	ctx, cancel := signalContext(logger)
	defer cancel()

	metricsErrCh := make(chan error, 1)
	go func() { metricsErrCh <- metrics.Serve(ctx, cfg.Metrics.ListenAddr, mc) }()

	logger.Printf("[INFO] %s listening on %s:%d (world seed %d, %dx%d chunks)",
		cfg.Server.ID, cfg.Network.Host, cfg.Network.Port, cfg.World.Seed, cfg.World.WorldSize, cfg.World.WorldSize)

	runErr := loop.Run(ctx)

	if shutdownErr := tp.Shutdown(); shutdownErr != nil {
		logger.Printf("[WARN] transport shutdown: %v", shutdownErr)
	}
	if metricsErr := <-metricsErrCh; metricsErr != nil {
		logger.Printf("[WARN] metrics server: %v", metricsErr)
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

func snapshotOf(reg *registry.Registry, id registry.EntityID) (codec.Snapshot, bool) {
	pos, ok := registry.Get[registry.Position](reg, id)
	if !ok {
		return codec.Snapshot{}, false
	}
	return codec.Snapshot{X: pos.X, Y: pos.Y}, true
}

func signalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}

		time.AfterFunc(10*time.Second, func() {
			logger.Printf("[ERROR] forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
