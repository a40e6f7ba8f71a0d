// Command worldsync-client is a minimal reference client: it connects to a
// worldsyncd instance, sends keyboard input at a fixed rate, and keeps a
// mirror.Mirror of every entity the server has told it about. Rendering is
// out of scope; this only proves the wire protocol end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zaklaus-sim/worldsync/internal/mirror"
	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
	"github.com/zaklaus-sim/worldsync/internal/replication/tracker"
	"github.com/zaklaus-sim/worldsync/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		host string
		port int
	)

	fs := flag.NewFlagSet("worldsync-client", flag.ContinueOnError)
	fs.StringVar(&host, "host", "127.0.0.1", "server host")
	fs.IntVar(&port, "port", 27000, "server reliable-channel port")
	if err := fs.Parse(args); err != nil {
		return -1
	}

	logger := log.New(os.Stdout, "worldsync-client ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext(logger)
	defer cancel()

	if err := connectAndRun(ctx, host, port, logger); err != nil {
		logger.Printf("[ERROR] %v", err)
		return 1
	}
	return 0
}

func connectAndRun(ctx context.Context, host string, port int, logger *log.Logger) error {
	tp := transport.New()
	if err := tp.Init(); err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	defer tp.Shutdown()

	if err := tp.Connect(host, port); err != nil {
		return fmt.Errorf("connect %s:%d: %w", host, port, err)
	}

	view := mirror.New()
	var welcome *codec.Welcome

	keepAlive := time.NewTicker(2 * time.Second)
	defer keepAlive.Stop()
	inputTick := time.NewTicker(50 * time.Millisecond)
	defer inputTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAlive.C:
			data, err := codec.Encode(&codec.KeepAlive{})
			if err != nil {
				return fmt.Errorf("encode keepalive: %w", err)
			}
			if err := tp.Send("", data, true); err != nil {
				logger.Printf("[WARN] send keepalive: %v", err)
			}
		case <-inputTick.C:
			if welcome == nil {
				break // not welcomed yet; nothing to attach this input to server-side
			}
			data, err := codec.Encode(&codec.KeyState{})
			if err != nil {
				return fmt.Errorf("encode key state: %w", err)
			}
			if err := tp.Send("", data, false); err != nil {
				logger.Printf("[WARN] send key state: %v", err)
			}
		default:
		}

		events, err := tp.Service(20 * time.Millisecond)
		if err != nil {
			return fmt.Errorf("service transport: %w", err)
		}

		for _, ev := range events {
			switch ev.Type {
			case transport.EventDisconnect, transport.EventDisconnectTimeout:
				logger.Printf("[INFO] disconnected by server")
				return nil
			case transport.EventReceive:
				id, payload, err := codec.Decode(ev.Data)
				if err != nil {
					logger.Printf("[WARN] malformed frame: %v", err)
					continue
				}
				switch id {
				case codec.PacketWelcome:
					w := payload.(*codec.Welcome)
					welcome = w
					logger.Printf("[INFO] welcomed: view id %d, %dx%d chunks, block size %d", w.ViewID, w.WorldSize, w.WorldSize, w.BlockSize)
				case codec.PacketTrackerUpdate:
					update := payload.(*codec.TrackerUpdate)
					if err := applyTrackerUpdate(view, update.Blob); err != nil {
						logger.Printf("[WARN] apply tracker update: %v", err)
					}
				}
			}
		}
	}
}

func applyTrackerUpdate(view *mirror.Mirror, blob []byte) error {
	receivedAt := time.Now()
	return tracker.Read(blob, func(op tracker.Op, id registry.EntityID, entityBlob []byte) error {
		return view.ApplyStream(mirror.Op(op), id, entityBlob, receivedAt)
	})
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

		time.AfterFunc(5*time.Second, func() {
			logger.Printf("[ERROR] forced shutdown after timeout")
			os.Exit(1)
		})
	}()

	return ctx, cancel
}
