// Package tickloop runs the single-threaded cooperative server loop
// spec.md §4.6 describes: input drain, simulation step, replication
// window, timer maintenance, in that fixed order every iteration.
//
// Grounded on the teacher's server.Run (server/server.go): context-scoped
// goroutine lifecycle, time.Ticker-driven select loop, deferred teardown
// in reverse acquisition order.
package tickloop

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/zaklaus-sim/worldsync/internal/metrics"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
	"github.com/zaklaus-sim/worldsync/internal/replication/tracker"
	"github.com/zaklaus-sim/worldsync/internal/session"
	"github.com/zaklaus-sim/worldsync/internal/transport"
)

// SimulationStep advances the world by dt. The simulation itself is out of
// scope; the loop only guarantees it is called at most once per tick,
// between input drain and the replication window.
type SimulationStep func(dt time.Duration)

// Dispatcher routes a decoded packet from peer to whatever owns that
// packet kind's handling. cmd/worldsyncd's dispatcher applies KEYSTATE to
// the sender's owned entity and takes no action for the other packet
// kinds. Unknown or malformed frames never
// reach it; Loop handles that per spec.md §7 before dispatch.
type Dispatcher func(peer session.PeerHandle, id codec.PacketID, payload codec.Payload)

// Config bundles a Loop's fixed parameters.
type Config struct {
	Transport         transport.Transport
	Sessions          *session.Manager
	Tracker           *tracker.Tracker
	Simulate          SimulationStep
	Dispatch          Dispatcher
	ReplicationPeriod time.Duration // default 100ms, per spec.md §4.4
	ServiceTimeout    time.Duration // how long Service may block per iteration
	BufferSize        int           // per-peer replication buffer, default 8KiB per spec.md §5
	Logger            *log.Logger
	Metrics           *metrics.Registry // nil disables instrumentation
}

// Loop is the tick loop itself. Its only mutable state beyond Config is the
// malformed-frame counter per peer (spec.md §7's three-strikes policy) and
// the last replication timestamp.
type Loop struct {
	cfg Config

	lastReplication time.Time
	strikes         map[session.PeerHandle]int
	buf             []byte
}

// New builds a Loop from cfg, filling in the documented defaults for any
// zero-valued field.
func New(cfg Config) *Loop {
	if cfg.ReplicationPeriod <= 0 {
		cfg.ReplicationPeriod = 100 * time.Millisecond
	}
	if cfg.ServiceTimeout <= 0 {
		cfg.ServiceTimeout = 5 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 8 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "worldsync ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Loop{
		cfg:     cfg,
		strikes: make(map[session.PeerHandle]int),
		buf:     make([]byte, cfg.BufferSize),
	}
}

// Run executes the loop until ctx is canceled. It returns ctx.Err() on
// clean cancellation, or a transport/service error if one occurs.
func (l *Loop) Run(ctx context.Context) error {
	maintenance := time.NewTicker(l.cfg.ReplicationPeriod / 2)
	defer maintenance.Stop()

	l.lastReplication = time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-maintenance.C:
		}

		tickStart := time.Now()

		if err := l.inputDrain(); err != nil {
			return err
		}

		if l.cfg.Simulate != nil {
			l.cfg.Simulate(l.cfg.ReplicationPeriod / 2)
		}

		if time.Since(l.lastReplication) >= l.cfg.ReplicationPeriod {
			l.replicationWindow()
			l.cfg.Tracker.ClearDirty()
			l.lastReplication = time.Now()
			l.cfg.Sessions.FinalizeLeavers()
		}

		if l.cfg.Metrics != nil {
			l.cfg.Metrics.ObserveTick(time.Since(tickStart))
			l.cfg.Metrics.ConnectedPeers.Set(float64(l.cfg.Sessions.Count()))
		}
	}
}

// inputDrain is tick phase 1: pull every available datagram from the
// transport, decode it, and dispatch or apply the base spec's error
// policy.
func (l *Loop) inputDrain() error {
	events, err := l.cfg.Transport.Service(l.cfg.ServiceTimeout)
	if err != nil {
		return err
	}

	for _, ev := range events {
		peer := session.PeerHandle(ev.Peer)
		switch ev.Type {
		case transport.EventConnect:
			l.onConnect(peer)
		case transport.EventDisconnect, transport.EventDisconnectTimeout:
			if err := l.cfg.Sessions.Disconnect(peer); err != nil {
				l.cfg.Logger.Printf("[WARN] disconnect event for %s: %v", peer, err)
			}
			delete(l.strikes, peer)
		case transport.EventReceive:
			l.onReceive(peer, ev.Data)
		}
	}
	return nil
}

func (l *Loop) onConnect(peer session.PeerHandle) {
	sess, welcome := l.cfg.Sessions.Connect(peer)
	data, err := codec.Encode(&welcome)
	if err != nil {
		l.cfg.Logger.Printf("[ERROR] encode welcome for %s: %v", peer, err)
		return
	}
	if err := l.cfg.Transport.Send(transport.Peer(sess.PeerHandle), data, true); err != nil {
		l.cfg.Logger.Printf("[ERROR] send welcome to %s: %v", peer, err)
	}
}

func (l *Loop) onReceive(peer session.PeerHandle, data []byte) {
	id, payload, err := codec.Decode(data)
	if err != nil {
		var rangeErr *codec.FieldRangeError
		if errors.As(err, &rangeErr) {
			// A well-formed frame with an out-of-range field is not the
			// same failure as a malformed or unknown-packet-id frame; it
			// does not count toward the three-strikes policy.
			l.cfg.Logger.Printf("[WARN] field out of range from %s: %v", peer, err)
			return
		}
		l.strikes[peer]++
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.MalformedFrames.Inc()
		}
		l.cfg.Logger.Printf("[WARN] malformed frame from %s: %v", peer, err)
		if l.strikes[peer] >= 3 {
			l.cfg.Logger.Printf("[WARN] disconnecting %s after repeated malformed frames", peer)
			if err := l.cfg.Sessions.Disconnect(peer); err != nil {
				l.cfg.Logger.Printf("[WARN] disconnect after strikes for %s: %v", peer, err)
			}
			delete(l.strikes, peer)
		}
		return
	}
	l.strikes[peer] = 0

	if l.cfg.Dispatch != nil {
		l.cfg.Dispatch(peer, id, payload)
	}
}

// replicationWindow is tick phase 3: write one TRACKER_UPDATE per READY
// peer and submit it on the reliable channel.
func (l *Loop) replicationWindow() {
	l.cfg.Sessions.Ready(func(sess *session.Session) {
		n, overflow := l.cfg.Tracker.Write(sess.ObserverID, l.buf)
		if overflow > 0 {
			l.cfg.Logger.Printf("[WARN] replication overflow for observer %d: %d bytes short", sess.ObserverID, overflow)
		}
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.ObserveReplicationWrite(strconv.FormatUint(uint64(sess.ObserverID), 10), n, overflow)
		}
		if n == 0 {
			return
		}
		update := codec.TrackerUpdate{Blob: append([]byte(nil), l.buf[:n]...)}
		data, err := codec.Encode(&update)
		if err != nil {
			l.cfg.Logger.Printf("[ERROR] encode tracker update for %s: %v", sess.PeerHandle, err)
			return
		}
		if err := l.cfg.Transport.Send(transport.Peer(sess.PeerHandle), data, true); err != nil {
			l.cfg.Logger.Printf("[ERROR] send tracker update to %s: %v", sess.PeerHandle, err)
		}
	})
}
