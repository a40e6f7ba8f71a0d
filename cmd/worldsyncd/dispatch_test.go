package main

import (
	"log"
	"os"
	"testing"

	"github.com/zaklaus-sim/worldsync/internal/chunkgrid"
	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
	"github.com/zaklaus-sim/worldsync/internal/replication/tracker"
	"github.com/zaklaus-sim/worldsync/internal/session"
)

func TestDispatcherAppliesKeyStateToOwnedEntity(t *testing.T) {
	grid := chunkgrid.New(64, 3, 8)
	reg := registry.New()
	trk := tracker.New(grid, nil, nil)
	sessions := session.New(reg, trk, grid, nil, 3, 0)
	logger := log.New(os.Stderr, "", 0)

	sess, _ := sessions.Connect("peer-1")
	dispatch := newDispatcher(reg, sessions, logger)

	dispatch("peer-1", codec.PacketKeyState, &codec.KeyState{X: 1, Y: -1, Use: true, Sprint: false})

	got, ok := registry.Get[registry.Input](reg, sess.OwnedEntity)
	if !ok {
		t.Fatalf("expected Input component to be set for the owned entity")
	}
	if got.X != 1 || got.Y != -1 || !got.Use || got.Sprint {
		t.Fatalf("unexpected input state: %+v", got)
	}
}

func TestDispatcherIgnoresUnknownPeer(t *testing.T) {
	grid := chunkgrid.New(64, 3, 8)
	reg := registry.New()
	trk := tracker.New(grid, nil, nil)
	sessions := session.New(reg, trk, grid, nil, 3, 0)
	logger := log.New(os.Stderr, "", 0)

	dispatch := newDispatcher(reg, sessions, logger)
	dispatch("ghost", codec.PacketKeyState, &codec.KeyState{X: 1})
}
