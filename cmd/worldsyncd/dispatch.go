package main

import (
	"log"

	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
	"github.com/zaklaus-sim/worldsync/internal/session"
)

// newDispatcher builds the tick loop's Dispatcher: it routes decoded
// packets to the core state they mutate. KEYSTATE is the only packet a
// connected peer sends that the simulation reads back, so it is the only
// one handled here today; SPAWN_CAR decodes cleanly but has nowhere to go
// until a simulation step exists to own car entities.
func newDispatcher(reg *registry.Registry, sessions *session.Manager, logger *log.Logger) func(session.PeerHandle, codec.PacketID, codec.Payload) {
	return func(peer session.PeerHandle, id codec.PacketID, payload codec.Payload) {
		switch id {
		case codec.PacketKeyState:
			ks, ok := payload.(*codec.KeyState)
			if !ok {
				return
			}
			sess, ok := sessions.ByPeer(peer)
			if !ok {
				logger.Printf("[WARN] key state from unknown peer %s", peer)
				return
			}
			registry.Set(reg, sess.OwnedEntity, registry.Input{
				X:      ks.X,
				Y:      ks.Y,
				Use:    ks.Use,
				Sprint: ks.Sprint,
			})
		}
	}
}
