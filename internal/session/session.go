// Package session tracks per-transport-peer state: the mapping between a
// connected peer, the observer id the interest tracker (C4) knows it by,
// and the entity the peer owns in the registry (C2).
//
// Grounded on the teacher's onNeighborHello/onNeighborAck handshake shape
// in server/server.go (decode request, mutate shared state, send a reply)
// and neighborManager's connected/pending bookkeeping in server/neighbor.go,
// generalized from server-to-server neighbor gossip to client peer
// sessions.
package session

import (
	"fmt"
	"log"

	"github.com/zaklaus-sim/worldsync/internal/chunkgrid"
	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
	"github.com/zaklaus-sim/worldsync/internal/replication/tracker"
)

// ConnectionState is a peer session's lifecycle stage.
type ConnectionState int

const (
	StatePending ConnectionState = iota
	StateReady
	StateLeaving
)

func (s ConnectionState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateReady:
		return "READY"
	case StateLeaving:
		return "LEAVING"
	default:
		return "UNKNOWN"
	}
}

// PeerHandle identifies a transport-level peer. Its concrete form is
// whatever the transport adapter hands back from a CONNECT event.
type PeerHandle string

// Session is one connected peer's state.
type Session struct {
	PeerHandle  PeerHandle
	ObserverID  tracker.ObserverID
	OwnedEntity registry.EntityID
	State       ConnectionState
}

// Manager owns every live Session and the observer id allocator. It is the
// only writer of registry/tracker state on connect and disconnect; the tick
// loop calls it from phase 1 (input drain, for new CONNECT/DISCONNECT
// events) and right after each replication window (to finalize leavers).
type Manager struct {
	logger *log.Logger
	reg    *registry.Registry
	trk    *tracker.Tracker
	grid   chunkgrid.Grid

	spawnRadius int32
	spawnChunk  int32

	byPeer     map[PeerHandle]*Session
	byObserver map[tracker.ObserverID]*Session
	nextID     tracker.ObserverID
	freeIDs    []tracker.ObserverID
	leavers    []*Session
}

// New builds a Manager. spawnRadius and spawnChunk set every new owned
// entity's initial visibility radius and chunk.
func New(reg *registry.Registry, trk *tracker.Tracker, grid chunkgrid.Grid, logger *log.Logger, spawnRadius, spawnChunk int32) *Manager {
	return &Manager{
		logger:      logger,
		reg:         reg,
		trk:         trk,
		grid:        grid,
		spawnRadius: spawnRadius,
		spawnChunk:  spawnChunk,
		byPeer:      make(map[PeerHandle]*Session),
		byObserver:  make(map[tracker.ObserverID]*Session),
		nextID:      1,
	}
}

// Connect allocates an observer id and an owned entity for peer, tracks it,
// and returns the WELCOME payload to send back on the reliable channel.
func (m *Manager) Connect(peer PeerHandle) (*Session, codec.Welcome) {
	observerID := m.allocateObserverID()

	entityID := m.reg.Create()
	registry.Set(m.reg, entityID, registry.Position{})
	registry.Set(m.reg, entityID, registry.Chunk{ID: m.spawnChunk})
	registry.Set(m.reg, entityID, registry.ClientInfo{PeerHandle: string(peer), ViewID: uint16(observerID)})

	m.trk.Track(entityID)
	m.trk.SetOwner(entityID, observerID)
	m.trk.SetRadius(entityID, m.spawnRadius)
	m.trk.SetChunk(entityID, m.spawnChunk)

	sess := &Session{
		PeerHandle:  peer,
		ObserverID:  observerID,
		OwnedEntity: entityID,
		State:       StateReady,
	}
	m.byPeer[peer] = sess
	m.byObserver[observerID] = sess

	if m.logger != nil {
		m.logger.Printf("[INFO] connect peer=%s observer=%d entity=%d", peer, observerID, entityID)
	}

	blockSize, chunkSize, worldSize := m.grid.BlockSize, m.grid.ChunkSize, m.grid.WorldSize
	return sess, codec.Welcome{
		BlockSize: clampUint16(blockSize),
		ChunkSize: clampUint16(chunkSize),
		WorldSize: clampUint16(worldSize),
		ViewID:    uint16(observerID),
	}
}

// Disconnect marks peer's session LEAVING, untracks and deletes its owned
// entity, and queues the session for id recycling. The tracker keeps
// emitting the resulting REMOVE to every other observer until
// FinalizeLeavers runs, which is why the observer id is not freed here.
// It returns ErrUnknownPeer if peer has no session, which can happen if the
// transport reports a disconnect for a peer the loop already evicted after
// three malformed frames.
func (m *Manager) Disconnect(peer PeerHandle) error {
	sess, ok := m.byPeer[peer]
	if !ok {
		return ErrUnknownPeer
	}
	sess.State = StateLeaving
	m.trk.Untrack(sess.OwnedEntity)
	m.reg.Delete(sess.OwnedEntity)
	delete(m.byPeer, peer)
	m.leavers = append(m.leavers, sess)

	if m.logger != nil {
		m.logger.Printf("[INFO] disconnect peer=%s observer=%d entity=%d", peer, sess.ObserverID, sess.OwnedEntity)
	}
	return nil
}

// FinalizeLeavers drops bookkeeping for every session queued by Disconnect
// and frees its observer id for reuse. The tick loop calls this right after
// each replication window has run a full pass over every READY peer, so
// every other observer has had a write pass (carrying the leaver's REMOVE
// record, unless that write was truncated) before its id can be handed to a
// new connection.
func (m *Manager) FinalizeLeavers() {
	if len(m.leavers) == 0 {
		return
	}
	for _, sess := range m.leavers {
		m.trk.DropObserver(sess.ObserverID)
		delete(m.byObserver, sess.ObserverID)
		m.freeIDs = append(m.freeIDs, sess.ObserverID)
	}
	m.leavers = m.leavers[:0]
}

// Count returns the number of connected peers' sessions. Sessions that
// Disconnect has marked LEAVING are not counted.
func (m *Manager) Count() int {
	return len(m.byPeer)
}

// ByPeer looks up the session for a connected peer.
func (m *Manager) ByPeer(peer PeerHandle) (*Session, bool) {
	sess, ok := m.byPeer[peer]
	return sess, ok
}

// ByObserver looks up the session owning an observer id.
func (m *Manager) ByObserver(id tracker.ObserverID) (*Session, bool) {
	sess, ok := m.byObserver[id]
	return sess, ok
}

// Ready iterates every session currently in the READY state, in no
// particular order, for the tick loop's replication window.
func (m *Manager) Ready(fn func(*Session)) {
	for _, sess := range m.byPeer {
		if sess.State == StateReady {
			fn(sess)
		}
	}
}

func (m *Manager) allocateObserverID() tracker.ObserverID {
	if n := len(m.freeIDs); n > 0 {
		id := m.freeIDs[n-1]
		m.freeIDs = m.freeIDs[:n-1]
		return id
	}
	id := m.nextID
	m.nextID++
	return id
}

func clampUint16(v int32) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}

// ErrUnknownPeer is returned by lookups against a peer handle the manager
// has no session for.
var ErrUnknownPeer = fmt.Errorf("session: unknown peer")
