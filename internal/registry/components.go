package registry

// Position is the entity's location in world units, as read by the
// interest tracker to determine an owner's visible-chunk set.
type Position struct {
	X, Y int16
}

// Chunk is the entity's current chunk assignment. Entities temporarily
// removed from the world (see tracker.SetChunk) carry chunkgrid.ChunkNone
// here rather than being untracked.
type Chunk struct {
	ID int32
}

// ClientInfo identifies the transport peer and the view id assigned at
// handshake for an entity owned by a connected client.
type ClientInfo struct {
	PeerHandle string
	ViewID     uint16
}

// Input is the last known input state received from the owning peer.
type Input struct {
	X, Y         int8
	Use, Sprint  bool
}
