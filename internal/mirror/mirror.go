// Package mirror is the client-side entity view: an insertion-ordered map
// the interest tracker's read path drives via Upsert and Destroy. Rendering
// consumes it; rendering itself is out of scope.
//
// No teacher package has a client-side world cache — firestar-voxel-world
// is server-only — so this is shaped after the read-side cache idiom seen
// in go-mclib-client's world state tracker: an ordered id->record map kept
// current by an explicit apply step, with no I/O of its own.
package mirror

import (
	"time"

	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
)

// ViewRecord is the client's local copy of one remote entity's last known
// state. ReceivedAt is carried for future interpolation (spec.md §9 leaves
// interpolation to the mirror, not the core).
type ViewRecord struct {
	X, Y       int16
	Kind       codec.SnapshotKind
	Extra      []byte
	ReceivedAt time.Time
}

// Mirror holds every remote entity the client currently believes is
// visible, in insertion order for iteration stability.
type Mirror struct {
	order   []registry.EntityID
	entries map[registry.EntityID]ViewRecord
}

// New returns an empty mirror.
func New() *Mirror {
	return &Mirror{entries: make(map[registry.EntityID]ViewRecord)}
}

// Upsert inserts or overwrites id's view record. CREATE and UPDATE records
// both route here: CREATE overwrites unconditionally (idempotent by
// design), UPDATE merges onto the existing record when present.
func (m *Mirror) Upsert(id registry.EntityID, rec ViewRecord) {
	if _, exists := m.entries[id]; !exists {
		m.order = append(m.order, id)
	}
	m.entries[id] = rec
}

// Merge applies a partial update: only fields present in snap (per
// snapshot.Extra's forward-compatible wire rules, absence means
// "unchanged") overwrite the existing record. If id has no existing record,
// Merge behaves like Upsert.
func (m *Mirror) Merge(id registry.EntityID, snap codec.Snapshot, receivedAt time.Time) {
	existing, ok := m.entries[id]
	if !ok {
		m.Upsert(id, ViewRecord{X: snap.X, Y: snap.Y, Kind: snap.Kind, Extra: snap.Extra, ReceivedAt: receivedAt})
		return
	}
	existing.X = snap.X
	existing.Y = snap.Y
	existing.Kind = snap.Kind
	if len(snap.Extra) > 0 {
		existing.Extra = snap.Extra
	}
	existing.ReceivedAt = receivedAt
	m.entries[id] = existing
}

// Destroy removes id's view record, if present.
func (m *Mirror) Destroy(id registry.EntityID) {
	if _, ok := m.entries[id]; !ok {
		return
	}
	delete(m.entries, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns id's current view record, if any.
func (m *Mirror) Get(id registry.EntityID) (ViewRecord, bool) {
	rec, ok := m.entries[id]
	return rec, ok
}

// Len returns the number of entities currently in view.
func (m *Mirror) Len() int {
	return len(m.entries)
}

// Range visits every view record in insertion order.
func (m *Mirror) Range(fn func(id registry.EntityID, rec ViewRecord)) {
	for _, id := range m.order {
		fn(id, m.entries[id])
	}
}

// ApplyStream is the tracker.Read callback adapter: decode a delta stream
// directly into mirror updates. Callers typically pass tracker.Read's
// decoded (op, id, blob) straight through to this.
func (m *Mirror) ApplyStream(op Op, id registry.EntityID, blob []byte, receivedAt time.Time) error {
	switch op {
	case OpRemove:
		m.Destroy(id)
		return nil
	case OpCreate:
		snap, _, err := codec.DecodeSnapshot(blob)
		if err != nil {
			return err
		}
		m.Upsert(id, ViewRecord{X: snap.X, Y: snap.Y, Kind: snap.Kind, Extra: snap.Extra, ReceivedAt: receivedAt})
		return nil
	case OpUpdate:
		snap, _, err := codec.DecodeSnapshot(blob)
		if err != nil {
			return err
		}
		m.Merge(id, snap, receivedAt)
		return nil
	default:
		return nil
	}
}

// Op mirrors tracker.Op without importing the tracker package, keeping the
// mirror usable by any reader of a delta stream (client or test harness)
// without pulling in the server-only tracker bookkeeping.
type Op uint8

const (
	OpRemove Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
)
