// Package tracker implements the spatial interest tracker: per observer, it
// diffs the previously visible entity set against the currently visible one
// and produces a byte-level delta stream describing REMOVE, CREATE and
// UPDATE transitions. It is the replication core's heaviest-weighted
// component.
//
// The tracker keeps its own bookkeeping (tracked chunk, owner, radius, dirty
// bit) rather than reading it live off the entity registry, mirroring the
// original's librg world API: callers push state changes in via Track,
// SetChunk, SetOwner, SetRadius and MarkDirty as the simulation and session
// layers observe them.
package tracker

import (
	"encoding/binary"
	"sort"

	"github.com/zaklaus-sim/worldsync/internal/chunkgrid"
	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
)

// ObserverID identifies a peer's point of view into the world.
type ObserverID uint32

// Op identifies a record kind in the delta stream.
type Op uint8

const (
	OpRemove Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
)

func (op Op) String() string {
	switch op {
	case OpRemove:
		return "REMOVE"
	case OpCreate:
		return "CREATE"
	case OpUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// recordHeaderSize is the fixed op+entity_id prefix on every stream record.
const recordHeaderSize = 1 + 8

// FillFunc lets the simulation supply an entity's replicated state for a
// CREATE or UPDATE record. Returning ok=false skips that record for this
// write pass without consuming any buffer space (spec's callback-failure
// rule); the record remains pending for the next write.
type FillFunc func(id registry.EntityID) (snapshot codec.Snapshot, ok bool)

// Option configures a Tracker at construction time.
type Option func(*Tracker)

// WithUnconditionalUpdates disables dirty-bit filtering: every entity
// visible in two consecutive writes produces an UPDATE record regardless of
// whether MarkDirty was called. This is the baseline behavior the base spec
// permits; the default favors dirty-bit filtering instead.
func WithUnconditionalUpdates() Option {
	return func(t *Tracker) { t.unconditionalUpdates = true }
}

// WithDefaultRadius sets the Chebyshev chunk radius used for observers that
// have no owned entity to read a radius from. The base spec does not name a
// default; three chunks is chosen to roughly match the original's default
// librg radius of similar magnitude.
func WithDefaultRadius(r int32) Option {
	return func(t *Tracker) { t.defaultRadius = r }
}

type entityState struct {
	chunk  int32
	owner  ObserverID
	radius int32
	dirty  bool
}

type observerState struct {
	anchor      registry.EntityID
	hasAnchor   bool
	fixedChunk  int32
	lastVisible map[registry.EntityID]int32 // entity id -> chunk it was last emitted in
}

// Tracker is the interest-management engine. A Tracker is not safe for
// concurrent use; the tick loop (C6) is its only caller and it runs
// single-threaded.
type Tracker struct {
	grid                 chunkgrid.Grid
	createFn             FillFunc
	updateFn             FillFunc
	unconditionalUpdates bool
	defaultRadius        int32

	entities  map[registry.EntityID]*entityState
	observers map[ObserverID]*observerState
}

// New builds a Tracker over grid, calling createFn/updateFn to fill CREATE
// and UPDATE record bodies respectively.
func New(grid chunkgrid.Grid, createFn, updateFn FillFunc, opts ...Option) *Tracker {
	t := &Tracker{
		grid:          grid,
		createFn:      createFn,
		updateFn:      updateFn,
		defaultRadius: 3,
		entities:      make(map[registry.EntityID]*entityState),
		observers:     make(map[ObserverID]*observerState),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track inserts id into the tracked set. Its chunk is unset
// (chunkgrid.ChunkNone) until a subsequent SetChunk call.
func (t *Tracker) Track(id registry.EntityID) {
	if _, ok := t.entities[id]; ok {
		return
	}
	t.entities[id] = &entityState{chunk: chunkgrid.ChunkNone}
}

// Untrack removes id from the tracked set. Any observer currently holding it
// in its last-visible set will emit a REMOVE for it on their next Write;
// Untrack itself does not touch observer state.
func (t *Tracker) Untrack(id registry.EntityID) {
	delete(t.entities, id)
}

// SetOwner records that observer owns id, and makes id that observer's
// visibility anchor — the entity whose chunk and radius determine what the
// observer can see (spec's "observer's owned entity").
func (t *Tracker) SetOwner(id registry.EntityID, observer ObserverID) {
	st, ok := t.entities[id]
	if !ok {
		return
	}
	st.owner = observer
	obs := t.observer(observer)
	obs.anchor = id
	obs.hasAnchor = true
}

// SetRadius sets id's Chebyshev chunk visibility radius. Only meaningful for
// entities that are an observer's anchor.
func (t *Tracker) SetRadius(id registry.EntityID, r int32) {
	if st, ok := t.entities[id]; ok {
		st.radius = r
	}
}

// SetChunk moves id to chunk. chunkgrid.ChunkNone takes the entity
// temporarily out of the world (it is excluded from every observer's
// visible set) without untracking it.
func (t *Tracker) SetChunk(id registry.EntityID, chunk int32) {
	if st, ok := t.entities[id]; ok {
		st.chunk = chunk
	}
}

// SetFixedAnchor gives observer a visibility anchor chunk to use when it has
// no owned entity, per the base spec's "fixed point if the observer has no
// owned entity" clause. The base spec does not name this operation
// explicitly; it is the concrete API for that fallback.
func (t *Tracker) SetFixedAnchor(observer ObserverID, chunk int32) {
	obs := t.observer(observer)
	obs.fixedChunk = chunk
}

// MarkDirty flags id's observable state as changed since the last
// ClearDirty call, making it eligible for UPDATE emission on the next write
// to any observer that can see it.
func (t *Tracker) MarkDirty(id registry.EntityID) {
	if st, ok := t.entities[id]; ok {
		st.dirty = true
	}
}

// ClearDirty resets every entity's dirty bit. The tick loop calls this once
// per replication window, after every READY peer's Write has run, so that a single state
// change produces exactly one UPDATE per observer that can see it rather
// than being consumed by whichever observer is written first.
func (t *Tracker) ClearDirty() {
	for _, st := range t.entities {
		st.dirty = false
	}
}

// DropObserver discards observer's bookkeeping. It does not emit anything;
// callers are responsible for ordering this after whatever REMOVE draining
// policy they require (session's observer id recycling waits for other
// observers' pending REMOVEs, not this observer's own state).
func (t *Tracker) DropObserver(observer ObserverID) {
	delete(t.observers, observer)
}

func (t *Tracker) observer(id ObserverID) *observerState {
	obs, ok := t.observers[id]
	if !ok {
		obs = &observerState{
			fixedChunk:  chunkgrid.ChunkNone,
			lastVisible: make(map[registry.EntityID]int32),
		}
		t.observers[id] = obs
	}
	return obs
}

func (t *Tracker) anchorChunk(obs *observerState) int32 {
	if obs.hasAnchor {
		if st, ok := t.entities[obs.anchor]; ok && st.chunk != chunkgrid.ChunkNone {
			return st.chunk
		}
	}
	return obs.fixedChunk
}

func (t *Tracker) radius(obs *observerState) int32 {
	if obs.hasAnchor {
		if st, ok := t.entities[obs.anchor]; ok {
			return st.radius
		}
	}
	return t.defaultRadius
}

type record struct {
	id    registry.EntityID
	chunk int32
}

func byChunkThenID(records []record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].chunk != records[j].chunk {
			return records[i].chunk < records[j].chunk
		}
		return records[i].id < records[j].id
	})
}

// Write produces the delta stream for observer since its previous Write,
// into buf. It returns the number of bytes actually written and, if buf was
// too small to hold the next pending record, a nonzero overflow hint giving
// the additional bytes required to fit that record.
//
// Records are emitted REMOVEs first, then CREATEs, then UPDATEs, and within
// each category grouped by chunk id, so truncation drops the trailing chunks
// first. The cut falls on a record boundary and may split the last chunk it
// reaches. last_visible advances only for records actually emitted, so a
// truncated write leaves the rest pending for the next call (the
// partial-write prefix invariant).
func (t *Tracker) Write(observer ObserverID, buf []byte) (written int, overflowHint int) {
	obs, ok := t.observers[observer]
	if !ok {
		return 0, 0
	}

	visibleChunks := make(map[int32]struct{})
	for _, c := range t.grid.Neighbors(t.anchorChunk(obs), t.radius(obs)) {
		visibleChunks[c] = struct{}{}
	}

	visibleNow := make(map[registry.EntityID]int32, len(obs.lastVisible))
	for id, st := range t.entities {
		if st.chunk == chunkgrid.ChunkNone {
			continue
		}
		if _, ok := visibleChunks[st.chunk]; ok {
			visibleNow[id] = st.chunk
		}
	}

	var removes, creates, updates []record
	for id, chunk := range obs.lastVisible {
		if _, ok := visibleNow[id]; !ok {
			removes = append(removes, record{id, chunk})
		}
	}
	for id, chunk := range visibleNow {
		if _, wasVisible := obs.lastVisible[id]; !wasVisible {
			creates = append(creates, record{id, chunk})
			continue
		}
		st := t.entities[id]
		if t.unconditionalUpdates || (st != nil && st.dirty) {
			updates = append(updates, record{id, chunk})
		}
	}
	byChunkThenID(removes)
	byChunkThenID(creates)
	byChunkThenID(updates)

	w := &streamWriter{buf: buf}
	if t.emitGroup(w, OpRemove, removes, nil) {
		if t.emitGroup(w, OpCreate, creates, t.createFn) {
			t.emitGroup(w, OpUpdate, updates, t.updateFn)
		}
	}

	for _, id := range w.removed {
		delete(obs.lastVisible, id)
	}
	for _, r := range w.created {
		obs.lastVisible[r.id] = r.chunk
	}

	return w.n, w.overflowHint
}

type streamWriter struct {
	buf          []byte
	n            int
	overflowHint int
	removed      []registry.EntityID
	created      []record
}

func (w *streamWriter) remaining() int { return len(w.buf) - w.n }

func appendRecordHeader(dst []byte, op Op, id registry.EntityID) []byte {
	var hdr [recordHeaderSize]byte
	hdr[0] = byte(op)
	binary.LittleEndian.PutUint64(hdr[1:], uint64(id))
	return append(dst, hdr[:]...)
}

// emitGroup writes every chunk-grouped record of one category (all REMOVEs,
// all CREATEs, or all UPDATEs), committing each record to w as soon as it is
// encoded. It returns false if it stopped early because a record did not
// fit, in which case the caller must not attempt any later category either
// (REMOVE/CREATE/UPDATE ordering is global, not per-chunk) — but everything
// committed before the stopping point remains a valid prefix of the stream.
func (t *Tracker) emitGroup(w *streamWriter, op Op, records []record, fill FillFunc) bool {
	i := 0
	for i < len(records) {
		chunk := records[i].chunk
		j := i
		for j < len(records) && records[j].chunk == chunk {
			j++
		}
		group := records[i:j]
		i = j

		for _, r := range group {
			var rec []byte
			switch op {
			case OpRemove:
				rec = appendRecordHeader(nil, op, r.id)
			default:
				snap, ok := fill(r.id)
				if !ok {
					continue
				}
				rec = appendRecordHeader(nil, op, r.id)
				var err error
				rec, err = codec.EncodeSnapshot(rec, snap)
				if err != nil {
					continue
				}
			}

			if len(rec) > w.remaining() {
				w.overflowHint = len(rec) - w.remaining()
				return false
			}
			copy(w.buf[w.n:], rec)
			w.n += len(rec)

			switch op {
			case OpRemove:
				w.removed = append(w.removed, r.id)
			case OpCreate:
				w.created = append(w.created, r)
			}
		}
	}
	return true
}

// Read is the client-side inverse of Write: it walks one observer's delta
// stream in order and invokes cb for each record. blob is nil for REMOVE and
// holds the raw encoded codec.Snapshot for CREATE/UPDATE, for the caller to
// decode with codec.DecodeSnapshot.
func Read(data []byte, cb func(op Op, id registry.EntityID, blob []byte) error) error {
	for len(data) > 0 {
		if len(data) < recordHeaderSize {
			return errTruncatedStream(len(data))
		}
		op := Op(data[0])
		id := registry.EntityID(binary.LittleEndian.Uint64(data[1:recordHeaderSize]))
		data = data[recordHeaderSize:]

		var blob []byte
		if op != OpRemove {
			_, n, err := codec.DecodeSnapshot(data)
			if err != nil {
				return err
			}
			blob = data[:n]
			data = data[n:]
		}

		if err := cb(op, id, blob); err != nil {
			return err
		}
	}
	return nil
}

type truncatedStreamError struct{ remaining int }

func (e *truncatedStreamError) Error() string {
	return "tracker: truncated stream, " + itoa(e.remaining) + " bytes left"
}

func errTruncatedStream(remaining int) error {
	return &truncatedStreamError{remaining: remaining}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
