package tracker

import (
	"testing"

	"github.com/zaklaus-sim/worldsync/internal/chunkgrid"
	"github.com/zaklaus-sim/worldsync/internal/registry"
	"github.com/zaklaus-sim/worldsync/internal/replication/codec"
)

func testGrid() chunkgrid.Grid {
	return chunkgrid.New(64, 3, 8)
}

func fillOK(x, y int16) FillFunc {
	return func(registry.EntityID) (codec.Snapshot, bool) {
		return codec.Snapshot{X: x, Y: y, Kind: 1}, true
	}
}

func TestEntityEntersAndLeavesView(t *testing.T) {
	grid := testGrid()
	tr := New(grid, fillOK(0, 0), fillOK(0, 0), WithUnconditionalUpdates())

	entity := registry.EntityID(100)
	tr.Track(entity)
	chunkAt00, _, _ := chunkAtIndex(grid, 0, 0)
	tr.SetChunk(entity, chunkAt00)

	observer := ObserverID(1)
	farChunk, _, _ := chunkAtIndex(grid, 5, 5)
	tr.SetFixedAnchor(observer, farChunk)

	buf := make([]byte, 4096)
	n, overflow := tr.Write(observer, buf)
	if overflow != 0 {
		t.Fatalf("expected no overflow, got %d", overflow)
	}
	var ops []Op
	if err := Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		ops = append(ops, op)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected no records while far away, got %v", ops)
	}

	nearChunk, _, _ := chunkAtIndex(grid, 1, 1)
	tr.SetFixedAnchor(observer, nearChunk)

	n, overflow = tr.Write(observer, buf)
	if overflow != 0 {
		t.Fatalf("expected no overflow, got %d", overflow)
	}
	var created []registry.EntityID
	if err := Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		if op != OpCreate {
			t.Fatalf("expected only CREATE, got %v", op)
		}
		created = append(created, id)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(created) != 1 || created[0] != entity {
		t.Fatalf("expected one CREATE for %d, got %v", entity, created)
	}

	n, _ = tr.Write(observer, buf)
	var second []Op
	Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		second = append(second, op)
		return nil
	})
	if len(second) != 1 || second[0] != OpUpdate {
		t.Fatalf("expected a single UPDATE on the next write, got %v", second)
	}

	tr.SetFixedAnchor(observer, farChunk)
	n, _ = tr.Write(observer, buf)
	var third []Op
	Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		third = append(third, op)
		return nil
	})
	if len(third) != 1 || third[0] != OpRemove {
		t.Fatalf("expected a single REMOVE after moving away, got %v", third)
	}
}

func TestDisconnectProducesRemoveForOtherObserver(t *testing.T) {
	grid := testGrid()
	tr := New(grid, fillOK(1, 1), fillOK(1, 1), WithUnconditionalUpdates())

	owned := registry.EntityID(1)
	o1 := ObserverID(1)
	o2 := ObserverID(2)

	center, _, _ := chunkAtIndex(grid, 4, 4)
	tr.Track(owned)
	tr.SetChunk(owned, center)
	tr.SetOwner(owned, o1)
	tr.SetRadius(owned, 1)
	tr.SetFixedAnchor(o2, center)

	buf := make([]byte, 4096)
	tr.Write(o1, buf) // drain self-visibility; contents don't matter for this test
	n, _ := tr.Write(o2, buf)

	var createdFor2 []registry.EntityID
	Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		if op == OpCreate {
			createdFor2 = append(createdFor2, id)
		}
		return nil
	})
	if len(createdFor2) != 1 || createdFor2[0] != owned {
		t.Fatalf("expected O2 to see the owned entity, got %v", createdFor2)
	}

	tr.Untrack(owned)
	tr.DropObserver(o1)

	n, _ = tr.Write(o2, buf)
	var removed []registry.EntityID
	Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		if op == OpRemove {
			removed = append(removed, id)
		}
		return nil
	})
	if len(removed) != 1 || removed[0] != owned {
		t.Fatalf("expected O2 to receive REMOVE for the disconnected owner's entity, got %v", removed)
	}
}

func TestPartialWriteIsConsistentPrefix(t *testing.T) {
	grid := testGrid()
	tr := New(grid, fillOK(2, 2), fillOK(2, 2), WithUnconditionalUpdates())

	observer := ObserverID(9)
	center, _, _ := chunkAtIndex(grid, 4, 4)
	tr.SetFixedAnchor(observer, center)

	const entityCount = 50
	for i := 0; i < entityCount; i++ {
		id := registry.EntityID(1000 + i)
		tr.Track(id)
		tr.SetChunk(id, center)
	}

	small := make([]byte, 200) // sized for only a handful of records
	n, overflow := tr.Write(observer, small)
	if overflow == 0 {
		t.Fatalf("expected overflow hint for an undersized buffer")
	}
	if n == 0 {
		t.Fatalf("expected at least one record to be emitted into the small buffer")
	}

	var firstPass []registry.EntityID
	if err := Read(small[:n], func(op Op, id registry.EntityID, blob []byte) error {
		firstPass = append(firstPass, id)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(firstPass) == 0 || len(firstPass) >= entityCount {
		t.Fatalf("expected a strict subset of entities in the truncated write, got %d", len(firstPass))
	}

	large := make([]byte, 64*1024)
	n2, overflow2 := tr.Write(observer, large)
	if overflow2 != 0 {
		t.Fatalf("expected no overflow with a large buffer, got %d", overflow2)
	}

	var secondPass []registry.EntityID
	if err := Read(large[:n2], func(op Op, id registry.EntityID, blob []byte) error {
		secondPass = append(secondPass, id)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}

	seen := make(map[registry.EntityID]bool)
	for _, id := range firstPass {
		seen[id] = true
	}
	for _, id := range secondPass {
		if seen[id] {
			t.Fatalf("entity %d duplicated across the two write passes", id)
		}
		seen[id] = true
	}
	if len(seen) != entityCount {
		t.Fatalf("expected all %d entities to be reported exactly once across both passes, got %d", entityCount, len(seen))
	}
}

func TestMarkDirtyGatesUpdateEmission(t *testing.T) {
	grid := testGrid()
	tr := New(grid, fillOK(0, 0), fillOK(0, 0)) // dirty-bit filtering is the default

	entity := registry.EntityID(5)
	observer := ObserverID(1)
	center, _, _ := chunkAtIndex(grid, 4, 4)

	tr.Track(entity)
	tr.SetChunk(entity, center)
	tr.SetFixedAnchor(observer, center)

	buf := make([]byte, 4096)
	tr.Write(observer, buf) // CREATE

	n, _ := tr.Write(observer, buf)
	if n != 0 {
		t.Fatalf("expected no UPDATE without MarkDirty, got %d bytes", n)
	}

	tr.MarkDirty(entity)
	n, _ = tr.Write(observer, buf)
	var ops []Op
	Read(buf[:n], func(op Op, id registry.EntityID, blob []byte) error {
		ops = append(ops, op)
		return nil
	})
	if len(ops) != 1 || ops[0] != OpUpdate {
		t.Fatalf("expected one UPDATE after MarkDirty, got %v", ops)
	}

	tr.ClearDirty()
	n, _ = tr.Write(observer, buf)
	if n != 0 {
		t.Fatalf("expected dirty bit to be cleared, got %d bytes written", n)
	}
}

// chunkAtIndex returns the chunk id at grid indices (cx, cy) along with its
// bounds, for tests that need a concrete world position inside that chunk.
func chunkAtIndex(grid chunkgrid.Grid, cx, cy int32) (int32, chunkgrid.Bounds, bool) {
	id := grid.ChunkID(cx, cy)
	bounds, ok := grid.ChunkBounds(id)
	return id, bounds, ok
}
