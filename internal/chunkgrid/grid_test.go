package chunkgrid

import "testing"

func TestChunkFromWorldCentered(t *testing.T) {
	g := New(64, 3, 8)

	id := g.ChunkFromWorld(0, 0)
	if id == ChunkNone {
		t.Fatalf("expected origin to map to a valid chunk")
	}
	cx, cy, ok := g.Coords(id)
	if !ok {
		t.Fatalf("expected valid coords for chunk %d", id)
	}
	if cx != 4 || cy != 4 {
		t.Fatalf("expected origin chunk at grid midpoint (4,4), got (%d,%d)", cx, cy)
	}
}

func TestChunkFromWorldOutOfRange(t *testing.T) {
	g := New(64, 3, 8)
	half := g.halfExtent()

	if id := g.ChunkFromWorld(half, 0); id != ChunkNone {
		t.Fatalf("expected out-of-range x to map to CHUNK_NONE, got %d", id)
	}
	if id := g.ChunkFromWorld(0, -half-1); id != ChunkNone {
		t.Fatalf("expected out-of-range y to map to CHUNK_NONE, got %d", id)
	}
}

func TestChunkRoundTrip(t *testing.T) {
	g := New(64, 3, 8)
	for cy := int32(0); cy < g.WorldSize; cy++ {
		for cx := int32(0); cx < g.WorldSize; cx++ {
			id := g.ChunkID(cx, cy)
			bounds, ok := g.ChunkBounds(id)
			if !ok {
				t.Fatalf("expected bounds for chunk (%d,%d)", cx, cy)
			}
			midX := (bounds.MinX + bounds.MaxX) / 2
			midY := (bounds.MinY + bounds.MaxY) / 2
			got := g.ChunkFromWorld(midX, midY)
			if got != id {
				t.Fatalf("chunk round trip failed: (%d,%d) -> %d -> midpoint -> %d", cx, cy, id, got)
			}
		}
	}
}

func TestNeighborsClippedToGrid(t *testing.T) {
	g := New(64, 3, 8)
	corner := g.ChunkID(0, 0)

	neighbors := g.Neighbors(corner, 1)
	if len(neighbors) != 4 {
		t.Fatalf("expected 4 chunks (2x2) near a clipped corner, got %d", len(neighbors))
	}

	center := g.ChunkID(4, 4)
	neighbors = g.Neighbors(center, 2)
	if len(neighbors) != 25 {
		t.Fatalf("expected 25 chunks (5x5) around an interior chunk, got %d", len(neighbors))
	}
}

func TestNeighborsInvalidChunk(t *testing.T) {
	g := New(64, 3, 8)
	if got := g.Neighbors(ChunkNone, 2); got != nil {
		t.Fatalf("expected nil neighbors for CHUNK_NONE, got %v", got)
	}
}

func TestChebyshevDistance(t *testing.T) {
	g := New(64, 3, 8)
	a := g.ChunkID(2, 2)
	b := g.ChunkID(5, 3)
	if d := g.ChebyshevDistance(a, b); d != 3 {
		t.Fatalf("expected Chebyshev distance 3, got %d", d)
	}
}

func TestDegenerateGrid(t *testing.T) {
	g := New(0, 0, 0)
	if id := g.ChunkFromWorld(0, 0); id != ChunkNone {
		t.Fatalf("degenerate grid should never resolve a chunk, got %d", id)
	}
}
