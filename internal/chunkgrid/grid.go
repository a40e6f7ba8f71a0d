// Package chunkgrid maps world coordinates to chunk ids and back. It owns no
// state beyond its three size parameters and performs no I/O.
package chunkgrid

// ChunkNone is the sentinel chunk id returned for coordinates that fall
// outside the grid.
const ChunkNone int32 = -1

// Grid is a centered, square arrangement of chunks. Coordinate (0, 0) sits
// at the grid midpoint; each chunk spans BlockSize*ChunkSize world units on
// each axis, and the grid holds WorldSize chunks on each axis.
type Grid struct {
	BlockSize int32
	ChunkSize int32
	WorldSize int32
}

// New builds a Grid from the three size parameters. Non-positive sizes
// produce a degenerate grid whose operations all return ChunkNone.
func New(blockSize, chunkSize, worldSize int32) Grid {
	return Grid{BlockSize: blockSize, ChunkSize: chunkSize, WorldSize: worldSize}
}

// chunkUnits returns the world-unit span of a single chunk on one axis.
func (g Grid) chunkUnits() int32 {
	return g.BlockSize * g.ChunkSize
}

// valid reports whether the grid's parameters can produce any valid chunk.
func (g Grid) valid() bool {
	return g.BlockSize > 0 && g.ChunkSize > 0 && g.WorldSize > 0
}

// halfExtent returns the distance from the grid's centered origin to its
// edge, in world units.
func (g Grid) halfExtent() int32 {
	return (g.WorldSize * g.chunkUnits()) / 2
}

// ChunkFromWorld maps a world position to a chunk id, or ChunkNone if the
// position lies outside the centered world rectangle.
func (g Grid) ChunkFromWorld(x, y int32) int32 {
	if !g.valid() {
		return ChunkNone
	}

	units := g.chunkUnits()
	half := g.halfExtent()

	if x < -half || x >= half || y < -half || y >= half {
		return ChunkNone
	}

	cx := (x + half) / units
	cy := (y + half) / units

	if cx < 0 || cx >= g.WorldSize || cy < 0 || cy >= g.WorldSize {
		return ChunkNone
	}

	return cy*g.WorldSize + cx
}

// Coords splits a chunk id into its (cx, cy) grid indices. ok is false for
// ChunkNone or any id outside the grid's range.
func (g Grid) Coords(chunkID int32) (cx, cy int32, ok bool) {
	if !g.valid() || chunkID == ChunkNone || chunkID < 0 {
		return 0, 0, false
	}
	if chunkID >= g.WorldSize*g.WorldSize {
		return 0, 0, false
	}
	return chunkID % g.WorldSize, chunkID / g.WorldSize, true
}

// ChunkID packs grid indices into a chunk id, or ChunkNone if out of range.
func (g Grid) ChunkID(cx, cy int32) int32 {
	if !g.valid() || cx < 0 || cy < 0 || cx >= g.WorldSize || cy >= g.WorldSize {
		return ChunkNone
	}
	return cy*g.WorldSize + cx
}

// Bounds is the inclusive-min, exclusive-max world-space rectangle covered
// by a chunk.
type Bounds struct {
	MinX, MinY int32
	MaxX, MaxY int32
}

// ChunkBounds returns the world-space rectangle of the given chunk. ok is
// false for ChunkNone or an out-of-range id.
func (g Grid) ChunkBounds(chunkID int32) (Bounds, bool) {
	cx, cy, ok := g.Coords(chunkID)
	if !ok {
		return Bounds{}, false
	}

	units := g.chunkUnits()
	half := g.halfExtent()

	minX := cx*units - half
	minY := cy*units - half

	return Bounds{
		MinX: minX,
		MinY: minY,
		MaxX: minX + units,
		MaxY: minY + units,
	}, true
}

// Neighbors returns every chunk id within Chebyshev distance radius of the
// given chunk, clipped to the grid, including the chunk itself.
func (g Grid) Neighbors(chunkID int32, radius int32) []int32 {
	cx, cy, ok := g.Coords(chunkID)
	if !ok || radius < 0 {
		return nil
	}

	out := make([]int32, 0, (2*radius+1)*(2*radius+1))
	for dy := -radius; dy <= radius; dy++ {
		ny := cy + dy
		if ny < 0 || ny >= g.WorldSize {
			continue
		}
		for dx := -radius; dx <= radius; dx++ {
			nx := cx + dx
			if nx < 0 || nx >= g.WorldSize {
				continue
			}
			out = append(out, ny*g.WorldSize+nx)
		}
	}
	return out
}

// ChebyshevDistance returns the chunk-grid Chebyshev distance between two
// chunk ids, or -1 if either id is invalid for this grid.
func (g Grid) ChebyshevDistance(a, b int32) int32 {
	ax, ay, ok := g.Coords(a)
	if !ok {
		return -1
	}
	bx, by, ok := g.Coords(b)
	if !ok {
		return -1
	}
	dx := ax - bx
	if dx < 0 {
		dx = -dx
	}
	dy := ay - by
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
