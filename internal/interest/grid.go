package interest

import (
	"math"
	"sort"

	"github.com/replinet/server/internal/entity"
)

type cellKey struct {
	cx int32
	cz int32
}

// Grid is a cell-based area-of-interest index on the X/Z plane. A 3x3
// neighbourhood of cells covers the cell size in every direction.
// Accessed only from the tick goroutine.
type Grid struct {
	cellSize float32
	cells    map[cellKey]map[entity.ObjectID]struct{}
	where    map[entity.ObjectID]cellKey
}

func NewGrid(cellSize float32) *Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[cellKey]map[entity.ObjectID]struct{}),
		where:    make(map[entity.ObjectID]cellKey),
	}
}

func (g *Grid) key(pos entity.Vec3) cellKey {
	return cellKey{
		cx: int32(math.Floor(float64(pos.X / g.cellSize))),
		cz: int32(math.Floor(float64(pos.Z / g.cellSize))),
	}
}

// Add places id at pos, or moves it if it is already indexed.
func (g *Grid) Add(id entity.ObjectID, pos entity.Vec3) {
	k := g.key(pos)
	if old, ok := g.where[id]; ok {
		if old == k {
			return
		}
		g.removeFrom(id, old)
	}
	cell := g.cells[k]
	if cell == nil {
		cell = make(map[entity.ObjectID]struct{})
		g.cells[k] = cell
	}
	cell[id] = struct{}{}
	g.where[id] = k
}

// Remove takes id out of the grid.
func (g *Grid) Remove(id entity.ObjectID) {
	if k, ok := g.where[id]; ok {
		g.removeFrom(id, k)
		delete(g.where, id)
	}
}

func (g *Grid) removeFrom(id entity.ObjectID, k cellKey) {
	cell := g.cells[k]
	if cell == nil {
		return
	}
	delete(cell, id)
	if len(cell) == 0 {
		delete(g.cells, k)
	}
}

// Nearby returns ids in the 3x3 neighbourhood of cells around pos. Callers
// do the fine-grained distance test.
func (g *Grid) Nearby(pos entity.Vec3) []entity.ObjectID {
	c := g.key(pos)
	var out []entity.ObjectID
	for dx := int32(-1); dx <= 1; dx++ {
		for dz := int32(-1); dz <= 1; dz++ {
			for id := range g.cells[cellKey{cx: c.cx + dx, cz: c.cz + dz}] {
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of indexed ids.
func (g *Grid) Len() int { return len(g.where) }
