// Package trail is a headless light-trail simulation: a shared occupancy
// field, per-peer cycles and a steering autopilot.
package trail

import (
	"math"
	"sync"
	"time"

	"lightcycle/internal/net/proto"
)

const (
	DefaultFieldSize = 1000
	// CellSize is the edge length of one occupancy cell.
	CellSize = 4.0
)

type cell struct {
	x, y int
}

// Field tracks which peer's trail covers each cell of the arena.
type Field struct {
	width, height float64
	now           func() time.Time

	mu            sync.Mutex
	cells         map[cell]string
	wallsInactive time.Time
}

func NewField(width, height float64, now func() time.Time) *Field {
	if width <= 0 {
		width = DefaultFieldSize
	}
	if height <= 0 {
		height = DefaultFieldSize
	}
	if now == nil {
		now = time.Now
	}
	return &Field{
		width:  width,
		height: height,
		now:    now,
		cells:  make(map[cell]string),
	}
}

func (f *Field) Size() (width, height float64) {
	return f.width, f.height
}

// Inside reports whether p lies strictly within the border.
func (f *Field) Inside(p proto.Point) bool {
	return p.X > 0 && p.Y > 0 && p.X < f.width && p.Y < f.height
}

func cellOf(p proto.Point) cell {
	return cell{x: int(math.Floor(p.X / CellSize)), y: int(math.Floor(p.Y / CellSize))}
}

// Occupied reports whether a trail covers p.
func (f *Field) Occupied(p proto.Point) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.cells[cellOf(p)]
	return ok
}

// Mark records owner's trail at p.
func (f *Field) Mark(owner string, p proto.Point) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cells[cellOf(p)] = owner
}

// ClearOwner erases every cell covered by owner.
func (f *Field) ClearOwner(owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c, o := range f.cells {
		if o == owner {
			delete(f.cells, c)
		}
	}
}

// AddWallInactiveTime lets cycles pass through trails for d, on top of any
// time still remaining.
func (f *Field) AddWallInactiveTime(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	if f.wallsInactive.Before(now) {
		f.wallsInactive = now
	}
	f.wallsInactive = f.wallsInactive.Add(d)
}

// WallsActive reports whether trails currently stop cycles.
func (f *Field) WallsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.now().Before(f.wallsInactive)
}
