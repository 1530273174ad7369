package trail

import (
	"math"

	"lightcycle/internal/arena"
	"lightcycle/internal/net/proto"
)

// Autopilot steers a cycle away from the border and from trails. Every frame
// it measures how far the straight path and both full-lock arcs stay clear.
// It keeps going straight while the straight path has Lookahead of room and
// otherwise takes the arc with more room, holding a turn until it clears.
type Autopilot struct {
	Cycle *Cycle
	Field *Field
	// Lookahead and Horizon default to two and four turning radii.
	Lookahead float64
	Horizon   float64

	turning arena.Direction
}

func (a *Autopilot) CurrentDirection() arena.Direction {
	if a == nil || a.Cycle == nil || a.Field == nil {
		return arena.Straight
	}
	radius := a.Cycle.TurningRadius()
	if radius <= 0 || math.IsInf(radius, 0) {
		radius = DefaultSpeed / DefaultTurnRate
	}
	lookahead := a.Lookahead
	if lookahead <= 0 {
		lookahead = 2 * radius
	}
	horizon := max(a.Horizon, 4*radius, lookahead)

	head, heading := a.Cycle.Head()
	if a.free(head, heading, 0, horizon) >= lookahead {
		a.turning = arena.Straight
		return arena.Straight
	}

	curve := 1 / radius
	left := a.free(head, heading, -curve, horizon)
	right := a.free(head, heading, curve, horizon)
	switch a.turning {
	case arena.Left:
		if left >= right {
			return arena.Left
		}
	case arena.Right:
		if right >= left {
			return arena.Right
		}
	}

	if left == right {
		left = a.room(head, heading-math.Pi/2, 2*horizon)
		right = a.room(head, heading+math.Pi/2, 2*horizon)
	}
	if right > left {
		a.turning = arena.Right
	} else {
		a.turning = arena.Left
	}
	return a.turning
}

func (a *Autopilot) blocked(p proto.Point) bool {
	if !a.Field.Inside(p) {
		return true
	}
	return a.Field.WallsActive() && a.Field.Occupied(p)
}

// free returns how far the cycle can travel from head, bending by curve
// radians per unit, before it meets the border or a live trail. The cell
// under the head is its own and never blocks.
func (a *Autopilot) free(head proto.Point, heading, curve, horizon float64) float64 {
	const step = CellSize / 2
	start := cellOf(head)
	x, y := head.X, head.Y
	for travelled := 0.0; travelled < horizon; {
		heading += curve * step
		x += math.Cos(heading) * step
		y += math.Sin(heading) * step
		travelled += step
		p := proto.Point{X: x, Y: y}
		if cellOf(p) == start {
			continue
		}
		if a.blocked(p) {
			return travelled
		}
	}
	return horizon
}

// room counts free cells along a straight line up to limit.
func (a *Autopilot) room(head proto.Point, heading, limit float64) float64 {
	free := 0.0
	for d := CellSize; d <= limit; d += CellSize {
		p := proto.Point{X: head.X + math.Cos(heading)*d, Y: head.Y + math.Sin(heading)*d}
		if a.blocked(p) {
			break
		}
		free++
	}
	return free
}
