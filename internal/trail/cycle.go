package trail

import (
	"encoding/json"
	"math"
	"strconv"
	"sync"
	"time"

	"lightcycle/internal/arena"
	"lightcycle/internal/net/proto"
)

const (
	DefaultSpeed    = 100.0
	DefaultTurnRate = math.Pi
)

// Spawn is a starting point and heading.
type Spawn struct {
	Point   proto.Point
	Heading float64
}

// SpawnFor places peer ids "1".."4" near the corners facing inward and every
// other id at the centre of the west edge facing east.
func SpawnFor(peerID string, width, height float64) Spawn {
	inset := 0.2
	switch n, _ := strconv.Atoi(peerID); n {
	case 1:
		return Spawn{Point: proto.Point{X: width * inset, Y: height * inset}, Heading: 0}
	case 2:
		return Spawn{Point: proto.Point{X: width * (1 - inset), Y: height * (1 - inset)}, Heading: math.Pi}
	case 3:
		return Spawn{Point: proto.Point{X: width * (1 - inset), Y: height * inset}, Heading: math.Pi / 2}
	case 4:
		return Spawn{Point: proto.Point{X: width * inset, Y: height * (1 - inset)}, Heading: -math.Pi / 2}
	}
	return Spawn{Point: proto.Point{X: width * inset, Y: height / 2}, Heading: 0}
}

// Cycle is the trail of one peer. The local cycle is advanced by the session
// tick; remote cycles only replay position updates.
type Cycle struct {
	id       string
	field    *Field
	spawn    Spawn
	speed    float64
	turnRate float64

	mu      sync.Mutex
	head    proto.Point
	heading float64
	last    cell
	pending []proto.Point
}

type CycleOption func(*Cycle)

func WithSpeed(unitsPerSecond float64) CycleOption {
	return func(c *Cycle) { c.speed = unitsPerSecond }
}

func WithSpawn(s Spawn) CycleOption {
	return func(c *Cycle) { c.spawn = s }
}

func NewCycle(id string, field *Field, opts ...CycleOption) *Cycle {
	width, height := field.Size()
	c := &Cycle{
		id:       id,
		field:    field,
		spawn:    SpawnFor(id, width, height),
		speed:    DefaultSpeed,
		turnRate: DefaultTurnRate,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c
}

// Factory returns an arena.BodyFactory creating cycles on field.
func Factory(field *Field, opts ...CycleOption) arena.BodyFactory {
	return func(peerID string) arena.Body {
		return NewCycle(peerID, field, opts...)
	}
}

// TurningRadius is the radius of the circle the cycle traces at full lock.
func (c *Cycle) TurningRadius() float64 {
	if c.turnRate <= 0 {
		return 0
	}
	return c.speed / c.turnRate
}

// Place moves the cycle to the spawn of peerID and resets it. The local
// cycle is built before the relay assigns an id and is placed once it does,
// so every client agrees on where each peer starts.
func (c *Cycle) Place(peerID string) {
	width, height := c.field.Size()
	c.mu.Lock()
	c.spawn = SpawnFor(peerID, width, height)
	c.mu.Unlock()
	c.Reset()
}

func (c *Cycle) Head() (proto.Point, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.heading
}

// Advance steers, moves the head and marks every crossed cell. The cycle
// crashes on leaving the field or on entering a covered cell while walls are
// active.
func (c *Cycle) Advance(delta time.Duration, d arena.Direction) arena.Step {
	c.mu.Lock()
	defer c.mu.Unlock()

	seconds := delta.Seconds()
	switch d {
	case arena.Left:
		c.heading -= c.turnRate * seconds
	case arena.Right:
		c.heading += c.turnRate * seconds
	}

	distance := c.speed * seconds
	step := arena.Step{Heading: c.heading}
	if distance <= 0 {
		return step
	}

	samples := int(math.Ceil(distance / (CellSize / 2)))
	dx := math.Cos(c.heading) * distance / float64(samples)
	dy := math.Sin(c.heading) * distance / float64(samples)
	walls := c.field.WallsActive()

	for i := 0; i < samples; i++ {
		next := proto.Point{X: c.head.X + dx, Y: c.head.Y + dy}
		if !c.field.Inside(next) {
			step.Crashed = true
			break
		}
		nextCell := cellOf(next)
		if nextCell != c.last {
			if walls && c.field.Occupied(next) {
				step.Crashed = true
				break
			}
			c.field.Mark(c.id, next)
			c.last = nextCell
		}
		c.head = next
		step.Distance += math.Hypot(dx, dy)
	}

	if step.Distance > 0 {
		step.Points = []proto.Point{c.head}
	}
	return step
}

// ApplyPosition queues a remote position update for the next flush.
func (c *Cycle) ApplyPosition(content json.RawMessage) error {
	var pos proto.Position
	if err := json.Unmarshal(content, &pos); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, pos.Points...)
	c.heading = pos.Heading
	return nil
}

// FlushPendingDraws marks queued remote points on the field.
func (c *Cycle) FlushPendingDraws() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		c.field.Mark(c.id, p)
		c.head = p
		c.last = cellOf(p)
	}
	c.pending = c.pending[:0]
}

// Reset erases the trail and returns the cycle to its spawn.
func (c *Cycle) Reset() {
	c.field.ClearOwner(c.id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = c.spawn.Point
	c.heading = c.spawn.Heading
	c.last = cellOf(c.head)
	c.pending = nil
	c.field.Mark(c.id, c.head)
}
