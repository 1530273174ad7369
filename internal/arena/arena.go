// Package arena declares the collaborators the game session drives: the
// per-peer trail simulation, input, statistics, UI, audio and power-ups.
package arena

import (
	"encoding/json"
	"time"

	"lightcycle/internal/net/proto"
)

// Direction is the steering input for one frame.
type Direction int

const (
	Straight Direction = iota
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "straight"
	}
}

// Step reports what one Advance call did. Points is the trail segment
// covered, broadcast to the other peers when non-empty.
type Step struct {
	Distance float64
	Crashed  bool
	Points   []proto.Point
	Heading  float64
}

// Body is the simulation and draw state of one peer's trail.
type Body interface {
	// Advance moves a locally simulated trail by delta in direction d.
	Advance(delta time.Duration, d Direction) Step
	// ApplyPosition records a remote position update to be drawn on the
	// next flush.
	ApplyPosition(content json.RawMessage) error
	// FlushPendingDraws draws everything recorded since the last flush.
	FlushPendingDraws()
	// Reset returns the body to its spawn state.
	Reset()
}

// Placeable is implemented by bodies whose spawn depends on the id the relay
// assigns to their peer.
type Placeable interface {
	Place(peerID string)
}

// BodyFactory creates the body for a peer.
type BodyFactory func(peerID string) Body

// InputSource reports the current steering input.
type InputSource interface {
	CurrentDirection() Direction
}

// InputFunc adapts a function into an InputSource.
type InputFunc func() Direction

func (f InputFunc) CurrentDirection() Direction { return f() }

// Stats is the persistent per-player record.
type Stats interface {
	WinCount() int
	DistanceTraveled() float64
	RecordWin() error
	AddDistance(units float64)
}

// UI receives user-visible announcements.
type UI interface {
	Notify(title, text string)
	RefreshPeerList(ids []string)
	UpdateStats(wins int, distance float64)
	Clear()
}

// Audio plays cues.
type Audio interface {
	PlayGameEnd()
}

// PowerUps receives power-up timers broadcast by peers.
type PowerUps interface {
	AddWallInactiveTime(d time.Duration)
}
