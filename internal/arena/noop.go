package arena

import (
	"encoding/json"
	"time"
)

// Silent is an Audio that plays nothing.
type Silent struct{}

func (Silent) PlayGameEnd() {}

// IgnorePowerUps discards power-up timers.
type IgnorePowerUps struct{}

func (IgnorePowerUps) AddWallInactiveTime(time.Duration) {}

// StaticBody is a Body that never moves. Remote peers in a headless client
// use it when nothing needs drawing.
type StaticBody struct{}

func (StaticBody) Advance(time.Duration, Direction) Step { return Step{} }
func (StaticBody) ApplyPosition(json.RawMessage) error   { return nil }
func (StaticBody) FlushPendingDraws()                    {}
func (StaticBody) Reset()                                {}

// MemoryStats keeps statistics in memory.
type MemoryStats struct {
	Wins     int
	Distance float64
}

func (s *MemoryStats) WinCount() int             { return s.Wins }
func (s *MemoryStats) DistanceTraveled() float64 { return s.Distance }
func (s *MemoryStats) AddDistance(units float64) { s.Distance += units }

func (s *MemoryStats) RecordWin() error {
	s.Wins++
	return nil
}
