package sinks

import (
	"context"
	"sync"

	"lightcycle/logging"
)

// Memory keeps every event in memory. Used by tests.
type Memory struct {
	mu     sync.RWMutex
	events []logging.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event.Clone())
	return nil
}

func (s *Memory) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// OfType filters the recorded events by type.
func (s *Memory) OfType(t logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []logging.Event
	for _, event := range s.events {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

func (s *Memory) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *Memory) Close(context.Context) error {
	return nil
}

// Publish lets the memory sink stand in for a router in tests.
func (s *Memory) Publish(_ context.Context, event logging.Event) {
	s.Write(event)
}
