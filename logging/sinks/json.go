package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"lightcycle/logging"
)

// JSON emits newline-delimited structured events.
type JSON struct {
	mu        sync.Mutex
	writer    *bufio.Writer
	closer    io.Closer
	encoder   *json.Encoder
	autoFlush bool
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewJSON constructs a JSON sink writing to w. With a positive flushInterval
// the buffer is flushed periodically, otherwise after every event. If w is
// also an io.Closer it is closed with the sink.
func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	buf := bufio.NewWriter(w)
	sink := &JSON{
		writer:    buf,
		encoder:   json.NewEncoder(buf),
		autoFlush: flushInterval <= 0,
		stop:      make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		sink.closer = closer
	}
	if flushInterval > 0 {
		go sink.periodicFlush(flushInterval)
	}
	return sink
}

// Write satisfies logging.Sink.
func (s *JSON) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wire := map[string]any{
		"type":     event.Type,
		"time":     event.Time.Format(time.RFC3339Nano),
		"severity": event.Severity.String(),
		"category": event.Category,
		"actor":    event.Actor,
	}
	if event.Tick > 0 {
		wire["tick"] = event.Tick
	}
	if len(event.Targets) > 0 {
		wire["targets"] = event.Targets
	}
	if event.Payload != nil {
		wire["payload"] = event.Payload
	}
	if len(event.Extra) > 0 {
		wire["extra"] = event.Extra
	}
	if event.TraceID != "" {
		wire["traceId"] = event.TraceID
	}
	if err := s.encoder.Encode(wire); err != nil {
		return err
	}
	if s.autoFlush {
		return s.writer.Flush()
	}
	return nil
}

// Close flushes buffers and stops the flush loop.
func (s *JSON) Close(context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writer.Flush()
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.closer = nil
	}
	return err
}

func (s *JSON) periodicFlush(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.writer.Flush()
			s.mu.Unlock()
		}
	}
}
