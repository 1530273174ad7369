package logging

import (
	"context"
	"log"
	"maps"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Printer receives the router's own diagnostics (drops, sink failures).
type Printer interface {
	Printf(format string, args ...any)
}

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

// Router fans published events out to the enabled sinks. Publishing never
// blocks: when the queue is full the event is dropped and counted.
type Router struct {
	cfg          Config
	queue        chan Event
	sinks        []*sinkWorker
	clock        Clock
	fallback     Printer
	ctx          context.Context
	cancel       context.CancelFunc
	closed       atomic.Bool
	fields       map[string]any
	wg           sync.WaitGroup
	dispatchOnce sync.Once

	eventsTotal  atomic.Uint64
	droppedTotal atomic.Uint64
	lastDropLog  atomic.Int64
}

type RouterStats struct {
	EventsTotal  uint64 `json:"eventsTotal"`
	DroppedTotal uint64 `json:"droppedTotal"`
}

// NewRouter starts a router delivering to the sinks whose names appear in
// cfg.EnabledSinks.
func NewRouter(cfg Config, clock Clock, fallback Printer, sinks map[string]Sink) (*Router, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	bufferSize := cfg.QueueSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		cfg:      cfg,
		queue:    make(chan Event, bufferSize),
		clock:    clock,
		fallback: fallback,
		ctx:      ctx,
		cancel:   cancel,
		fields:   maps.Clone(cfg.Fields),
	}

	sinkBuffer := min(max(bufferSize, 32), 1024)

	names := make([]string, 0, len(sinks))
	for name := range sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sink := sinks[name]
		if sink == nil || !cfg.HasSink(name) {
			continue
		}
		r.sinks = append(r.sinks, newSinkWorker(name, sink, sinkBuffer, fallback))
	}

	r.start()
	return r, nil
}

func (r *Router) start() {
	r.dispatchOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer func() {
				for _, worker := range r.sinks {
					close(worker.events)
				}
				r.wg.Done()
			}()
			for {
				select {
				case <-r.ctx.Done():
					r.drain()
					return
				case event := <-r.queue:
					r.forward(event)
				}
			}
		}()

		for _, worker := range r.sinks {
			r.wg.Add(1)
			go func(w *sinkWorker) {
				defer r.wg.Done()
				w.run()
			}(worker)
		}
	})
}

func (r *Router) drain() {
	for {
		select {
		case event := <-r.queue:
			r.forward(event)
		default:
			return
		}
	}
}

func (r *Router) forward(event Event) {
	if event.Severity < r.cfg.MinimumSeverity {
		return
	}
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.eventsTotal.Add(1)
	for _, worker := range r.sinks {
		worker.enqueue(event.Clone())
	}
}

// Publish implements Publisher.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || r.closed.Load() {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.handleDrop(event)
	}
}

func (r *Router) handleDrop(event Event) {
	r.droppedTotal.Add(1)
	interval := r.cfg.DropWarnInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	now := time.Now().UnixNano()
	next := r.lastDropLog.Load()
	if next == 0 || now >= next {
		if r.lastDropLog.CompareAndSwap(next, now+interval.Nanoseconds()) {
			r.fallback.Printf("dropping event type=%s tick=%d", event.Type, event.Tick)
		}
	}
}

// Close stops accepting events, drains what is queued and closes the sinks.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var firstErr error
	for _, worker := range r.sinks {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.eventsTotal.Load(),
		DroppedTotal: r.droppedTotal.Load(),
	}
}

// Sink returns the enabled sink registered under name.
func (r *Router) Sink(name string) Sink {
	for _, worker := range r.sinks {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

type sinkWorker struct {
	name      string
	sink      Sink
	events    chan Event
	fallback  Printer
	failures  int
	nextRetry time.Time
}

func newSinkWorker(name string, sink Sink, buffer int, fallback Printer) *sinkWorker {
	return &sinkWorker{
		name:     name,
		sink:     sink,
		events:   make(chan Event, buffer),
		fallback: fallback,
	}
}

func (w *sinkWorker) enqueue(event Event) {
	select {
	case w.events <- event:
	default:
		w.fallback.Printf("sink %s backlog full dropping event type=%s", w.name, event.Type)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if w.failures > 0 {
			if wait := time.Until(w.nextRetry); wait > 0 {
				time.Sleep(wait)
			}
		}
		if err := w.sink.Write(event); err != nil {
			w.fail(err)
			continue
		}
		w.failures = 0
		w.nextRetry = time.Time{}
	}
}

func (w *sinkWorker) fail(err error) {
	w.failures++
	delay := time.Duration(1<<min(w.failures, 5)) * time.Second
	w.nextRetry = time.Now().Add(delay)
	w.fallback.Printf("sink %s failed: %v (retry in %s)", w.name, err, delay)
}
