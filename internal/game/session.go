// Package game runs the client-side game session: it owns the topic router,
// the peer registry and the Lobby/Game/LobbyGameOver state machine, and
// processes every input on a single goroutine.
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lightcycle/internal/arena"
	"lightcycle/internal/net/proto"
	"lightcycle/internal/peers"
	"lightcycle/internal/router"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
	"lightcycle/logging/session"
)

const (
	// DefaultFrameRate matches the relay-era clients.
	DefaultFrameRate  = 15
	DefaultSetupRetry = time.Second
	defaultQueueSize  = 256
	// gameOwner is the router owner id of the session's own handlers.
	gameOwner = "game"
)

// ErrTransportClosed is returned by Run when the connection to the relay ends.
var ErrTransportClosed = errors.New("game: transport closed")

// Sender is the outbound half of the transport.
type Sender interface {
	Send(env proto.Envelope) error
	IsOpen() bool
}

// Config wires a session to its collaborators. Zero values fall back to
// headless defaults.
type Config struct {
	FrameTime  time.Duration
	SetupRetry time.Duration
	QueueSize  int

	LocalBody arena.Body
	Bodies    arena.BodyFactory
	Input     arena.InputSource
	Stats     arena.Stats
	UI        arena.UI
	Audio     arena.Audio
	PowerUps  arena.PowerUps

	Scheduler Scheduler
	Clock     logging.Clock
	Logger    telemetry.Logger
	Publisher logging.Publisher
}

func (c Config) withDefaults() Config {
	if c.FrameTime <= 0 {
		c.FrameTime = time.Second / DefaultFrameRate
	}
	if c.SetupRetry <= 0 {
		c.SetupRetry = DefaultSetupRetry
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.LocalBody == nil {
		c.LocalBody = arena.StaticBody{}
	}
	if c.Input == nil {
		c.Input = arena.InputFunc(func() arena.Direction { return arena.Straight })
	}
	if c.Stats == nil {
		c.Stats = &arena.MemoryStats{}
	}
	if c.UI == nil {
		c.UI = arena.LogUI{Logger: c.Logger}
	}
	if c.Audio == nil {
		c.Audio = arena.Silent{}
	}
	if c.PowerUps == nil {
		c.PowerUps = arena.IgnorePowerUps{}
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler{}
	}
	if c.Clock == nil {
		c.Clock = logging.SystemClock{}
	}
	c.Logger = telemetry.OrDiscard(c.Logger)
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	return c
}

// Session is the explicit context every handler runs against. All fields
// below events are owned by the Run goroutine.
type Session struct {
	cfg    Config
	sender Sender
	events chan any
	done   chan struct{}

	router   *router.Router
	registry *peers.Registry

	state          State
	ready          bool
	startRequested bool
	resetRequested bool
	endClaimed     bool

	setupAttempts int
	setupTimer    Timer
	tick          Timer
	generation    uint64
	frame         uint64
	lastUpdate    time.Time
	// roundDistance is what the local cycle covered since the last StartGame.
	roundDistance float64
}

// New builds a session sending through sender.
func New(sender Sender, cfg Config) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:    cfg,
		sender: sender,
		events: make(chan any, cfg.QueueSize),
		done:   make(chan struct{}),
		router: router.New(),
	}
	s.registry = peers.New(s.router, cfg.Bodies, peers.Hooks{
		Announce:  s.announce,
		Departing: s.departing,
		Changed:   s.cfg.UI.RefreshPeerList,
	}, cfg.Publisher)
	return s
}

type (
	openEvent     struct{}
	closeEvent    struct{ err error }
	envelopeEvent struct{ env proto.Envelope }
	errorEvent    struct{ err error }
	setupEvent    struct{}
	tickEvent     struct{ generation uint64 }
	startCommand  struct{}
	resetCommand  struct{}
	snapshotQuery struct{ reply chan Snapshot }
)

// Run processes events until ctx is done, the transport closes, or setup hits
// a fatal error.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.stopTimers()

	if err := s.setup(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if err := s.handle(ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(ev any) error {
	switch e := ev.(type) {
	case openEvent:
		if s.setupTimer != nil {
			s.setupTimer.Stop()
			s.setupTimer = nil
		}
		return s.setup()
	case setupEvent:
		s.setupTimer = nil
		return s.setup()
	case closeEvent:
		if e.err != nil {
			return fmt.Errorf("%w: %v", ErrTransportClosed, e.err)
		}
		return ErrTransportClosed
	case errorEvent:
		s.cfg.Logger.Printf("transport error: %v", e.err)
	case envelopeEvent:
		s.dispatch(e.env)
	case tickEvent:
		s.onTick(e.generation)
	case startCommand:
		s.requestStart()
	case resetCommand:
		s.requestReset()
	case snapshotQuery:
		e.reply <- s.snapshot()
	default:
		s.cfg.Logger.Printf("ignoring unexpected session event %T", ev)
	}
	return nil
}

// post hands ev to the Run goroutine. It gives up once Run has returned.
func (s *Session) post(ev any) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// OnOpen implements the transport listener.
func (s *Session) OnOpen() { s.post(openEvent{}) }

// OnMessage implements the transport listener.
func (s *Session) OnMessage(env proto.Envelope) { s.post(envelopeEvent{env: env}) }

// OnClose implements the transport listener.
func (s *Session) OnClose(err error) { s.post(closeEvent{err: err}) }

// OnError implements the transport listener.
func (s *Session) OnError(err error) { s.post(errorEvent{err: err}) }

// RequestStart asks the relay to start a game. Safe for concurrent use.
func (s *Session) RequestStart() { s.post(startCommand{}) }

// RequestReset asks the relay to return every peer to the lobby. Safe for
// concurrent use.
func (s *Session) RequestReset() { s.post(resetCommand{}) }

// PeerStatus is one row of a Snapshot.
type PeerStatus struct {
	ID    string `json:"id"`
	Alive bool   `json:"alive"`
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	State    string       `json:"state"`
	SelfID   string       `json:"selfId,omitempty"`
	Ready    bool         `json:"ready"`
	Frame    uint64       `json:"frame"`
	Distance float64      `json:"distance"`
	Local    PeerStatus   `json:"local"`
	Remote   []PeerStatus `json:"remote"`
}

// Snapshot queries the Run goroutine for the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case s.events <- snapshotQuery{reply: reply}:
	case <-s.done:
		return Snapshot{}, ErrTransportClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-s.done:
		return Snapshot{}, ErrTransportClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		State:    s.state.String(),
		SelfID:   s.registry.SelfID(),
		Ready:    s.ready,
		Frame:    s.frame,
		Distance: s.roundDistance,
		Remote:   make([]PeerStatus, 0),
	}
	if local := s.registry.Local(); local != nil {
		snap.Local = PeerStatus{ID: local.ID, Alive: local.Alive}
	}
	for _, p := range s.registry.Remote() {
		snap.Remote = append(snap.Remote, PeerStatus{ID: p.ID, Alive: p.Alive})
	}
	return snap
}

// setup registers the session topics and admits the local player once the
// transport is open; until then it retries on a fixed delay.
func (s *Session) setup() error {
	if s.ready {
		return nil
	}
	if !s.sender.IsOpen() {
		s.setupAttempts++
		session.SetupDeferred(context.Background(), s.cfg.Publisher, session.SetupDeferredPayload{
			Attempt:    s.setupAttempts,
			RetryAfter: s.cfg.SetupRetry.Milliseconds(),
		}, nil)
		if s.setupTimer == nil {
			s.setupTimer = s.cfg.Scheduler.After(s.cfg.SetupRetry, func() { s.post(setupEvent{}) })
		}
		return nil
	}

	for _, t := range lobbyTopics {
		s.subscribe(t)
	}
	if _, err := s.registry.AdmitLocal(s.cfg.LocalBody); err != nil {
		return err
	}
	s.ready = true

	s.cfg.UI.UpdateStats(s.cfg.Stats.WinCount(), s.cfg.Stats.DistanceTraveled())
	s.cfg.UI.RefreshPeerList(s.registry.RemoteIDs())
	s.send(proto.TypeRequestPlayerID, nil)
	s.announce()
	return nil
}

func (s *Session) subscribe(t proto.MessageType) {
	s.router.Subscribe(t, router.Func(gameOwner, s.handleGameEnvelope))
}

func (s *Session) dispatch(env proto.Envelope) {
	ctx := context.Background()
	delivered, err := s.router.Dispatch(env)
	if err != nil {
		session.HandlerFailed(ctx, s.cfg.Publisher, s.frame, session.MessagePayload{
			Type:   env.TypeName(),
			From:   env.From,
			State:  s.state.String(),
			Reason: err.Error(),
		}, nil)
		s.cfg.Logger.Printf("handling %s: %v", env.TypeName(), err)
	}
	if delivered == 0 {
		session.UnhandledMessage(ctx, s.cfg.Publisher, s.frame, session.MessagePayload{
			Type:  env.TypeName(),
			From:  env.From,
			State: s.state.String(),
		}, nil)
		s.cfg.Logger.Printf("unhandled message type %q in state %s", env.TypeName(), s.state)
	}
}

// send builds and writes an envelope. Failures are logged; the protocol does
// not retry.
func (s *Session) send(t proto.MessageType, content any) {
	env, err := proto.New(t, proto.DestinationGlobal, content, s.cfg.Clock.Now())
	if err != nil {
		s.cfg.Logger.Printf("building %s: %v", t, err)
		return
	}
	if err := s.sender.Send(env); err != nil {
		s.cfg.Logger.Printf("sending %s: %v", t, err)
	}
}

func (s *Session) announce() {
	s.send(proto.TypeRequestRemotePlayerHello, nil)
}

func (s *Session) setState(next State) {
	prev := s.state
	s.state = next
	session.StateChanged(context.Background(), s.cfg.Publisher, s.frame, session.StateChangedPayload{
		From: prev.String(),
		To:   next.String(),
	}, nil)
}

func (s *Session) startTick() {
	s.stopTick()
	s.generation++
	generation := s.generation
	s.tick = s.cfg.Scheduler.Every(s.cfg.FrameTime, func() { s.post(tickEvent{generation: generation}) })
}

func (s *Session) stopTick() {
	if s.tick == nil {
		return
	}
	s.tick.Stop()
	s.tick = nil
}

func (s *Session) stopTimers() {
	s.stopTick()
	if s.setupTimer != nil {
		s.setupTimer.Stop()
		s.setupTimer = nil
	}
}
