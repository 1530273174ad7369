package relay

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lightcycle/internal/net/intake"
	"lightcycle/internal/net/proto"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
	"lightcycle/logging/network"
)

const (
	DefaultMaxPlayers   = 4
	DefaultMessageRate  = 60
	DefaultMessageBurst = 30
	DefaultWriteTimeout = 10 * time.Second
	DefaultOutboxSize   = 256

	// destinationNewPlayer addresses admission alerts to a connection that
	// never received an id.
	destinationNewPlayer = "new-player"
)

var (
	ErrRelayFull   = errors.New("relay: too many players")
	ErrGameRunning = errors.New("relay: game running")
	ErrUnknownPeer = errors.New("relay: unknown peer")
	ErrRateLimited = errors.New("relay: rate limited")
)

const (
	metricConnectionsAccepted = "relay.connections_accepted"
	metricConnectionsRejected = "relay.connections_rejected"
	metricEnvelopesIn         = "relay.envelopes_in"
	metricEnvelopesOut        = "relay.envelopes_out"
	metricEnvelopesDropped    = "relay.envelopes_dropped"
	metricRateLimited         = "relay.rate_limited"
	metricWriteFailures       = "relay.write_failures"
	metricOutboxOverflows     = "relay.outbox_overflows"
	metricPlayers             = "relay.players"
)

// Conn is the write side of a peer connection.
type Conn interface {
	Write(data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Config controls admission, pacing and instrumentation of a Hub.
type Config struct {
	MaxPlayers   int
	MessageRate  float64
	MessageBurst int
	WriteTimeout time.Duration
	// OutboxSize bounds the envelopes queued for one connection. A peer
	// that falls this far behind is disconnected.
	OutboxSize int
	Logger     telemetry.Logger
	Publisher  logging.Publisher
	Metrics    telemetry.Metrics
	Now        func() time.Time
}

// DefaultConfig returns the relay defaults: four players, 60 envelopes per
// second per connection with a burst of 30.
func DefaultConfig() Config {
	return Config{
		MaxPlayers:   DefaultMaxPlayers,
		MessageRate:  DefaultMessageRate,
		MessageBurst: DefaultMessageBurst,
		WriteTimeout: DefaultWriteTimeout,
		OutboxSize:   DefaultOutboxSize,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = DefaultMaxPlayers
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = DefaultMessageBurst
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = DefaultOutboxSize
	}
	c.Logger = telemetry.OrDiscard(c.Logger)
	if c.Publisher == nil {
		c.Publisher = logging.NopPublisher()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.WrapMetrics(nil)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Member identifies an admitted connection.
type Member struct {
	ID      string
	TraceID string
}

// Hub owns the connected peers, the game-active flag and the fan-out order.
// Fan-out only enqueues under the hub lock; every connection drains its own
// outbox on a writer goroutine, so all peers see one order and a stalled
// peer delays nobody else.
type Hub struct {
	cfg Config

	mu          sync.Mutex
	subscribers map[string]*subscriber
	gameActive  bool
}

type subscriber struct {
	id       string
	traceID  string
	conn     Conn
	limiter  *rate.Limiter
	joinedAt time.Time

	// outbox is closed by Leave under the hub lock.
	outbox  chan outbound
	queued  atomic.Int64
	leaving atomic.Bool

	mu        sync.Mutex
	received  uint64
	delivered uint64
	dropped   uint64
}

type outbound struct {
	data    []byte
	payload network.EnvelopePayload
}

// NewHub constructs an empty hub.
func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:         cfg.withDefaults(),
		subscribers: make(map[string]*subscriber),
	}
}

// Join admits conn and assigns it the lowest free id. Refused connections
// receive an Alert envelope and are left for the caller to close.
func (h *Hub) Join(conn Conn) (Member, error) {
	h.mu.Lock()
	if len(h.subscribers) >= h.cfg.MaxPlayers {
		h.mu.Unlock()
		h.reject(conn, ErrRelayFull, proto.Alert{
			Title: "Too many players",
			Text:  "The maximum number of players is connected to the server. Please come back later.",
		})
		return Member{}, ErrRelayFull
	}
	if h.gameActive {
		h.mu.Unlock()
		h.reject(conn, ErrGameRunning, proto.Alert{
			Title: "Game running",
			Text:  "Other players are currently playing on the server. Please come back later.",
		})
		return Member{}, ErrGameRunning
	}

	id := h.nextIDLocked()
	sub := &subscriber{
		id:       id,
		traceID:  uuid.NewString(),
		conn:     conn,
		limiter:  h.newLimiter(),
		joinedAt: h.cfg.Now(),
		outbox:   make(chan outbound, h.cfg.OutboxSize),
	}
	h.subscribers[id] = sub
	count := len(h.subscribers)
	h.mu.Unlock()
	go h.writeLoop(sub)

	h.cfg.Metrics.Add(metricConnectionsAccepted, 1)
	h.cfg.Metrics.Store(metricPlayers, uint64(count))
	h.cfg.Logger.Printf("player %s connected (%d/%d)", id, count, h.cfg.MaxPlayers)
	network.ConnectionOpened(context.Background(), h.cfg.Publisher, logging.PeerRef(id), network.ConnectionPayload{}, sub.extra())
	return Member{ID: id, TraceID: sub.traceID}, nil
}

func (h *Hub) nextIDLocked() string {
	for candidate := 1; candidate <= h.cfg.MaxPlayers; candidate++ {
		id := strconv.Itoa(candidate)
		if _, taken := h.subscribers[id]; !taken {
			return id
		}
	}
	return strconv.Itoa(len(h.subscribers) + 1)
}

func (h *Hub) newLimiter() *rate.Limiter {
	if h.cfg.MessageRate <= 0 {
		return rate.NewLimiter(rate.Inf, h.cfg.MessageBurst)
	}
	return rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)
}

func (h *Hub) reject(conn Conn, reason error, alert proto.Alert) {
	h.cfg.Metrics.Add(metricConnectionsRejected, 1)
	h.cfg.Logger.Printf("rejecting connection: %v", reason)
	network.ConnectionRejected(context.Background(), h.cfg.Publisher, logging.EntityRef{Kind: logging.EntityKindConnection}, network.ConnectionPayload{Reason: alert.Title}, nil)

	env, err := proto.New(proto.TypeAlert, destinationNewPlayer, alert, h.cfg.Now())
	if err != nil {
		h.cfg.Logger.Printf("failed to build admission alert: %v", err)
		return
	}
	data, err := proto.Encode(env)
	if err != nil {
		h.cfg.Logger.Printf("failed to encode admission alert: %v", err)
		return
	}
	conn.SetWriteDeadline(h.cfg.Now().Add(h.cfg.WriteTimeout))
	if err := conn.Write(data); err != nil {
		h.cfg.Logger.Printf("failed to deliver admission alert: %v", err)
	}
}

// Handle routes one inbound envelope from id to its audience. Envelopes the
// routing table does not accept are dropped and logged.
func (h *Hub) Handle(id string, env proto.Envelope) error {
	h.cfg.Metrics.Add(metricEnvelopesIn, 1)

	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownPeer
	}

	sub.mu.Lock()
	sub.received++
	allowed := sub.limiter.Allow()
	if !allowed {
		sub.dropped++
	}
	sub.mu.Unlock()

	if !allowed {
		h.mu.Unlock()
		h.cfg.Metrics.Add(metricRateLimited, 1)
		network.RateLimited(context.Background(), h.cfg.Publisher, logging.PeerRef(id), envelopePayload(env, 0), sub.extra())
		return ErrRateLimited
	}

	ctx := intake.RouteContext{
		HasPeer: func(candidate string) bool {
			_, known := h.subscribers[candidate]
			return known
		},
		Now: h.cfg.Now,
	}
	delivery, ok, reason := intake.StageRequest(ctx, id, env)
	if !ok {
		h.mu.Unlock()
		h.cfg.Metrics.Add(metricEnvelopesDropped, 1)
		h.cfg.Logger.Printf("dropping %s from player %s: %s", env.TypeName(), id, reason)
		return nil
	}

	switch delivery.Transition {
	case intake.GameActivated:
		h.gameActive = true
	case intake.GameDeactivated:
		h.gameActive = false
	}

	failed := h.fanOutLocked(id, delivery.Envelope, delivery.Audience)
	h.mu.Unlock()

	for _, peer := range failed {
		h.Leave(peer)
	}
	return nil
}

// Leave removes id, closes its connection and tells the remaining peers. The
// game flag is cleared once the relay is empty.
func (h *Hub) Leave(id string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.subscribers, id)
	sub.leaving.Store(true)
	close(sub.outbox)
	if len(h.subscribers) == 0 {
		h.gameActive = false
	}
	count := len(h.subscribers)

	var failed []string
	goodbye, err := proto.New(proto.TypeRemotePlayerGoodbye, proto.DestinationAllBut(id), id, h.cfg.Now())
	if err != nil {
		h.cfg.Logger.Printf("failed to build goodbye for player %s: %v", id, err)
	} else {
		goodbye.From = id
		failed = h.fanOutLocked(id, goodbye, intake.AudienceAllButSender)
	}
	h.mu.Unlock()

	sub.conn.Close()
	h.cfg.Metrics.Store(metricPlayers, uint64(count))
	h.cfg.Logger.Printf("player %s disconnected", id)
	network.ConnectionClosed(context.Background(), h.cfg.Publisher, logging.PeerRef(id), network.ConnectionPayload{}, sub.extra())

	for _, peer := range failed {
		h.Leave(peer)
	}
	return true
}

// fanOutLocked writes env to the audience in id order and returns the peers
// whose connection failed.
func (h *Hub) fanOutLocked(senderID string, env proto.Envelope, audience intake.Audience) []string {
	data, err := proto.Encode(env)
	if err != nil {
		h.cfg.Logger.Printf("failed to encode %s: %v", env.TypeName(), err)
		return nil
	}

	ids := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		switch audience {
		case intake.AudienceSender:
			if id != senderID {
				continue
			}
		case intake.AudienceAllButSender:
			if id == senderID {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	msg := outbound{data: data, payload: envelopePayload(env, len(data))}
	var failed []string
	for _, id := range ids {
		sub := h.subscribers[id]
		sub.queued.Add(1)
		select {
		case sub.outbox <- msg:
		default:
			sub.queued.Add(-1)
			h.cfg.Metrics.Add(metricOutboxOverflows, 1)
			h.cfg.Logger.Printf("player %s fell %d envelopes behind, disconnecting", id, cap(sub.outbox))
			failed = append(failed, id)
		}
	}
	return failed
}

// writeLoop drains sub's outbox until Leave closes it. A failed write
// removes the peer.
func (h *Hub) writeLoop(sub *subscriber) {
	for msg := range sub.outbox {
		if sub.leaving.Load() {
			sub.queued.Add(-1)
			continue
		}
		err := sub.write(msg.data, h.cfg.Now().Add(h.cfg.WriteTimeout))
		sub.queued.Add(-1)
		if err == nil {
			h.cfg.Metrics.Add(metricEnvelopesOut, 1)
			network.EnvelopeSent(context.Background(), h.cfg.Publisher, logging.PeerRef(sub.id), msg.payload, sub.extra())
			continue
		}
		if sub.leaving.Load() {
			continue
		}
		h.cfg.Metrics.Add(metricWriteFailures, 1)
		h.cfg.Logger.Printf("failed to send %s to player %s: %v", msg.payload.Type, sub.id, err)
		h.Leave(sub.id)
	}
}

func (s *subscriber) write(data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.Write(data); err != nil {
		return err
	}
	s.delivered++
	return nil
}

func (s *subscriber) extra() map[string]any {
	return map[string]any{"traceId": s.traceID}
}

func envelopePayload(env proto.Envelope, size int) network.EnvelopePayload {
	return network.EnvelopePayload{
		Type:        env.TypeName(),
		Destination: env.Destination,
		From:        env.From,
		Bytes:       size,
	}
}

// GameActive reports whether a game is running on the relay.
func (h *Hub) GameActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gameActive
}

// PlayerDiagnostics describes one connected peer.
type PlayerDiagnostics struct {
	ID        string `json:"id"`
	TraceID   string `json:"traceId"`
	JoinedAt  int64  `json:"joinedAt"`
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Queued    int64  `json:"queued"`
}

// Diagnostics is the relay state exposed by the diagnostics endpoint.
type Diagnostics struct {
	GameActive bool                `json:"gameActive"`
	MaxPlayers int                 `json:"maxPlayers"`
	Players    []PlayerDiagnostics `json:"players"`
}

// DiagnosticsSnapshot copies the relay state ordered by id.
func (h *Hub) DiagnosticsSnapshot() Diagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := Diagnostics{
		GameActive: h.gameActive,
		MaxPlayers: h.cfg.MaxPlayers,
		Players:    make([]PlayerDiagnostics, 0, len(h.subscribers)),
	}
	for _, sub := range h.subscribers {
		sub.mu.Lock()
		snapshot.Players = append(snapshot.Players, PlayerDiagnostics{
			ID:        sub.id,
			TraceID:   sub.traceID,
			JoinedAt:  sub.joinedAt.UnixMilli(),
			Received:  sub.received,
			Delivered: sub.delivered,
			Dropped:   sub.dropped,
			Queued:    sub.queued.Load(),
		})
		sub.mu.Unlock()
	}
	sort.Slice(snapshot.Players, func(i, j int) bool {
		return snapshot.Players[i].ID < snapshot.Players[j].ID
	})
	return snapshot
}
