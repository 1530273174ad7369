package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"lightcycle/internal/arena"
	"lightcycle/internal/net/proto"
	"lightcycle/logging"
	"lightcycle/logging/session"
	"lightcycle/logging/sinks"
)

type fakeSender struct {
	mu   sync.Mutex
	open bool
	sent []proto.Envelope
}

func (f *fakeSender) Send(env proto.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errors.New("not open")
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSender) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSender) ofType(t proto.MessageType) []proto.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []proto.Envelope
	for _, env := range f.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

type manualTimer struct {
	fire    func()
	stopped bool
}

func (t *manualTimer) Stop() { t.stopped = true }

type manualScheduler struct {
	every []*manualTimer
	after []*manualTimer
}

func (m *manualScheduler) Every(_ time.Duration, fire func()) Timer {
	t := &manualTimer{fire: fire}
	m.every = append(m.every, t)
	return t
}

func (m *manualScheduler) After(_ time.Duration, fire func()) Timer {
	t := &manualTimer{fire: fire}
	m.after = append(m.after, t)
	return t
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

type scriptedBody struct {
	steps    []arena.Step
	advances int
	flushes  int
	resets   int
	placed   []string
}

func (b *scriptedBody) Advance(time.Duration, arena.Direction) arena.Step {
	b.advances++
	if len(b.steps) == 0 {
		return arena.Step{}
	}
	step := b.steps[0]
	b.steps = b.steps[1:]
	return step
}

func (b *scriptedBody) ApplyPosition(json.RawMessage) error { return nil }
func (b *scriptedBody) FlushPendingDraws()                  { b.flushes++ }
func (b *scriptedBody) Reset()                              { b.resets++ }
func (b *scriptedBody) Place(id string)                     { b.placed = append(b.placed, id) }

type notice struct{ title, text string }

type recordingUI struct {
	notices []notice
	peers   []string
	clears  int
}

func (u *recordingUI) Notify(title, text string)    { u.notices = append(u.notices, notice{title, text}) }
func (u *recordingUI) RefreshPeerList(ids []string) { u.peers = ids }
func (u *recordingUI) UpdateStats(int, float64)     {}
func (u *recordingUI) Clear()                       { u.clears++ }

type recordingPowerUps struct{ total time.Duration }

func (p *recordingPowerUps) AddWallInactiveTime(d time.Duration) { p.total += d }

type countingAudio struct{ cues int }

func (a *countingAudio) PlayGameEnd() { a.cues++ }

type harness struct {
	session *Session
	sender  *fakeSender
	sched   *manualScheduler
	clock   *stepClock
	local   *scriptedBody
	remote  map[string]*scriptedBody
	ui      *recordingUI
	audio   *countingAudio
	powerUp *recordingPowerUps
	stats   *arena.MemoryStats
	events  *sinks.Memory
}

func newHarness(t *testing.T, open bool) *harness {
	t.Helper()
	h := &harness{
		sender:  &fakeSender{open: open},
		sched:   &manualScheduler{},
		clock:   &stepClock{now: time.Unix(1000, 0)},
		local:   &scriptedBody{},
		remote:  make(map[string]*scriptedBody),
		ui:      &recordingUI{},
		audio:   &countingAudio{},
		powerUp: &recordingPowerUps{},
		stats:   &arena.MemoryStats{},
		events:  sinks.NewMemory(),
	}
	h.session = New(h.sender, Config{
		FrameTime: 50 * time.Millisecond,
		LocalBody: h.local,
		Bodies: func(id string) arena.Body {
			body := &scriptedBody{}
			h.remote[id] = body
			return body
		},
		Stats:     h.stats,
		UI:        h.ui,
		Audio:     h.audio,
		PowerUps:  h.powerUp,
		Scheduler: h.sched,
		Clock:     logging.ClockFunc(func() time.Time { return h.clock.now }),
		Publisher: h.events,
	})
	if err := h.session.setup(); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	return h
}

func (h *harness) deliver(t *testing.T, typ proto.MessageType, content any) {
	t.Helper()
	env, err := proto.New(typ, proto.DestinationEveryone, content, h.clock.now)
	if err != nil {
		t.Fatalf("failed to build %s: %v", typ, err)
	}
	if err := h.session.handle(envelopeEvent{env: env}); err != nil {
		t.Fatalf("handle %s: %v", typ, err)
	}
}

func (h *harness) fireTick(t *testing.T, advance time.Duration) {
	t.Helper()
	if len(h.sched.every) == 0 {
		t.Fatalf("no tick timer scheduled")
	}
	h.clock.now = h.clock.now.Add(advance)
	h.sched.every[len(h.sched.every)-1].fire()
	drain(t, h.session)
}

// drain processes every queued event on the calling goroutine.
func drain(t *testing.T, s *Session) {
	t.Helper()
	for {
		select {
		case ev := <-s.events:
			if err := s.handle(ev); err != nil {
				t.Fatalf("handle %T: %v", ev, err)
			}
		default:
			return
		}
	}
}

func (h *harness) startGame(t *testing.T, remotes ...string) {
	t.Helper()
	for _, id := range remotes {
		h.deliver(t, proto.TypeRemotePlayerHello, id)
	}
	h.deliver(t, proto.TypeStartGame, "1")
	if h.session.state != StateGame {
		t.Fatalf("expected Game state, got %s", h.session.state)
	}
}

func TestSetupRetriesUntilTransportOpens(t *testing.T) {
	h := newHarness(t, false)
	if h.session.ready {
		t.Fatalf("expected setup to wait for the transport")
	}
	if len(h.sched.after) != 1 {
		t.Fatalf("expected one retry timer, got %d", len(h.sched.after))
	}

	h.sched.after[0].fire()
	drain(t, h.session)
	if h.session.ready || len(h.sched.after) != 2 {
		t.Fatalf("expected a second retry while closed, ready=%v timers=%d", h.session.ready, len(h.sched.after))
	}
	if got := len(h.events.OfType(session.EventSetupDeferred)); got != 2 {
		t.Fatalf("expected two deferred setup events, got %d", got)
	}

	h.sender.open = true
	h.sched.after[1].fire()
	drain(t, h.session)
	if !h.session.ready {
		t.Fatalf("expected setup to complete once open")
	}
	if len(h.sender.ofType(proto.TypeRequestPlayerID)) != 1 {
		t.Fatalf("expected one id request")
	}
	if len(h.sender.ofType(proto.TypeRequestRemotePlayerHello)) != 1 {
		t.Fatalf("expected one hello")
	}
	for _, topic := range lobbyTopics {
		if !h.session.router.Subscribed(topic, gameOwner) {
			t.Fatalf("expected session to subscribe to %s", topic)
		}
	}
	if h.session.router.Subscribed(proto.TypeWallInactiveTime, gameOwner) {
		t.Fatalf("expected gameplay topics to wait for the game")
	}
}

func TestOpenEventCompletesPendingSetup(t *testing.T) {
	h := newHarness(t, false)
	h.sender.open = true
	if err := h.session.handle(openEvent{}); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !h.session.ready {
		t.Fatalf("expected open to complete setup")
	}
	if !h.sched.after[0].stopped {
		t.Fatalf("expected pending retry to be cancelled")
	}
	if err := h.session.handle(openEvent{}); err != nil {
		t.Fatalf("second open must be harmless: %v", err)
	}
	if len(h.sender.ofType(proto.TypeRequestRemotePlayerHello)) != 1 {
		t.Fatalf("expected setup to run once")
	}
}

func TestHelloIsEchoedOncePerNewPeer(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypePlayerID, "1")
	h.deliver(t, proto.TypeRemotePlayerHello, "2")
	h.deliver(t, proto.TypeRemotePlayerHello, "2")
	h.deliver(t, proto.TypeRemotePlayerHello, "1")

	hellos := h.sender.ofType(proto.TypeRequestRemotePlayerHello)
	if len(hellos) != 2 {
		t.Fatalf("expected setup hello plus one echo, got %d", len(hellos))
	}
	if ids := h.session.registry.RemoteIDs(); len(ids) != 1 || ids[0] != "2" {
		t.Fatalf("expected only peer 2, got %v", ids)
	}
	if len(h.ui.peers) != 1 {
		t.Fatalf("expected UI peer list to be refreshed, got %v", h.ui.peers)
	}
}

func TestStartGameIsRelayConfirmedAndNotReentrant(t *testing.T) {
	h := newHarness(t, true)
	h.session.requestStart()
	h.session.requestStart()
	if got := len(h.sender.ofType(proto.TypeRequestStartGame)); got != 1 {
		t.Fatalf("expected a single start request, got %d", got)
	}
	if h.session.state != StateLobby {
		t.Fatalf("expected start to wait for the relay")
	}

	h.deliver(t, proto.TypeStartGame, "1")
	h.deliver(t, proto.TypeStartGame, "1")
	if h.session.state != StateGame {
		t.Fatalf("expected Game state")
	}
	if len(h.sched.every) != 1 {
		t.Fatalf("expected exactly one tick timer, got %d", len(h.sched.every))
	}
	if !h.session.router.Subscribed(proto.TypeWallInactiveTime, gameOwner) {
		t.Fatalf("expected gameplay topics after start")
	}
}

func TestTickAdvancesLocalAndFlushesRemotes(t *testing.T) {
	h := newHarness(t, true)
	h.local.steps = []arena.Step{
		{Distance: 2, Points: []proto.Point{{X: 1, Y: 1}}},
		{Distance: 1, Crashed: true},
	}
	h.startGame(t, "2")

	h.fireTick(t, 50*time.Millisecond)
	if h.local.advances != 1 || h.stats.Distance != 2 {
		t.Fatalf("expected one advance of 2 units, got advances=%d distance=%v", h.local.advances, h.stats.Distance)
	}
	if len(h.sender.ofType(proto.TypeRequestPositionUpdate)) != 1 {
		t.Fatalf("expected a position update for the new segment")
	}

	h.fireTick(t, 50*time.Millisecond)
	if h.session.registry.Local().Alive {
		t.Fatalf("expected crash to kill the local player")
	}
	deaths := h.sender.ofType(proto.TypeRequestRemotePlayerDeath)
	if len(deaths) != 1 {
		t.Fatalf("expected one death request, got %d", len(deaths))
	}

	h.fireTick(t, 50*time.Millisecond)
	if h.local.advances != 2 {
		t.Fatalf("expected dead player not to advance, got %d advances", h.local.advances)
	}
	if h.remote["2"].flushes != 3 {
		t.Fatalf("expected remote draws to flush every tick, got %d", h.remote["2"].flushes)
	}
	if len(h.sender.ofType(proto.TypeRequestEndGame)) != 0 {
		t.Fatalf("a dead player must not claim the win")
	}
}

func TestLastSurvivorClaimsOnce(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypePlayerID, "1")
	h.startGame(t, "2", "3")

	h.deliver(t, proto.TypeRemotePlayerDeath, "2")
	if len(h.sender.ofType(proto.TypeRequestEndGame)) != 0 {
		t.Fatalf("expected no claim while peer 3 is alive")
	}
	h.deliver(t, proto.TypeRemotePlayerDeath, "3")
	h.deliver(t, proto.TypeRemotePlayerDeath, "3")
	h.deliver(t, proto.TypeRemotePlayerDeath, "9")

	claims := h.sender.ofType(proto.TypeRequestEndGame)
	if len(claims) != 1 {
		t.Fatalf("expected exactly one end-game claim, got %d", len(claims))
	}
	if winner, _ := proto.PeerID(claims[0]); winner != "1" {
		t.Fatalf("expected claim to name relay id 1, got %q", winner)
	}
	if h.audio.cues != 1 {
		t.Fatalf("expected one end-of-game cue, got %d", h.audio.cues)
	}
}

func TestEndGameForLocalWinner(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypePlayerID, "1")
	h.startGame(t, "2")
	tick := h.sched.every[0]

	h.deliver(t, proto.TypeEndGame, "1")
	if h.session.state != StateLobbyGameOver {
		t.Fatalf("expected LobbyGameOver, got %s", h.session.state)
	}
	if h.stats.Wins != 1 {
		t.Fatalf("expected a recorded win, got %d", h.stats.Wins)
	}
	if !tick.stopped {
		t.Fatalf("expected tick to be cancelled")
	}
	if h.session.registry.Local().Alive {
		t.Fatalf("expected winner to stop moving")
	}
	last := h.ui.notices[len(h.ui.notices)-1]
	if last.title != "Game over" || last.text != "You win." {
		t.Fatalf("unexpected notice %+v", last)
	}
	if !h.session.router.Subscribed(proto.TypeResetGame, gameOwner) {
		t.Fatalf("expected reset topic after the game")
	}

	h.deliver(t, proto.TypeEndGame, "1")
	if h.stats.Wins != 1 {
		t.Fatalf("expected a second EndGame to be ignored")
	}
}

func TestEndGameForRemoteWinner(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypePlayerID, "1")
	h.startGame(t, "2")

	h.deliver(t, proto.TypeEndGame, "2")
	if h.stats.Wins != 0 {
		t.Fatalf("expected no win to be recorded")
	}
	if last := h.ui.notices[len(h.ui.notices)-1]; last.text != "You lose." {
		t.Fatalf("unexpected notice %+v", last)
	}
}

func TestGoodbyeDuringGameCountsAsDeath(t *testing.T) {
	h := newHarness(t, true)
	h.startGame(t, "2")

	h.deliver(t, proto.TypeRemotePlayerGoodbye, "2")
	if len(h.session.registry.Remote()) != 0 {
		t.Fatalf("expected peer 2 to be removed")
	}
	if h.session.router.Subscribed(proto.TypePositionUpdate, "2") {
		t.Fatalf("expected position subscription to be dropped")
	}
	if len(h.sender.ofType(proto.TypeRequestEndGame)) != 1 {
		t.Fatalf("expected the departure to trigger a win claim")
	}
}

func TestGoodbyeInLobbyDoesNotClaim(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypeRemotePlayerHello, "2")
	h.deliver(t, proto.TypeRemotePlayerGoodbye, "2")
	h.deliver(t, proto.TypeRemotePlayerGoodbye, "2")
	if len(h.sender.ofType(proto.TypeRequestEndGame)) != 0 {
		t.Fatalf("expected no claim outside a game")
	}
}

func TestResetReturnsToLobby(t *testing.T) {
	h := newHarness(t, true)
	h.session.requestStart()
	h.startGame(t, "2")

	h.session.requestReset()
	if len(h.sender.ofType(proto.TypeRequestResetGame)) != 0 {
		t.Fatalf("expected reset to be refused during a game")
	}

	h.deliver(t, proto.TypeEndGame, "2")
	h.session.requestReset()
	h.session.requestReset()
	if got := len(h.sender.ofType(proto.TypeRequestResetGame)); got != 1 {
		t.Fatalf("expected a single reset request, got %d", got)
	}

	h.deliver(t, proto.TypeResetGame, "1")
	if h.session.state != StateLobby {
		t.Fatalf("expected Lobby, got %s", h.session.state)
	}
	if h.local.resets != 1 || h.remote["2"].resets != 1 {
		t.Fatalf("expected every body to be reset")
	}
	if !h.session.registry.Local().Alive {
		t.Fatalf("expected local player to be revived")
	}

	h.session.requestStart()
	if got := len(h.sender.ofType(proto.TypeRequestStartGame)); got != 2 {
		t.Fatalf("expected start guard to be cleared, got %d requests", got)
	}

	h.deliver(t, proto.TypeResetGame, "1")
	if h.session.state != StateLobby {
		t.Fatalf("expected reset outside LobbyGameOver to be ignored")
	}
}

func TestStaleTicksDoNotReachNewGame(t *testing.T) {
	h := newHarness(t, true)
	h.startGame(t, "2")
	stale := h.sched.every[0]
	h.deliver(t, proto.TypeEndGame, "2")
	h.deliver(t, proto.TypeResetGame, "1")
	h.startGame(t)

	if len(h.sched.every) != 2 {
		t.Fatalf("expected a fresh tick timer, got %d", len(h.sched.every))
	}
	stale.fire()
	drain(t, h.session)
	if h.local.advances != 0 {
		t.Fatalf("expected stale tick to be dropped, got %d advances", h.local.advances)
	}

	h.fireTick(t, 50*time.Millisecond)
	if h.local.advances != 1 {
		t.Fatalf("expected current tick to advance, got %d", h.local.advances)
	}
}

func TestUnknownAndUnsubscribedTypesAreLogged(t *testing.T) {
	h := newHarness(t, true)
	env, err := proto.DecodeEnvelope([]byte(`{"type":"Teleport","destination":"Global","time":1}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := h.session.handle(envelopeEvent{env: env}); err != nil {
		t.Fatalf("unknown types must not be fatal: %v", err)
	}
	h.deliver(t, proto.TypeWallInactiveTime, 1000)

	unhandled := h.events.OfType(session.EventUnhandledMessage)
	if len(unhandled) != 2 {
		t.Fatalf("expected two unhandled messages, got %d", len(unhandled))
	}
	if payload := unhandled[0].Payload.(session.MessagePayload); payload.Type != "Teleport" {
		t.Fatalf("expected raw tag in log payload, got %+v", payload)
	}
}

func TestMalformedContentIsReportedNotFatal(t *testing.T) {
	h := newHarness(t, true)
	env := proto.Envelope{Type: proto.TypeRemotePlayerHello, Content: json.RawMessage(`{"id":2}`)}
	if err := h.session.handle(envelopeEvent{env: env}); err != nil {
		t.Fatalf("bad content must not be fatal: %v", err)
	}
	if len(h.events.OfType(session.EventHandlerFailed)) != 1 {
		t.Fatalf("expected handler failure to be logged")
	}
	if len(h.session.registry.Remote()) != 0 {
		t.Fatalf("expected no peer to be admitted")
	}
}

func TestAlertAndPowerUpsReachCollaborators(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypeAlert, proto.Alert{Title: "Game running", Text: "wait"})
	if len(h.ui.notices) != 1 || h.ui.notices[0].title != "Game running" {
		t.Fatalf("expected alert to reach the UI, got %+v", h.ui.notices)
	}

	h.startGame(t)
	h.deliver(t, proto.TypeWallInactiveTime, 1500)
	if h.powerUp.total != 1500*time.Millisecond {
		t.Fatalf("expected wall inactive time to reach power-ups, got %s", h.powerUp.total)
	}
}

func TestRunEndsWhenTransportCloses(t *testing.T) {
	sender := &fakeSender{}
	s := New(sender, Config{Scheduler: &manualScheduler{}})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- s.Run(ctx) }()

	sender.mu.Lock()
	sender.open = true
	sender.mu.Unlock()
	s.OnOpen()
	s.OnMessage(proto.Envelope{Type: proto.TypeRemotePlayerHello, Content: json.RawMessage(`"2"`)})

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Ready || snap.State != "Lobby" || len(snap.Remote) != 1 || snap.Remote[0].ID != "2" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	s.OnClose(nil)
	select {
	case err := <-result:
		if !errors.Is(err, ErrTransportClosed) {
			t.Fatalf("expected ErrTransportClosed, got %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("session did not stop")
	}

	s.OnMessage(proto.Envelope{Type: proto.TypeAudio})
}

func TestPlayerIDPlacesLocalBody(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypePlayerID, "3")
	if len(h.local.placed) != 1 || h.local.placed[0] != "3" {
		t.Fatalf("expected local body placed at spawn 3, got %v", h.local.placed)
	}

	h.startGame(t, "1")
	h.deliver(t, proto.TypePlayerID, "4")
	if len(h.local.placed) != 1 {
		t.Fatalf("expected no re-spawn during a game, got %v", h.local.placed)
	}
}

func TestRoundDistanceResetsOnStart(t *testing.T) {
	h := newHarness(t, true)
	h.deliver(t, proto.TypePlayerID, "1")
	h.startGame(t, "2")
	h.local.steps = []arena.Step{{Distance: 3, Points: []proto.Point{{X: 1, Y: 1}}}}
	h.fireTick(t, 50*time.Millisecond)
	if got := h.session.snapshot().Distance; got != 3 {
		t.Fatalf("expected round distance 3, got %v", got)
	}

	h.deliver(t, proto.TypeEndGame, "2")
	h.deliver(t, proto.TypeResetGame, "2")
	h.deliver(t, proto.TypeStartGame, "2")
	if h.session.state != StateGame {
		t.Fatalf("expected a second game, got %s", h.session.state)
	}
	if got := h.session.snapshot().Distance; got != 0 {
		t.Fatalf("expected round distance to restart at 0, got %v", got)
	}
	if h.stats.Distance != 3 {
		t.Fatalf("expected lifetime distance to survive the restart, got %v", h.stats.Distance)
	}
}
