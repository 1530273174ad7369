package game

import (
	"context"

	"lightcycle/internal/arena"
	"lightcycle/internal/net/proto"
	"lightcycle/internal/peers"
	"lightcycle/logging"
	"lightcycle/logging/lifecycle"
	"lightcycle/logging/session"
)

type envelopeHandler func(s *Session, env proto.Envelope) error

// gameHandlers is the session's dispatch table, indexed by message type.
// Filled in init: the handlers reach back into the table via subscribe.
var gameHandlers [proto.TypeCount]envelopeHandler

func init() {
	gameHandlers = [proto.TypeCount]envelopeHandler{
		proto.TypeAlert:               (*Session).onAlert,
		proto.TypePlayerID:            (*Session).onPlayerID,
		proto.TypeRemotePlayerHello:   (*Session).onRemotePlayerHello,
		proto.TypeRemotePlayerDeath:   (*Session).onRemotePlayerDeath,
		proto.TypeRemotePlayerGoodbye: (*Session).onRemotePlayerGoodbye,
		proto.TypeStartGame:           (*Session).onStartGame,
		proto.TypeEndGame:             (*Session).onEndGame,
		proto.TypeResetGame:           (*Session).onResetGame,
		proto.TypeWallInactiveTime:    (*Session).onWallInactiveTime,
		proto.TypeAudio:               (*Session).onAudio,
	}
}

// lobbyTopics are subscribed during setup. WallInactiveTime joins on the
// first StartGame and ResetGame on the first EndGame.
var lobbyTopics = []proto.MessageType{
	proto.TypeAlert,
	proto.TypePlayerID,
	proto.TypeRemotePlayerHello,
	proto.TypeRemotePlayerDeath,
	proto.TypeRemotePlayerGoodbye,
	proto.TypeStartGame,
	proto.TypeEndGame,
	proto.TypeAudio,
}

func (s *Session) handleGameEnvelope(env proto.Envelope) error {
	if int(env.Type) >= len(gameHandlers) {
		return nil
	}
	handler := gameHandlers[env.Type]
	if handler == nil {
		s.cfg.Logger.Printf("unknown message type %q", env.TypeName())
		return nil
	}
	return handler(s, env)
}

func (s *Session) ignore(env proto.Envelope, reason string) {
	session.IgnoredMessage(context.Background(), s.cfg.Publisher, s.frame, session.MessagePayload{
		Type:   env.TypeName(),
		From:   env.From,
		State:  s.state.String(),
		Reason: reason,
	}, nil)
}

func (s *Session) onAlert(env proto.Envelope) error {
	alert, err := proto.DecodeContent[proto.Alert](env)
	if err != nil {
		return err
	}
	s.cfg.UI.Notify(alert.Title, alert.Text)
	return nil
}

func (s *Session) onPlayerID(env proto.Envelope) error {
	id, err := proto.PeerID(env)
	if err != nil {
		return err
	}
	s.registry.SetSelfID(id)
	s.cfg.Logger.Printf("relay assigned id %s", id)
	if body, ok := s.cfg.LocalBody.(arena.Placeable); ok && s.state != StateGame {
		body.Place(id)
	}
	return nil
}

func (s *Session) onRemotePlayerHello(env proto.Envelope) error {
	id, err := proto.PeerID(env)
	if err != nil {
		return err
	}
	if _, ok := s.registry.AdmitRemote(id); !ok {
		s.ignore(env, "peer already known")
	}
	return nil
}

func (s *Session) onRemotePlayerDeath(env proto.Envelope) error {
	id, err := proto.PeerID(env)
	if err != nil {
		return err
	}
	if !s.registry.MarkDead(id) {
		s.ignore(env, "unknown peer")
		return nil
	}
	lifecycle.PeerDied(context.Background(), s.cfg.Publisher, s.frame, logging.PeerRef(id), lifecycle.PeerDiedPayload{Source: "remote"}, nil)
	s.evaluateWin()
	return nil
}

func (s *Session) onRemotePlayerGoodbye(env proto.Envelope) error {
	id, err := proto.PeerID(env)
	if err != nil {
		return err
	}
	if _, ok := s.registry.Remove(id); !ok {
		s.ignore(env, "unknown peer")
	}
	return nil
}

// departing runs before a peer is removed. Leaving mid-game counts as a death.
func (s *Session) departing(p *peers.Peer) {
	if s.state != StateGame {
		return
	}
	p.Alive = false
	s.evaluateWin()
}

func (s *Session) onStartGame(env proto.Envelope) error {
	if s.state != StateLobby {
		s.ignore(env, "not in lobby")
		return nil
	}
	s.setState(StateGame)
	s.resetRequested = false
	s.endClaimed = false
	s.frame = 0
	s.roundDistance = 0
	s.lastUpdate = s.cfg.Clock.Now()
	s.cfg.UI.Clear()
	s.startTick()
	s.subscribe(proto.TypeWallInactiveTime)
	return nil
}

func (s *Session) onTick(generation uint64) {
	if generation != s.generation || s.state != StateGame {
		return
	}
	now := s.cfg.Clock.Now()
	delta := now.Sub(s.lastUpdate)
	s.lastUpdate = now
	s.frame++
	if delta > 3*s.cfg.FrameTime {
		session.TickOverrun(context.Background(), s.cfg.Publisher, s.frame, session.TickOverrunPayload{
			DeltaMillis: delta.Milliseconds(),
			FrameMillis: s.cfg.FrameTime.Milliseconds(),
		}, nil)
	}

	if local := s.registry.Local(); local != nil && local.Alive {
		step := local.Body.Advance(delta, s.cfg.Input.CurrentDirection())
		if step.Distance > 0 {
			s.roundDistance += step.Distance
			s.cfg.Stats.AddDistance(step.Distance)
		}
		if len(step.Points) > 0 {
			s.send(proto.TypeRequestPositionUpdate, proto.Position{Points: step.Points, Heading: step.Heading})
		}
		if step.Crashed {
			s.onLocalCrash()
		}
	}
	s.registry.FlushRemoteDraws()
}

func (s *Session) onLocalCrash() {
	local := s.registry.Local()
	local.Alive = false
	lifecycle.PeerDied(context.Background(), s.cfg.Publisher, s.frame, logging.PeerRef(peers.LocalID), lifecycle.PeerDiedPayload{Source: "crash"}, nil)
	s.send(proto.TypeRequestRemotePlayerDeath, s.localWireID())
	s.cfg.UI.UpdateStats(s.cfg.Stats.WinCount(), s.cfg.Stats.DistanceTraveled())
	s.evaluateWin()
}

// evaluateWin claims the win when the local player is the last one alive.
// Each client decides from its own registry; there is no arbitration.
func (s *Session) evaluateWin() {
	if s.state != StateGame || s.endClaimed {
		return
	}
	local := s.registry.Local()
	if local == nil || !local.Alive || !s.registry.AllRemoteDead() {
		return
	}
	s.endClaimed = true
	s.cfg.Audio.PlayGameEnd()
	winner := s.localWireID()
	session.EndGameClaimed(context.Background(), s.cfg.Publisher, s.frame, session.EndGameClaimedPayload{
		Winner:      winner,
		RemoteCount: len(s.registry.Remote()),
	}, nil)
	s.send(proto.TypeRequestEndGame, winner)
}

// localWireID names the local player on the wire: the relay-assigned id when
// known. The relay stamps the sender id regardless.
func (s *Session) localWireID() string {
	if id := s.registry.SelfID(); id != "" {
		return id
	}
	return peers.LocalID
}

func (s *Session) onEndGame(env proto.Envelope) error {
	if s.state != StateGame {
		s.ignore(env, "no game running")
		return nil
	}
	winner, err := proto.PeerID(env)
	if err != nil {
		s.cfg.Logger.Printf("end game without a readable winner: %v", err)
	}

	text := "You lose."
	if winner != "" && s.registry.IsLocal(winner) {
		if err := s.cfg.Stats.RecordWin(); err != nil {
			s.cfg.Logger.Printf("recording win: %v", err)
		}
		text = "You win."
		if local := s.registry.Local(); local != nil {
			local.Alive = false
		}
	}
	s.cfg.UI.UpdateStats(s.cfg.Stats.WinCount(), s.cfg.Stats.DistanceTraveled())
	s.cfg.UI.Notify("Game over", text)
	s.cfg.Logger.Printf("round over after %.0f units", s.roundDistance)

	s.stopTick()
	s.setState(StateLobbyGameOver)
	s.subscribe(proto.TypeResetGame)
	return nil
}

func (s *Session) onResetGame(env proto.Envelope) error {
	if s.state != StateLobbyGameOver {
		s.ignore(env, "game not over")
		return nil
	}
	s.registry.ResetAll()
	s.cfg.UI.Clear()
	s.startRequested = false
	s.resetRequested = false
	s.setState(StateLobby)
	s.cfg.UI.RefreshPeerList(s.registry.RemoteIDs())
	return nil
}

func (s *Session) onWallInactiveTime(env proto.Envelope) error {
	d, err := proto.WallInactiveDuration(env)
	if err != nil {
		return err
	}
	s.cfg.PowerUps.AddWallInactiveTime(d)
	return nil
}

// onAudio accepts the cue so it is not reported as unhandled; there is
// nothing to play for it.
func (s *Session) onAudio(proto.Envelope) error {
	return nil
}

func (s *Session) requestStart() {
	if s.startRequested || s.state != StateLobby || !s.ready {
		return
	}
	s.startRequested = true
	s.send(proto.TypeRequestStartGame, nil)
}

func (s *Session) requestReset() {
	if s.resetRequested || s.state != StateLobbyGameOver {
		return
	}
	s.resetRequested = true
	s.send(proto.TypeRequestResetGame, nil)
}
