// Package peers tracks the local player and every remote peer announced by
// the relay.
package peers

import (
	"context"
	"errors"
	"fmt"

	"lightcycle/internal/arena"
	"lightcycle/internal/net/proto"
	"lightcycle/internal/router"
	"lightcycle/logging"
	"lightcycle/logging/lifecycle"
)

// LocalID is the reserved id of the local player.
const LocalID = "local"

// ErrLocalAlreadyAdmitted reports a second AdmitLocal call.
var ErrLocalAlreadyAdmitted = errors.New("peers: local player already admitted")

// Peer is one participant. Body is driven by the game session.
type Peer struct {
	ID    string
	Alive bool
	Body  arena.Body
}

// Hooks let the owner react to membership changes.
type Hooks struct {
	// Announce is called after a new remote peer is admitted so that the
	// local player says hello back.
	Announce func()
	// Departing is called with a peer that is about to be removed, while it
	// is still part of the registry.
	Departing func(p *Peer)
	// Changed is called with the remote ids after every admission or removal.
	Changed func(ids []string)
}

// Registry holds the local peer and the remote peers in admission order. It
// is owned by the session goroutine.
type Registry struct {
	router    *router.Router
	newBody   arena.BodyFactory
	hooks     Hooks
	publisher logging.Publisher
	local     *Peer
	remote    []*Peer
	selfID    string
}

// New returns an empty registry that subscribes remote peers on r.
func New(r *router.Router, newBody arena.BodyFactory, hooks Hooks, publisher logging.Publisher) *Registry {
	if newBody == nil {
		newBody = func(string) arena.Body { return arena.StaticBody{} }
	}
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Registry{router: r, newBody: newBody, hooks: hooks, publisher: publisher}
}

// SetSelfID records the id the relay assigned to this client. Envelopes
// naming it refer to the local peer.
func (r *Registry) SetSelfID(id string) {
	r.selfID = id
}

// SelfID returns the relay-assigned id, empty until known.
func (r *Registry) SelfID() string {
	return r.selfID
}

// IsLocal reports whether id names the local peer.
func (r *Registry) IsLocal(id string) bool {
	return id == LocalID || (r.selfID != "" && id == r.selfID)
}

// AdmitLocal creates the local peer. It may be called once.
func (r *Registry) AdmitLocal(body arena.Body) (*Peer, error) {
	if r.local != nil {
		return nil, ErrLocalAlreadyAdmitted
	}
	if body == nil {
		body = arena.StaticBody{}
	}
	r.local = &Peer{ID: LocalID, Alive: true, Body: body}
	return r.local, nil
}

// AdmitRemote creates a remote peer for id. It reports false without side
// effects when id is the local peer or already known.
func (r *Registry) AdmitRemote(id string) (*Peer, bool) {
	if id == "" || r.IsLocal(id) {
		return nil, false
	}
	if _, ok := r.findRemote(id); ok {
		return nil, false
	}

	peer := &Peer{ID: id, Alive: true, Body: r.newBody(id)}
	r.remote = append(r.remote, peer)
	if r.router != nil {
		r.router.Subscribe(proto.TypePositionUpdate, positionHandler(peer))
	}

	lifecycle.PeerJoined(context.Background(), r.publisher, 0, logging.PeerRef(id), lifecycle.PeerJoinedPayload{RemoteCount: len(r.remote)}, nil)

	if r.hooks.Announce != nil {
		r.hooks.Announce()
	}
	r.changed()
	return peer, true
}

func positionHandler(peer *Peer) router.Handler {
	return router.Func(peer.ID, func(env proto.Envelope) error {
		if env.From != "" && env.From != peer.ID {
			return nil
		}
		if err := peer.Body.ApplyPosition(env.Content); err != nil {
			return fmt.Errorf("position update for %s: %w", peer.ID, err)
		}
		return nil
	})
}

// MarkDead marks the local or a remote peer dead. Unknown ids report false.
func (r *Registry) MarkDead(id string) bool {
	peer, ok := r.Lookup(id)
	if !ok {
		return false
	}
	peer.Alive = false
	return true
}

// Remove drops the remote peer id, firing Hooks.Departing first.
func (r *Registry) Remove(id string) (*Peer, bool) {
	i, ok := r.findRemote(id)
	if !ok {
		return nil, false
	}
	peer := r.remote[i]
	if r.hooks.Departing != nil {
		r.hooks.Departing(peer)
	}

	// Departing may have run arbitrary session logic; locate the peer again.
	i, ok = r.findRemote(id)
	if !ok {
		return peer, true
	}
	r.remote = append(r.remote[:i:i], r.remote[i+1:]...)
	if r.router != nil {
		r.router.Unsubscribe(proto.TypePositionUpdate, id)
	}
	lifecycle.PeerLeft(context.Background(), r.publisher, 0, logging.PeerRef(id), lifecycle.PeerLeftPayload{Reason: "goodbye", RemoteCount: len(r.remote)}, nil)
	r.changed()
	return peer, true
}

// Lookup returns the peer with id, local included.
func (r *Registry) Lookup(id string) (*Peer, bool) {
	if r.IsLocal(id) {
		return r.local, r.local != nil
	}
	i, ok := r.findRemote(id)
	if !ok {
		return nil, false
	}
	return r.remote[i], true
}

// Local returns the local peer, nil before AdmitLocal.
func (r *Registry) Local() *Peer {
	return r.local
}

// Remote returns the remote peers in admission order.
func (r *Registry) Remote() []*Peer {
	return append([]*Peer(nil), r.remote...)
}

// RemoteIDs returns the remote peer ids in admission order.
func (r *Registry) RemoteIDs() []string {
	ids := make([]string, 0, len(r.remote))
	for _, p := range r.remote {
		ids = append(ids, p.ID)
	}
	return ids
}

// AllRemoteDead reports whether no remote peer is alive. It is true when
// there are no remote peers.
func (r *Registry) AllRemoteDead() bool {
	for _, p := range r.remote {
		if p.Alive {
			return false
		}
	}
	return true
}

// ResetAll returns every body to its spawn state and revives every peer.
func (r *Registry) ResetAll() {
	if r.local != nil {
		r.local.Body.Reset()
		r.local.Alive = true
	}
	for _, p := range r.remote {
		p.Body.Reset()
		p.Alive = true
	}
}

// FlushRemoteDraws flushes the pending draws of every remote body.
func (r *Registry) FlushRemoteDraws() {
	for _, p := range r.remote {
		p.Body.FlushPendingDraws()
	}
}

func (r *Registry) findRemote(id string) (int, bool) {
	for i, p := range r.remote {
		if p.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (r *Registry) changed() {
	if r.hooks.Changed != nil {
		r.hooks.Changed(r.RemoteIDs())
	}
}
