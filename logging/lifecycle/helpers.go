package lifecycle

import (
	"context"

	"lightcycle/logging"
)

const (
	// EventPeerJoined is emitted when a remote peer is admitted after its hello.
	EventPeerJoined logging.EventType = "lifecycle.peer_joined"
	// EventPeerLeft is emitted when a peer's goodbye removes it.
	EventPeerLeft logging.EventType = "lifecycle.peer_left"
	// EventPeerDied is emitted when a peer is marked dead.
	EventPeerDied logging.EventType = "lifecycle.peer_died"
)

// PeerJoinedPayload describes the registry after an admission.
type PeerJoinedPayload struct {
	RemoteCount int `json:"remoteCount"`
}

// PeerLeftPayload captures why a peer went away.
type PeerLeftPayload struct {
	Reason      string `json:"reason"`
	RemoteCount int    `json:"remoteCount"`
}

// PeerDiedPayload records where the death was observed.
type PeerDiedPayload struct {
	Source string `json:"source"`
}

// PeerJoined publishes a peer join event.
func PeerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerJoined, logging.SeverityInfo, tick, actor, payload, extra)
}

// PeerLeft publishes a peer departure event.
func PeerLeft(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerLeftPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerLeft, logging.SeverityInfo, tick, actor, payload, extra)
}

// PeerDied publishes a peer death event.
func PeerDied(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerDiedPayload, extra map[string]any) {
	publish(ctx, pub, EventPeerDied, logging.SeverityInfo, tick, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, t logging.EventType, sev logging.Severity, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     t,
		Tick:     tick,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	})
}
