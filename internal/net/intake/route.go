package intake

import (
	"time"

	"lightcycle/internal/net/proto"
)

// Audience selects which connected peers receive a staged delivery.
type Audience uint8

const (
	AudienceSender Audience = iota
	AudienceEveryone
	AudienceAllButSender
)

func (a Audience) String() string {
	switch a {
	case AudienceSender:
		return "sender"
	case AudienceEveryone:
		return "everyone"
	case AudienceAllButSender:
		return "everyone-but-sender"
	default:
		return "unknown"
	}
}

// GameTransition reports how a delivery changes the relay's game flag.
type GameTransition uint8

const (
	GameUnchanged GameTransition = iota
	GameActivated
	GameDeactivated
)

const (
	RejectUnknownType    = "unknown_type"
	RejectNotRequest     = "not_request"
	RejectUnknownPeer    = "unknown_peer"
	RejectMissingContent = "missing_content"
)

// Delivery is the broadcast produced from one inbound request.
type Delivery struct {
	Envelope   proto.Envelope
	Audience   Audience
	Transition GameTransition
}

type RouteContext struct {
	HasPeer func(string) bool
	Now     func() time.Time
}

type route struct {
	outbound    proto.MessageType
	audience    Audience
	passthrough bool
	transition  GameTransition
}

var routes = map[proto.MessageType]route{
	proto.TypeRequestPlayerID:          {outbound: proto.TypePlayerID, audience: AudienceSender},
	proto.TypeRequestRemotePlayerHello: {outbound: proto.TypeRemotePlayerHello, audience: AudienceAllButSender},
	proto.TypeRequestStartGame:         {outbound: proto.TypeStartGame, audience: AudienceEveryone, transition: GameActivated},
	proto.TypeRequestPositionUpdate:    {outbound: proto.TypePositionUpdate, audience: AudienceAllButSender, passthrough: true},
	proto.TypeRequestRemotePlayerDeath: {outbound: proto.TypeRemotePlayerDeath, audience: AudienceAllButSender},
	proto.TypeRequestEndGame:           {outbound: proto.TypeEndGame, audience: AudienceEveryone},
	proto.TypeRequestResetGame:         {outbound: proto.TypeResetGame, audience: AudienceEveryone, transition: GameDeactivated},
	proto.TypeWallInactiveTime:         {outbound: proto.TypeWallInactiveTime, audience: AudienceEveryone, passthrough: true},
}

// StageRequest maps a client request onto the delivery the relay fans out.
// Identity-bearing contents are replaced with the sender id so a client can
// never speak for another peer.
func StageRequest(ctx RouteContext, senderID string, env proto.Envelope) (Delivery, bool, string) {
	var zero Delivery

	r, ok := routes[env.Type]
	if !ok {
		if env.Type.Valid() && !env.Type.IsRequest() {
			return zero, false, RejectNotRequest
		}
		return zero, false, RejectUnknownType
	}

	if ctx.HasPeer != nil && !ctx.HasPeer(senderID) {
		return zero, false, RejectUnknownPeer
	}

	now := time.Now()
	if ctx.Now != nil {
		now = ctx.Now()
	}

	out := proto.Envelope{
		Type:        r.outbound,
		Destination: destination(r.audience, senderID),
		Time:        now.UnixMilli(),
		From:        senderID,
	}
	if r.passthrough {
		if len(env.Content) == 0 {
			return zero, false, RejectMissingContent
		}
		out.Content = append([]byte(nil), env.Content...)
	} else {
		stamped, err := proto.New(r.outbound, out.Destination, senderID, now)
		if err != nil {
			return zero, false, RejectMissingContent
		}
		out.Content = stamped.Content
	}

	return Delivery{Envelope: out, Audience: r.audience, Transition: r.transition}, true, ""
}

func destination(a Audience, senderID string) string {
	switch a {
	case AudienceSender:
		return senderID
	case AudienceAllButSender:
		return proto.DestinationAllBut(senderID)
	default:
		return proto.DestinationEveryone
	}
}
