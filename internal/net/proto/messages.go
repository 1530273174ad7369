package proto

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the routing tag carried by every envelope.
type MessageType uint8

// Messages delivered by the relay to clients.
const (
	TypeUnknown MessageType = iota
	TypeAlert
	TypePlayerID
	TypeRemotePlayerHello
	TypeRemotePlayerGoodbye
	TypeRemotePlayerDeath
	TypePositionUpdate
	TypeStartGame
	TypeEndGame
	TypeResetGame
	TypeWallInactiveTime
	TypeAudio

	// Requests sent by clients to the relay.
	TypeRequestPlayerID
	TypeRequestRemotePlayerHello
	TypeRequestPositionUpdate
	TypeRequestRemotePlayerDeath
	TypeRequestStartGame
	TypeRequestEndGame
	TypeRequestResetGame

	typeCount
)

// TypeCount is the number of message types, TypeUnknown included. It sizes
// dispatch tables indexed by MessageType.
const TypeCount = int(typeCount)

var typeNames = [typeCount]string{
	TypeUnknown:                  "Unknown",
	TypeAlert:                    "Alert",
	TypePlayerID:                 "PlayerId",
	TypeRemotePlayerHello:        "RemotePlayerHello",
	TypeRemotePlayerGoodbye:      "RemotePlayerGoodbye",
	TypeRemotePlayerDeath:        "RemotePlayerDeath",
	TypePositionUpdate:           "PositionUpdate",
	TypeStartGame:                "StartGame",
	TypeEndGame:                  "EndGame",
	TypeResetGame:                "ResetGame",
	TypeWallInactiveTime:         "WallInactiveTime",
	TypeAudio:                    "Audio",
	TypeRequestPlayerID:          "RequestPlayerId",
	TypeRequestRemotePlayerHello: "RequestRemotePlayerHello",
	TypeRequestPositionUpdate:    "RequestPositionUpdate",
	TypeRequestRemotePlayerDeath: "RequestRemotePlayerDeath",
	TypeRequestStartGame:         "RequestStartGame",
	TypeRequestEndGame:           "RequestEndGame",
	TypeRequestResetGame:         "RequestResetGame",
}

var typesByName = func() map[string]MessageType {
	index := make(map[string]MessageType, len(typeNames))
	for i, name := range typeNames {
		if MessageType(i) == TypeUnknown {
			continue
		}
		index[name] = MessageType(i)
	}
	return index
}()

// ParseMessageType resolves a wire tag. Unrecognised tags report false and
// resolve to TypeUnknown.
func ParseMessageType(name string) (MessageType, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// String returns the wire tag for the type.
func (t MessageType) String() string {
	if t >= typeCount {
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
	return typeNames[t]
}

// Valid reports whether the type is a known, non-Unknown tag.
func (t MessageType) Valid() bool {
	return t > TypeUnknown && t < typeCount
}

// IsRequest reports whether clients send this type to the relay.
func (t MessageType) IsRequest() bool {
	return t >= TypeRequestPlayerID && t < typeCount
}

// MarshalText encodes the type as its wire tag.
func (t MessageType) MarshalText() ([]byte, error) {
	if t >= typeCount {
		return nil, fmt.Errorf("invalid message type %d", uint8(t))
	}
	return []byte(typeNames[t]), nil
}

// UnmarshalText never fails: unknown tags decode to TypeUnknown so that the
// receiver can log them instead of dropping the frame as malformed.
func (t *MessageType) UnmarshalText(text []byte) error {
	parsed, _ := ParseMessageType(string(text))
	*t = parsed
	return nil
}

// Destinations written into envelopes. Clients address everything to
// DestinationGlobal; the relay rewrites it to describe the audience.
const (
	DestinationGlobal   = "Global"
	DestinationEveryone = "everyone"
)

// DestinationAllBut names the audience that excludes id.
func DestinationAllBut(id string) string {
	return "everyone-but-" + id
}

// Envelope is one unit of the wire protocol. Content stays raw until a
// handler decodes it with DecodeContent.
type Envelope struct {
	Type        MessageType     `json:"type"`
	Destination string          `json:"destination"`
	Content     json.RawMessage `json:"content,omitempty"`
	Time        int64           `json:"time"`
	// From is stamped by the relay with the sender's assigned id.
	From string `json:"from,omitempty"`
	// RawType keeps the original tag when Type is TypeUnknown.
	RawType string `json:"-"`
}

// TypeName returns the tag as received, falling back to the enum name.
func (e Envelope) TypeName() string {
	if e.Type == TypeUnknown && e.RawType != "" {
		return e.RawType
	}
	return e.Type.String()
}

type wireEnvelope struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Content     json.RawMessage `json:"content,omitempty"`
	Time        int64           `json:"time"`
	From        string          `json:"from,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Type:        e.TypeName(),
		Destination: e.Destination,
		Content:     e.Content,
		Time:        e.Time,
		From:        e.From,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	parsed, ok := ParseMessageType(wire.Type)
	*e = Envelope{
		Type:        parsed,
		Destination: wire.Destination,
		Content:     wire.Content,
		Time:        wire.Time,
		From:        wire.From,
	}
	if !ok {
		e.RawType = wire.Type
	}
	return nil
}
