package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyFrame is returned when decoding a zero-length frame.
var ErrEmptyFrame = errors.New("proto: empty frame")

// ErrEmptyContent is returned by DecodeContent when the envelope has no content.
var ErrEmptyContent = errors.New("proto: empty content")

// New builds an envelope stamped with now. A nil content produces an envelope
// without a content field.
func New(t MessageType, destination string, content any, now time.Time) (Envelope, error) {
	env := Envelope{Type: t, Destination: destination, Time: now.UnixMilli()}
	if content == nil {
		return env, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s content: %w", t, err)
	}
	env.Content = raw
	return env, nil
}

// Encode renders the envelope as a JSON frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == TypeUnknown && env.RawType == "" {
		return nil, fmt.Errorf("proto: refusing to encode envelope without a type")
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a JSON frame. Unknown type tags are not an error.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	if len(frame) == 0 {
		return Envelope{}, ErrEmptyFrame
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeContent decodes the envelope content into T.
func DecodeContent[T any](env Envelope) (T, error) {
	var out T
	if len(env.Content) == 0 {
		return out, fmt.Errorf("%w for type %q", ErrEmptyContent, env.TypeName())
	}
	if err := json.Unmarshal(env.Content, &out); err != nil {
		return out, fmt.Errorf("decode %s content: %w", env.TypeName(), err)
	}
	return out, nil
}

// PeerID decodes content carrying a bare peer id. Numeric ids are accepted
// as well as strings.
func PeerID(env Envelope) (string, error) {
	var raw any
	if len(env.Content) == 0 {
		return "", fmt.Errorf("%w for type %q", ErrEmptyContent, env.TypeName())
	}
	if err := json.Unmarshal(env.Content, &raw); err != nil {
		return "", fmt.Errorf("decode %s peer id: %w", env.TypeName(), err)
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("%s: empty peer id", env.TypeName())
		}
		return v, nil
	case float64:
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", fmt.Errorf("%s: unexpected peer id %v", env.TypeName(), raw)
	}
}

// Alert is the content of an Alert envelope.
type Alert struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Point is one trail vertex in field coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Position is the content of a PositionUpdate envelope: the trail segment
// covered since the previous update.
type Position struct {
	Points  []Point `json:"points"`
	Heading float64 `json:"heading"`
}

// WallInactiveDuration decodes WallInactiveTime content, a bare number of
// milliseconds.
func WallInactiveDuration(env Envelope) (time.Duration, error) {
	millis, err := DecodeContent[int64](env)
	if err != nil {
		return 0, err
	}
	if millis < 0 {
		return 0, fmt.Errorf("%s: negative duration %d", env.TypeName(), millis)
	}
	return time.Duration(millis) * time.Millisecond, nil
}
