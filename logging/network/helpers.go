package network

import (
	"context"

	"lightcycle/logging"
)

const (
	// EventEnvelopeSent is emitted for every envelope written to a connection.
	EventEnvelopeSent logging.EventType = "network.envelope_sent"
	// EventEnvelopeReceived is emitted for every envelope read from a connection.
	EventEnvelopeReceived logging.EventType = "network.envelope_received"
	// EventDecodeFailed is emitted when an inbound frame is not a valid envelope.
	EventDecodeFailed logging.EventType = "network.decode_failed"
	// EventConnectionOpened is emitted when a connection becomes usable.
	EventConnectionOpened logging.EventType = "network.connection_opened"
	// EventConnectionClosed is emitted when a connection ends.
	EventConnectionClosed logging.EventType = "network.connection_closed"
	// EventConnectionRejected is emitted when the relay refuses a client.
	EventConnectionRejected logging.EventType = "network.connection_rejected"
	// EventRateLimited is emitted when inbound envelopes exceed the allowed rate.
	EventRateLimited logging.EventType = "network.rate_limited"
)

// EnvelopePayload summarises an envelope without its content.
type EnvelopePayload struct {
	Type        string `json:"type"`
	Destination string `json:"destination,omitempty"`
	From        string `json:"from,omitempty"`
	Bytes       int    `json:"bytes"`
}

// DecodeFailedPayload carries the decoder error.
type DecodeFailedPayload struct {
	Error string `json:"error"`
	Bytes int    `json:"bytes"`
}

// ConnectionPayload describes a connection state change.
type ConnectionPayload struct {
	Remote string `json:"remote,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EnvelopeSent publishes a debug event for an outbound envelope.
func EnvelopeSent(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload EnvelopePayload, extra map[string]any) {
	publish(ctx, pub, EventEnvelopeSent, logging.SeverityDebug, actor, payload, extra)
}

// EnvelopeReceived publishes a debug event for an inbound envelope.
func EnvelopeReceived(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload EnvelopePayload, extra map[string]any) {
	publish(ctx, pub, EventEnvelopeReceived, logging.SeverityDebug, actor, payload, extra)
}

// DecodeFailed publishes a warning for a malformed frame.
func DecodeFailed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload DecodeFailedPayload, extra map[string]any) {
	publish(ctx, pub, EventDecodeFailed, logging.SeverityWarn, actor, payload, extra)
}

// ConnectionOpened publishes an info event when a connection opens.
func ConnectionOpened(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload, extra map[string]any) {
	publish(ctx, pub, EventConnectionOpened, logging.SeverityInfo, actor, payload, extra)
}

// ConnectionClosed publishes an info event when a connection ends.
func ConnectionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload, extra map[string]any) {
	publish(ctx, pub, EventConnectionClosed, logging.SeverityInfo, actor, payload, extra)
}

// ConnectionRejected publishes a warning when admission is refused.
func ConnectionRejected(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionPayload, extra map[string]any) {
	publish(ctx, pub, EventConnectionRejected, logging.SeverityWarn, actor, payload, extra)
}

// RateLimited publishes a warning for a dropped inbound envelope.
func RateLimited(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload EnvelopePayload, extra map[string]any) {
	publish(ctx, pub, EventRateLimited, logging.SeverityWarn, actor, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, t logging.EventType, sev logging.Severity, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     t,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	}
	if trace, ok := extra["traceId"].(string); ok {
		event.TraceID = trace
	}
	pub.Publish(ctx, event)
}
