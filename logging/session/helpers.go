package session

import (
	"context"

	"lightcycle/logging"
)

const (
	// EventStateChanged is emitted on every game state transition.
	EventStateChanged logging.EventType = "session.state_changed"
	// EventEndGameClaimed is emitted when the local player claims the win.
	EventEndGameClaimed logging.EventType = "session.end_game_claimed"
	// EventUnhandledMessage is emitted when no subscriber received an envelope.
	EventUnhandledMessage logging.EventType = "session.unhandled_message"
	// EventHandlerFailed is emitted when a subscriber returns an error.
	EventHandlerFailed logging.EventType = "session.handler_failed"
	// EventIgnoredMessage is emitted when an envelope arrives in a state that does not accept it.
	EventIgnoredMessage logging.EventType = "session.ignored_message"
	// EventSetupDeferred is emitted when setup waits for the transport.
	EventSetupDeferred logging.EventType = "session.setup_deferred"
	// EventTickOverrun is emitted when a frame took much longer than the frame time.
	EventTickOverrun logging.EventType = "session.tick_overrun"
)

// StateChangedPayload records a transition.
type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// EndGameClaimedPayload records the claim.
type EndGameClaimedPayload struct {
	Winner      string `json:"winner"`
	RemoteCount int    `json:"remoteCount"`
}

// MessagePayload names the envelope involved.
type MessagePayload struct {
	Type   string `json:"type"`
	From   string `json:"from,omitempty"`
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SetupDeferredPayload records a setup retry.
type SetupDeferredPayload struct {
	Attempt    int   `json:"attempt"`
	RetryAfter int64 `json:"retryAfterMillis"`
}

// TickOverrunPayload captures a slow frame.
type TickOverrunPayload struct {
	DeltaMillis int64 `json:"deltaMillis"`
	FrameMillis int64 `json:"frameMillis"`
}

// StateChanged publishes a state transition.
func StateChanged(ctx context.Context, pub logging.Publisher, tick uint64, payload StateChangedPayload, extra map[string]any) {
	publish(ctx, pub, EventStateChanged, logging.SeverityInfo, tick, payload, extra)
}

// EndGameClaimed publishes the local end-game claim.
func EndGameClaimed(ctx context.Context, pub logging.Publisher, tick uint64, payload EndGameClaimedPayload, extra map[string]any) {
	publish(ctx, pub, EventEndGameClaimed, logging.SeverityInfo, tick, payload, extra)
}

// UnhandledMessage publishes a warning for an envelope nobody consumed.
func UnhandledMessage(ctx context.Context, pub logging.Publisher, tick uint64, payload MessagePayload, extra map[string]any) {
	publish(ctx, pub, EventUnhandledMessage, logging.SeverityWarn, tick, payload, extra)
}

// HandlerFailed publishes an error returned by a subscriber.
func HandlerFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload MessagePayload, extra map[string]any) {
	publish(ctx, pub, EventHandlerFailed, logging.SeverityWarn, tick, payload, extra)
}

// IgnoredMessage publishes a debug event for an out-of-state envelope.
func IgnoredMessage(ctx context.Context, pub logging.Publisher, tick uint64, payload MessagePayload, extra map[string]any) {
	publish(ctx, pub, EventIgnoredMessage, logging.SeverityDebug, tick, payload, extra)
}

// SetupDeferred publishes a setup retry.
func SetupDeferred(ctx context.Context, pub logging.Publisher, payload SetupDeferredPayload, extra map[string]any) {
	publish(ctx, pub, EventSetupDeferred, logging.SeverityInfo, 0, payload, extra)
}

// TickOverrun publishes a slow frame warning.
func TickOverrun(ctx context.Context, pub logging.Publisher, tick uint64, payload TickOverrunPayload, extra map[string]any) {
	publish(ctx, pub, EventTickOverrun, logging.SeverityWarn, tick, payload, extra)
}

func publish(ctx context.Context, pub logging.Publisher, t logging.EventType, sev logging.Severity, tick uint64, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     t,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: "local", Kind: logging.EntityKindSession},
		Severity: sev,
		Category: logging.CategorySession,
		Payload:  payload,
		Extra:    extra,
	})
}
