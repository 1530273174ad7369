package logging

import (
	"context"
	"time"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// String returns the lower-case severity name used by the sinks.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a level name to a Severity.
func ParseSeverity(name string) (Severity, bool) {
	switch name {
	case "debug":
		return SeverityDebug, true
	case "info", "":
		return SeverityInfo, true
	case "warn", "warning":
		return SeverityWarn, true
	case "error":
		return SeverityError, true
	default:
		return SeverityInfo, false
	}
}

type EntityKind string

const (
	EntityKindUnknown    EntityKind = "unknown"
	EntityKindPeer       EntityKind = "peer"
	EntityKindLocal      EntityKind = "local"
	EntityKindRelay      EntityKind = "relay"
	EntityKindConnection EntityKind = "connection"
	EntityKindSession    EntityKind = "session"
)

// Event is one structured log record. Tick is the session frame counter when
// the event comes from a running game, zero otherwise.
type Event struct {
	Type     EventType      `json:"type"`
	Tick     uint64         `json:"tick"`
	Time     time.Time      `json:"time"`
	Actor    EntityRef      `json:"actor"`
	Targets  []EntityRef    `json:"targets,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
	TraceID  string         `json:"traceId,omitempty"`
}

type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

// PeerRef references a peer by id, mapping the reserved local id to the
// local kind.
func PeerRef(id string) EntityRef {
	if id == "local" {
		return EntityRef{ID: id, Kind: EntityKindLocal}
	}
	return EntityRef{ID: id, Kind: EntityKindPeer}
}

const (
	CategoryLifecycle = "lifecycle"
	CategoryNetwork   = "network"
	CategorySession   = "session"
	CategorySystem    = "system"
)

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func NopPublisher() Publisher {
	return nopPublisher{}
}

type fieldPublisher struct {
	next   Publisher
	fields map[string]any
}

func (p *fieldPublisher) Publish(ctx context.Context, event Event) {
	event = mergeFields(event, p.fields)
	if trace, ok := event.Extra["traceId"].(string); ok && event.TraceID == "" {
		event.TraceID = trace
	}
	p.next.Publish(ctx, event)
}

// mergeFields copies fields into the event extras without overriding keys the
// event already carries.
func mergeFields(event Event, fields map[string]any) Event {
	if len(fields) == 0 {
		return event
	}
	event = event.Clone()
	if event.Extra == nil {
		event.Extra = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		if _, exists := event.Extra[k]; !exists {
			event.Extra[k] = v
		}
	}
	return event
}

// Clone returns a copy that shares no slices or maps with e.
func (e Event) Clone() Event {
	cloned := e
	if len(e.Targets) > 0 {
		cloned.Targets = append([]EntityRef(nil), e.Targets...)
	}
	if e.Extra != nil {
		copied := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}

// WithFields decorates p so that every event carries fields in Extra.
func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return &fieldPublisher{next: p, fields: copied}
}
