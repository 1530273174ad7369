// Package router delivers envelopes to the handlers subscribed to their type.
//
// A Router is owned by a single goroutine. It does no locking; the session
// event loop is the only caller.
package router

import (
	"errors"
	"fmt"

	"lightcycle/internal/net/proto"
)

// Handler consumes envelopes of the types it is subscribed to. Owner
// identifies the handler for idempotent subscription and for removal.
type Handler interface {
	Owner() string
	HandleEnvelope(env proto.Envelope) error
}

type funcHandler struct {
	owner string
	fn    func(proto.Envelope) error
}

func (h funcHandler) Owner() string                           { return h.owner }
func (h funcHandler) HandleEnvelope(env proto.Envelope) error { return h.fn(env) }

// Func adapts fn into a Handler owned by owner.
func Func(owner string, fn func(proto.Envelope) error) Handler {
	return funcHandler{owner: owner, fn: fn}
}

type topic struct {
	handlers []Handler
}

func (t *topic) index(owner string) int {
	for i, h := range t.handlers {
		if h.Owner() == owner {
			return i
		}
	}
	return -1
}

// Router is the topic subscription table.
type Router struct {
	topics map[proto.MessageType]*topic
}

// New returns an empty router.
func New() *Router {
	return &Router{topics: make(map[proto.MessageType]*topic)}
}

// Subscribe adds h to the handlers of t. A second subscription by the same
// owner is a no-op and reports false.
func (r *Router) Subscribe(t proto.MessageType, h Handler) bool {
	if h == nil {
		return false
	}
	tp, ok := r.topics[t]
	if !ok {
		tp = &topic{}
		r.topics[t] = tp
	}
	if tp.index(h.Owner()) >= 0 {
		return false
	}
	tp.handlers = append(tp.handlers, h)
	return true
}

// Unsubscribe removes the handler owned by owner from t. Unknown owners are
// a no-op.
func (r *Router) Unsubscribe(t proto.MessageType, owner string) bool {
	tp, ok := r.topics[t]
	if !ok {
		return false
	}
	i := tp.index(owner)
	if i < 0 {
		return false
	}
	handlers := make([]Handler, 0, len(tp.handlers)-1)
	handlers = append(handlers, tp.handlers[:i]...)
	handlers = append(handlers, tp.handlers[i+1:]...)
	tp.handlers = handlers
	if len(tp.handlers) == 0 {
		delete(r.topics, t)
	}
	return true
}

// Subscribed reports whether owner is subscribed to t.
func (r *Router) Subscribed(t proto.MessageType, owner string) bool {
	tp, ok := r.topics[t]
	return ok && tp.index(owner) >= 0
}

// Subscribers lists the owners subscribed to t in delivery order.
func (r *Router) Subscribers(t proto.MessageType) []string {
	tp, ok := r.topics[t]
	if !ok {
		return nil
	}
	owners := make([]string, 0, len(tp.handlers))
	for _, h := range tp.handlers {
		owners = append(owners, h.Owner())
	}
	return owners
}

// HandlerError wraps a failure of one handler.
type HandlerError struct {
	Owner string
	Type  proto.MessageType
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for %s: %v", e.Owner, e.Type, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrHandlerPanic is wrapped by the HandlerError of a handler that panicked.
var ErrHandlerPanic = errors.New("handler panicked")

// Dispatch delivers env to every handler subscribed to its type when the call
// starts, in subscription order. Handlers added or removed during delivery
// take effect for the next envelope. A failing handler does not stop delivery
// to the rest; all failures are joined into the returned error.
func (r *Router) Dispatch(env proto.Envelope) (int, error) {
	tp, ok := r.topics[env.Type]
	if !ok || len(tp.handlers) == 0 {
		return 0, nil
	}
	snapshot := append([]Handler(nil), tp.handlers...)

	var errs []error
	for _, h := range snapshot {
		if err := deliver(h, env); err != nil {
			errs = append(errs, &HandlerError{Owner: h.Owner(), Type: env.Type, Err: err})
		}
	}
	return len(snapshot), errors.Join(errs...)
}

func deliver(h Handler, env proto.Envelope) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, recovered)
		}
	}()
	return h.HandleEnvelope(env)
}
