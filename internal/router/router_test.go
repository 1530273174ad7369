package router

import (
	"errors"
	"reflect"
	"testing"

	"lightcycle/internal/net/proto"
)

func recorder(owner string, calls *[]string) Handler {
	return Func(owner, func(env proto.Envelope) error {
		*calls = append(*calls, owner)
		return nil
	})
}

func TestSubscribeIsIdempotentPerOwner(t *testing.T) {
	r := New()
	var calls []string
	if !r.Subscribe(proto.TypeStartGame, recorder("game", &calls)) {
		t.Fatalf("expected first subscription to be added")
	}
	if r.Subscribe(proto.TypeStartGame, recorder("game", &calls)) {
		t.Fatalf("expected duplicate subscription to be ignored")
	}

	delivered, err := r.Dispatch(proto.Envelope{Type: proto.TypeStartGame})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if delivered != 1 || len(calls) != 1 {
		t.Fatalf("expected exactly one delivery, got delivered=%d calls=%v", delivered, calls)
	}
}

func TestDispatchPreservesSubscriptionOrder(t *testing.T) {
	r := New()
	var calls []string
	r.Subscribe(proto.TypePositionUpdate, recorder("2", &calls))
	r.Subscribe(proto.TypePositionUpdate, recorder("1", &calls))
	r.Subscribe(proto.TypePositionUpdate, recorder("3", &calls))

	if _, err := r.Dispatch(proto.Envelope{Type: proto.TypePositionUpdate}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"2", "1", "3"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("expected %v, got %v", want, calls)
	}
	if got := r.Subscribers(proto.TypePositionUpdate); !reflect.DeepEqual(got, []string{"2", "1", "3"}) {
		t.Fatalf("unexpected subscribers %v", got)
	}
}

func TestDispatchWithoutSubscribersIsSilent(t *testing.T) {
	r := New()
	delivered, err := r.Dispatch(proto.Envelope{Type: proto.TypeAudio})
	if delivered != 0 || err != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", delivered, err)
	}
}

func TestUnsubscribe(t *testing.T) {
	r := New()
	var calls []string
	r.Subscribe(proto.TypePositionUpdate, recorder("1", &calls))
	r.Subscribe(proto.TypePositionUpdate, recorder("2", &calls))

	if !r.Unsubscribe(proto.TypePositionUpdate, "1") {
		t.Fatalf("expected unsubscribe to remove the handler")
	}
	if r.Unsubscribe(proto.TypePositionUpdate, "1") {
		t.Fatalf("expected second unsubscribe to be a no-op")
	}
	if r.Unsubscribe(proto.TypeEndGame, "1") {
		t.Fatalf("expected unsubscribe from an unknown topic to be a no-op")
	}
	if r.Subscribed(proto.TypePositionUpdate, "1") {
		t.Fatalf("expected owner 1 to be gone")
	}

	r.Dispatch(proto.Envelope{Type: proto.TypePositionUpdate})
	if !reflect.DeepEqual(calls, []string{"2"}) {
		t.Fatalf("expected only owner 2 to be called, got %v", calls)
	}
}

func TestDispatchIsolatesFailingHandlers(t *testing.T) {
	r := New()
	var calls []string
	boom := errors.New("boom")
	r.Subscribe(proto.TypeEndGame, Func("failing", func(proto.Envelope) error { return boom }))
	r.Subscribe(proto.TypeEndGame, Func("panicking", func(proto.Envelope) error { panic("bad content") }))
	r.Subscribe(proto.TypeEndGame, recorder("healthy", &calls))

	delivered, err := r.Dispatch(proto.Envelope{Type: proto.TypeEndGame})
	if delivered != 3 {
		t.Fatalf("expected all three handlers to be attempted, got %d", delivered)
	}
	if len(calls) != 1 {
		t.Fatalf("expected the healthy handler to run, got %v", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected the handler error to be joined, got %v", err)
	}
	if !errors.Is(err, ErrHandlerPanic) {
		t.Fatalf("expected the panic to be reported, got %v", err)
	}
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) || handlerErr.Type != proto.TypeEndGame {
		t.Fatalf("expected a HandlerError for EndGame, got %v", err)
	}
}

func TestDispatchUsesSnapshotOfHandlers(t *testing.T) {
	r := New()
	var calls []string
	r.Subscribe(proto.TypeRemotePlayerGoodbye, Func("first", func(proto.Envelope) error {
		calls = append(calls, "first")
		r.Unsubscribe(proto.TypeRemotePlayerGoodbye, "second")
		r.Subscribe(proto.TypeRemotePlayerGoodbye, recorder("late", &calls))
		return nil
	}))
	r.Subscribe(proto.TypeRemotePlayerGoodbye, recorder("second", &calls))

	r.Dispatch(proto.Envelope{Type: proto.TypeRemotePlayerGoodbye})
	if want := []string{"first", "second"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("expected snapshot delivery %v, got %v", want, calls)
	}

	calls = nil
	r.Dispatch(proto.Envelope{Type: proto.TypeRemotePlayerGoodbye})
	if want := []string{"first", "late"}; !reflect.DeepEqual(calls, want) {
		t.Fatalf("expected changes to apply to the next envelope %v, got %v", want, calls)
	}
}
