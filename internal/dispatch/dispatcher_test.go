package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/keskad/xpressnet-gateway/internal/hub"
	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *xpressnet.MockController) {
	t.Helper()
	store := xpressnet.NewStore()
	h := hub.New()
	var ctrl *xpressnet.MockController
	ctrl = xpressnet.NewMockController(store, func(ev xpressnet.Event) {
		New(ctrl, store, h).HandleEvent(ev)
	})
	return New(ctrl, store, h), ctrl
}

func TestDispatch_ThrottleAcksThenBroadcasts(t *testing.T) {
	d, _ := newTestDispatcher(t)
	cl := &hub.Client{Out: make(chan []byte, 4), Closed: make(chan struct{})}
	d.Hub.Add(cl)
	defer d.Hub.Remove(cl)

	var got Envelope
	d.Dispatch(context.Background(), []byte(`{"action":"throttle","train_number":3,"speed":40,"direction":"forward"}`), func(e Envelope) {
		got = e
	})
	if got.StatusCode != 200 || got.Action != "throttle" {
		t.Fatalf("unexpected ack envelope: %+v", got)
	}

	select {
	case msg := <-cl.Out:
		var e Envelope
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("broadcast not valid json: %v", err)
		}
		if e.StatusCode != 200 || e.Action != "throttle" {
			t.Fatalf("unexpected broadcast envelope: %+v", e)
		}
	default:
		t.Fatalf("expected a broadcast from the mock controller's throttle update")
	}
}

func TestDispatch_UnknownActionRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var got Envelope
	d.Dispatch(context.Background(), []byte(`{"action":"teleport"}`), func(e Envelope) { got = e })
	if got.StatusCode != 400 {
		t.Fatalf("expected 400 for unknown action, got %+v", got)
	}
}

func TestDispatch_OfflineControllerRejectsAction(t *testing.T) {
	d, ctrl := newTestDispatcher(t)
	ctrl.SetConnected(false)
	var got Envelope
	d.Dispatch(context.Background(), []byte(`{"action":"throttle","train_number":3,"speed":10}`), func(e Envelope) { got = e })
	if got.StatusCode != 503 || got.Message != "offline" {
		t.Fatalf("expected offline rejection, got %+v", got)
	}
}

func TestDispatch_GetAccessoryStates(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Store.SetAccessory(4, xpressnet.AccessoryForward)
	var got Envelope
	d.Dispatch(context.Background(), []byte(`{"action":"getAccessoryStates"}`), func(e Envelope) { got = e })
	if got.StatusCode != 200 {
		t.Fatalf("unexpected status: %+v", got)
	}
	list, ok := got.Data.([]AccessoryState)
	if !ok || len(list) != 1 || list[0].Addr != 4 || list[0].Direction != "forward" {
		t.Fatalf("unexpected accessory list: %+v", got.Data)
	}
}

func TestDispatch_MalformedJSON(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var got Envelope
	d.Dispatch(context.Background(), []byte(`not json`), func(e Envelope) { got = e })
	if got.StatusCode != 400 {
		t.Fatalf("expected 400 for malformed command, got %+v", got)
	}
}
