package xpressnet

import (
	"context"
	"testing"
)

func TestMockController_ThrottleEmitsAndUpdatesStore(t *testing.T) {
	store := NewStore()
	var got Event
	ctrl := NewMockController(store, func(ev Event) { got = ev })

	if err := ctrl.Throttle(context.Background(), 3, 40, Forward); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != EventThrottleUpdate || got.Addr != 3 || got.Speed != 40 || got.Direction != Forward {
		t.Fatalf("unexpected emitted event: %+v", got)
	}
	snap := store.Snapshot(3)
	if snap.Speed != 40 || snap.Direction != Forward {
		t.Fatalf("unexpected store state: %+v", snap)
	}
}

func TestMockController_StopIsZeroSpeedThrottle(t *testing.T) {
	store := NewStore()
	var got Event
	ctrl := NewMockController(store, func(ev Event) { got = ev })

	if err := ctrl.Stop(context.Background(), 3, Reverse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Speed != 0 || got.Direction != Reverse {
		t.Fatalf("expected stopped/reverse, got %+v", got)
	}
}

func TestMockController_FunctionEmitsUpdatedFunctions(t *testing.T) {
	store := NewStore()
	var got Event
	ctrl := NewMockController(store, func(ev Event) { got = ev })

	if err := ctrl.Function(context.Background(), 3, 2, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != EventFunctionUpdate || !got.Functions[2] {
		t.Fatalf("expected F2 on in emitted event: %+v", got)
	}
}

func TestMockController_GetStateEmitsLocoState(t *testing.T) {
	store := NewStore()
	store.ApplyThrottleUpdate(3, 40, Forward)
	var got Event
	ctrl := NewMockController(store, func(ev Event) { got = ev })

	if err := ctrl.GetState(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != EventLocoState || got.Speed != 40 || got.Direction != Forward {
		t.Fatalf("unexpected loco state event: %+v", got)
	}
}

func TestMockController_AccessorySetsStoreDirection(t *testing.T) {
	store := NewStore()
	ctrl := NewMockController(store, func(Event) {})

	if err := ctrl.Accessory(context.Background(), 4, Forward); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.AccessorySnapshot(4).Direction; got != AccessoryForward {
		t.Fatalf("expected AccessoryForward, got %v", got)
	}

	if err := ctrl.Accessory(context.Background(), 4, Reverse); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := store.AccessorySnapshot(4).Direction; got != AccessoryReverse {
		t.Fatalf("expected AccessoryReverse, got %v", got)
	}
}

func TestMockController_StatusAndVersion(t *testing.T) {
	store := NewStore()
	var events []Event
	ctrl := NewMockController(store, func(ev Event) { events = append(events, ev) })

	if err := ctrl.GetStatus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.GetVersion(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].Kind != EventStationStatus || events[1].Kind != EventStationVersion {
		t.Fatalf("unexpected events: %+v", events)
	}
	if !events[0].Status.Ready {
		t.Fatalf("expected mock station status ready")
	}
}

func TestMockController_EmergencyOffAndResume(t *testing.T) {
	store := NewStore()
	var events []Event
	ctrl := NewMockController(store, func(ev Event) { events = append(events, ev) })

	if err := ctrl.EmergencyOff(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ctrl.ResumeNormalOperations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].Kind != EventEmergencyOffBroadcast || events[1].Kind != EventNormalOperations {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestMockController_SetConnectedTogglesIsConnected(t *testing.T) {
	ctrl := NewMockController(NewStore(), func(Event) {})
	if !ctrl.IsConnected() {
		t.Fatalf("expected mock controller to start connected")
	}
	ctrl.SetConnected(false)
	if ctrl.IsConnected() {
		t.Fatalf("expected IsConnected false after SetConnected(false)")
	}
}

func TestMockController_RejectsInvalidAddresses(t *testing.T) {
	ctrl := NewMockController(NewStore(), func(Event) {})
	if err := ctrl.Throttle(context.Background(), 0, 0, Forward); err == nil {
		t.Fatalf("expected error for loco address 0")
	}
	if err := ctrl.Accessory(context.Background(), -1, Forward); err == nil {
		t.Fatalf("expected error for negative accessory address")
	}
}
