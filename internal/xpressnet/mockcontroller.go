package xpressnet

import (
	"context"
	"sync/atomic"
)

// MockController is a Controller that never touches a serial device: it
// applies every command straight to a Store and synthesizes the same
// events a real Elite reply would produce, via emit. It exists so the
// gateway (and its websocket surface) can run, and be exercised by tests,
// without hardware attached, the second implementation of the capability
// interface named in the design notes.
type MockController struct {
	store     *Store
	emit      func(Event)
	connected atomic.Bool
}

// NewMockController constructs a MockController backed by store. emit is
// invoked synchronously for every synthesized reply event.
func NewMockController(store *Store, emit func(Event)) *MockController {
	m := &MockController{store: store, emit: emit}
	m.connected.Store(true)
	return m
}

func (m *MockController) Throttle(_ context.Context, addr, speed int, dir Direction) error {
	if err := checkLocoAddr(addr); err != nil {
		return err
	}
	if speed < 0 || speed > 127 {
		return ErrInvalidArgument
	}
	loco := m.store.ApplyThrottleUpdate(addr, byte(speed), dir)
	m.emit(Event{Kind: EventThrottleUpdate, Addr: addr, Speed: loco.Speed, Direction: loco.Direction})
	return nil
}

func (m *MockController) Stop(ctx context.Context, addr int, dir Direction) error {
	return m.Throttle(ctx, addr, 0, dir)
}

func (m *MockController) Function(_ context.Context, addr, n int, on bool) error {
	if _, err := m.store.SetCommandedFunction(addr, n, on); err != nil {
		return err
	}
	loco := m.store.Snapshot(addr)
	m.emit(Event{Kind: EventFunctionUpdate, Addr: addr, Functions: loco.Functions})
	return nil
}

func (m *MockController) GetState(_ context.Context, addr int) error {
	if err := checkLocoAddr(addr); err != nil {
		return err
	}
	loco := m.store.Snapshot(addr)
	m.emit(Event{
		Kind:      EventLocoState,
		Addr:      addr,
		Speed:     loco.Speed,
		Direction: loco.Direction,
		Functions: loco.Functions,
	})
	return nil
}

func (m *MockController) Accessory(_ context.Context, addr int, dir Direction) error {
	if err := checkAccessoryAddr(addr); err != nil {
		return err
	}
	state := AccessoryForward
	if dir == Reverse {
		state = AccessoryReverse
	}
	m.store.SetAccessory(addr, state)
	return nil
}

func (m *MockController) GetStatus(_ context.Context) error {
	m.emit(Event{Kind: EventStationStatus, Status: CommandStationStatus{Ready: true}})
	return nil
}

func (m *MockController) GetVersion(_ context.Context) error {
	m.emit(Event{Kind: EventStationVersion, Make: "Hornby", Model: "Elite (mock)", Version: "1.00"})
	return nil
}

func (m *MockController) EmergencyOff(_ context.Context) error {
	m.emit(Event{Kind: EventEmergencyOffBroadcast})
	return nil
}

func (m *MockController) ResumeNormalOperations(_ context.Context) error {
	m.emit(Event{Kind: EventNormalOperations})
	return nil
}

func (m *MockController) IsConnected() bool { return m.connected.Load() }

// SetConnected lets tests simulate the mock going offline.
func (m *MockController) SetConnected(v bool) { m.connected.Store(v) }

var _ Controller = (*MockController)(nil)
