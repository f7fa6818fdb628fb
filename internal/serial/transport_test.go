package serial

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

// fakePort implements Port for tests: it replays a fixed sequence of reads,
// then blocks briefly and returns EOF forever (a poll timeout with nothing to
// report), unless failAfter is armed, in which case it returns a non-EOF
// error once the scripted reads are exhausted.
type fakePort struct {
	mu        sync.Mutex
	reads     [][]byte
	idx       int
	failAfter bool
	writes    [][]byte
	closed    bool
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx < len(f.reads) {
		chunk := f.reads[f.idx]
		f.idx++
		n := copy(p, chunk)
		return n, nil
	}
	if f.failAfter {
		return 0, io.ErrUnexpectedEOF
	}
	time.Sleep(5 * time.Millisecond)
	return 0, io.EOF
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func stubOpenPort(t *testing.T, p Port) {
	t.Helper()
	prev := openPort
	openPort = func(string, int, time.Duration) (Port, error) { return p, nil }
	t.Cleanup(func() { openPort = prev })
}

func TestTransport_DecodesAndEmitsFromReadLoop(t *testing.T) {
	fr, err := xpressnet.Throttle(3, 40, xpressnet.Forward)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	port := &fakePort{reads: [][]byte{fr.Bytes()}, failAfter: true}
	stubOpenPort(t, port)

	store := xpressnet.NewStore()
	tr := NewTransport("fake", 19200, 20*time.Millisecond, 50*time.Millisecond, 0, time.Second, store)

	events := make(chan xpressnet.Event, 4)
	tr.Subscribe(func(ev xpressnet.Event) { events <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)
	defer tr.Close()

	select {
	case ev := <-events:
		if ev.Kind != xpressnet.EventThrottleUpdate || ev.Addr != 3 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for decoded event")
	}
}

func TestTransport_ReadErrorDisconnectsImmediately(t *testing.T) {
	port := &fakePort{failAfter: true}
	stubOpenPort(t, port)

	store := xpressnet.NewStore()
	tr := NewTransport("fake", 19200, 5*time.Millisecond, time.Hour, 0, time.Second, store)

	transitions := make(chan ConnState, 4)
	tr.OnConnChange(func(s ConnState) { transitions <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)
	defer tr.Close()

	select {
	case s := <-transitions:
		if s != Connected {
			t.Fatalf("expected Connected transition first, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for initial connect")
	}

	select {
	case s := <-transitions:
		if s != Disconnected {
			t.Fatalf("expected Disconnected transition after read error, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for disconnect after read error")
	}
}

func TestTransport_ReconnectsAfterInterval(t *testing.T) {
	port := &fakePort{failAfter: true}
	stubOpenPort(t, port)

	store := xpressnet.NewStore()
	tr := NewTransport("fake", 19200, 5*time.Millisecond, 20*time.Millisecond, 0, time.Second, store)

	transitions := make(chan ConnState, 8)
	tr.OnConnChange(func(s ConnState) { transitions <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)
	defer tr.Close()

	var seen []ConnState
	deadline := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case s := <-transitions:
			seen = append(seen, s)
		case <-deadline:
			t.Fatalf("timed out waiting for reconnect cycle, saw %v", seen)
		}
	}
	if seen[0] != Connected || seen[1] != Disconnected || seen[2] != Connected {
		t.Fatalf("expected connect/disconnect/reconnect, got %v", seen)
	}
}

func TestTransport_SendRejectedWhenDisconnected(t *testing.T) {
	store := xpressnet.NewStore()
	tr := NewTransport("fake", 19200, time.Second, time.Second, 0, time.Second, store)

	if err := tr.Throttle(context.Background(), 3, 40, xpressnet.Forward); err != xpressnet.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected before connecting, got %v", err)
	}
}

func TestTransport_GetStateSendsPartAOnlyForFirstRequest(t *testing.T) {
	// No scripted reads and failAfter left false: the port just reports
	// repeated poll timeouts (EOF), so the link stays up for the duration
	// of this test instead of disconnecting out from under it.
	port := &fakePort{}
	stubOpenPort(t, port)

	store := xpressnet.NewStore()
	tr := NewTransport("fake", 19200, 5*time.Millisecond, time.Hour, 0, time.Second, store)

	connected := make(chan ConnState, 2)
	tr.OnConnChange(func(s ConnState) { connected <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)
	defer tr.Close()

	select {
	case s := <-connected:
		if s != Connected {
			t.Fatalf("expected Connected, got %v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for connect")
	}

	if err := tr.GetState(context.Background(), 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.GetState(context.Background(), 6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		port.mu.Lock()
		n := len(port.writes)
		port.mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	port.mu.Lock()
	defer port.mu.Unlock()
	if len(port.writes) != 1 {
		t.Fatalf("expected exactly one GetStateA write while addr 6 stays queued, got %d writes", len(port.writes))
	}
	if port.writes[0][0] != 0xE3 || port.writes[0][1] != 0x00 {
		t.Fatalf("expected a GetStateA (E3 00) frame, got % X", port.writes[0])
	}
}
