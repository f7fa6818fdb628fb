package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keskad/xpressnet-gateway/internal/logging"
	"github.com/keskad/xpressnet-gateway/internal/metrics"
	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

// ConnState is the Connection value of §3: exactly {Disconnected, Connected}.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connected
)

func (s ConnState) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

const defaultReadBufSize = 256

// openPort is a seam for tests to substitute a fake Port in place of a real
// tarm/serial device.
var openPort = Open

// Transport owns the serial handle and the raw receive buffer exclusively
// (§3 ownership rule). It serializes writes through a single writer guard
// (TXWriter) and drives one continuous reader task, reconnecting every
// ReconnectInterval when the link drops. It implements xpressnet.Controller
// so the dispatcher can treat it identically to the mock controller.
type Transport struct {
	Device            string
	Baud              int
	ReadTimeout       time.Duration
	ReconnectInterval time.Duration
	CommandDelay      time.Duration
	StateTimeout      time.Duration

	store  *xpressnet.Store
	gsm    *xpressnet.GetStateMachine
	sink   func(xpressnet.Event)
	onConn func(ConnState)

	mu       sync.Mutex
	port     Port
	writer   *TXWriter
	state    atomic.Int32
	closed   atomic.Bool
	partialA xpressnet.Event // part A's reply, held until part B arrives
}

// NewTransport constructs a Transport. Decoded reply events go to the sink
// registered with Subscribe; Connected/Disconnected transitions go to the
// callback registered with OnConnChange.
func NewTransport(device string, baud int, readTimeout, reconnectInterval, commandDelay, stateTimeout time.Duration, store *xpressnet.Store) *Transport {
	if reconnectInterval <= 0 {
		reconnectInterval = 10 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = time.Second
	}
	t := &Transport{
		Device:            device,
		Baud:              baud,
		ReadTimeout:       readTimeout,
		ReconnectInterval: reconnectInterval,
		CommandDelay:      commandDelay,
		StateTimeout:      stateTimeout,
		store:             store,
	}
	t.gsm = xpressnet.NewGetStateMachineWithTimeout(store, stateTimeout, t.onStateTimeout)
	return t
}

// Subscribe registers the single sink receiving decoded reply events. Must
// be called before Run.
func (t *Transport) Subscribe(sink func(xpressnet.Event)) { t.sink = sink }

// OnConnChange registers a callback invoked on every Connected/Disconnected
// transition, letting the dispatcher push the SocketStatus event of §4.6.
func (t *Transport) OnConnChange(fn func(ConnState)) { t.onConn = fn }

// Status returns the current Connection state.
func (t *Transport) Status() ConnState { return ConnState(t.state.Load()) }

// IsConnected satisfies xpressnet.Controller.
func (t *Transport) IsConnected() bool { return t.Status() == Connected }

func (t *Transport) setState(s ConnState) {
	prev := ConnState(t.state.Swap(int32(s)))
	if prev == s {
		return
	}
	metrics.SetControllerConnected(s == Connected)
	if s == Connected {
		logging.L().Info("serial_connected", "device", t.Device)
	} else {
		logging.L().Warn("serial_disconnected", "device", t.Device)
	}
	if t.onConn != nil {
		t.onConn(s)
	}
}

// Run owns the reconnect supervisor: it opens the device, runs the reader
// loop to completion (it returns when the link drops), and retries every
// ReconnectInterval until ctx is cancelled.
func (t *Transport) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || t.closed.Load() {
			return
		}
		if t.Status() == Disconnected {
			if err := t.open(ctx); err != nil {
				logging.L().Warn("serial_open_failed", "device", t.Device, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(t.ReconnectInterval):
					continue
				}
			}
		}
		t.readLoop(ctx)
		t.gsm.Cancel()
		if ctx.Err() != nil || t.closed.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.ReconnectInterval):
		}
	}
}

func (t *Transport) open(ctx context.Context) error {
	sp, err := openPort(t.Device, t.Baud, t.ReadTimeout)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.port = sp
	t.writer = NewTXWriter(ctx, sp, 64)
	t.mu.Unlock()
	t.setState(Connected)
	return nil
}

// Close stops the reader and releases the handle. Idempotent.
func (t *Transport) Close() {
	if t.closed.Swap(true) {
		return
	}
	t.mu.Lock()
	port := t.port
	writer := t.writer
	t.mu.Unlock()
	if writer != nil {
		writer.Close()
	}
	if port != nil {
		_ = port.Close()
	}
	t.setState(Disconnected)
}

// readLoop drains the port into the framer until a read error (other than
// the poll timeout) indicates the link is gone; §4.5: "Read errors (device
// disappeared, permission denied, I/O error) transition Connection to
// Disconnected". A plain poll timeout is reported as io.EOF, so that case
// simply loops back around without tearing anything down.
func (t *Transport) readLoop(ctx context.Context) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return
	}
	framer := &xpressnet.Framer{}
	buf := make([]byte, defaultReadBufSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := port.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n], t.handleFramerEvent)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			metrics.IncError(metrics.ErrSerialRead)
			logging.L().Warn("serial_read_error", "device", t.Device, "error", err)
			t.teardown()
			return
		}
	}
}

func (t *Transport) teardown() {
	t.mu.Lock()
	port := t.port
	writer := t.writer
	t.port = nil
	t.writer = nil
	t.mu.Unlock()
	if writer != nil {
		writer.Close()
	}
	if port != nil {
		_ = port.Close()
	}
	t.setState(Disconnected)
}

func (t *Transport) handleFramerEvent(fe xpressnet.FramerEvent) {
	if fe.ChecksumErr {
		metrics.IncError(metrics.ErrChecksum)
		logging.L().Warn("checksum_error", "byte", fmt.Sprintf("0x%02X", fe.BadByte))
		return
	}
	pendingAddr, hasPending := t.store.Pending()
	ev := xpressnet.Decoder{}.Decode(fe.Header, fe.Data, pendingAddr, hasPending)
	t.applyAndEmit(ev)
}

// applyAndEmit updates the Store for events that carry state and forwards
// every event to the subscriber, driving the getState correlation state
// machine (§4.3) along the way.
func (t *Transport) applyAndEmit(ev xpressnet.Event) {
	switch ev.Kind {
	case xpressnet.EventThrottleUpdate:
		t.store.ApplyThrottleUpdate(ev.Addr, ev.Speed, ev.Direction)
	case xpressnet.EventFunctionUpdate:
		var f [13]bool
		copy(f[:], ev.Functions[:13])
		t.store.ApplyFunctionUpdate(ev.Addr, f)
	case xpressnet.EventStateReplyA:
		t.partialA = ev
		t.gsm.ReceivedA(ev.Addr)
	case xpressnet.EventStateReplyB:
		addr, _ := t.store.Pending()
		if addr == 0 {
			addr = ev.Addr
		}
		// Part A's speed/direction/F0-F12 are held in t.partialA, not written
		// to the store, until part B completes the exchange.
		merged := mergeFunctions(t.partialA.Functions, ev.Functions, 13, 29)
		t.store.ApplyStateReply(addr, t.partialA.Speed, t.partialA.Direction, merged)
		next, hasNext := t.gsm.ReceivedB()
		ev.Kind = xpressnet.EventLocoState
		ev.Addr = addr
		ev.Functions = merged
		if hasNext {
			t.sendGetStateA(next)
		}
	}
	if t.sink != nil {
		t.sink(ev)
	}
}

func mergeFunctions(base, overlay [29]bool, from, to int) [29]bool {
	out := base
	for i := from; i < to; i++ {
		out[i] = overlay[i]
	}
	return out
}

func (t *Transport) onStateTimeout(addr int) {
	if t.sink != nil {
		t.sink(xpressnet.Event{Kind: xpressnet.EventStateTimeout, Addr: addr})
	}
}

func (t *Transport) send(fr xpressnet.Frame) error {
	t.mu.Lock()
	w := t.writer
	t.mu.Unlock()
	if w == nil {
		return xpressnet.ErrNotConnected
	}
	if err := w.SendFrame(fr); err != nil {
		return err
	}
	if t.CommandDelay > 0 {
		time.Sleep(t.CommandDelay)
	}
	return nil
}

func (t *Transport) sendGetStateA(addr int) {
	fr, err := xpressnet.GetStateA(addr)
	if err != nil {
		return
	}
	_ = t.send(fr)
}

// --- xpressnet.Controller ---

func (t *Transport) Throttle(_ context.Context, addr, speed int, dir xpressnet.Direction) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	fr, err := xpressnet.Throttle(addr, speed, dir)
	if err != nil {
		return err
	}
	return t.send(fr)
}

func (t *Transport) Stop(_ context.Context, addr int, dir xpressnet.Direction) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	fr, err := xpressnet.Stop(addr, dir)
	if err != nil {
		return err
	}
	return t.send(fr)
}

func (t *Transport) Function(_ context.Context, addr, n int, on bool) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	groupByte, err := t.store.SetCommandedFunction(addr, n, on)
	if err != nil {
		return err
	}
	fr, err := xpressnet.Function(addr, n, groupByte)
	if err != nil {
		return err
	}
	return t.send(fr)
}

func (t *Transport) GetState(_ context.Context, addr int) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	if err := checkLocoAddrLocal(addr); err != nil {
		return err
	}
	if t.gsm.Begin(addr) {
		t.sendGetStateA(addr)
	}
	return nil
}

func checkLocoAddrLocal(addr int) error {
	if addr < 1 || addr > 9999 {
		return xpressnet.ErrInvalidArgument
	}
	return nil
}

func (t *Transport) Accessory(_ context.Context, addr int, dir xpressnet.Direction) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	fr, err := xpressnet.AccessoryCommand(addr, dir)
	if err != nil {
		return err
	}
	return t.send(fr)
}

func (t *Transport) GetStatus(_ context.Context) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	return t.send(xpressnet.GetStatus())
}

func (t *Transport) GetVersion(_ context.Context) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	return t.send(xpressnet.GetVersion())
}

func (t *Transport) EmergencyOff(_ context.Context) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	return t.send(xpressnet.EmergencyOff())
}

func (t *Transport) ResumeNormalOperations(_ context.Context) error {
	if !t.IsConnected() {
		return xpressnet.ErrNotConnected
	}
	return t.send(xpressnet.ResumeNormalOperations())
}

var _ xpressnet.Controller = (*Transport)(nil)
