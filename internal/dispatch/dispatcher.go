// Package dispatch implements the Dispatcher (C6): it translates decoded
// websocket commands into xpressnet.Controller calls, keeps the state store
// and subscriber set in sync with every reply, and renders both directions
// as the JSON envelopes of §6.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/keskad/xpressnet-gateway/internal/hub"
	"github.com/keskad/xpressnet-gateway/internal/logging"
	"github.com/keskad/xpressnet-gateway/internal/metrics"
	"github.com/keskad/xpressnet-gateway/internal/xpressnet"
)

// Dispatcher owns no goroutine of its own: Dispatch is called from the
// websocket reader of the originating subscriber, and HandleEvent/
// HandleConnChange are called from the serial transport's callbacks.
type Dispatcher struct {
	Controller xpressnet.Controller
	Store      *xpressnet.Store
	Hub        *hub.Hub
}

// New constructs a Dispatcher wired to a controller, its state store and the
// subscriber hub.
func New(ctrl xpressnet.Controller, store *xpressnet.Store, h *hub.Hub) *Dispatcher {
	return &Dispatcher{Controller: ctrl, Store: store, Hub: h}
}

func parseDirection(s string) xpressnet.Direction {
	if strings.EqualFold(s, "reverse") {
		return xpressnet.Reverse
	}
	return xpressnet.Forward
}

// Dispatch decodes one inbound command and replies to its originating
// subscriber only (broadcasts triggered by the eventual decoded reply are
// delivered separately, via HandleEvent). reply is never nil.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte, reply func(Envelope)) {
	var cmd InboundCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		reply(Envelope{StatusCode: 400, Message: "malformed_command"})
		return
	}

	if cmd.Action != "controller_status" && cmd.Action != "getAccessoryState" &&
		cmd.Action != "getAccessoryStates" && !d.Controller.IsConnected() {
		reply(Envelope{StatusCode: 503, Message: "offline", Action: cmd.Action})
		return
	}

	var err error
	switch cmd.Action {
	case "throttle":
		err = d.Controller.Throttle(ctx, cmd.TrainNumber, cmd.Speed, parseDirection(cmd.Direction))
	case "stop":
		err = d.Controller.Stop(ctx, cmd.TrainNumber, parseDirection(cmd.Direction))
	case "function":
		err = d.Controller.Function(ctx, cmd.TrainNumber, cmd.FunctionID, cmd.Switch)
	case "getState":
		err = d.Controller.GetState(ctx, cmd.TrainNumber)
	case "setAccessoryDirection":
		err = d.Controller.Accessory(ctx, cmd.AccessoryNumber, parseDirection(cmd.Direction))
	case "setAccessoryState":
		dir := xpressnet.AccessoryForward
		if strings.EqualFold(cmd.State, "reverse") {
			dir = xpressnet.AccessoryReverse
		}
		acc := d.Store.SetAccessory(cmd.AccessoryID, dir)
		d.broadcastAccessory(acc)
		reply(Envelope{StatusCode: 200, Action: cmd.Action, Data: toAccessoryState(acc)})
		return
	case "getAccessoryState":
		acc := d.Store.AccessorySnapshot(cmd.AccessoryID)
		reply(Envelope{StatusCode: 200, Action: cmd.Action, Data: toAccessoryState(acc)})
		return
	case "getAccessoryStates":
		all := d.Store.AllAccessories()
		out := make([]AccessoryState, 0, len(all))
		for _, acc := range all {
			out = append(out, toAccessoryState(acc))
		}
		reply(Envelope{StatusCode: 200, Action: cmd.Action, Data: out})
		return
	case "getControllerStatus":
		err = d.Controller.GetStatus(ctx)
	case "getControllerVersion":
		err = d.Controller.GetVersion(ctx)
	case "emergencyOff":
		err = d.Controller.EmergencyOff(ctx)
	case "resumeNormalOperations":
		err = d.Controller.ResumeNormalOperations(ctx)
	case "controller_status":
		reply(Envelope{
			StatusCode: 200,
			Action:     cmd.Action,
			Data: map[string]bool{
				"connected": d.Controller.IsConnected(),
			},
		})
		return
	default:
		reply(Envelope{StatusCode: 400, Message: "unknown_action", Action: cmd.Action})
		return
	}

	if err != nil {
		metrics.IncError(metrics.ErrDispatch)
		reply(Envelope{
			StatusCode: xpressnet.ErrorStatusCode(err),
			Message:    err.Error(),
			Action:     cmd.Action,
		})
		return
	}
	// The effect of a successful command arrives asynchronously as a decoded
	// event (throttle update, function update, loco state, ...) and is
	// broadcast to every subscriber by HandleEvent; acknowledge receipt here.
	reply(Envelope{StatusCode: 200, Action: cmd.Action})
}

func toAccessoryState(a xpressnet.Accessory) AccessoryState {
	dir := "unknown"
	switch a.Direction {
	case xpressnet.AccessoryForward:
		dir = "forward"
	case xpressnet.AccessoryReverse:
		dir = "reverse"
	}
	return AccessoryState{Addr: a.Addr, Direction: dir}
}

func (d *Dispatcher) broadcastAccessory(a xpressnet.Accessory) {
	d.Hub.Broadcast(Envelope{StatusCode: 200, Action: "setAccessoryState", Data: toAccessoryState(a)}.encode())
}

// HandleEvent is the sink passed to the controller: it applies the decoded
// reply (loco/accessory updates already landed in the Store by the caller;
// here we only need to shape and broadcast it) and fans it out to every
// subscriber (§4.6 "broadcasts a message envelope to all subscribers").
func (d *Dispatcher) HandleEvent(ev xpressnet.Event) {
	if ev.Kind == xpressnet.EventStateTimeout {
		metrics.IncGetStateTimeout()
	}
	env := Envelope{StatusCode: xpressnet.ReplyStatusCode(ev)}
	switch ev.Kind {
	case xpressnet.EventThrottleUpdate, xpressnet.EventFunctionUpdate, xpressnet.EventLocoState:
		env.Action = "throttle"
		env.Data = LocoState{
			Addr:      ev.Addr,
			Speed:     int(ev.Speed),
			Direction: ev.Direction.String(),
			Functions: ev.Functions[:],
		}
	case xpressnet.EventStationStatus:
		env.Action = "getControllerStatus"
		env.Data = ControllerStatus{
			Ready:         ev.Status.Ready,
			EmergencyOff:  ev.Status.EmergencyOff,
			EmergencyStop: ev.Status.EmergencyStop,
			AutoStart:     ev.Status.AutoStart,
			ServiceMode:   ev.Status.ServiceMode,
			PoweringUp:    ev.Status.PoweringUp,
			RAMCheckError: ev.Status.RAMCheckError,
		}
	case xpressnet.EventStationVersion:
		env.Action = "getControllerVersion"
		env.Data = ControllerVersion{Make: ev.Make, Model: ev.Model, Version: ev.Version}
	case xpressnet.EventStateTimeout:
		env.Action = "getState"
		env.Message = "timeout"
	case xpressnet.EventTransmissionError, xpressnet.EventStationBusy, xpressnet.EventCommandNotSupported:
		env.Message = "station_error"
	case xpressnet.EventTrackPowerOff, xpressnet.EventEmergencyOffBroadcast:
		env.Message = "emergency_off"
	case xpressnet.EventNormalOperations:
		env.Message = "normal_operations"
	case xpressnet.EventServiceMode:
		env.Message = "service_mode"
	case xpressnet.EventUnknownFrame:
		env.Message = "unknown_frame"
		env.Debug = formatRaw(ev.Raw)
	}
	d.Hub.Broadcast(env.encode())
}

// HandleConnChange pushes a SocketStatus event whenever the serial link's
// Connection state transitions (§4.6).
func (d *Dispatcher) HandleConnChange(connected bool) {
	metrics.SetControllerConnected(connected)
	status := SocketStatus{
		Ready:               connected,
		Clients:             d.Hub.Count(),
		ControllerConnected: connected,
	}
	logging.L().Info("controller_status_change", "connected", connected, "clients", status.Clients)
	d.Hub.Broadcast(Envelope{StatusCode: 200, Action: "controller_status", Data: status}.encode())
}

func formatRaw(b []byte) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3)
	for i, v := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hex[v>>4], hex[v&0x0F])
	}
	return string(out)
}
