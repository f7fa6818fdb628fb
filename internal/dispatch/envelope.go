package dispatch

import "encoding/json"

// InboundCommand is the shape of every websocket inbound message (§6):
// {action, ...fields}. Extra fields are simply ignored by actions that
// don't need them.
type InboundCommand struct {
	Action string `json:"action"`

	TrainNumber     int    `json:"train_number,omitempty"`
	Speed           int    `json:"speed,omitempty"`
	Direction       string `json:"direction,omitempty"`
	FunctionID      int    `json:"function_id,omitempty"`
	Switch          bool   `json:"switch,omitempty"`
	AccessoryNumber int    `json:"accessory_number,omitempty"`
	AccessoryID     int    `json:"accessory_id,omitempty"`
	State           string `json:"state,omitempty"`
}

// Envelope is the shape of every websocket outbound message (§6):
// {status_code, message, action?, data, debug?}.
type Envelope struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message,omitempty"`
	Action     string `json:"action,omitempty"`
	Data       any    `json:"data,omitempty"`
	Debug      string `json:"debug,omitempty"`
}

func (e Envelope) encode() []byte { return e.Encode() }

// Encode renders the envelope as the JSON text sent on the wire.
func (e Envelope) Encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		return []byte(`{"status_code":520,"message":"encode_error"}`)
	}
	return b
}

// SocketStatus is broadcast whenever the controller's Connection state
// changes (§4.6, §6); Clients is the subscriber count at that moment. Field
// names mirror the spec's exact casing.
type SocketStatus struct {
	Ready               bool `json:"Ready"`
	Clients             int  `json:"Clients"`
	ControllerConnected bool `json:"Controller_Connected"`
}

// LocoState mirrors a decoded throttle/function/getState reply for a single
// locomotive, the shape returned as Envelope.Data for loco-shaped actions.
type LocoState struct {
	Addr      int    `json:"train_number"`
	Speed     int    `json:"speed"`
	Direction string `json:"direction"`
	Functions []bool `json:"functions"`
}

// AccessoryState mirrors a single accessory's cached direction.
type AccessoryState struct {
	Addr      int    `json:"accessory_id"`
	Direction string `json:"direction"`
}

// ControllerStatus mirrors a decoded station status reply.
type ControllerStatus struct {
	Ready         bool `json:"ready"`
	EmergencyOff  bool `json:"emergency_off"`
	EmergencyStop bool `json:"emergency_stop"`
	AutoStart     bool `json:"auto_start"`
	ServiceMode   bool `json:"service_mode"`
	PoweringUp    bool `json:"powering_up"`
	RAMCheckError bool `json:"ram_check_error"`
}

// ControllerVersion mirrors a decoded station version reply.
type ControllerVersion struct {
	Make    string `json:"make"`
	Model   string `json:"model"`
	Version string `json:"version"`
}
