package protocol

import "tis3d.dev/internal/sim/events"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> client): the full state at the tick it was taken.
// Every later delta carries a tick greater than or equal to Tick.
type WelcomeMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id"`
	Tick            uint64           `json:"tick"`
	GridParams      GridParams       `json:"grid_params"`
	Casings         []CasingView     `json:"casings"`
	Controllers     []ControllerView `json:"controllers"`
}

type GridParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	Seed       int64 `json:"seed"`
	MaxCasings int   `json:"max_casings"`
	RegionSize int   `json:"region_size"`
}

type CasingView struct {
	Pos     [3]int            `json:"pos"`
	Enabled bool              `json:"enabled"`
	Locked  bool              `json:"locked"`
	Modules map[string]string `json:"modules,omitempty"`
}

type ControllerView struct {
	Pos      [3]int `json:"pos"`
	State    string `json:"state"`
	Validity string `json:"validity"`
	Casings  int    `json:"casings"`
}

// CASING_STATE (server -> client)
type CasingStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Pos             [3]int `json:"pos"`
	Enabled         bool   `json:"enabled"`
	Locked          bool   `json:"locked"`
}

// CONTROLLER_STATE (server -> client)
type ControllerStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Pos             [3]int `json:"pos"`
	State           string `json:"state"`
	Validity        string `json:"validity"`
	Casings         int    `json:"casings"`
}

// MODULE_FAULT (server -> client)
type ModuleFaultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Pos             [3]int `json:"pos"`
	Face            string `json:"face"`
	Kind            string `json:"kind"`
	Op              string `json:"op"`
	Error           string `json:"error"`
}

// ERROR (server -> client, also the body of failed admin requests)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

// FromEvent maps a bus event to its wire message. Events with no wire
// form (module ejections) report false.
func FromEvent(e events.Event) (any, bool) {
	switch e.Type {
	case events.TypeCasingState:
		return CasingStateMsg{
			Type:            TypeCasingState,
			ProtocolVersion: Version,
			Tick:            e.Tick,
			Pos:             e.Pos.ToArray(),
			Enabled:         e.Enabled,
			Locked:          e.Locked,
		}, true
	case events.TypeControllerState:
		return ControllerStateMsg{
			Type:            TypeControllerState,
			ProtocolVersion: Version,
			Tick:            e.Tick,
			Pos:             e.Pos.ToArray(),
			State:           e.State,
			Validity:        e.Validity,
			Casings:         e.Casings,
		}, true
	case events.TypeModuleFault:
		return ModuleFaultMsg{
			Type:            TypeModuleFault,
			ProtocolVersion: Version,
			Tick:            e.Tick,
			Pos:             e.Pos.ToArray(),
			Face:            e.Face,
			Kind:            e.Kind,
			Op:              e.Op,
			Error:           e.Err,
		}, true
	}
	return nil, false
}
