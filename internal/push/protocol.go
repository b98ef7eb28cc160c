package push

import "github.com/ashgrove/lumen-core/internal/bridge"

// Message type strings on the socket protocol.
const (
	MsgTypeAuth         = "auth"
	MsgTypeInitialState = "initial_state"
	MsgTypeLightUpdate  = "light_update"
	MsgTypeMotionUpdate = "motion_update"
	MsgTypeError        = "error"
)

// authMessage is the first message a client must send after connecting.
// Exactly one of SessionToken or DemoMode must be set.
type authMessage struct {
	Type         string `json:"type"`
	SessionToken string `json:"session_token,omitempty"`
	DemoMode     bool   `json:"demo_mode,omitempty"`
}

// initialStateMessage carries the full snapshot sent once after
// successful authentication, before any delta.
type initialStateMessage struct {
	Type        string              `json:"type"`
	Lights      []bridge.Light      `json:"lights"`
	MotionZones []bridge.MotionZone `json:"motion_zones"`
}

// lightUpdateMessage carries the lights half of a non-empty delta.
// Each entry is a full current light, or an ID with the removal marker.
type lightUpdateMessage struct {
	Type    string               `json:"type"`
	Changed []bridge.LightChange `json:"changed"`
}

// motionUpdateMessage carries the motion half of a non-empty delta.
type motionUpdateMessage struct {
	Type    string                    `json:"type"`
	Changed []bridge.MotionZoneChange `json:"changed"`
}

// errorMessage is sent to the client before an error close.
type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
