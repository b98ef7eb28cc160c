package bridge

import "strings"

// Wire types for the bridge's REST API. The bridge keys lights, sensors,
// and groups by numeric resource ID and nests live state under "state".

type wireLightState struct {
	On        bool `json:"on"`
	Bri       int  `json:"bri"`
	Hue       int  `json:"hue"`
	Sat       int  `json:"sat"`
	CT        int  `json:"ct"`
	Reachable bool `json:"reachable"`
}

type wireLight struct {
	State wireLightState `json:"state"`
	Name  string         `json:"name"`
}

type wireSensorState struct {
	Presence    *bool `json:"presence,omitempty"`
	Temperature *int  `json:"temperature,omitempty"`
}

type wireSensorConfig struct {
	Battery   *int  `json:"battery,omitempty"`
	Reachable *bool `json:"reachable,omitempty"`
}

type wireSensor struct {
	State    wireSensorState  `json:"state"`
	Config   wireSensorConfig `json:"config"`
	Name     string           `json:"name"`
	Type     string           `json:"type"`
	UniqueID string           `json:"uniqueid"`
}

type wireGroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

type wireGroup struct {
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Lights []string       `json:"lights"`
	State  wireGroupState `json:"state"`
}

// wireResult is one element of the array the bridge returns for errors
// and for pairing responses.
type wireResult struct {
	Error *struct {
		Type        int    `json:"type"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"error,omitempty"`
	Success map[string]any `json:"success,omitempty"`
}

// Bridge API error types we care about.
const (
	wireErrUnauthorized      = 1
	wireErrLinkButtonPressed = 101
)

// Sensor types that contribute to motion zones.
const (
	sensorTypePresence    = "ZLLPresence"
	sensorTypeTemperature = "ZLLTemperature"
)

// toLight converts a wire light to the domain model.
func (w wireLight) toLight(id string) Light {
	return Light{
		ID:         id,
		Name:       w.Name,
		On:         w.State.On,
		Brightness: w.State.Bri,
		Hue:        w.State.Hue,
		Saturation: w.State.Sat,
		ColorTemp:  w.State.CT,
		Reachable:  w.State.Reachable,
	}
}

// deviceIDPrefix returns the physical-device part of a sensor uniqueid.
// Companion sensors (presence + temperature on one device) share it, so
// it is the join key when assembling motion zones.
func deviceIDPrefix(uniqueID string) string {
	if i := strings.IndexByte(uniqueID, '-'); i > 0 {
		return uniqueID[:i]
	}
	return uniqueID
}
