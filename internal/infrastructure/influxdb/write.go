package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ashgrove/lumen-core/internal/bridge"
)

// WriteLightState records a light's numeric state as a point.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Booleans are written as 0/1 so dashboards can graph them.
func (c *Client) WriteLightState(light bridge.Light) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"light_state",
		map[string]string{
			"light_id": light.ID,
			"name":     light.Name,
		},
		map[string]interface{}{
			"on":         boolToFloat(light.On),
			"brightness": float64(light.Brightness),
			"reachable":  boolToFloat(light.Reachable),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteMotionState records a motion zone's state as a point.
func (c *Client) WriteMotionState(zone bridge.MotionZone) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"motion_state",
		map[string]string{
			"zone_id": zone.ID,
			"name":    zone.Name,
		},
		map[string]interface{}{
			"presence":    boolToFloat(zone.Presence),
			"temperature": zone.Temperature,
			"battery":     float64(zone.Battery),
			"reachable":   boolToFloat(zone.Reachable),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// boolToFloat maps a bool to 0/1 for numeric storage.
func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
