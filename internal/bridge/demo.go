package bridge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// driftEvery is how many fetches pass between scripted demo changes.
const driftEvery = 5

// DemoSource is a deterministic SnapshotSource that never touches a real
// bridge. It serves a fixed set of lights and motion zones and can
// optionally play back scripted changes so demo clients see live deltas.
//
// State is keyed only by the source instance; the bridge address and
// credential arguments are ignored.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type DemoSource struct {
	mu      sync.Mutex
	lights  map[string]Light
	zones   map[string]MotionZone
	fetches int
	drift   bool
}

// NewDemoSource creates a demo source with the standard fixture data.
// Scripted drift is off; call EnableDrift to turn it on.
func NewDemoSource() *DemoSource {
	d := &DemoSource{
		lights: map[string]Light{
			"1": {ID: "1", Name: "Living Room Ceiling", On: true, Brightness: 200, Hue: 8402, Saturation: 140, ColorTemp: 366, Reachable: true},
			"2": {ID: "2", Name: "Living Room Lamp", On: true, Brightness: 120, Hue: 7676, Saturation: 199, ColorTemp: 443, Reachable: true},
			"3": {ID: "3", Name: "Kitchen Spots", On: false, Brightness: 254, Hue: 0, Saturation: 0, ColorTemp: 233, Reachable: true},
			"4": {ID: "4", Name: "Hallway", On: false, Brightness: 80, Hue: 0, Saturation: 0, ColorTemp: 366, Reachable: true},
			"5": {ID: "5", Name: "Bedroom", On: false, Brightness: 40, Hue: 47417, Saturation: 254, ColorTemp: 500, Reachable: false},
		},
		zones: map[string]MotionZone{
			"10": {ID: "10", Name: "Hallway Motion", Presence: false, Temperature: 20.5, Battery: 92, Reachable: true},
			"11": {ID: "11", Name: "Kitchen Motion", Presence: false, Temperature: 22.1, Battery: 67, Reachable: true},
		},
	}
	return d
}

// EnableDrift turns on scripted state changes: every fifth fetch toggles
// the next light round-robin and flips one motion zone. The script
// depends only on the fetch count, so playback is reproducible.
func (d *DemoSource) EnableDrift() {
	d.mu.Lock()
	d.drift = true
	d.mu.Unlock()
}

// GetSnapshot returns a copy of the current demo state.
// It implements SnapshotSource.
func (d *DemoSource) GetSnapshot(_ context.Context, _, _ string) (*Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.fetches++
	if d.drift && d.fetches%driftEvery == 0 {
		d.advance()
	}

	snap := &Snapshot{
		Lights:      make(map[string]Light, len(d.lights)),
		MotionZones: make(map[string]MotionZone, len(d.zones)),
		FetchedAt:   time.Now().UTC(),
	}
	for id, l := range d.lights {
		snap.Lights[id] = l
	}
	for id, z := range d.zones {
		snap.MotionZones[id] = z
	}
	return snap, nil
}

// advance applies the next scripted change. Caller holds d.mu.
func (d *DemoSource) advance() {
	step := d.fetches / driftEvery

	ids := make([]string, 0, len(d.lights))
	for id := range d.lights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > 0 {
		id := ids[step%len(ids)]
		l := d.lights[id]
		l.On = !l.On
		d.lights[id] = l
	}

	zoneIDs := make([]string, 0, len(d.zones))
	for id := range d.zones {
		zoneIDs = append(zoneIDs, id)
	}
	sort.Strings(zoneIDs)
	if len(zoneIDs) > 0 && step%2 == 0 {
		id := zoneIDs[(step/2)%len(zoneIDs)]
		z := d.zones[id]
		z.Presence = !z.Presence
		d.zones[id] = z
	}
}

// SetLightOn sets a demo light's on state. Unknown IDs are ignored.
func (d *DemoSource) SetLightOn(id string, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lights[id]; ok {
		l.On = on
		d.lights[id] = l
	}
}

// SetLightBrightness sets a demo light's brightness. Unknown IDs are ignored.
func (d *DemoSource) SetLightBrightness(id string, brightness int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.lights[id]; ok {
		l.Brightness = brightness
		d.lights[id] = l
	}
}

// SetPresence sets a demo motion zone's presence. Unknown IDs are ignored.
func (d *DemoSource) SetPresence(id string, presence bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if z, ok := d.zones[id]; ok {
		z.Presence = presence
		d.zones[id] = z
	}
}

// RemoveLight deletes a light from the demo fixture, as if it were
// unpaired from the bridge.
func (d *DemoSource) RemoveLight(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lights, id)
}
