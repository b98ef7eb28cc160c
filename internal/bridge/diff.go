package bridge

import "sort"

// LightChange is a changed or removed light in a delta. Changed entries
// carry the full current representation, not a field-level patch.
type LightChange struct {
	Light
	Removed bool `json:"removed,omitempty"`
}

// MotionZoneChange is a changed or removed motion zone in a delta.
type MotionZoneChange struct {
	MotionZone
	Removed bool `json:"removed,omitempty"`
}

// Delta is the minimal changed subset between two snapshots. It is
// produced and consumed within one poll cycle and never persisted.
type Delta struct {
	Lights      []LightChange
	MotionZones []MotionZoneChange
}

// Empty reports whether the delta contains no changes. An empty delta
// must suppress any push: identical consecutive snapshots generate no
// network traffic.
func (d Delta) Empty() bool {
	return len(d.Lights) == 0 && len(d.MotionZones) == 0
}

// Diff computes the minimal delta from prev to cur.
//
// Rules:
//   - prev == nil yields an empty delta; the initial full snapshot is
//     sent separately, not as a delta.
//   - An entity present in both snapshots is included only if any field
//     differs, and then with its full current value.
//   - An entity present in prev but absent from cur is included with the
//     removal marker set.
//
// Entries are sorted by ID so output is deterministic.
func Diff(prev, cur *Snapshot) Delta {
	var d Delta
	if prev == nil || cur == nil {
		return d
	}

	for id, light := range cur.Lights {
		if old, ok := prev.Lights[id]; !ok || old != light {
			d.Lights = append(d.Lights, LightChange{Light: light})
		}
	}
	for id, old := range prev.Lights {
		if _, ok := cur.Lights[id]; !ok {
			d.Lights = append(d.Lights, LightChange{Light: Light{ID: old.ID}, Removed: true})
		}
	}

	for id, zone := range cur.MotionZones {
		if old, ok := prev.MotionZones[id]; !ok || old != zone {
			d.MotionZones = append(d.MotionZones, MotionZoneChange{MotionZone: zone})
		}
	}
	for id, old := range prev.MotionZones {
		if _, ok := cur.MotionZones[id]; !ok {
			d.MotionZones = append(d.MotionZones, MotionZoneChange{MotionZone: MotionZone{ID: old.ID}, Removed: true})
		}
	}

	sort.Slice(d.Lights, func(i, j int) bool { return d.Lights[i].ID < d.Lights[j].ID })
	sort.Slice(d.MotionZones, func(i, j int) bool { return d.MotionZones[i].ID < d.MotionZones[j].ID })

	return d
}
