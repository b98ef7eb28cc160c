package bridge

import (
	"sort"
	"time"
)

// Light is the observable state of a single light.
//
// All fields are scalars so two Lights compare with ==. The diff engine
// relies on this.
type Light struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	On         bool   `json:"on"`
	Brightness int    `json:"brightness"`
	Hue        int    `json:"hue"`
	Saturation int    `json:"saturation"`
	ColorTemp  int    `json:"color_temp"`
	Reachable  bool   `json:"reachable"`
}

// MotionZone is the observable state of a motion sensor zone.
//
// All fields are scalars so two MotionZones compare with ==.
type MotionZone struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Presence    bool    `json:"presence"`
	Temperature float64 `json:"temperature"`
	Battery     int     `json:"battery"`
	Reachable   bool    `json:"reachable"`
}

// Room groups lights for presentation. Rooms change rarely and are not
// part of the push snapshot; they are served from a TTL cache.
type Room struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	LightIDs []string `json:"light_ids"`
	AllOn    bool     `json:"all_on"`
	AnyOn    bool     `json:"any_on"`
}

// Snapshot is a full point-in-time view of bridge state.
//
// A Snapshot is treated as an immutable value once returned from a
// source: the push service replaces a connection's stored snapshot
// wholesale, never mutates it.
type Snapshot struct {
	Lights      map[string]Light      `json:"lights"`
	MotionZones map[string]MotionZone `json:"motion_zones"`
	FetchedAt   time.Time             `json:"fetched_at"`
}

// LightList returns the lights sorted by ID, for stable wire encoding.
func (s *Snapshot) LightList() []Light {
	lights := make([]Light, 0, len(s.Lights))
	for _, l := range s.Lights {
		lights = append(lights, l)
	}
	sort.Slice(lights, func(i, j int) bool { return lights[i].ID < lights[j].ID })
	return lights
}

// MotionZoneList returns the motion zones sorted by ID.
func (s *Snapshot) MotionZoneList() []MotionZone {
	zones := make([]MotionZone, 0, len(s.MotionZones))
	for _, z := range s.MotionZones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones
}

// Clone returns an independent copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cpy := &Snapshot{
		Lights:      make(map[string]Light, len(s.Lights)),
		MotionZones: make(map[string]MotionZone, len(s.MotionZones)),
		FetchedAt:   s.FetchedAt,
	}
	for id, l := range s.Lights {
		cpy.Lights[id] = l
	}
	for id, z := range s.MotionZones {
		cpy.MotionZones[id] = z
	}
	return cpy
}
