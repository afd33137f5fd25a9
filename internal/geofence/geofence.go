// Package geofence is the zone-violation collaborator referenced by
// the session engine's event derivation rules: circle and polygon
// fences, evaluated per telemetry update, emitting enter/exit
// breaches that the session engine turns into zone_violation events.
package geofence

import (
	"math"
	"sync"

	"github.com/google/uuid"
)

// Type is a geofence's boundary shape.
type Type string

const (
	TypeCircle  Type = "circle"
	TypePolygon Type = "polygon"
)

// Zone is a geographic boundary a vehicle is checked against.
type Zone struct {
	ID          string
	Name        string
	Type        Type
	Polygon     [][2]float64 // [lat, lon] vertices, polygon only
	CenterLat   float64      // circle only
	CenterLon   float64
	RadiusM     float64 // circle only
	AlertEnter  bool
	AlertExit   bool
	Enabled     bool
}

// BreachKind is whether a vehicle entered or exited a zone.
type BreachKind string

const (
	BreachEnter BreachKind = "enter"
	BreachExit  BreachKind = "exit"
)

// Breach is a single zone-violation observation.
type Breach struct {
	ID      string
	ZoneID  string
	DroneID int64
	Kind    BreachKind
	Lat     float64
	Lon     float64
}

// Engine evaluates telemetry fixes against a set of zones, tracking
// per-(drone, zone) inside/outside state so it can detect transitions
// rather than re-alerting on every update while inside a zone.
type Engine struct {
	mu     sync.RWMutex
	zones  map[string]*Zone
	inside map[int64]map[string]bool // droneID -> zoneID -> inside
}

// NewEngine returns an Engine with no zones configured.
func NewEngine() *Engine {
	return &Engine{
		zones:  make(map[string]*Zone),
		inside: make(map[int64]map[string]bool),
	}
}

// AddZone registers or replaces a zone, assigning an ID if none is set.
func (e *Engine) AddZone(z *Zone) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if z.ID == "" {
		z.ID = uuid.New().String()
	}
	e.zones[z.ID] = z
	return z.ID
}

// RemoveZone deletes a zone and any per-drone state tracked against it.
func (e *Engine) RemoveZone(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.zones, id)
	for droneID := range e.inside {
		delete(e.inside[droneID], id)
	}
}

// Evaluate checks droneID's current fix against every enabled zone,
// returning one Breach per enter/exit transition detected this call.
func (e *Engine) Evaluate(droneID int64, lat, lon float64) []Breach {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inside[droneID] == nil {
		e.inside[droneID] = make(map[string]bool)
	}
	state := e.inside[droneID]

	var breaches []Breach
	for _, z := range e.zones {
		if !z.Enabled {
			continue
		}

		nowInside := isInside(lat, lon, z)
		wasInside := state[z.ID]
		state[z.ID] = nowInside

		switch {
		case nowInside && !wasInside && z.AlertEnter:
			breaches = append(breaches, Breach{ID: uuid.New().String(), ZoneID: z.ID, DroneID: droneID, Kind: BreachEnter, Lat: lat, Lon: lon})
		case !nowInside && wasInside && z.AlertExit:
			breaches = append(breaches, Breach{ID: uuid.New().String(), ZoneID: z.ID, DroneID: droneID, Kind: BreachExit, Lat: lat, Lon: lon})
		}
	}
	return breaches
}

func isInside(lat, lon float64, z *Zone) bool {
	switch z.Type {
	case TypeCircle:
		return insideCircle(lat, lon, z)
	case TypePolygon:
		return insidePolygon(lat, lon, z)
	default:
		return false
	}
}

func insideCircle(lat, lon float64, z *Zone) bool {
	return HaversineMeters(lat, lon, z.CenterLat, z.CenterLon) <= z.RadiusM
}

// insidePolygon applies the ray-casting algorithm against z's
// vertices, ordered [lat, lon].
func insidePolygon(lat, lon float64, z *Zone) bool {
	if len(z.Polygon) < 3 {
		return false
	}

	inside := false
	n := len(z.Polygon)
	for i := 0; i < n; i++ {
		j := (i + 1) % n

		yi, xi := z.Polygon[i][0], z.Polygon[i][1]
		yj, xj := z.Polygon[j][0], z.Polygon[j][1]

		if ((yi > lat) != (yj > lat)) && (lon < (xj-xi)*(lat-yi)/(yj-yi)+xi) {
			inside = !inside
		}
	}
	return inside
}

// HaversineMeters returns the great-circle distance in metres between
// two WGS84 points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}
