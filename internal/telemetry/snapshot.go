// Package telemetry holds the per-vehicle live snapshot: the mutable
// state updated in place by a vehicle link's receive loop and read by
// the session engine and subscriber hub.
package telemetry

import "github.com/open-ground/groundlink/internal/mavlink"

// Snapshot is a vehicle's current telemetry state. It is always
// replaced wholesale in the Store (never mutated field-by-field behind
// a shared pointer) so a reader never observes a torn value.
type Snapshot struct {
	Armed              bool
	Mode               string
	LatDeg             float64
	LonDeg             float64
	AltMSLM            float32
	AltRelM            float32
	GroundSpeedMps     float32
	AirSpeedMps        float32
	HeadingDeg         int16
	ThrottlePct        uint16
	BatteryPct         uint8
	Satellites         uint8
	LastUpdateEpochMs  int64
}

// ApplyHeartbeat folds a decoded HEARTBEAT into s, returning the copy
// with armed/mode updated. Other fields are left untouched.
func (s Snapshot) ApplyHeartbeat(hb mavlink.Heartbeat) Snapshot {
	s.Armed = hb.Armed()
	s.Mode = mavlink.FlightModeName(hb.CustomMode)
	return s
}

// ApplyGlobalPositionInt folds a decoded GLOBAL_POSITION_INT into s.
func (s Snapshot) ApplyGlobalPositionInt(gp mavlink.GlobalPositionInt) Snapshot {
	s.LatDeg = gp.LatDeg
	s.LonDeg = gp.LonDeg
	s.AltMSLM = gp.AltM
	s.AltRelM = gp.RelAltM
	s.HeadingDeg = int16(gp.HeadingDeg)
	return s
}

// ApplyVFRHud folds a decoded VFR_HUD into s. HeadingDeg is also set
// here, not just from GLOBAL_POSITION_INT, so a vehicle that ever
// sends VFR_HUD without GLOBAL_POSITION_INT still reports a heading.
func (s Snapshot) ApplyVFRHud(hud mavlink.VFRHud) Snapshot {
	s.GroundSpeedMps = hud.Groundspeed
	s.AirSpeedMps = hud.Airspeed
	s.ThrottlePct = hud.Throttle
	s.HeadingDeg = hud.Heading
	return s
}

// ApplyGPSRawInt folds a decoded GPS_RAW_INT into s.
func (s Snapshot) ApplyGPSRawInt(gps mavlink.GPSRawInt) Snapshot {
	s.Satellites = gps.SatellitesVisible
	return s
}

// ApplyBatteryStatus folds a decoded BATTERY_STATUS into s, ignoring an
// unknown (-1) reading.
func (s Snapshot) ApplyBatteryStatus(bs mavlink.BatteryStatus) Snapshot {
	if bs.BatteryRemaining >= 0 {
		s.BatteryPct = uint8(bs.BatteryRemaining)
	}
	return s
}
