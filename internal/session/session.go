// Package session derives flight sessions and discrete lifecycle
// events from the telemetry stream: it opens a session per connected
// flight, tracks running aggregates, and emits debounced events
// (takeoff, landing, mode_change, battery_low, zone_violation)
// through the storage collaborator. It never blocks telemetry:
// storage failures are dropped, not retried (non-transient ones are
// logged).
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/geofence"
	"github.com/open-ground/groundlink/internal/storage"
	"github.com/open-ground/groundlink/internal/telemetry"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

const (
	cooldown           = 3 * time.Second
	takeoffAltM        = float32(5.0)
	landingAltM        = float32(2.0)
	batteryLowPct      = uint8(20)
	gpsGlitchSpeedMps  = 100.0
)

// record is the engine's live view of one drone's active session: the
// storage row plus the aggregate state and per-kind debounce
// timestamps that never leave this package.
type record struct {
	session      storage.Session
	priorMode    string
	priorSnap    telemetry.Snapshot
	haveSnap     bool
	speedSamples int
	speedSum     float64
	landed       bool
	lastCooldown [7]time.Time // indexed by EventKind.Index()
}

// EventMirror optionally republishes a persisted event to a secondary
// sink (the MQTT publisher). A nil EventMirror disables mirroring.
type EventMirror interface {
	PublishEvent(ev storage.Event) error
}

// Engine implements fleet.TelemetrySubscriber and fleet.LinkStatusSubscriber,
// deriving sessions and events from the republished telemetry stream.
type Engine struct {
	store    storage.Storage
	geofence *geofence.Engine
	mirror   EventMirror

	mu      sync.Mutex
	active  map[int64]*record // droneID -> active session record
}

// New returns an Engine writing through store and evaluating zone
// breaches via geo (nil disables zone_violation derivation).
func New(store storage.Storage, geo *geofence.Engine) *Engine {
	return &Engine{
		store:    store,
		geofence: geo,
		active:   make(map[int64]*record),
	}
}

// SetEventMirror wires an optional secondary sink (e.g. the MQTT
// publisher) that every successfully stored event is also sent to.
func (e *Engine) SetEventMirror(m EventMirror) {
	e.mirror = m
}

// ActiveSessionID returns droneID's active session id, if any.
func (e *Engine) ActiveSessionID(droneID int64) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.active[droneID]
	if !ok {
		return "", false
	}
	return rec.session.SessionID, true
}

// OnLinkStatus opens a session on the first connect and closes it on
// disconnect, per §3's session lifecycle.
func (e *Engine) OnLinkStatus(ls fleet.LinkStatus) {
	switch ls.Status {
	case vehiclelink.StatusConnected:
		e.maybeStartSession(ls.DroneID, ls.UserID)
	case vehiclelink.StatusDisconnected:
		e.endSession(ls.DroneID, e.disconnectStatus(ls.DroneID))
	}
}

// disconnectStatus reports whether droneID's active session saw a clean
// landing before the disconnect, per §3: a disconnect with no preceding
// landing aborts the session rather than completing it.
func (e *Engine) disconnectStatus(droneID int64) storage.SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.active[droneID]
	if !ok || !rec.landed {
		return storage.SessionAborted
	}
	return storage.SessionCompleted
}

func (e *Engine) maybeStartSession(droneID int64, userID string) {
	e.mu.Lock()
	if _, exists := e.active[droneID]; exists {
		e.mu.Unlock()
		return
	}
	now := time.Now()
	rec := &record{
		session: storage.Session{
			SessionID: uuid.New().String(),
			UserID:    userID,
			DroneID:   droneID,
			StartedAt: now,
			Status:    storage.SessionActive,
		},
	}
	e.active[droneID] = rec
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.CreateSession(ctx, rec.session); err != nil {
		logStorageErr(droneID, "CreateSession", err)
	}

	e.writeEvent(storage.Event{
		SessionID: rec.session.SessionID,
		UserID:    userID,
		DroneID:   droneID,
		Timestamp: now,
		Kind:      storage.EventSessionStarted,
		Message:   "session started",
	})
}

// OnTelemetryUpdate evaluates every derivation rule against the new
// snapshot for drones with an active session. Updates arriving before
// a session exists (no heartbeat seen yet) are a no-op: the session
// itself only opens on OnLinkStatus(connected).
func (e *Engine) OnTelemetryUpdate(u fleet.TelemetryUpdate) {
	e.mu.Lock()
	rec, ok := e.active[u.DroneID]
	if !ok {
		e.mu.Unlock()
		return
	}

	if !rec.haveSnap {
		rec.session.StartBattery = u.Snapshot.BatteryPct
		rec.session.StartPoint = storage.Point{Lat: u.Snapshot.LatDeg, Lon: u.Snapshot.LonDeg}
	}
	e.updateAggregates(rec, u.Snapshot)

	events := e.deriveEvents(rec, u)
	rec.priorMode = u.Snapshot.Mode
	rec.priorSnap = u.Snapshot
	rec.haveSnap = true
	e.mu.Unlock()

	for _, ev := range events {
		e.writeEvent(ev)
	}
}

// updateAggregates folds a new fix into rec's running maxima, average
// speed, and haversine total distance, ignoring GPS-glitch jumps.
func (e *Engine) updateAggregates(rec *record, snap telemetry.Snapshot) {
	if snap.AltRelM > rec.session.MaxAltitudeM {
		rec.session.MaxAltitudeM = snap.AltRelM
	}
	if snap.GroundSpeedMps > rec.session.MaxSpeedMps {
		rec.session.MaxSpeedMps = snap.GroundSpeedMps
	}

	rec.speedSamples++
	rec.speedSum += float64(snap.GroundSpeedMps)
	rec.session.AvgSpeedMps = float32(rec.speedSum / float64(rec.speedSamples))

	if rec.haveSnap {
		dist := geofence.HaversineMeters(
			float64(rec.priorSnap.LatDeg), float64(rec.priorSnap.LonDeg),
			float64(snap.LatDeg), float64(snap.LonDeg),
		)
		if snap.LastUpdateEpochMs > rec.priorSnap.LastUpdateEpochMs {
			elapsedS := float64(snap.LastUpdateEpochMs-rec.priorSnap.LastUpdateEpochMs) / 1000.0
			if elapsedS > 0 && dist/elapsedS <= gpsGlitchSpeedMps {
				rec.session.TotalDistanceM += dist
			}
		}
	}
}

// deriveEvents evaluates §4.5's derivation rules against u, returning
// the events that survive per-kind debouncing. Called with e.mu held.
func (e *Engine) deriveEvents(rec *record, u fleet.TelemetryUpdate) []storage.Event {
	now := time.Now()
	snap := u.Snapshot
	var events []storage.Event

	emit := func(kind storage.EventKind, msg string) {
		idx := kind.Index()
		if idx >= 0 && now.Sub(rec.lastCooldown[idx]) < cooldown {
			return
		}
		if idx >= 0 {
			rec.lastCooldown[idx] = now
		}
		events = append(events, storage.Event{
			SessionID: rec.session.SessionID,
			UserID:    u.UserID,
			DroneID:   u.DroneID,
			Timestamp: now,
			Kind:      kind,
			Point:     storage.Point{Lat: snap.LatDeg, Lon: snap.LonDeg},
			Altitude:  snap.AltRelM,
			Battery:   snap.BatteryPct,
			Speed:     snap.GroundSpeedMps,
			Mode:      snap.Mode,
			Message:   msg,
		})
	}

	if snap.Armed && snap.AltRelM > takeoffAltM {
		emit(storage.EventTakeoff, "takeoff detected")
	}
	if !snap.Armed && snap.AltRelM < landingAltM {
		rec.landed = true
		emit(storage.EventLanding, "landing detected")
	}
	if rec.haveSnap && snap.Mode != rec.priorMode {
		emit(storage.EventModeChange, "mode changed from "+rec.priorMode+" to "+snap.Mode)
	}
	if snap.BatteryPct < batteryLowPct {
		emit(storage.EventBatteryLow, "battery low")
	}

	if e.geofence != nil {
		for _, breach := range e.geofence.Evaluate(u.DroneID, snap.LatDeg, snap.LonDeg) {
			emit(storage.EventZoneViolation, string(breach.Kind)+" zone "+breach.ZoneID)
		}
	}

	return events
}

// endSession closes droneID's active session with status, using the
// last known snapshot for end_* fields, and clamps a negative
// battery_used to zero per §8's testable property.
func (e *Engine) endSession(droneID int64, status storage.SessionStatus) {
	e.mu.Lock()
	rec, ok := e.active[droneID]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.active, droneID)

	now := time.Now()
	rec.session.EndedAt = now
	rec.session.Status = status
	if rec.haveSnap {
		rec.session.EndPoint = storage.Point{Lat: rec.priorSnap.LatDeg, Lon: rec.priorSnap.LonDeg}
		rec.session.EndBattery = rec.priorSnap.BatteryPct
	}
	rec.session.FlightDuration = rec.session.EndedAt.Sub(rec.session.StartedAt)

	batteryUsed := int(rec.session.StartBattery) - int(rec.session.EndBattery)
	if batteryUsed < 0 {
		log.Printf("[session] drone %d: end_battery %d > start_battery %d, clamping battery_used to 0",
			droneID, rec.session.EndBattery, rec.session.StartBattery)
		batteryUsed = 0
	}
	rec.session.BatteryUsed = uint8(batteryUsed)

	sess := rec.session
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.EndSession(ctx, sess); err != nil {
		logStorageErr(droneID, "EndSession", err)
	}

	e.writeEvent(storage.Event{
		SessionID: sess.SessionID,
		UserID:    sess.UserID,
		DroneID:   droneID,
		Timestamp: now,
		Kind:      storage.EventSessionEnded,
		Battery:   sess.EndBattery,
		Message:   "session ended",
	})
}

// Terminate closes droneID's active session as aborted, for explicit
// operator termination rather than a clean link disconnect.
func (e *Engine) Terminate(droneID int64) {
	e.endSession(droneID, storage.SessionAborted)
}

func (e *Engine) writeEvent(ev storage.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.CreateEvent(ctx, ev); err != nil {
		logStorageErr(ev.DroneID, "CreateEvent", err)
		return
	}
	if e.mirror != nil {
		if err := e.mirror.PublishEvent(ev); err != nil {
			log.Printf("[session] drone %d: mqtt mirror failed: %v", ev.DroneID, err)
		}
	}
}

// logStorageErr implements §7's propagation policy: transient storage
// failures are silently dropped (telemetry must never block);
// permanent failures are logged as a health-check concern but still
// never block telemetry.
func logStorageErr(droneID int64, op string, err error) {
	var transient *storage.TransientError
	if errors.As(err, &transient) {
		return
	}
	log.Printf("[session] drone %d: %s failed: %v", droneID, op, err)
}
