package session

import (
	"testing"
	"time"

	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/storage"
	"github.com/open-ground/groundlink/internal/telemetry"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

func newTestEngine() (*Engine, *storage.InMemory) {
	mem := storage.NewInMemory()
	return New(mem, nil), mem
}

func connect(e *Engine, droneID int64, userID string) {
	e.OnLinkStatus(fleet.LinkStatus{DroneID: droneID, UserID: userID, Status: vehiclelink.StatusConnected})
}

func update(e *Engine, droneID int64, userID string, snap telemetry.Snapshot) {
	e.OnTelemetryUpdate(fleet.TelemetryUpdate{DroneID: droneID, UserID: userID, Snapshot: snap})
}

func TestSessionStart_PersistsSessionAndEvent(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")

	sessions := mem.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Status != storage.SessionActive {
		t.Errorf("status = %v, want active", sessions[0].Status)
	}

	events := mem.Events()
	if len(events) != 1 || events[0].Kind != storage.EventSessionStarted {
		t.Fatalf("events = %+v, want one session_started", events)
	}
}

func TestTakeoffDebounce_OnePersistedWithinWindow(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")

	alts := []float32{6, 7, 8, 9, 8, 7, 8, 9, 10, 11}
	for _, alt := range alts {
		update(e, 1, "u1", telemetry.Snapshot{Armed: true, AltRelM: alt})
	}

	var takeoffs int
	for _, ev := range mem.Events() {
		if ev.Kind == storage.EventTakeoff {
			takeoffs++
		}
	}
	if takeoffs != 1 {
		t.Errorf("takeoff events = %d, want 1", takeoffs)
	}
}

func TestLandingAfterTakeoff_EmitsOneLandingAndModeChangeOnlyWhenModeDiffers(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")

	update(e, 1, "u1", telemetry.Snapshot{Armed: true, AltRelM: 6, Mode: "LAND"})
	update(e, 1, "u1", telemetry.Snapshot{Armed: false, AltRelM: 1, Mode: "LAND"})

	var landings, modeChanges int
	for _, ev := range mem.Events() {
		switch ev.Kind {
		case storage.EventLanding:
			landings++
		case storage.EventModeChange:
			modeChanges++
		}
	}
	if landings != 1 {
		t.Errorf("landing events = %d, want 1", landings)
	}
	if modeChanges != 0 {
		t.Errorf("mode_change events = %d, want 0 (mode unchanged from prior)", modeChanges)
	}
}

func TestBatteryLow_Debounced(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")

	for i := 0; i < 5; i++ {
		update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 15})
	}

	var lowBattery int
	for _, ev := range mem.Events() {
		if ev.Kind == storage.EventBatteryLow {
			lowBattery++
		}
	}
	if lowBattery != 1 {
		t.Errorf("battery_low events = %d, want 1", lowBattery)
	}
}

func TestEndSession_ClampsNegativeBatteryUsed(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")
	update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 50})
	update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 90, AltRelM: 1}) // battery increased: charged mid-flight; clean landing precedes disconnect

	e.OnLinkStatus(fleet.LinkStatus{DroneID: 1, Status: vehiclelink.StatusDisconnected})

	sessions := mem.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	sess := sessions[0]
	if sess.EndBattery < sess.StartBattery {
		t.Errorf("unexpected: end_battery %d < start_battery %d", sess.EndBattery, sess.StartBattery)
	}
	// battery_used = start - end would be negative; the persisted field
	// clamps to 0 rather than storing a negative usage.
	if sess.BatteryUsed != 0 {
		t.Errorf("BatteryUsed = %d, want 0 (clamped)", sess.BatteryUsed)
	}
	if sess.Status != storage.SessionCompleted {
		t.Errorf("status = %v, want completed", sess.Status)
	}
}

func TestEndSession_PersistsBatteryUsedAndFlightDuration(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")
	update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 90})
	update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 60, AltRelM: 1})

	e.OnLinkStatus(fleet.LinkStatus{DroneID: 1, Status: vehiclelink.StatusDisconnected})

	sessions := mem.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	sess := sessions[0]
	if sess.BatteryUsed != 30 {
		t.Errorf("BatteryUsed = %d, want 30 (start 90 - end 60)", sess.BatteryUsed)
	}
	if sess.FlightDuration != sess.EndedAt.Sub(sess.StartedAt) {
		t.Errorf("FlightDuration = %v, want EndedAt - StartedAt = %v", sess.FlightDuration, sess.EndedAt.Sub(sess.StartedAt))
	}
	if sess.FlightDuration < 0 {
		t.Errorf("FlightDuration = %v, want non-negative", sess.FlightDuration)
	}
}

func TestEndSession_AbortsWithoutPriorLanding(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")
	update(e, 1, "u1", telemetry.Snapshot{Armed: true, AltRelM: 30})

	e.OnLinkStatus(fleet.LinkStatus{DroneID: 1, Status: vehiclelink.StatusDisconnected})

	sessions := mem.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Status != storage.SessionAborted {
		t.Errorf("status = %v, want aborted (no clean landing before disconnect)", sessions[0].Status)
	}
}

func TestDisconnectWithoutConnect_IsNoop(t *testing.T) {
	e, _ := newTestEngine()
	e.OnLinkStatus(fleet.LinkStatus{DroneID: 99, Status: vehiclelink.StatusDisconnected})
}

func TestReconnect_StartsFreshSession(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")
	e.OnLinkStatus(fleet.LinkStatus{DroneID: 1, Status: vehiclelink.StatusDisconnected})
	connect(e, 1, "u1")

	sessions := mem.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2 (one ended, one fresh)", len(sessions))
	}
}

func TestActiveSessionID(t *testing.T) {
	e, _ := newTestEngine()
	if _, ok := e.ActiveSessionID(1); ok {
		t.Fatal("expected no active session before connect")
	}
	connect(e, 1, "u1")
	if _, ok := e.ActiveSessionID(1); !ok {
		t.Fatal("expected active session after connect")
	}
}

func TestCooldownElapses_AllowsSecondEvent(t *testing.T) {
	e, mem := newTestEngine()
	connect(e, 1, "u1")
	update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 15})

	// Directly poke the debounce timestamp into the past to simulate
	// the cooldown window having elapsed, without sleeping in the test.
	e.mu.Lock()
	rec := e.active[1]
	rec.lastCooldown[storage.EventBatteryLow.Index()] = time.Now().Add(-4 * time.Second)
	e.mu.Unlock()

	update(e, 1, "u1", telemetry.Snapshot{BatteryPct: 14})

	var lowBattery int
	for _, ev := range mem.Events() {
		if ev.Kind == storage.EventBatteryLow {
			lowBattery++
		}
	}
	if lowBattery != 2 {
		t.Errorf("battery_low events = %d, want 2 after cooldown elapsed", lowBattery)
	}
}
