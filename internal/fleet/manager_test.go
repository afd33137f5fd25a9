package fleet

import (
	"testing"

	"github.com/open-ground/groundlink/internal/mavlink"
	"github.com/open-ground/groundlink/internal/telemetry"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

func TestRegister_UinConflict(t *testing.T) {
	m := NewManager(telemetry.NewStore())

	if _, err := m.Register("u1", "Rover", "UIN-1", vehiclelink.Endpoint{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := m.Register("u2", "Other", "UIN-1", vehiclelink.Endpoint{})
	if err == nil {
		t.Fatal("expected UinConflict on duplicate uin")
	}
	fleetErr, ok := err.(*Error)
	if !ok || fleetErr.Kind != KindUinConflict {
		t.Errorf("err = %v, want UinConflict", err)
	}
}

func TestArm_NotConnectedWithoutLink(t *testing.T) {
	m := NewManager(telemetry.NewStore())
	droneID, _ := m.Register("u1", "Rover", "UIN-1", vehiclelink.Endpoint{})

	err := m.Arm(droneID)
	if err == nil {
		t.Fatal("expected NotConnected error")
	}
	fleetErr, ok := err.(*Error)
	if !ok || fleetErr.Kind != KindNotConnected {
		t.Errorf("err = %v, want NotConnected", err)
	}
}

func TestOnFrame_PublishesTelemetryUpdate(t *testing.T) {
	m := NewManager(telemetry.NewStore())
	droneID, _ := m.Register("u1", "Rover", "UIN-1", vehiclelink.Endpoint{})

	var got TelemetryUpdate
	m.SubscribeTelemetry(telemetrySubFunc(func(u TelemetryUpdate) { got = u }))

	payload := []byte{9, 0, 0, 0, 0, 0, 0x81, 4, 3}
	frame := &mavlink.Frame{MsgID: mavlink.MsgHeartbeat, Known: true, Payload: payload}
	m.OnFrame(droneID, frame)

	if got.DroneID != droneID {
		t.Fatalf("DroneID = %d, want %d", got.DroneID, droneID)
	}
	if !got.Snapshot.Armed {
		t.Error("expected armed snapshot from base_mode 0x81")
	}
}

func TestResolveByOwner_OnlyConnected(t *testing.T) {
	m := NewManager(telemetry.NewStore())
	droneID, _ := m.Register("u1", "Rover", "UIN-1", vehiclelink.Endpoint{})

	if _, ok := m.ResolveByOwner("u1"); ok {
		t.Fatal("expected no connected drone before connect")
	}

	v, _ := m.Get(droneID)
	v.Link = vehiclelink.New(droneID, vehiclelink.Endpoint{}, m)

	if _, ok := m.ResolveByOwner("u1"); ok {
		t.Fatal("expected still no connected drone while link is only registered")
	}
}

type telemetrySubFunc func(TelemetryUpdate)

func (f telemetrySubFunc) OnTelemetryUpdate(u TelemetryUpdate) { f(u) }
