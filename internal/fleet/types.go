package fleet

import (
	"github.com/open-ground/groundlink/internal/telemetry"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

// Vehicle is the registry's view of one drone: identity, ownership,
// endpoint, and its (possibly nil, if never connected) link.
type Vehicle struct {
	DroneID  int64
	UserID   string
	Name     string
	Uin      string
	Endpoint vehiclelink.Endpoint
	Link     *vehiclelink.Link
}

// Status returns the vehicle's link status, or registered if it has
// never been connected.
func (v *Vehicle) Status() vehiclelink.Status {
	if v.Link == nil {
		return vehiclelink.StatusRegistered
	}
	return v.Link.Status()
}

// TelemetryUpdate is republished by the manager for every decoded
// message any link delivers, consumed by both the session engine and
// the subscriber hub.
type TelemetryUpdate struct {
	DroneID  int64
	UserID   string
	Uin      string
	Name     string
	Snapshot telemetry.Snapshot
}

// LinkStatus is republished whenever a vehicle link's lifecycle state
// changes.
type LinkStatus struct {
	DroneID int64
	UserID  string
	Status  vehiclelink.Status
	Err     error
}

// Target selects the recipients of an OperatorMessage: either one
// drone's owner or every authenticated principal.
type Target struct {
	DroneID int64
	All     bool
}

// OperatorMessage is a human-authored message broadcast through the
// subscriber hub, not derived from telemetry.
type OperatorMessage struct {
	Message    string
	Importance string
	Target     Target
}

// TelemetrySubscriber receives every republished TelemetryUpdate.
type TelemetrySubscriber interface {
	OnTelemetryUpdate(TelemetryUpdate)
}

// LinkStatusSubscriber receives every republished LinkStatus change.
type LinkStatusSubscriber interface {
	OnLinkStatus(LinkStatus)
}

// OperatorMessageSink receives operator messages for fan-out.
type OperatorMessageSink interface {
	OnOperatorMessage(OperatorMessage)
}
