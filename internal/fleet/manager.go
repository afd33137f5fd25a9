package fleet

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/open-ground/groundlink/internal/mavlink"
	"github.com/open-ground/groundlink/internal/telemetry"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

// Manager is the drone registry: by_id, by_owner, and by_uin indexes
// plus the vehicle links themselves. It is constructed once at
// startup and passed by reference — no package-level singleton.
type Manager struct {
	mu       sync.RWMutex
	byID     map[int64]*Vehicle
	byOwner  map[string]map[int64]bool
	byUin    map[string]int64
	nextID   int64
	store    *telemetry.Store

	subMu             sync.RWMutex
	telemetrySubs     []TelemetrySubscriber
	linkStatusSubs    []LinkStatusSubscriber
	operatorMsgSinks  []OperatorMessageSink
}

// NewManager returns an empty Manager backed by store for snapshots.
func NewManager(store *telemetry.Store) *Manager {
	return &Manager{
		byID:    make(map[int64]*Vehicle),
		byOwner: make(map[string]map[int64]bool),
		byUin:   make(map[string]int64),
		store:   store,
	}
}

// SubscribeTelemetry registers s to receive every TelemetryUpdate.
// Subscriptions are made once at startup, not dynamically discovered.
func (m *Manager) SubscribeTelemetry(s TelemetrySubscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.telemetrySubs = append(m.telemetrySubs, s)
}

// SubscribeLinkStatus registers s to receive every LinkStatus change.
func (m *Manager) SubscribeLinkStatus(s LinkStatusSubscriber) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.linkStatusSubs = append(m.linkStatusSubs, s)
}

// SubscribeOperatorMessages registers s to receive OperatorMessages.
func (m *Manager) SubscribeOperatorMessages(s OperatorMessageSink) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.operatorMsgSinks = append(m.operatorMsgSinks, s)
}

// Register adds a new vehicle owned by userID, failing UinConflict if
// uin is already registered.
func (m *Manager) Register(userID, name, uin string, endpoint vehiclelink.Endpoint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUin[uin]; exists {
		return 0, NewError(KindUinConflict, "uin %q already registered", uin)
	}

	m.nextID++
	droneID := m.nextID

	v := &Vehicle{DroneID: droneID, UserID: userID, Name: name, Uin: uin, Endpoint: endpoint}
	m.byID[droneID] = v
	m.byUin[uin] = droneID
	if m.byOwner[userID] == nil {
		m.byOwner[userID] = make(map[int64]bool)
	}
	m.byOwner[userID][droneID] = true

	return droneID, nil
}

// Connect creates the vehicle's link if needed and connects it.
// Idempotent if already connected.
func (m *Manager) Connect(ctx context.Context, droneID int64) error {
	v, err := m.lookup(droneID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if v.Link == nil {
		v.Link = vehiclelink.New(droneID, v.Endpoint, m)
	}
	link := v.Link
	m.mu.Unlock()

	if err := link.Connect(ctx); err != nil {
		linkErr, ok := err.(*vehiclelink.LinkError)
		if ok && linkErr.Kind == vehiclelink.ErrKindBindFailed {
			return NewError(KindBindFailed, "%v", linkErr.Err)
		}
		return err
	}
	return nil
}

// Disconnect idempotently tears down the vehicle's link. Session
// closure is driven by the LinkStatus notification, not called here
// directly, keeping C4 and C5 decoupled.
func (m *Manager) Disconnect(droneID int64) error {
	v, err := m.lookup(droneID)
	if err != nil {
		return err
	}
	if v.Link == nil {
		return nil
	}
	v.Link.Disconnect()
	return nil
}

// Arm sends a COMMAND_LONG arming the vehicle.
func (m *Manager) Arm(droneID int64) error {
	return m.sendArmDisarm(droneID, 1.0)
}

// Disarm sends a COMMAND_LONG disarming the vehicle.
func (m *Manager) Disarm(droneID int64) error {
	return m.sendArmDisarm(droneID, 0.0)
}

func (m *Manager) sendArmDisarm(droneID int64, param1 float32) error {
	v, err := m.lookup(droneID)
	if err != nil {
		return err
	}
	if v.Link == nil {
		return NewError(KindNotConnected, "drone %d has no link", droneID)
	}

	sysID, compID := v.Link.ObservedIdentity()
	payload := mavlink.EncodeCommandLong(mavlink.CommandLong{
		Param1:          param1,
		Command:         mavlink.MavCmdComponentArmDisarm,
		TargetSystem:    sysID,
		TargetComponent: compID,
	})
	return m.translateLinkErr(v.Link.Send(mavlink.MsgCommandLong, payload))
}

// SetMode sends a SET_MODE frame selecting modeName (case-insensitive
// against §4.1's mode table).
func (m *Manager) SetMode(droneID int64, modeName string) error {
	v, err := m.lookup(droneID)
	if err != nil {
		return err
	}
	if v.Link == nil {
		return NewError(KindNotConnected, "drone %d has no link", droneID)
	}

	customMode, ok := mavlink.ModeNumberByName(modeName)
	if !ok {
		return NewError(KindUnknownMode, "unknown flight mode %q", modeName)
	}

	sysID, _ := v.Link.ObservedIdentity()
	payload := mavlink.EncodeSetMode(mavlink.SetMode{
		CustomMode:   customMode,
		TargetSystem: sysID,
	})
	return m.translateLinkErr(v.Link.Send(mavlink.MsgSetMode, payload))
}

func (m *Manager) translateLinkErr(err error) error {
	if err == nil {
		return nil
	}
	if linkErr, ok := err.(*vehiclelink.LinkError); ok {
		switch linkErr.Kind {
		case vehiclelink.ErrKindPeerUnknown:
			return NewError(KindPeerUnknown, "no peer address learned yet")
		case vehiclelink.ErrKindFramingError:
			return NewError(KindFramingError, "%v", linkErr.Err)
		}
	}
	return err
}

// ResolveByOwner returns the single connected drone owned by userID.
func (m *Manager) ResolveByOwner(userID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for droneID := range m.byOwner[userID] {
		v := m.byID[droneID]
		if v.Status() == vehiclelink.StatusConnected {
			return droneID, true
		}
	}
	return 0, false
}

// Get returns the vehicle record for droneID.
func (m *Manager) Get(droneID int64) (*Vehicle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.byID[droneID]
	return v, ok
}

// List returns every registered vehicle, for the admin drone-listing
// endpoint. Order is unspecified.
func (m *Manager) List() []*Vehicle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Vehicle, 0, len(m.byID))
	for _, v := range m.byID {
		out = append(out, v)
	}
	return out
}

func (m *Manager) lookup(droneID int64) (*Vehicle, error) {
	m.mu.RLock()
	v, ok := m.byID[droneID]
	m.mu.RUnlock()
	if !ok {
		return nil, NewError(KindDroneNotFound, "drone %d not registered", droneID)
	}
	return v, nil
}

// SendOperatorMessage fans an operator message out through every
// registered OperatorMessageSink (the subscriber hub).
func (m *Manager) SendOperatorMessage(msg OperatorMessage) {
	m.subMu.RLock()
	sinks := append([]OperatorMessageSink(nil), m.operatorMsgSinks...)
	m.subMu.RUnlock()

	for _, sink := range sinks {
		sink.OnOperatorMessage(msg)
	}
}

// --- vehiclelink.Sink implementation ---

// OnFrame decodes a known message into the telemetry snapshot and
// republishes a TelemetryUpdate. Unknown frames are ignored.
func (m *Manager) OnFrame(droneID int64, frame *mavlink.Frame) {
	if !frame.Known {
		return
	}

	v, ok := m.Get(droneID)
	if !ok {
		return
	}

	snap := m.store.Mutate(droneID, func(s telemetry.Snapshot) telemetry.Snapshot {
		switch frame.MsgID {
		case mavlink.MsgHeartbeat:
			s = s.ApplyHeartbeat(mavlink.DecodeHeartbeat(frame.Payload))
		case mavlink.MsgGlobalPositionInt:
			s = s.ApplyGlobalPositionInt(mavlink.DecodeGlobalPositionInt(frame.Payload))
		case mavlink.MsgVFRHud:
			s = s.ApplyVFRHud(mavlink.DecodeVFRHud(frame.Payload))
		case mavlink.MsgGPSRawInt:
			s = s.ApplyGPSRawInt(mavlink.DecodeGPSRawInt(frame.Payload))
		case mavlink.MsgBatteryStatus:
			s = s.ApplyBatteryStatus(mavlink.DecodeBatteryStatus(frame.Payload))
		}
		s.LastUpdateEpochMs = time.Now().UnixMilli()
		return s
	})

	update := TelemetryUpdate{DroneID: droneID, UserID: v.UserID, Uin: v.Uin, Name: v.Name, Snapshot: snap}

	m.subMu.RLock()
	subs := append([]TelemetrySubscriber(nil), m.telemetrySubs...)
	m.subMu.RUnlock()

	for _, sub := range subs {
		sub.OnTelemetryUpdate(update)
	}
}

// OnStatusChange republishes a vehicle link's lifecycle transition.
func (m *Manager) OnStatusChange(droneID int64, status vehiclelink.Status) {
	v, ok := m.Get(droneID)
	if !ok {
		return
	}

	ls := LinkStatus{DroneID: droneID, UserID: v.UserID, Status: status}

	m.subMu.RLock()
	subs := append([]LinkStatusSubscriber(nil), m.linkStatusSubs...)
	m.subMu.RUnlock()

	for _, sub := range subs {
		sub.OnLinkStatus(ls)
	}
}

// OnDecodeError logs a decode failure; no count of failures is kept.
// Per policy no vehicle is ever disconnected for a single bad frame.
func (m *Manager) OnDecodeError(droneID int64, err error) {
	log.Printf("[fleet] drone %d: decode error: %v", droneID, err)
}
