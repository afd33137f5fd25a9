// Package hub is the authenticated fan-out hub (C6): it accepts
// persistent bidirectional client channels over gorilla/websocket,
// authenticates each one against the auth collaborator, and delivers
// telemetry and operator messages filtered by ownership or admin
// status. It also funnels the channel's command vocabulary (arm,
// disarm, set_mode, connect, disconnect) into the drone manager,
// mirroring the request surface (C7) so both paths share behavior.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/open-ground/groundlink/internal/auth"
	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

// sendQueueSize bounds the per-client outbound ring (§5): 1024
// messages, oldest telemetry dropped in favor of newest, but
// operator/connected/disconnected/error frames are never dropped.
const sendQueueSize = 1024

// MessageType enumerates the channel's JSON envelope `type` field,
// covering both the inbound (client -> server) and outbound (server
// -> client) vocabularies of spec §4.6/§6.
type MessageType string

const (
	// Inbound.
	TypeAuth        MessageType = "auth"
	TypeConnect     MessageType = "connect"
	TypeDisconnect  MessageType = "disconnect"
	TypeArm         MessageType = "arm"
	TypeDisarm      MessageType = "disarm"
	TypeSetMode     MessageType = "set_mode"
	TypePing        MessageType = "ping"

	// Outbound.
	TypeStatus       MessageType = "status"
	TypeTelemetry    MessageType = "telemetry"
	TypePosition     MessageType = "position"
	TypeBattery      MessageType = "battery"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeGPS          MessageType = "gps"
	TypeConnected    MessageType = "connected"
	TypeDisconnected MessageType = "disconnected"
	TypeMessage      MessageType = "message"
	TypeError        MessageType = "error"
	TypePong         MessageType = "pong"
)

// Envelope is the channel's wire format: `{ "type", "data"?, "timestamp"? }`.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Commander is the subset of the drone manager the hub drives
// commands through — a narrow interface so the hub never needs the
// full fleet.Manager type.
type Commander interface {
	Register(userID, name, uin string, endpoint vehiclelink.Endpoint) (int64, error)
	Connect(ctx context.Context, droneID int64) error
	Disconnect(droneID int64) error
	Arm(droneID int64) error
	Disarm(droneID int64) error
	SetMode(droneID int64, modeName string) error
	ResolveByOwner(userID string) (int64, bool)
	Get(droneID int64) (*fleet.Vehicle, bool)
}

// Hub owns the set of connected channels and fans out telemetry and
// operator messages. Construct once at startup; the fleet manager is
// wired to call SubscribeTelemetry/SubscribeLinkStatus/
// SubscribeOperatorMessages against it.
type Hub struct {
	verifier  auth.Verifier
	commander Commander

	mu       sync.RWMutex
	channels map[*Channel]bool
}

// New returns a Hub authenticating against v and dispatching commands
// through cmd.
func New(v auth.Verifier, cmd Commander) *Hub {
	return &Hub{
		verifier:  v,
		commander: cmd,
		channels:  make(map[*Channel]bool),
	}
}

func (h *Hub) register(c *Channel) {
	h.mu.Lock()
	h.channels[c] = true
	h.mu.Unlock()
}

// unregister drops c from the registry and signals its writePump to
// stop. It closes c.quit, never c.send: the fan-out path
// (OnTelemetryUpdate et al.) sends to c.send after releasing h.mu, so
// closing send here would race a concurrent send and panic.
func (h *Hub) unregister(c *Channel) {
	h.mu.Lock()
	if _, ok := h.channels[c]; ok {
		delete(h.channels, c)
		close(c.quit)
	}
	h.mu.Unlock()
}

// snapshot returns a copy of the currently registered channels,
// fanning out without holding the registry lock (§5).
func (h *Hub) snapshot() []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Channel, 0, len(h.channels))
	for c := range h.channels {
		out = append(out, c)
	}
	return out
}

// ChannelCount returns the number of registered channels, authenticated
// or not — used by the status endpoint.
func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

// OnTelemetryUpdate implements fleet.TelemetrySubscriber: it delivers
// a bundled telemetry frame plus the finer position/battery/heartbeat/
// gps frames spec §4.6 names, to every channel authenticated as u's
// owner or as an admin.
func (h *Hub) OnTelemetryUpdate(u fleet.TelemetryUpdate) {
	telemetryMsg := envelope(TypeTelemetry, telemetryPayload{
		DroneID:  u.DroneID,
		Name:     u.Name,
		Uin:      u.Uin,
		Snapshot: u.Snapshot,
	})
	positionMsg := envelope(TypePosition, positionPayload{
		DroneID: u.DroneID,
		Lat:     u.Snapshot.LatDeg,
		Lon:     u.Snapshot.LonDeg,
		AltMSL:  u.Snapshot.AltMSLM,
		AltRel:  u.Snapshot.AltRelM,
	})
	batteryMsg := envelope(TypeBattery, batteryPayload{DroneID: u.DroneID, Pct: u.Snapshot.BatteryPct})
	heartbeatMsg := envelope(TypeHeartbeat, heartbeatPayload{DroneID: u.DroneID, Armed: u.Snapshot.Armed, Mode: u.Snapshot.Mode})
	gpsMsg := envelope(TypeGPS, gpsPayload{DroneID: u.DroneID, Satellites: u.Snapshot.Satellites})

	for _, c := range h.snapshot() {
		if !c.mayReceive(u.UserID) {
			continue
		}
		c.enqueueTelemetry(telemetryMsg)
		c.enqueueTelemetry(positionMsg)
		c.enqueueTelemetry(batteryMsg)
		c.enqueueTelemetry(heartbeatMsg)
		c.enqueueTelemetry(gpsMsg)
	}
}

// OnLinkStatus implements fleet.LinkStatusSubscriber: connected/
// disconnected notifications are never dropped by the bounded ring.
func (h *Hub) OnLinkStatus(ls fleet.LinkStatus) {
	var msgType MessageType
	switch ls.Status {
	case vehiclelink.StatusConnected:
		msgType = TypeConnected
	case vehiclelink.StatusDisconnected:
		msgType = TypeDisconnected
	default:
		return
	}

	msg := envelope(msgType, statusChangePayload{DroneID: ls.DroneID, Message: string(ls.Status)})
	for _, c := range h.snapshot() {
		if c.mayReceive(ls.UserID) {
			c.enqueuePriority(msg)
		}
	}
}

// OnOperatorMessage implements fleet.OperatorMessageSink, delivering
// to the channels authenticated as the target owner, or to every
// authenticated channel for a broadcast target.
func (h *Hub) OnOperatorMessage(om fleet.OperatorMessage) {
	msg := envelope(TypeMessage, operatorMessagePayload{
		Message:    om.Message,
		Importance: om.Importance,
	})

	for _, c := range h.snapshot() {
		if !c.isAuthenticated() {
			continue
		}
		if om.Target.All {
			c.enqueuePriority(msg)
			continue
		}
		if v, ok := h.commander.Get(om.Target.DroneID); ok && c.currentPrincipal().UserID == v.UserID {
			c.enqueuePriority(msg)
		}
	}
}

func envelope(t MessageType, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("[hub] marshal %s payload: %v", t, err)
		raw = nil
	}
	out, err := json.Marshal(Envelope{Type: t, Data: raw, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		log.Printf("[hub] marshal envelope: %v", err)
		return nil
	}
	return out
}

func errorEnvelope(message string) []byte {
	raw, _ := json.Marshal(map[string]string{"message": message})
	out, _ := json.Marshal(Envelope{Type: TypeError, Data: raw, Timestamp: time.Now().UnixMilli()})
	return out
}
