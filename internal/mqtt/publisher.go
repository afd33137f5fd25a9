// Package mqtt mirrors telemetry updates and derived events onto an
// MQTT broker, for operators consuming the fleet outside the
// subscriber hub. It is optional: disabled by config, its zero value
// ignores every call.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/open-ground/groundlink/internal/config"
	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/storage"
)

// Publisher republishes fleet telemetry and session events to MQTT.
// It implements fleet.TelemetrySubscriber so the manager can drive it
// like any other subscriber.
type Publisher struct {
	cfg    config.MQTTConfig
	client pahomqtt.Client
	mu     sync.RWMutex
	ready  bool
}

// New returns a Publisher for cfg. Call Start before subscribing it to
// a manager.
func New(cfg config.MQTTConfig) *Publisher {
	return &Publisher{cfg: cfg}
}

// Start connects to the broker, waiting until the connect attempt
// completes or ctx is done; it applies no timeout of its own.
func (p *Publisher) Start(ctx context.Context) error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}

	if p.cfg.LWT.Enabled {
		lwtTopic := fmt.Sprintf("%s/%s", p.cfg.LWT.Topic, p.cfg.ClientID)
		opts.SetWill(lwtTopic, p.cfg.LWT.Message, byte(p.cfg.QoS), true)
	}

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		p.mu.Lock()
		p.ready = true
		p.mu.Unlock()

		if p.cfg.LWT.Enabled {
			statusTopic := fmt.Sprintf("%s/%s", p.cfg.LWT.Topic, p.cfg.ClientID)
			c.Publish(statusTopic, byte(p.cfg.QoS), true, "online")
		}
	})

	opts.SetConnectionLostHandler(func(c pahomqtt.Client, err error) {
		p.mu.Lock()
		p.ready = false
		p.mu.Unlock()
	})

	p.client = pahomqtt.NewClient(opts)
	token := p.client.Connect()

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if token.Error() != nil {
		return fmt.Errorf("mqtt connection failed: %w", token.Error())
	}

	return nil
}

// telemetryMessage is the JSON body published to
// "{prefix}/{drone_id}/telemetry".
type telemetryMessage struct {
	DroneID     int64   `json:"drone_id"`
	Uin         string  `json:"uin"`
	Name        string  `json:"name"`
	Armed       bool    `json:"armed"`
	Mode        string  `json:"mode"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	AltRelM     float32 `json:"alt_rel_m"`
	GroundSpeed float32 `json:"ground_speed_ms"`
	BatteryPct  uint8   `json:"battery_pct"`
	Timestamp   int64   `json:"timestamp"`
}

// OnTelemetryUpdate implements fleet.TelemetrySubscriber, publishing a
// best-effort, non-blocking message per update. A disconnected
// publisher silently drops updates rather than backing up the
// manager's fan-out.
func (p *Publisher) OnTelemetryUpdate(u fleet.TelemetryUpdate) {
	if !p.IsConnected() {
		return
	}

	msg := telemetryMessage{
		DroneID:     u.DroneID,
		Uin:         u.Uin,
		Name:        u.Name,
		Armed:       u.Snapshot.Armed,
		Mode:        u.Snapshot.Mode,
		Lat:         u.Snapshot.LatDeg,
		Lon:         u.Snapshot.LonDeg,
		AltRelM:     u.Snapshot.AltRelM,
		GroundSpeed: u.Snapshot.GroundSpeedMps,
		BatteryPct:  u.Snapshot.BatteryPct,
		Timestamp:   time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	topic := fmt.Sprintf("%s/%d/telemetry", p.cfg.TopicPrefix, u.DroneID)
	p.publishAsync(topic, payload)
}

// eventMessage is the JSON body published to
// "{prefix}/{drone_id}/event".
type eventMessage struct {
	SessionID string            `json:"session_id"`
	DroneID   int64             `json:"drone_id"`
	Kind      storage.EventKind `json:"kind"`
	Timestamp int64             `json:"timestamp"`
	Mode      string            `json:"mode,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// PublishEvent mirrors a derived session event, called by the session
// engine after a successful storage write.
func (p *Publisher) PublishEvent(ev storage.Event) error {
	if !p.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}

	msg := eventMessage{
		SessionID: ev.SessionID,
		DroneID:   ev.DroneID,
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp.UnixMilli(),
		Mode:      ev.Mode,
		Message:   ev.Message,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("json marshal failed: %w", err)
	}

	topic := fmt.Sprintf("%s/%d/event", p.cfg.TopicPrefix, ev.DroneID)
	p.publishAsync(topic, payload)
	return nil
}

// publishAsync fires the publish and never blocks the caller on
// broker acknowledgement.
func (p *Publisher) publishAsync(topic string, payload []byte) {
	token := p.client.Publish(topic, byte(p.cfg.QoS), false, payload)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			_ = token.Error()
		}
	}()
}

// Stop publishes an offline LWT status (if configured) and
// disconnects.
func (p *Publisher) Stop() error {
	if p.client != nil && p.client.IsConnected() {
		if p.cfg.LWT.Enabled {
			statusTopic := fmt.Sprintf("%s/%s", p.cfg.LWT.Topic, p.cfg.ClientID)
			token := p.client.Publish(statusTopic, byte(p.cfg.QoS), true, "offline")
			token.WaitTimeout(2 * time.Second)
		}
		p.client.Disconnect(1000)
	}
	return nil
}

// IsConnected reports whether the broker connection is currently up.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}
