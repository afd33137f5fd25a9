package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/open-ground/groundlink/internal/auth"
	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Channel is one subscriber's bidirectional connection: `open ->
// authenticating -> authenticated -> closed` per §3. Only
// authenticated channels receive telemetry/operator frames or may
// issue commands.
type Channel struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}

	mu            sync.RWMutex
	authenticated bool
	principal     auth.Principal
	openedAt      time.Time
}

// ServeHTTP upgrades r to a websocket and registers a new Channel,
// per the default path /ws/drone (§6).
func ServeHTTP(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade error: %v", err)
		return
	}

	c := &Channel{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		quit:     make(chan struct{}),
		openedAt: time.Now(),
	}
	h.register(c)

	c.enqueuePriority(envelope(TypeStatus, statusBannerPayload{RequiresAuth: true}))

	go c.writePump()
	go c.readPump()
}

func (c *Channel) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// mayReceive implements §4.6's fan-out filter: authenticated and
// (admin or owns userID).
func (c *Channel) mayReceive(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated && (c.principal.IsAdmin || c.principal.UserID == userID)
}

func (c *Channel) ownsOrAdmin(userID string) bool {
	return c.mayReceive(userID)
}

// enqueueTelemetry drops the oldest telemetry frame in favor of the
// newest on backpressure, per §5's bounded ring policy. c.send is
// never closed (see Hub.unregister), so these sends never race a
// close; c.quit only short-circuits delivery once the channel is
// gone.
func (c *Channel) enqueueTelemetry(msg []byte) {
	if msg == nil {
		return
	}
	select {
	case <-c.quit:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- msg:
		default:
		}
	}
}

// enqueuePriority never drops operator/connected/disconnected/error
// frames; it blocks briefly rather than discarding them, and gives up
// once the channel has unregistered.
func (c *Channel) enqueuePriority(msg []byte) {
	if msg == nil {
		return
	}
	select {
	case c.send <- msg:
	case <-c.quit:
	case <-time.After(writeWait):
		log.Printf("[hub] channel send queue full, priority frame delayed past %s", writeWait)
	}
}

func (c *Channel) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[hub] read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.enqueuePriority(errorEnvelope("malformed message"))
			continue
		}
		c.handle(env)
	}
}

func (c *Channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound envelope. Per §4.6's authentication
// gate, an unauthenticated channel only responds to auth.
func (c *Channel) handle(env Envelope) {
	if !c.isAuthenticated() && env.Type != TypeAuth {
		c.enqueuePriority(errorEnvelope("not authenticated"))
		return
	}

	switch env.Type {
	case TypeAuth:
		c.handleAuth(env.Data)
	case TypePing:
		c.enqueuePriority(envelope(TypePong, struct{}{}))
	case TypeConnect:
		c.handleConnect(env.Data)
	case TypeDisconnect:
		c.handleDisconnect()
	case TypeArm:
		c.handleCommand(c.hub.commander.Arm)
	case TypeDisarm:
		c.handleCommand(c.hub.commander.Disarm)
	case TypeSetMode:
		c.handleSetMode(env.Data)
	default:
		c.enqueuePriority(errorEnvelope("unknown message type"))
	}
}

func (c *Channel) handleAuth(data json.RawMessage) {
	var req authPayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueuePriority(errorEnvelope("malformed auth message"))
		return
	}

	principal, err := c.hub.verifier.Verify(req.Bearer)
	if err != nil {
		c.enqueuePriority(errorEnvelope("authentication failed"))
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.principal = principal
	c.mu.Unlock()

	c.enqueuePriority(envelope(TypeStatus, map[string]any{"authenticated": true, "user_id": principal.UserID, "is_admin": principal.IsAdmin}))
}

func (c *Channel) resolveDroneID() (int64, bool) {
	p := c.currentPrincipal()
	return c.hub.commander.ResolveByOwner(p.UserID)
}

func (c *Channel) currentPrincipal() auth.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

func (c *Channel) handleConnect(data json.RawMessage) {
	var req connectPayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueuePriority(errorEnvelope("malformed connect message"))
		return
	}

	endpoint, err := vehiclelink.ParseEndpoint(req.ConnectionString)
	if err != nil {
		c.enqueuePriority(errorEnvelope("invalid connection string"))
		return
	}

	p := c.currentPrincipal()
	droneID, ok := c.hub.commander.ResolveByOwner(p.UserID)
	if !ok {
		droneID, err = c.hub.commander.Register(p.UserID, "", req.ConnectionString, endpoint)
		if err != nil {
			c.enqueuePriority(errorEnvelope(err.Error()))
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.hub.commander.Connect(ctx, droneID); err != nil {
		c.enqueuePriority(errorEnvelope(err.Error()))
	}
}

func (c *Channel) handleDisconnect() {
	droneID, ok := c.resolveDroneID()
	if !ok {
		c.enqueuePriority(errorEnvelope("no connected drone"))
		return
	}
	if err := c.hub.commander.Disconnect(droneID); err != nil {
		c.enqueuePriority(errorEnvelope(err.Error()))
	}
}

func (c *Channel) handleCommand(fn func(int64) error) {
	droneID, ok := c.resolveDroneID()
	if !ok {
		c.enqueuePriority(errorEnvelope("no connected drone"))
		return
	}
	if err := fn(droneID); err != nil {
		if fleetErr, ok := err.(*fleet.Error); ok {
			c.enqueuePriority(errorEnvelope(string(fleetErr.Kind)))
			return
		}
		c.enqueuePriority(errorEnvelope(err.Error()))
	}
}

func (c *Channel) handleSetMode(data json.RawMessage) {
	var req setModePayload
	if err := json.Unmarshal(data, &req); err != nil {
		c.enqueuePriority(errorEnvelope("malformed set_mode message"))
		return
	}
	c.handleCommand(func(droneID int64) error {
		return c.hub.commander.SetMode(droneID, req.Mode)
	})
}
