// Package vehiclelink owns one bound UDP endpoint per vehicle: binds
// the socket, learns the remote peer from inbound traffic, runs the
// heartbeat watchdog and reconnect loop, and hands decoded frames to
// a Sink. It holds no reference back to the fleet manager — only a
// narrow callback interface — per the owner+callback pattern used to
// break the manager/link cycle.
package vehiclelink

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/open-ground/groundlink/internal/mavlink"
)

// Status is a link's lifecycle state.
type Status string

const (
	StatusRegistered   Status = "registered"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

const (
	heartbeatTimeout = 10 * time.Second
	reconnectBackoff = 5 * time.Second
	readDeadlineStep = 500 * time.Millisecond
)

// Endpoint is a vehicle's transport descriptor.
type Endpoint struct {
	Protocol string // udpin, udp, tcp — this core only implements the UDP protocols
	Host     string
	Port     int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s:%d", e.Protocol, e.Host, e.Port)
}

// Sink receives callbacks from a Link's receive loop. The fleet
// manager implements this; a Link never imports or holds the manager
// directly.
type Sink interface {
	OnFrame(droneID int64, frame *mavlink.Frame)
	OnStatusChange(droneID int64, status Status)
	OnDecodeError(droneID int64, err error)
}

// Link is one vehicle's UDP endpoint.
type Link struct {
	droneID  int64
	endpoint Endpoint
	sink     Sink

	mu       sync.Mutex
	status   Status
	conn     *net.UDPConn
	peerAddr *net.UDPAddr
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	encoder *mavlink.Encoder
	sysID   uint8
	compID  uint8
}

// New returns a Link for droneID bound to endpoint, delivering
// callbacks to sink. The link does not bind its socket until Connect.
func New(droneID int64, endpoint Endpoint, sink Sink) *Link {
	return &Link{
		droneID:  droneID,
		endpoint: endpoint,
		sink:     sink,
		status:   StatusRegistered,
		encoder:  mavlink.NewEncoder(),
	}
}

// Status returns the link's current lifecycle state.
func (l *Link) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// PeerAddr returns the learned remote address, or nil if none yet.
func (l *Link) PeerAddr() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peerAddr
}

// Connect binds the socket and starts the receive loop and heartbeat
// watchdog. Idempotent: calling Connect on an already-connecting or
// connected link is a no-op.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.status == StatusConnecting || l.status == StatusConnected || l.status == StatusReconnecting {
		l.mu.Unlock()
		return nil
	}
	l.status = StatusConnecting
	l.mu.Unlock()
	l.setStatus(StatusConnecting)

	conn, err := l.bind()
	if err != nil {
		l.setStatus(StatusDisconnected)
		return &LinkError{Kind: ErrKindBindFailed, Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.conn = conn
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.receiveLoop(runCtx, conn)

	return nil
}

func (l *Link) bind() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", l.endpoint.Host, l.endpoint.Port))
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", addr)
}

// Disconnect is idempotent: closes the socket, cancels the receive
// loop, and marks the link disconnected.
func (l *Link) Disconnect() {
	l.mu.Lock()
	if l.status == StatusDisconnected {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	conn := l.conn
	l.cancel = nil
	l.conn = nil
	l.peerAddr = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	l.wg.Wait()
	l.setStatus(StatusDisconnected)
}

// Send encodes and writes a frame to the learned peer. Fails with
// PeerUnknown if no peer has been learned yet.
func (l *Link) Send(msgID uint32, payload []byte) error {
	l.mu.Lock()
	conn := l.conn
	peer := l.peerAddr
	l.mu.Unlock()

	if peer == nil || conn == nil {
		return &LinkError{Kind: ErrKindPeerUnknown}
	}

	frame, err := l.encoder.Encode(msgID, payload)
	if err != nil {
		return &LinkError{Kind: ErrKindFramingError, Err: err}
	}
	_, err = conn.WriteToUDP(frame, peer)
	return err
}

// ObservedIdentity returns the sysid/compid most recently seen from
// the peer, used to target outbound COMMAND_LONG/SET_MODE frames.
func (l *Link) ObservedIdentity() (sysID, compID uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sysID, l.compID
}

func (l *Link) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
	l.sink.OnStatusChange(l.droneID, s)
}

// receiveLoop reads datagrams until ctx is cancelled or the socket
// errors. A read deadline bounds each ReadFromUDP call so ctx.Done()
// is observed promptly without a busy loop, mirroring a deadline-based
// accept loop generalized to datagram reads.
func (l *Link) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer l.wg.Done()

	decoder := mavlink.NewDecoder()
	watchdog := time.NewTimer(heartbeatTimeout)
	defer watchdog.Stop()

	buf := make([]byte, 2048)

	go l.watchHeartbeat(ctx, watchdog)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readDeadlineStep))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[vehiclelink] drone %d: read error: %v", l.droneID, err)
			l.wg.Add(1)
			go l.reconnect(ctx)
			return
		}

		l.handleDatagram(buf[:n], addr, decoder, watchdog)
	}
}

func (l *Link) handleDatagram(data []byte, addr *net.UDPAddr, decoder *mavlink.Decoder, watchdog *time.Timer) {
	l.updatePeer(addr)

	decoder.Feed(data)
	for {
		frame, err := decoder.Next()
		if err != nil {
			l.sink.OnDecodeError(l.droneID, err)
			continue
		}
		if frame == nil {
			return
		}

		if frame.MsgID == mavlink.MsgHeartbeat {
			watchdog.Reset(heartbeatTimeout)
			l.mu.Lock()
			l.sysID = frame.SysID
			l.compID = frame.CompID
			l.mu.Unlock()
			if l.Status() != StatusConnected {
				l.setStatus(StatusConnected)
			}
		}

		l.sink.OnFrame(l.droneID, frame)
	}
}

func (l *Link) updatePeer(addr *net.UDPAddr) {
	l.mu.Lock()
	prev := l.peerAddr
	changed := prev == nil || prev.String() != addr.String()
	l.peerAddr = addr
	l.mu.Unlock()

	if changed && prev != nil {
		log.Printf("[vehiclelink] drone %d: peer address changed %s -> %s", l.droneID, prev, addr)
	}
}

// watchHeartbeat fires HeartbeatTimeout if no HEARTBEAT resets the
// timer within heartbeatTimeout. Per design, timeout never triggers an
// automatic reconnect — it moves the link to disconnected and requires
// an explicit reconnect.
func (l *Link) watchHeartbeat(ctx context.Context, watchdog *time.Timer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-watchdog.C:
			l.sink.OnDecodeError(l.droneID, &LinkError{Kind: ErrKindHeartbeatTimeout})
			l.teardownOnTimeout()
			l.setStatus(StatusDisconnected)
			return
		}
	}
}

// teardownOnTimeout cancels the receive loop and closes the socket
// when the watchdog lapses, mirroring Disconnect's cleanup so a
// silent vehicle doesn't leave receiveLoop reading until an operator
// happens to call Disconnect.
func (l *Link) teardownOnTimeout() {
	l.mu.Lock()
	cancel := l.cancel
	conn := l.conn
	l.cancel = nil
	l.conn = nil
	l.peerAddr = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
}

// reconnect retries binding every reconnectBackoff until ctx is
// cancelled (via Disconnect) or a bind succeeds, at which point a
// fresh receive loop starts. The next heartbeat opens a new session.
func (l *Link) reconnect(ctx context.Context) {
	defer l.wg.Done()
	l.setStatus(StatusReconnecting)

	ticker := time.NewTicker(reconnectBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, err := l.bind()
			if err != nil {
				continue
			}

			runCtx, cancel := context.WithCancel(ctx)
			l.mu.Lock()
			l.conn = conn
			l.cancel = cancel
			l.mu.Unlock()

			l.wg.Add(1)
			go l.receiveLoop(runCtx, conn)
			return
		}
	}
}
