package vehiclelink

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/open-ground/groundlink/internal/mavlink"
)

type recordingSink struct {
	mu       sync.Mutex
	frames   []*mavlink.Frame
	statuses []Status
}

func (s *recordingSink) OnFrame(droneID int64, frame *mavlink.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func (s *recordingSink) OnStatusChange(droneID int64, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
}

func (s *recordingSink) OnDecodeError(droneID int64, err error) {}

func (s *recordingSink) lastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return ""
	}
	return s.statuses[len(s.statuses)-1]
}

func (s *recordingSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestLink_LearnsPeerAndDeliversFrame(t *testing.T) {
	sink := &recordingSink{}
	link := New(1, Endpoint{Protocol: "udp", Host: "127.0.0.1", Port: 0}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Disconnect()

	boundPort := link.conn.LocalAddr().(*net.UDPAddr).Port

	enc := mavlink.NewEncoder()
	frame, err := enc.Encode(mavlink.MsgHeartbeat, make([]byte, 9))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	srcConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer srcConn.Close()

	dst, _ := net.ResolveUDPAddr("udp", "127.0.0.1:"+strconv.Itoa(boundPort))
	if _, err := srcConn.WriteToUDP(frame, dst); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return sink.frameCount() > 0 })
	waitFor(t, 2*time.Second, func() bool { return link.Status() == StatusConnected })

	if link.PeerAddr() == nil {
		t.Fatal("expected peer address to be learned")
	}
}

func TestLink_SendWithoutPeerFailsPeerUnknown(t *testing.T) {
	sink := &recordingSink{}
	link := New(1, Endpoint{Protocol: "udp", Host: "127.0.0.1", Port: 0}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer link.Disconnect()

	err := link.Send(mavlink.MsgCommandLong, make([]byte, 33))
	if err == nil {
		t.Fatal("expected PeerUnknown before any frame arrives")
	}
	linkErr, ok := err.(*LinkError)
	if !ok || linkErr.Kind != ErrKindPeerUnknown {
		t.Errorf("err = %v, want PeerUnknown", err)
	}
}

func TestLink_DisconnectIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	link := New(1, Endpoint{Protocol: "udp", Host: "127.0.0.1", Port: 0}, sink)

	ctx := context.Background()
	if err := link.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	link.Disconnect()
	link.Disconnect()

	if link.Status() != StatusDisconnected {
		t.Errorf("status = %s, want disconnected", link.Status())
	}
}
