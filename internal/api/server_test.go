package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/open-ground/groundlink/internal/auth"
	"github.com/open-ground/groundlink/internal/config"
	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

type fakeVerifier struct {
	principals map[string]auth.Principal
}

func (f *fakeVerifier) Verify(bearer string) (auth.Principal, error) {
	if p, ok := f.principals[bearer]; ok {
		return p, nil
	}
	return auth.Principal{}, auth.ErrInvalidToken
}

type fakeManager struct {
	vehicles    map[int64]*fleet.Vehicle
	byOwner     map[string]int64
	nextID      int64
	connectErr  error
	armErr      error
	lastMessage *fleet.OperatorMessage
}

func newFakeManager() *fakeManager {
	return &fakeManager{vehicles: map[int64]*fleet.Vehicle{}, byOwner: map[string]int64{}}
}

func (m *fakeManager) Register(userID, name, uin string, endpoint vehiclelink.Endpoint) (int64, error) {
	m.nextID++
	id := m.nextID
	m.vehicles[id] = &fleet.Vehicle{DroneID: id, UserID: userID, Name: name, Uin: uin, Endpoint: endpoint}
	m.byOwner[userID] = id
	return id, nil
}

func (m *fakeManager) Connect(ctx context.Context, droneID int64) error { return m.connectErr }
func (m *fakeManager) Disconnect(droneID int64) error                  { return nil }
func (m *fakeManager) Arm(droneID int64) error                         { return m.armErr }
func (m *fakeManager) Disarm(droneID int64) error                      { return nil }
func (m *fakeManager) SetMode(droneID int64, mode string) error        { return nil }

func (m *fakeManager) ResolveByOwner(userID string) (int64, bool) {
	id, ok := m.byOwner[userID]
	return id, ok
}

func (m *fakeManager) Get(droneID int64) (*fleet.Vehicle, bool) {
	v, ok := m.vehicles[droneID]
	return v, ok
}

func (m *fakeManager) SendOperatorMessage(msg fleet.OperatorMessage) {
	m.lastMessage = &msg
}

func (m *fakeManager) List() []*fleet.Vehicle {
	out := make([]*fleet.Vehicle, 0, len(m.vehicles))
	for _, v := range m.vehicles {
		out = append(out, v)
	}
	return out
}

func newTestServer(mgr *fakeManager, verifier *fakeVerifier) *Server {
	return New(config.HTTPConfig{}, mgr, verifier, nil, "test")
}

func authedRequest(method, path string, body []byte, bearer string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(newFakeManager(), &fakeVerifier{})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(newFakeManager(), &fakeVerifier{})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDroneConnect_RegistersAndConnects(t *testing.T) {
	mgr := newFakeManager()
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "u1"}}}
	s := newTestServer(mgr, verifier)

	body, _ := json.Marshal(connectionStringRequest{ConnectionString: "udp:0.0.0.0:14550"})
	req := authedRequest(http.MethodPost, "/api/v1/drone/connect", body, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DroneID == 0 {
		t.Error("expected a non-zero drone_id")
	}
}

func TestDroneConnect_InvalidConnectionString(t *testing.T) {
	mgr := newFakeManager()
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "u1"}}}
	s := newTestServer(mgr, verifier)

	body, _ := json.Marshal(connectionStringRequest{ConnectionString: "bogus"})
	req := authedRequest(http.MethodPost, "/api/v1/drone/connect", body, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDroneConnect_RequiresAuth(t *testing.T) {
	s := newTestServer(newFakeManager(), &fakeVerifier{})

	body, _ := json.Marshal(connectionStringRequest{ConnectionString: "udp:0.0.0.0:14550"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/drone/connect", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestDroneStatus_NoConnectedDrone(t *testing.T) {
	mgr := newFakeManager()
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "u1"}}}
	s := newTestServer(mgr, verifier)

	req := authedRequest(http.MethodGet, "/api/v1/drone/status", nil, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDroneArm_PropagatesFleetError(t *testing.T) {
	mgr := newFakeManager()
	mgr.byOwner["u1"] = 1
	mgr.vehicles[1] = &fleet.Vehicle{DroneID: 1, UserID: "u1"}
	mgr.armErr = fleet.NewError(fleet.KindNotConnected, "no link")

	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "u1"}}}
	s := newTestServer(mgr, verifier)

	req := authedRequest(http.MethodPost, "/api/v1/drone/arm", nil, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 (default Kind mapping)", rec.Code)
	}
}

func TestUserDroneRegister(t *testing.T) {
	mgr := newFakeManager()
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "u1"}}}
	s := newTestServer(mgr, verifier)

	body, _ := json.Marshal(registerRequest{Name: "drone-1", Uin: "UIN-1", ConnectionString: "tcp:127.0.0.1:5760"})
	req := authedRequest(http.MethodPost, "/api/v1/user/drone/register", body, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAdminDrones_ForbidsNonAdmin(t *testing.T) {
	mgr := newFakeManager()
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "u1", IsAdmin: false}}}
	s := newTestServer(mgr, verifier)

	req := authedRequest(http.MethodGet, "/api/v1/admin/drones", nil, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestAdminDrones_ListsRegisteredVehicles(t *testing.T) {
	mgr := newFakeManager()
	mgr.Register("u1", "drone-1", "UIN-1", vehiclelink.Endpoint{})
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "admin-1", IsAdmin: true}}}
	s := newTestServer(mgr, verifier)

	req := authedRequest(http.MethodGet, "/api/v1/admin/drones", nil, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp adminDronesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Drones) != 1 || resp.Drones[0].Uin != "UIN-1" {
		t.Errorf("drones = %+v, want one entry for UIN-1", resp.Drones)
	}
}

func TestAdminMessageSend_SendsAndClampsImportance(t *testing.T) {
	mgr := newFakeManager()
	verifier := &fakeVerifier{principals: map[string]auth.Principal{"tok": {UserID: "admin-1", IsAdmin: true}}}
	s := newTestServer(mgr, verifier)

	body, _ := json.Marshal(messageSendRequest{Message: "hello", Importance: "bogus", All: true})
	req := authedRequest(http.MethodPost, "/api/v1/admin/message/send", body, "tok")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if mgr.lastMessage == nil {
		t.Fatal("expected SendOperatorMessage to be called")
	}
	if mgr.lastMessage.Importance != "normal" {
		t.Errorf("Importance = %s, want clamped to normal", mgr.lastMessage.Importance)
	}
}

func TestWriteError_MapsUnknownErrorTo400(t *testing.T) {
	s := newTestServer(newFakeManager(), &fakeVerifier{})
	rec := httptest.NewRecorder()
	s.writeError(rec, errors.New("boom"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
