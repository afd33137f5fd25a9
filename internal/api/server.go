// Package api is the command surface (C7): a synchronous request/
// response mirror of the subscriber channel's vocabulary, and the
// mount point for the subscriber hub's websocket upgrade.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/open-ground/groundlink/internal/api/ratelimit"
	"github.com/open-ground/groundlink/internal/auth"
	"github.com/open-ground/groundlink/internal/config"
	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/hub"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

// Manager is the subset of fleet.Manager the command surface drives —
// the same shape hub.Commander uses, so both surfaces funnel into
// identical behavior per §4.7.
type Manager interface {
	hub.Commander
}

// Server is the HTTP command surface plus the websocket mount for the
// subscriber hub.
type Server struct {
	cfg      config.HTTPConfig
	manager  Manager
	verifier auth.Verifier
	hub      *hub.Hub
	version  string
	started  time.Time
	router   *chi.Mux
	http     *http.Server
}

// New constructs a Server. h may be nil only in tests that don't
// exercise the websocket mount.
func New(cfg config.HTTPConfig, mgr Manager, v auth.Verifier, h *hub.Hub, version string) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  mgr,
		verifier: v,
		hub:      h,
		version:  version,
		started:  time.Now(),
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	rps := s.cfg.RateLimit.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := s.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 20
	}
	limiter := ratelimit.NewIPRateLimiter(rps, burst)
	r.Use(ratelimit.Middleware(limiter))

	if s.cfg.CORSEnabled {
		origins := s.cfg.CORSOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.verifier != nil {
			r.Use(auth.OptionalMiddleware(s.verifier))
		}
		if s.hub != nil {
			r.Get("/ws/drone", func(w http.ResponseWriter, req *http.Request) {
				hub.ServeHTTP(s.hub, w, req)
			})
		}
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.verifier))

			r.Post("/drone/connect", s.handleDroneConnect)
			r.Post("/drone/disconnect", s.handleDroneDisconnect)
			r.Get("/drone/status", s.handleDroneStatus)
			r.Post("/drone/arm", s.handleDroneArm)
			r.Post("/drone/disarm", s.handleDroneDisarm)
			r.Post("/drone/set-mode", s.handleDroneSetMode)

			r.Post("/user/drone/register", s.handleUserDroneRegister)
			r.Post("/user/drone/disconnect", s.handleUserDroneDisconnect)

			r.Get("/admin/drones", s.handleAdminDrones)
			r.Post("/admin/message/send", s.handleAdminMessageSend)
		})
	})

	s.router = r
}

// Start begins serving HTTP requests on cfg.Address.
func (s *Server) Start() error {
	s.started = time.Now()
	s.http = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[api] listening on %s", s.cfg.Address)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) Router() http.Handler { return s.router }

// --- request/response shapes, mirroring the channel vocabulary ---

type errorResponse struct {
	Error string `json:"error"`
}

type connectionStringRequest struct {
	ConnectionString string `json:"connection_string"`
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

type registerRequest struct {
	Name             string `json:"name"`
	Uin              string `json:"uin"`
	ConnectionString string `json:"connection_string"`
}

type registerResponse struct {
	DroneID int64 `json:"drone_id"`
}

type droneStatusResponse struct {
	DroneID int64  `json:"drone_id"`
	Name    string `json:"name"`
	Uin     string `json:"uin"`
	Status  string `json:"status"`
}

type messageSendRequest struct {
	Message    string `json:"message"`
	Importance string `json:"importance"`
	DroneID    int64  `json:"drone_id,omitempty"`
	All        bool   `json:"all,omitempty"`
}

var validImportance = map[string]bool{"normal": true, "important": true, "warning": true, "critical": true}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if fleetErr, ok := err.(*fleet.Error); ok {
		s.writeJSON(w, fleetErr.Kind.HTTPStatus(), errorResponse{Error: fleetErr.Error()})
		return
	}
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type statusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Channels      int    `json:"channels"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	channels := 0
	if s.hub != nil {
		channels = s.hub.ChannelCount()
	}
	s.writeJSON(w, http.StatusOK, statusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Channels:      channels,
	})
}

// resolveDroneID resolves the caller's single connected drone by
// owner, mirroring the channel's implicit target resolution.
func (s *Server) resolveDroneID(r *http.Request) (int64, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return 0, false
	}
	return s.manager.ResolveByOwner(p.UserID)
}

func (s *Server) handleDroneConnect(w http.ResponseWriter, r *http.Request) {
	var req connectionStringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	endpoint, err := vehiclelink.ParseEndpoint(req.ConnectionString)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid connection string"})
		return
	}

	p, _ := auth.PrincipalFromContext(r.Context())
	droneID, ok := s.manager.ResolveByOwner(p.UserID)
	if !ok {
		droneID, err = s.manager.Register(p.UserID, "", req.ConnectionString, endpoint)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	if err := s.manager.Connect(r.Context(), droneID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, registerResponse{DroneID: droneID})
}

func (s *Server) handleDroneDisconnect(w http.ResponseWriter, r *http.Request) {
	droneID, ok := s.resolveDroneID(r)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no connected drone"})
		return
	}
	if err := s.manager.Disconnect(droneID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDroneStatus(w http.ResponseWriter, r *http.Request) {
	droneID, ok := s.resolveDroneID(r)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no connected drone"})
		return
	}
	v, ok := s.manager.Get(droneID)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "drone not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, droneStatusResponse{
		DroneID: v.DroneID, Name: v.Name, Uin: v.Uin, Status: string(v.Status()),
	})
}

func (s *Server) handleDroneArm(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, s.manager.Arm)
}

func (s *Server) handleDroneDisarm(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, s.manager.Disarm)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, fn func(int64) error) {
	droneID, ok := s.resolveDroneID(r)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no connected drone"})
		return
	}
	if err := fn(droneID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDroneSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	s.handleCommand(w, r, func(droneID int64) error {
		return s.manager.SetMode(droneID, req.Mode)
	})
}

func (s *Server) handleUserDroneRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	endpoint, err := vehiclelink.ParseEndpoint(req.ConnectionString)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid connection string"})
		return
	}

	p, _ := auth.PrincipalFromContext(r.Context())
	droneID, err := s.manager.Register(p.UserID, req.Name, req.Uin, endpoint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, registerResponse{DroneID: droneID})
}

func (s *Server) handleUserDroneDisconnect(w http.ResponseWriter, r *http.Request) {
	s.handleDroneDisconnect(w, r)
}

type adminDronesResponse struct {
	Drones []droneStatusResponse `json:"drones"`
}

// droneLister is the narrow slice of fleet.Manager the admin listing
// endpoint needs, kept separate from Manager/hub.Commander for the
// same reason as operatorMessageSender.
type droneLister interface {
	List() []*fleet.Vehicle
}

func (s *Server) handleAdminDrones(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || !p.IsAdmin {
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin access required"})
		return
	}

	lister, ok := s.manager.(droneLister)
	if !ok {
		s.writeJSON(w, http.StatusOK, adminDronesResponse{Drones: []droneStatusResponse{}})
		return
	}

	vehicles := lister.List()
	drones := make([]droneStatusResponse, 0, len(vehicles))
	for _, v := range vehicles {
		drones = append(drones, droneStatusResponse{
			DroneID: v.DroneID, Name: v.Name, Uin: v.Uin, Status: string(v.Status()),
		})
	}
	s.writeJSON(w, http.StatusOK, adminDronesResponse{Drones: drones})
}

func (s *Server) handleAdminMessageSend(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || !p.IsAdmin {
		s.writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin access required"})
		return
	}

	var req messageSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if !validImportance[req.Importance] {
		req.Importance = "normal"
	}

	s.sendOperatorMessage(req)
	w.WriteHeader(http.StatusNoContent)
}

// operatorMessageSender is the narrow slice of fleet.Manager the admin
// message endpoint needs, kept separate from Manager/hub.Commander so
// adding it doesn't widen the command vocabulary's interface.
type operatorMessageSender interface {
	SendOperatorMessage(fleet.OperatorMessage)
}

func (s *Server) sendOperatorMessage(req messageSendRequest) {
	sender, ok := s.manager.(operatorMessageSender)
	if !ok {
		log.Printf("[api] manager does not support operator messages")
		return
	}
	sender.SendOperatorMessage(fleet.OperatorMessage{
		Message:    req.Message,
		Importance: req.Importance,
		Target:     fleet.Target{DroneID: req.DroneID, All: req.All},
	})
}
