// Command groundlinkd is the ground-station daemon: it loads
// configuration, wires the drone registry to the session engine and
// subscriber hub, and serves the command surface until terminated.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-ground/groundlink/internal/api"
	"github.com/open-ground/groundlink/internal/auth"
	"github.com/open-ground/groundlink/internal/config"
	"github.com/open-ground/groundlink/internal/fleet"
	"github.com/open-ground/groundlink/internal/geofence"
	"github.com/open-ground/groundlink/internal/hub"
	"github.com/open-ground/groundlink/internal/mqtt"
	"github.com/open-ground/groundlink/internal/session"
	"github.com/open-ground/groundlink/internal/storage"
	"github.com/open-ground/groundlink/internal/telemetry"
	"github.com/open-ground/groundlink/internal/vehiclelink"
)

const version = "0.1.0-dev"

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	fmt.Printf("groundlink v%s\n", version)
	fmt.Println("MAVLink ground-station telemetry and command plane")
	fmt.Println()

	configPath := "configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", configPath, err)
	}
	config.EnvOverrides(cfg)
	log.Printf("configuration loaded from %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewInMemory()
	if err := store.ResetStaleVehicles(ctx); err != nil {
		log.Fatalf("startup recovery failed: %v", err)
	}
	log.Println("startup recovery complete: stale vehicle rows reset")

	geofenceEngine := geofence.NewEngine()
	for _, z := range cfg.Geofence.Zones {
		geofenceEngine.AddZone(&geofence.Zone{
			ID:         z.ID,
			Name:       z.Name,
			Type:       geofence.Type(z.Type),
			Polygon:    z.Polygon,
			CenterLat:  z.CenterLat,
			CenterLon:  z.CenterLon,
			RadiusM:    z.RadiusM,
			AlertEnter: z.AlertEnter,
			AlertExit:  z.AlertExit,
			Enabled:    z.Enabled,
		})
	}
	log.Printf("geofence engine created (%d zones)", len(cfg.Geofence.Zones))

	telemetryStore := telemetry.NewStore()
	manager := fleet.NewManager(telemetryStore)

	sessionEngine := session.New(store, geofenceEngine)

	authManager := auth.NewManager(cfg.HTTP.Auth.JWTSecret, cfg.HTTP.Auth.TokenExpiryHours)

	subscriberHub := hub.New(authManager, manager)

	manager.SubscribeTelemetry(sessionEngine)
	manager.SubscribeLinkStatus(sessionEngine)
	manager.SubscribeTelemetry(subscriberHub)
	manager.SubscribeLinkStatus(subscriberHub)
	manager.SubscribeOperatorMessages(subscriberHub)

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		mqttPublisher = mqtt.New(cfg.MQTT)
		startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := mqttPublisher.Start(startCtx); err != nil {
			log.Printf("mqtt publisher failed to connect, continuing without it: %v", err)
			mqttPublisher = nil
		} else {
			manager.SubscribeTelemetry(mqttPublisher)
			sessionEngine.SetEventMirror(mqttPublisher)
			log.Printf("mqtt publisher registered (broker: %s)", cfg.MQTT.Broker)
		}
		startCancel()
	}

	for _, v := range cfg.Vehicles {
		if !v.AutoConnect {
			continue
		}
		endpoint, err := vehiclelink.ParseEndpoint(v.ConnectionString)
		if err != nil {
			log.Printf("skipping auto-connect vehicle %q: %v", v.Name, err)
			continue
		}
		droneID, err := manager.Register(v.OwnerUserID, v.Name, v.Uin, endpoint)
		if err != nil {
			log.Printf("failed to register auto-connect vehicle %q: %v", v.Name, err)
			continue
		}
		if err := manager.Connect(ctx, droneID); err != nil {
			log.Printf("failed to auto-connect vehicle %q: %v", v.Name, err)
			continue
		}
		log.Printf("auto-connected vehicle %q (drone_id=%d) at %s", v.Name, droneID, v.ConnectionString)
	}

	httpServer := api.New(cfg.HTTP, manager, authManager, subscriberHub, version)
	if err := httpServer.Start(); err != nil {
		log.Fatalf("failed to start HTTP server: %v", err)
	}
	log.Printf("command surface started (address: %s, channel: /ws/drone)", cfg.HTTP.Address)

	log.Println("groundlinkd is running. Press Ctrl+C to stop.")
	fmt.Println()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	fmt.Println()
	log.Printf("received signal %v, shutting down...", sig)

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := httpServer.Stop(stopCtx); err != nil {
		log.Printf("error stopping HTTP server: %v", err)
	}

	if mqttPublisher != nil {
		if err := mqttPublisher.Stop(); err != nil {
			log.Printf("error stopping mqtt publisher: %v", err)
		}
	}

	log.Println("shutdown complete")
}
