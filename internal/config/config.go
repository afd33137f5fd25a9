// Package config loads the groundlink daemon's YAML configuration,
// applying defaults the way the teacher's config package does
// (unmarshal first, then backfill zero values).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the daemon's root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Vehicles []VehicleConfig `yaml:"vehicles"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Geofence GeofenceConfig `yaml:"geofence"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
	Port     int    `yaml:"port"` // bind port for the request + channel server
}

// VehicleConfig declares a default vehicle endpoint the daemon may
// auto-connect at startup, generalizing the single SITL_CONNECTION
// setting into a list.
type VehicleConfig struct {
	Name             string `yaml:"name"`
	Uin              string `yaml:"uin"`
	ConnectionString string `yaml:"connection_string"` // e.g. "udp:0.0.0.0:14550"
	AutoConnect      bool   `yaml:"auto_connect"`
	OwnerUserID      string `yaml:"owner_user_id"`
}

// HTTPConfig contains the request + channel server's network settings.
type HTTPConfig struct {
	Address     string   `yaml:"address"` // listen address: "host:port"
	CORSEnabled bool     `yaml:"cors_enabled"`
	CORSOrigins []string `yaml:"cors_origins"`
	Auth        AuthConfig `yaml:"auth"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig carries the settings the auth collaborator is
// constructed from.
type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpiryHours int    `yaml:"token_expiry_hours"`
}

// RateLimitConfig bounds the per-client request rate (keyed by bearer
// token, else IP) on the command surface.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig carries the storage collaborator's connection string.
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// GeofenceConfig seeds the geofence engine with statically configured
// zones at startup.
type GeofenceConfig struct {
	Zones []ZoneConfig `yaml:"zones"`
}

// ZoneConfig is one configured geofence zone.
type ZoneConfig struct {
	ID         string       `yaml:"id"`
	Name       string       `yaml:"name"`
	Type       string       `yaml:"type"` // circle | polygon
	Polygon    [][2]float64 `yaml:"polygon"`
	CenterLat  float64      `yaml:"center_lat"`
	CenterLon  float64      `yaml:"center_lon"`
	RadiusM    float64      `yaml:"radius_m"`
	AlertEnter bool         `yaml:"alert_enter"`
	AlertExit  bool         `yaml:"alert_exit"`
	Enabled    bool         `yaml:"enabled"`
}

// MQTTConfig contains the optional telemetry mirror's settings.
type MQTTConfig struct {
	Enabled     bool      `yaml:"enabled"`
	Broker      string    `yaml:"broker"`
	ClientID    string    `yaml:"client_id"`
	TopicPrefix string    `yaml:"topic_prefix"`
	QoS         int       `yaml:"qos"`
	Username    string    `yaml:"username"`
	Password    string    `yaml:"password"`
	LWT         LWTConfig `yaml:"lwt"`
}

// LWTConfig contains Last Will and Testament settings for the MQTT
// publisher's connection.
type LWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Message string `yaml:"message"`
}

// Load reads configuration from a YAML file, applying defaults for any
// zero-valued field the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.HTTP.Address == "" {
		cfg.HTTP.Address = fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	}
	if cfg.HTTP.Auth.TokenExpiryHours == 0 {
		cfg.HTTP.Auth.TokenExpiryHours = 24
	}
	if cfg.HTTP.RateLimit.RequestsPerSecond == 0 {
		cfg.HTTP.RateLimit.RequestsPerSecond = 10
	}
	if cfg.HTTP.RateLimit.Burst == 0 {
		cfg.HTTP.RateLimit.Burst = 20
	}
	for i := range cfg.Geofence.Zones {
		if cfg.Geofence.Zones[i].Type == "" {
			cfg.Geofence.Zones[i].Type = "circle"
		}
	}
}

// EnvOverrides layers the daemon's well-known environment variables
// over cfg, matching the names a deployment's process manager sets:
// PORT, SITL_CONNECTION, DATABASE_URL, JWT_SECRET.
func EnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Address = fmt.Sprintf("0.0.0.0:%s", v)
	}
	if v := os.Getenv("SITL_CONNECTION"); v != "" {
		cfg.Vehicles = append(cfg.Vehicles, VehicleConfig{
			Name:             "sitl",
			ConnectionString: v,
			AutoConnect:      true,
		})
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.HTTP.Auth.JWTSecret = v
	}
}
