package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"mapsync/internal/domain"
	"mapsync/pkg/routing"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	InitialCharacteristics       domain.Characteristics
	ShowAllPositionsAfterLoading bool
	TileZoomLevel                int
	PositionSearchRadius         float64

	RoutingBackend     string
	TravelMode         routing.TravelMode
	RoutingInitPoll    time.Duration
	RoutingInitTimeout time.Duration

	OSRMURL     string
	OSRMTimeout time.Duration

	OfflineDataURL  string
	OfflineDataDir  string
	OfflineTileZoom int

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RouteCacheTTL time.Duration

	PostgresURL string

	CORSOrigins []string
}

const (
	BackendBeeline = "beeline"
	BackendOSRM    = "osrm"
	BackendOffline = "offline"
)

func Load() (*Config, error) {
	characteristics, err := domain.ParseCharacteristics(getEnv("INITIAL_CHARACTERISTICS", "route"))
	if err != nil {
		return nil, fmt.Errorf("INITIAL_CHARACTERISTICS: %w", err)
	}

	backend := strings.ToLower(getEnv("ROUTING_BACKEND", BackendBeeline))
	switch backend {
	case BackendBeeline, BackendOSRM, BackendOffline:
	default:
		return nil, fmt.Errorf("ROUTING_BACKEND must be one of beeline, osrm, offline, got %q", backend)
	}

	mode, err := routing.ParseTravelMode(getEnv("TRAVEL_MODE", string(routing.ModeCar)))
	if err != nil {
		return nil, fmt.Errorf("TRAVEL_MODE: %w", err)
	}

	return &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		InitialCharacteristics:       characteristics,
		ShowAllPositionsAfterLoading: getBoolEnv("SHOW_ALL_POSITIONS_AFTER_LOADING", true),
		TileZoomLevel:                getIntEnv("TILE_ZOOM_LEVEL", 14),
		PositionSearchRadius:         getFloatEnv("POSITION_SEARCH_RADIUS", 50),

		RoutingBackend:     backend,
		TravelMode:         mode,
		RoutingInitPoll:    getDurationEnv("ROUTING_INIT_POLL", 100*time.Millisecond),
		RoutingInitTimeout: getDurationEnv("ROUTING_INIT_TIMEOUT", 2*time.Minute),

		OSRMURL:     getEnv("OSRM_URL", "https://router.project-osrm.org"),
		OSRMTimeout: getDurationEnv("OSRM_TIMEOUT", 15*time.Second),

		OfflineDataURL:  getEnv("OFFLINE_DATA_URL", ""),
		OfflineDataDir:  getEnv("OFFLINE_DATA_DIR", "data/routing"),
		OfflineTileZoom: getIntEnv("OFFLINE_TILE_ZOOM", 8),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RouteCacheTTL: getDurationEnv("ROUTE_CACHE_TTL", 7*24*time.Hour),

		PostgresURL: getEnv("POSTGRES_URL", ""),

		CORSOrigins: getCSVEnv("CORS_ORIGINS"),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
