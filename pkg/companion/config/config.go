// Package config loads the companion agent configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the agent process needs to join a room and run a
// session. All values come from COMPANION_* environment variables.
type Config struct {
	// Room transport.
	RoomURL   string
	RoomToken string
	RoomName  string

	// Backend ops API (notifications, call resolution, memory search).
	APIBaseURL string
	APIToken   string

	// Transcript store.
	RedisAddr     string
	TranscriptTTL time.Duration
	TranscriptCap int

	// Language generation.
	GeminiAPIKey string
	GeminiModel  string

	// Session timing.
	PollInterval       time.Duration
	PostSessionTimeout time.Duration
	NotifyTimeout      time.Duration
	CounterpartWait    time.Duration
	CounterpartPoll    time.Duration

	// Participant identity conventions.
	SupervisorPrefix string
	BotPrefix        string

	LogLevel  string
	LogFormat string
}

// FromEnv loads and validates configuration from the environment.
func FromEnv() (Config, error) {
	cfg := Config{
		RoomURL:            envOr("COMPANION_ROOM_URL", ""),
		RoomToken:          envOr("COMPANION_ROOM_TOKEN", ""),
		RoomName:           envOr("COMPANION_ROOM_NAME", ""),
		APIBaseURL:         envOr("COMPANION_API_BASE_URL", "http://localhost:8080"),
		APIToken:           envOr("COMPANION_API_TOKEN", ""),
		RedisAddr:          envOr("COMPANION_REDIS_ADDR", "localhost:6379"),
		TranscriptTTL:      envDurationOr("COMPANION_TRANSCRIPT_TTL", 24*time.Hour),
		TranscriptCap:      envIntOr("COMPANION_TRANSCRIPT_CAP", 500),
		GeminiAPIKey:       envOr("GEMINI_API_KEY", ""),
		GeminiModel:        envOr("COMPANION_GEMINI_MODEL", "gemini-2.0-flash"),
		PollInterval:       envDurationOr("COMPANION_POLL_INTERVAL", 2*time.Second),
		PostSessionTimeout: envDurationOr("COMPANION_POST_SESSION_TIMEOUT", 10*time.Second),
		NotifyTimeout:      envDurationOr("COMPANION_NOTIFY_TIMEOUT", 5*time.Second),
		CounterpartWait:    envDurationOr("COMPANION_COUNTERPART_WAIT", 10*time.Second),
		CounterpartPoll:    envDurationOr("COMPANION_COUNTERPART_POLL", 200*time.Millisecond),
		SupervisorPrefix:   envOr("COMPANION_SUPERVISOR_PREFIX", "admin_"),
		BotPrefix:          envOr("COMPANION_BOT_PREFIX", "bot-"),
		LogLevel:           envOr("COMPANION_LOG_LEVEL", "info"),
		LogFormat:          envOr("COMPANION_LOG_FORMAT", "text"),
	}

	if cfg.RoomURL == "" {
		return Config{}, fmt.Errorf("COMPANION_ROOM_URL must be set")
	}
	if !strings.HasPrefix(cfg.RoomURL, "ws://") && !strings.HasPrefix(cfg.RoomURL, "wss://") {
		return Config{}, fmt.Errorf("COMPANION_ROOM_URL must start with ws:// or wss://, got %q", cfg.RoomURL)
	}
	if cfg.RoomToken == "" {
		return Config{}, fmt.Errorf("COMPANION_ROOM_TOKEN must be set")
	}
	if cfg.RoomName == "" {
		return Config{}, fmt.Errorf("COMPANION_ROOM_NAME must be set")
	}
	if cfg.TranscriptCap <= 0 {
		return Config{}, fmt.Errorf("COMPANION_TRANSCRIPT_CAP must be > 0")
	}
	if cfg.TranscriptTTL <= 0 {
		return Config{}, fmt.Errorf("COMPANION_TRANSCRIPT_TTL must be > 0")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("COMPANION_POLL_INTERVAL must be > 0")
	}
	if cfg.PostSessionTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_POST_SESSION_TIMEOUT must be > 0")
	}
	if cfg.NotifyTimeout <= 0 {
		return Config{}, fmt.Errorf("COMPANION_NOTIFY_TIMEOUT must be > 0")
	}
	if cfg.CounterpartWait <= 0 {
		return Config{}, fmt.Errorf("COMPANION_COUNTERPART_WAIT must be > 0")
	}
	if cfg.CounterpartPoll <= 0 {
		return Config{}, fmt.Errorf("COMPANION_COUNTERPART_POLL must be > 0")
	}
	if cfg.SupervisorPrefix == "" {
		return Config{}, fmt.Errorf("COMPANION_SUPERVISOR_PREFIX must not be empty")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
