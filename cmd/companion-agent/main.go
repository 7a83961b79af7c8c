// Command companion-agent joins one real-time room as the conversational
// companion and runs the session to completion: greeting, conversation,
// supervisor takeover handling, transcript capture, and post-session
// notifications.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wardline/companion-agent/internal/dotenv"
	"github.com/wardline/companion-agent/pkg/companion/agent/genairt"
	"github.com/wardline/companion-agent/pkg/companion/config"
	"github.com/wardline/companion-agent/pkg/companion/notify"
	"github.com/wardline/companion-agent/pkg/companion/room/wsroom"
	"github.com/wardline/companion-agent/pkg/companion/session"
	"github.com/wardline/companion-agent/pkg/companion/transcript/redisstore"
)

const prewarmTimeout = 5 * time.Second

func main() {
	envFile := flag.String("env-file", ".env", "Path to a dotenv file (missing file is ignored)")
	flag.Parse()

	if err := dotenv.LoadFile(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("session failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Prewarm: the transcript store must be reachable before joining the
	// room, otherwise the session starts with a silently broken mirror.
	store, err := prewarmStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer redisstore.CloseShared()

	generator, err := genairt.NewGeminiGenerator(ctx, genairt.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	})
	if err != nil {
		return err
	}

	rm, err := wsroom.Dial(ctx, roomURL(cfg), wsroom.Options{
		Token:  cfg.RoomToken,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer rm.Close()
	logger.Info("joined room", "room", rm.Name(), "identity", rm.LocalIdentity())

	api := notify.NewClient(cfg.APIBaseURL, cfg.APIToken)
	api.HTTP.Timeout = cfg.NotifyTimeout

	runtime := genairt.New(rm, generator, api, logger)
	defer runtime.Close()

	s, err := session.New(session.Options{
		Room:        rm,
		Runtime:     runtime,
		Coordinator: notify.NewCoordinator(api, cfg.PostSessionTimeout, logger),
		Store:       store,
		Resolver:    api,
		Config: session.Config{
			SupervisorPrefix: cfg.SupervisorPrefix,
			BotPrefix:        cfg.BotPrefix,
			PollInterval:     cfg.PollInterval,
			CounterpartWait:  cfg.CounterpartWait,
			CounterpartPoll:  cfg.CounterpartPoll,
			TranscriptCap:    cfg.TranscriptCap,
			TranscriptTTL:    cfg.TranscriptTTL,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	return s.Run(ctx)
}

func prewarmStore(ctx context.Context, cfg config.Config) (*redisstore.Store, error) {
	store := redisstore.New(redisstore.SharedClient(cfg.RedisAddr), cfg.TranscriptTTL)
	pingCtx, cancel := context.WithTimeout(ctx, prewarmTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		return nil, err
	}
	return store, nil
}

// roomURL builds the signaling endpoint for the configured room.
func roomURL(cfg config.Config) string {
	return strings.TrimRight(cfg.RoomURL, "/") + "/rooms/" + url.PathEscape(cfg.RoomName)
}

func setupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
