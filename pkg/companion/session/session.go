package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wardline/companion-agent/pkg/companion/agent"
	"github.com/wardline/companion-agent/pkg/companion/notify"
	"github.com/wardline/companion-agent/pkg/companion/room"
	"github.com/wardline/companion-agent/pkg/companion/transcript"
)

// Greeting is spoken once after the runtime starts.
const Greeting = "안녕하세요, 어르신. 오늘 하루는 어떻게 보내셨어요?"

// dataHandler is implemented by runtimes that consume room data messages.
// The orchestrator owns the room event stream, so data frames are handed
// over rather than subscribed to directly.
type dataHandler interface {
	HandleData(ctx context.Context, from, topic string, payload []byte)
}

// Config carries the session-level tunables.
type Config struct {
	SupervisorPrefix string
	BotPrefix        string
	PollInterval     time.Duration
	CounterpartWait  time.Duration
	CounterpartPoll  time.Duration
	TranscriptCap    int
	TranscriptTTL    time.Duration
}

// Options wires a Session to its collaborators. Room, Runtime and
// Coordinator are required; Store and Resolver are optional degradations.
type Options struct {
	Room        room.Room
	Runtime     agent.Runtime
	Coordinator *notify.Coordinator
	Store       transcript.Store
	Resolver    CallResolver
	Config      Config
	Logger      *slog.Logger
}

// Session owns the lifetime of one companion call.
type Session struct {
	room        room.Room
	runtime     agent.Runtime
	coordinator *notify.Coordinator
	store       transcript.Store
	resolver    CallResolver
	cfg         Config
	logger      *slog.Logger

	identity Identity
	recorder *transcript.Recorder
	monitor  *Monitor
}

// New builds a Session. It does no I/O; Run does everything.
func New(opts Options) (*Session, error) {
	if opts.Room == nil || opts.Runtime == nil || opts.Coordinator == nil {
		return nil, errors.New("session: room, runtime and coordinator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		room:        opts.Room,
		runtime:     opts.Runtime,
		coordinator: opts.Coordinator,
		store:       opts.Store,
		resolver:    opts.Resolver,
		cfg:         opts.Config,
		logger:      logger.With("component", "session", "room", opts.Room.Name()),
	}, nil
}

// Identity returns the resolved call identity. Valid after Run has
// started; immutable once resolved.
func (s *Session) Identity() Identity { return s.identity }

// Run drives the session to completion: identity resolution, counterpart
// discovery, takeover monitoring, the event loop, and the post-session
// fan-out. It returns after the coordinator signals completion.
func (s *Session) Run(ctx context.Context) error {
	s.identity = ResolveIdentity(ctx, s.room.Name(), s.room.Metadata(), s.resolver, s.logger)
	s.logger = s.logger.With("ward_id", s.identity.WardID, "call_id", s.identity.CallID)

	s.announceLocal(ctx)

	counterpart := s.discoverCounterpart(ctx)
	if counterpart == "" {
		s.logger.Warn("no counterpart found, listening to all participants")
	} else {
		s.logger.Info("counterpart discovered", "identity", counterpart)
	}

	s.recorder = transcript.NewRecorder(s.identity.CallID, transcript.RecorderOptions{
		Cap:         s.cfg.TranscriptCap,
		TTL:         s.cfg.TranscriptTTL,
		Store:       s.store,
		Broadcaster: s.room,
		Logger:      s.logger,
	})

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()

	controller := NewPauseController(s.runtime, func() bool { return s.monitor.Active() }, s.logger)
	s.monitor = NewMonitor(s.cfg.SupervisorPrefix,
		controller.OnPause,
		func() { controller.OnResume(monitorCtx) },
		s.logger)
	s.monitor.Start(monitorCtx, s.cfg.PollInterval, s.room.Participants)

	// A session can join a room already under takeover; the flag in the
	// join-time metadata would otherwise never be evaluated.
	if raw := s.room.Metadata(); raw != "" {
		s.monitor.HandleRoomEvent(room.MetadataChanged{Raw: raw}, s.room.Participants)
	}

	if err := s.runtime.Start(ctx, agent.StartOptions{
		Counterpart: counterpart,
		SessionID:   s.identity.CallID,
		WardID:      s.identity.WardID,
	}); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}

	if err := s.runtime.Say(ctx, Greeting); err != nil {
		s.logger.Warn("greeting failed", "error", err)
	}

	s.eventLoop(ctx, controller)

	stopMonitor()
	s.finish(ctx)
	return nil
}

// eventLoop multiplexes room and runtime events until the session ends.
// Either stream closing, a Disconnected event, or a SessionEnded event
// terminates the loop; per-event failures only log.
func (s *Session) eventLoop(ctx context.Context, controller *PauseController) {
	roomEvents := s.room.Events()
	runtimeEvents := s.runtime.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session context cancelled")
			s.closeRuntime()
			return
		case ev, ok := <-roomEvents:
			if !ok {
				roomEvents = nil
				s.closeRuntime()
				continue
			}
			s.handleRoomEvent(ctx, ev)
		case ev, ok := <-runtimeEvents:
			if !ok {
				return
			}
			if s.handleRuntimeEvent(ev, controller) {
				return
			}
		}
	}
}

func (s *Session) handleRoomEvent(ctx context.Context, ev room.Event) {
	switch e := ev.(type) {
	case room.DataReceived:
		if h, ok := s.runtime.(dataHandler); ok {
			h.HandleData(ctx, e.From, e.Topic, e.Payload)
		}
	case room.Disconnected:
		s.logger.Info("room disconnected", "reason", e.Reason)
		s.closeRuntime()
	default:
		s.monitor.HandleRoomEvent(ev, s.room.Participants)
	}
}

// handleRuntimeEvent records transcript-bearing events and reports
// whether the session is over.
func (s *Session) handleRuntimeEvent(ev agent.Event, controller *PauseController) bool {
	switch e := ev.(type) {
	case agent.UserSpeechFinalized:
		if !e.Final {
			return false
		}
		if controller.ShouldDiscardSpeech() {
			s.logger.Info("discarding user speech during takeover", "chars", len(e.Text))
			return false
		}
		s.recorder.Record(transcript.SpeakerUser, e.Text)
	case agent.OutputAdded:
		if e.Role != "assistant" && e.Role != "agent" {
			return false
		}
		s.recorder.Record(transcript.SpeakerAgent, e.Content.Normalize())
	case agent.SessionEnded:
		s.logger.Info("runtime session ended", "session_id", e.SessionID)
		return true
	}
	return false
}

// closeRuntime asks the runtime to end; the resulting SessionEnded (or
// the stream closing) unwinds the event loop. Safe to call repeatedly.
func (s *Session) closeRuntime() {
	if err := s.runtime.Close(); err != nil {
		s.logger.Warn("runtime close failed", "error", err)
	}
}

// finish flushes pending transcript mirrors and runs the post-session
// task set, blocking until the coordinator signals completion.
func (s *Session) finish(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.recorder.Flush(flushCtx)

	s.logger.Info("running post-session tasks", "entries", s.recorder.Len())
	s.coordinator.Run(ctx, s.identity.CallID, s.identity.WardID)
	<-s.coordinator.Done()

	if err := s.room.Close(); err != nil {
		s.logger.Warn("room close failed", "error", err)
	}
	s.logger.Info("session finished")
}

// announceLocal publishes the agent's metadata so other participants can
// identify it. Best-effort.
func (s *Session) announceLocal(ctx context.Context) {
	payload, _ := json.Marshal(map[string]string{
		"type":   "agent",
		"wardId": s.identity.WardID,
	})
	if err := s.room.SetLocalMetadata(ctx, string(payload)); err != nil {
		s.logger.Warn("publishing local metadata failed", "error", err)
	}
}

// discoverCounterpart finds the participant the agent should converse
// with: a bot-prefixed identity wins, otherwise the first non-supervisor
// present. Polls until the wait budget runs out; empty means none found.
func (s *Session) discoverCounterpart(ctx context.Context) string {
	poll := s.cfg.CounterpartPoll
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	deadline := time.Now().Add(s.cfg.CounterpartWait)
	for {
		if id := s.pickCounterpart(); id != "" {
			return id
		}
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(poll):
		}
	}
}

func (s *Session) pickCounterpart() string {
	first := ""
	for _, p := range s.room.Participants() {
		if p.HasPrefix(s.cfg.BotPrefix) {
			return p.Identity
		}
		if !p.HasPrefix(s.cfg.SupervisorPrefix) && first == "" {
			first = p.Identity
		}
	}
	return first
}
