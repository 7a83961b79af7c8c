package session

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wardline/companion-agent/pkg/companion/room"
)

// candidateBuffer bounds the reconcile queue. A dropped candidate is
// recovered by the next poll tick, so a small buffer is enough.
const candidateBuffer = 16

type candidate struct {
	active bool
	source string
}

// Monitor tracks whether a supervisor has taken over the session. Two
// signal sources feed it: room events (metadata takeover flag, supervisor
// participant and track churn) and a periodic poll over the participant
// list. Both push candidate states into one channel; a single reconcile
// goroutine owns the state and fires callbacks exactly once per
// transition, regardless of how many sources observed it.
type Monitor struct {
	supervisorPrefix string
	onPause          func()
	onResume         func()
	logger           *slog.Logger

	candidates chan candidate
	active     atomic.Bool
	done       chan struct{}
}

// NewMonitor builds a monitor that calls onPause when takeover begins and
// onResume when it ends. Callbacks run on the reconcile goroutine, never
// concurrently with each other.
func NewMonitor(supervisorPrefix string, onPause, onResume func(), logger *slog.Logger) *Monitor {
	return &Monitor{
		supervisorPrefix: supervisorPrefix,
		onPause:          onPause,
		onResume:         onResume,
		logger:           logger,
		candidates:       make(chan candidate, candidateBuffer),
		done:             make(chan struct{}),
	}
}

// Start launches the reconcile loop and, when pollInterval is positive, a
// poll ticker over snapshot. The current snapshot is evaluated once up
// front so a supervisor already present at join time is not missed. Both
// loops stop when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, pollInterval time.Duration, snapshot func() []room.Participant) {
	go m.reconcile(ctx)
	if snapshot != nil {
		m.offer(m.evaluate(snapshot()), "seed")
	}
	if pollInterval > 0 && snapshot != nil {
		go m.poll(ctx, pollInterval, snapshot)
	}
}

// Active reports the current takeover state. Safe from any goroutine.
func (m *Monitor) Active() bool {
	return m.active.Load()
}

// Done is closed when the reconcile loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// HandleRoomEvent feeds a room event into the monitor. Metadata carrying
// an explicit takeover flag is authoritative; malformed metadata is no
// signal at all. Participant and track churn trigger a presence
// evaluation over the current snapshot.
func (m *Monitor) HandleRoomEvent(ev room.Event, snapshot func() []room.Participant) {
	switch e := ev.(type) {
	case room.MetadataChanged:
		md, ok := room.ParseMetadata(e.Raw)
		if !ok {
			m.logger.Warn("ignoring malformed room metadata", "raw", e.Raw)
			return
		}
		if md.Takeover != nil {
			m.offer(*md.Takeover, "metadata")
		}
	case room.ParticipantJoined, room.ParticipantLeft, room.TrackPublished, room.TrackUnpublished:
		m.offer(m.evaluate(snapshot()), "events")
	}
}

// evaluate derives takeover from presence: a supervisor counts only while
// publishing audio.
func (m *Monitor) evaluate(participants []room.Participant) bool {
	for _, p := range participants {
		if p.HasPrefix(m.supervisorPrefix) && p.HasAudio() {
			return true
		}
	}
	return false
}

// offer submits a candidate state without blocking the caller. Drops are
// logged and corrected by the next poll tick.
func (m *Monitor) offer(active bool, source string) {
	select {
	case m.candidates <- candidate{active: active, source: source}:
	default:
		m.logger.Warn("takeover candidate dropped, queue full", "source", source)
	}
}

func (m *Monitor) reconcile(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-m.candidates:
			if c.active == m.active.Load() {
				continue
			}
			m.active.Store(c.active)
			if c.active {
				m.logger.Info("supervisor takeover started", "source", c.source)
				if m.onPause != nil {
					m.onPause()
				}
			} else {
				m.logger.Info("supervisor takeover ended", "source", c.source)
				if m.onResume != nil {
					m.onResume()
				}
			}
		}
	}
}

func (m *Monitor) poll(ctx context.Context, interval time.Duration, snapshot func() []room.Participant) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.offer(m.evaluate(snapshot()), "poll")
		}
	}
}
