package transcript

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultCap is the default in-memory entry capacity. When an append would
// exceed it, the oldest entries are evicted: recent history wins over
// completeness.
const DefaultCap = 500

// DataTopic is the room data topic live transcript entries broadcast on.
const DataTopic = "transcript"

const mirrorTimeout = 5 * time.Second

// mirrorQueueSize bounds the mirror backlog. A full queue drops the
// durable copy of an entry rather than blocking the caller.
const mirrorQueueSize = 256

// Broadcaster is the slice of the room transport the recorder uses for
// live display.
type Broadcaster interface {
	SendData(ctx context.Context, topic string, payload []byte) error
}

// RecorderOptions configures a Recorder. Zero values pick defaults.
type RecorderOptions struct {
	Cap         int
	TTL         time.Duration
	Store       Store       // nil disables mirroring
	Broadcaster Broadcaster // nil disables live broadcast
	Logger      *slog.Logger
}

// Recorder owns the in-memory transcript of one session. Appends from
// multiple event sources serialize on an internal mutex.
type Recorder struct {
	sessionID string
	cap       int
	ttl       time.Duration
	store     Store
	broadcast Broadcaster
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries []Entry

	// Mirror work drains through one worker so the durable log receives
	// entries in insertion order.
	mirrorCh chan Entry
	wg       sync.WaitGroup
}

// NewRecorder creates a Recorder for one session.
func NewRecorder(sessionID string, opts RecorderOptions) *Recorder {
	if opts.Cap <= 0 {
		opts.Cap = DefaultCap
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sessionID: sessionID,
		cap:       opts.Cap,
		ttl:       opts.TTL,
		store:     opts.Store,
		broadcast: opts.Broadcaster,
		logger:    logger.With("component", "transcript", "session_id", sessionID),
		now:       time.Now,
	}
	if r.store != nil || r.broadcast != nil {
		r.mirrorCh = make(chan Entry, mirrorQueueSize)
		go r.mirrorLoop()
	}
	return r
}

// Record appends a finalized utterance. Text empty after trimming is
// ignored. The durable mirror and the room broadcast run asynchronously
// and never fail the caller.
func (r *Recorder) Record(speaker Speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	entry := Entry{
		Speaker:   speaker,
		Text:      text,
		Timestamp: r.now(),
		Final:     true,
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	if overflow := len(r.entries) - r.cap; overflow > 0 {
		r.entries = append(r.entries[:0], r.entries[overflow:]...)
	}
	r.mu.Unlock()

	if r.mirrorCh == nil {
		return
	}
	r.wg.Add(1)
	select {
	case r.mirrorCh <- entry:
	default:
		r.wg.Done()
		r.logger.Warn("mirror queue full, dropping durable copy", "speaker", entry.Speaker)
	}
}

// mirrorLoop is the single mirror worker. Draining through one goroutine
// keeps the durable log in insertion order; the queue keeps the caller
// non-blocking. Runs for the lifetime of the session.
func (r *Recorder) mirrorLoop() {
	for entry := range r.mirrorCh {
		r.mirror(entry)
		r.wg.Done()
	}
}

// mirror pushes one entry to the durable store and the room, best-effort.
func (r *Recorder) mirror(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	if r.store != nil {
		if err := r.store.Append(ctx, r.sessionID, entry); err != nil {
			r.logger.Warn("transcript store append failed", "error", err)
		} else if err := r.store.SetExpiry(ctx, r.sessionID, r.ttl); err != nil {
			r.logger.Warn("transcript expiry refresh failed", "error", err)
		}
	}

	if r.broadcast != nil {
		payload, err := json.Marshal(entry)
		if err != nil {
			r.logger.Warn("transcript broadcast encode failed", "error", err)
			return
		}
		if err := r.broadcast.SendData(ctx, DataTopic, payload); err != nil {
			r.logger.Warn("transcript broadcast failed", "error", err)
		}
	}
}

// Len returns the number of retained entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a copy of the retained entries in insertion order.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// FullTranscript formats the retained entries as speaker-labeled lines in
// insertion order. Calling it twice without intervening appends yields
// identical output.
func (r *Recorder) FullTranscript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for i, entry := range r.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(entry.Speaker))
		b.WriteString(": ")
		b.WriteString(entry.Text)
	}
	return b.String()
}

// Flush waits for pending mirror work, bounded by the context. Used at
// session end so the durable log sees the tail of the conversation.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
