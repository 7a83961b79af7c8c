// Package genairt implements the conversational runtime boundary on top of
// the Gemini API. Speech recognition and synthesis run at the room edge;
// finalized utterances arrive as room data messages and replies are sent
// back the same way for the edge to synthesize.
package genairt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wardline/companion-agent/pkg/companion/agent"
	"github.com/wardline/companion-agent/pkg/companion/room"
)

// Data message topics exchanged with the room edge.
const (
	TopicSpeech  = "speech"
	TopicSay     = "say"
	TopicControl = "control"
)

const (
	memorySearchTimeout = 3 * time.Second
	generateTimeout     = 20 * time.Second
	eventBuffer         = 64
	maxHistoryTurns     = 40
)

// speechPayload is the body of a TopicSpeech data message.
type speechPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// sayPayload is the body of a TopicSay data message.
type sayPayload struct {
	Text string `json:"text"`
}

// controlPayload is the body of a TopicControl data message.
type controlPayload struct {
	Op string `json:"op"`
}

// MemorySearcher retrieves past-conversation context for a ward. Failures
// degrade to empty context, never to a failed turn.
type MemorySearcher interface {
	SearchMemory(ctx context.Context, wardID, query string) (string, error)
}

// DataSender is the slice of the room transport the runtime needs.
type DataSender interface {
	SendData(ctx context.Context, topic string, payload []byte) error
}

// Runtime is an agent.Runtime whose language side is a Generator and whose
// speech side lives at the room edge.
type Runtime struct {
	sender    DataSender
	generator Generator
	memory    MemorySearcher
	logger    *slog.Logger

	events chan agent.Event
	opts   agent.StartOptions

	mu          sync.Mutex
	started     bool
	ended       bool
	partial     string
	history     []Turn
	genCancels  map[uint64]context.CancelFunc
	genSeq      uint64
	interrupted bool

	endOnce sync.Once
}

// New creates a runtime. memory may be nil to disable retrieval.
func New(sender DataSender, generator Generator, memory MemorySearcher, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		sender:     sender,
		generator:  generator,
		memory:     memory,
		logger:     logger.With("component", "runtime"),
		events:     make(chan agent.Event, eventBuffer),
		genCancels: make(map[uint64]context.CancelFunc),
	}
}

// Start implements agent.Runtime.
func (r *Runtime) Start(ctx context.Context, opts agent.StartOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}
	if r.generator == nil {
		return fmt.Errorf("runtime requires a generator")
	}
	r.started = true
	r.opts = opts
	r.logger.Info("runtime started",
		"session_id", opts.SessionID, "counterpart", opts.Counterpart)
	return nil
}

// Events implements agent.Runtime.
func (r *Runtime) Events() <-chan agent.Event { return r.events }

// Interrupt implements agent.Runtime. Every in-flight generation is
// cancelled and its reply discarded.
func (r *Runtime) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = true
	r.cancelGenerationsLocked()
}

// cancelGenerationsLocked cancels all in-flight turns. Callers hold r.mu.
func (r *Runtime) cancelGenerationsLocked() {
	for _, cancel := range r.genCancels {
		cancel()
	}
}

// ClearUserTurn implements agent.Runtime.
func (r *Runtime) ClearUserTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial = ""
}

// Resume lifts a previous Interrupt so new turns generate replies again.
func (r *Runtime) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = false
}

// Say implements agent.Runtime: speaks a fixed utterance, bypassing
// generation, and commits it to the conversation.
func (r *Runtime) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := r.speak(ctx, text); err != nil {
		return err
	}
	r.mu.Lock()
	r.history = appendTurn(r.history, Turn{Role: "model", Text: text})
	r.mu.Unlock()
	r.emit(agent.OutputAdded{Role: "assistant", Content: agent.TextContent(text)})
	return nil
}

// HandleData feeds a room data message into the runtime. The session event
// loop calls this for every DataReceived frame.
func (r *Runtime) HandleData(ctx context.Context, from, topic string, payload []byte) {
	r.mu.Lock()
	started := r.started
	counterpart := r.opts.Counterpart
	r.mu.Unlock()
	if !started {
		return
	}
	if counterpart != "" && from != counterpart && topic == TopicSpeech {
		return
	}

	switch topic {
	case TopicSpeech:
		var sp speechPayload
		if err := json.Unmarshal(payload, &sp); err != nil {
			r.logger.Warn("undecodable speech payload", "from", from, "error", err)
			return
		}
		r.handleSpeech(ctx, sp)
	case TopicControl:
		var cp controlPayload
		if err := json.Unmarshal(payload, &cp); err != nil {
			r.logger.Warn("undecodable control payload", "from", from, "error", err)
			return
		}
		if cp.Op == "end_session" {
			r.End()
		}
	}
}

// End terminates the runtime session, emitting SessionEnded exactly once.
func (r *Runtime) End() {
	r.endOnce.Do(func() {
		r.mu.Lock()
		sessionID := r.opts.SessionID
		r.cancelGenerationsLocked()
		r.mu.Unlock()
		r.emit(agent.SessionEnded{SessionID: sessionID})
		r.mu.Lock()
		r.ended = true
		close(r.events)
		r.mu.Unlock()
	})
}

// Close implements agent.Runtime.
func (r *Runtime) Close() error {
	r.End()
	return nil
}

func (r *Runtime) handleSpeech(ctx context.Context, sp speechPayload) {
	text := strings.TrimSpace(sp.Text)
	if text == "" {
		return
	}

	if !sp.Final {
		r.mu.Lock()
		r.partial = text
		r.mu.Unlock()
		r.emit(agent.UserSpeechFinalized{Text: text, Final: false})
		return
	}

	r.mu.Lock()
	r.partial = ""
	r.mu.Unlock()
	r.emit(agent.UserSpeechFinalized{Text: text, Final: true})

	go r.respond(ctx, text)
}

// respond runs one generation turn. Concurrent turns serialize on the
// generator call ordering; an Interrupt between start and send discards the
// reply.
func (r *Runtime) respond(ctx context.Context, userText string) {
	r.mu.Lock()
	if r.interrupted {
		r.mu.Unlock()
		r.logger.Debug("skipping reply, runtime interrupted", "text", userText)
		return
	}
	history := append([]Turn(nil), r.history...)
	wardID := r.opts.WardID
	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	r.genSeq++
	id := r.genSeq
	r.genCancels[id] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.genCancels, id)
		r.mu.Unlock()
		cancel()
	}()

	memoryContext := r.searchMemory(genCtx, wardID, userText)

	reply, err := r.generator.Generate(genCtx, history, userText, memoryContext)
	if err != nil {
		r.logger.Warn("generation failed", "error", err)
		return
	}

	r.mu.Lock()
	if r.interrupted {
		r.mu.Unlock()
		r.logger.Debug("discarding reply generated across an interrupt")
		return
	}
	r.history = appendTurn(r.history, Turn{Role: "user", Text: userText})
	r.history = appendTurn(r.history, Turn{Role: "model", Text: reply})
	r.mu.Unlock()

	if err := r.speak(ctx, reply); err != nil {
		r.logger.Warn("failed to send reply to room", "error", err)
	}
	r.emit(agent.OutputAdded{Role: "assistant", Content: agent.TextContent(reply)})
}

func (r *Runtime) searchMemory(ctx context.Context, wardID, query string) string {
	if r.memory == nil || wardID == "" {
		return ""
	}
	searchCtx, cancel := context.WithTimeout(ctx, memorySearchTimeout)
	defer cancel()
	found, err := r.memory.SearchMemory(searchCtx, wardID, query)
	if err != nil {
		r.logger.Debug("memory search failed", "error", err)
		return ""
	}
	return found
}

func (r *Runtime) speak(ctx context.Context, text string) error {
	payload, err := json.Marshal(sayPayload{Text: text})
	if err != nil {
		return err
	}
	return r.sender.SendData(ctx, TopicSay, payload)
}

// emit delivers an event without blocking. The channel close in End is
// serialized behind the same lock, so a late emit is a no-op rather than a
// send on a closed channel.
func (r *Runtime) emit(event agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return
	}
	select {
	case r.events <- event:
	default:
		r.logger.Warn("dropping runtime event, consumer not keeping up", "type", event.EventType())
	}
}

func appendTurn(history []Turn, turn Turn) []Turn {
	history = append(history, turn)
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	return history
}

var _ agent.Runtime = (*Runtime)(nil)
var _ DataSender = (room.Room)(nil)
