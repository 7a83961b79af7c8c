// Package agent defines the boundary to the conversational runtime: the
// speech and language pipeline that listens to the ward, generates replies,
// and speaks them into the room.
package agent

import "context"

// StartOptions scopes a runtime to one session.
type StartOptions struct {
	// Counterpart is the participant identity whose speech the runtime
	// should listen to. Empty means listen to all participants.
	Counterpart string
	// SessionID identifies the logical call this runtime serves.
	SessionID string
	// WardID identifies the ward on the other end.
	WardID string
}

// Runtime is a running conversational agent for one session.
type Runtime interface {
	// Start begins the pipeline. It returns once the runtime is live;
	// events flow on Events afterwards.
	Start(ctx context.Context, opts StartOptions) error
	// Interrupt stops the current synthesis and generation immediately.
	Interrupt()
	// ClearUserTurn drops any pending partial user utterance so it is not
	// misattributed later.
	ClearUserTurn()
	// Say speaks a fixed utterance, bypassing generation.
	Say(ctx context.Context, text string) error
	// Events returns the runtime event stream. Closed after SessionEnded.
	Events() <-chan Event
	// Close tears the pipeline down.
	Close() error
}

// Event is the interface for all runtime events.
type Event interface {
	// EventType returns the event type string for logging.
	EventType() string
}

// UserSpeechFinalized is emitted when the speech pipeline finalizes a user
// utterance. Final is false for interim hypotheses, which carry no
// transcript weight.
type UserSpeechFinalized struct {
	Text  string
	Final bool
}

func (e UserSpeechFinalized) EventType() string { return "user.speech_finalized" }

// OutputAdded is emitted when the runtime commits an output item to the
// conversation.
type OutputAdded struct {
	Role    string
	Content Content
}

func (e OutputAdded) EventType() string { return "output.added" }

// SessionEnded is emitted exactly once when the runtime's session
// terminates.
type SessionEnded struct {
	SessionID string
}

func (e SessionEnded) EventType() string { return "session.ended" }
