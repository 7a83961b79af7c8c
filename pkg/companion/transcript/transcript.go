// Package transcript captures finalized utterances from both parties of a
// session in a bounded in-memory buffer, mirrored best-effort to a durable
// store and to the room for live display.
package transcript

import (
	"context"
	"time"
)

// Speaker identifies which party produced an entry.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Entry is one finalized utterance. Entries are immutable once created.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Final     bool      `json:"final"`
}

// Store is the durable side of the transcript: an append-only log per
// session with an expiry policy. Both operations are best-effort for
// callers; failures are logged, never surfaced into the session.
type Store interface {
	Append(ctx context.Context, sessionID string, entry Entry) error
	SetExpiry(ctx context.Context, sessionID string, ttl time.Duration) error
}
