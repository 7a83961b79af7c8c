// Package room defines the boundary to the real-time communication room the
// agent joins. The transport delivers discrete events (participants, tracks,
// metadata, data messages) and answers synchronous snapshot queries; event
// delivery is best-effort, so consumers that need correctness must keep a
// polling backstop over the snapshot.
package room

import (
	"context"
	"strings"
)

// Participant is a remote room member as seen in the current snapshot.
type Participant struct {
	Identity    string
	Metadata    string
	AudioTracks int
}

// HasAudio reports whether the participant currently publishes audio.
func (p Participant) HasAudio() bool { return p.AudioTracks > 0 }

// HasPrefix reports whether the participant identity carries the given
// reserved prefix.
func (p Participant) HasPrefix(prefix string) bool {
	return prefix != "" && strings.HasPrefix(p.Identity, prefix)
}

// Event is the interface for all room transport events.
type Event interface {
	// EventType returns the event type string for logging.
	EventType() string
}

// ParticipantJoined is emitted when a remote participant enters the room.
type ParticipantJoined struct {
	Participant Participant
}

func (e ParticipantJoined) EventType() string { return "participant.joined" }

// ParticipantLeft is emitted when a remote participant leaves the room.
type ParticipantLeft struct {
	Identity string
}

func (e ParticipantLeft) EventType() string { return "participant.left" }

// TrackPublished is emitted when a remote participant publishes a track.
type TrackPublished struct {
	Identity string
	Audio    bool
}

func (e TrackPublished) EventType() string { return "track.published" }

// TrackUnpublished is emitted when a remote participant unpublishes a track.
type TrackUnpublished struct {
	Identity string
	Audio    bool
}

func (e TrackUnpublished) EventType() string { return "track.unpublished" }

// MetadataChanged is emitted when the room metadata payload changes.
// Raw carries the new payload verbatim; consumers parse it defensively.
type MetadataChanged struct {
	Raw string
}

func (e MetadataChanged) EventType() string { return "metadata.changed" }

// DataReceived is emitted when a data message arrives from another
// participant.
type DataReceived struct {
	From    string
	Topic   string
	Payload []byte
}

func (e DataReceived) EventType() string { return "data.received" }

// Disconnected is emitted once when the transport connection ends.
type Disconnected struct {
	Reason string
}

func (e Disconnected) EventType() string { return "disconnected" }

// Room is the transport handle for one occupied room.
type Room interface {
	// Name returns the room name.
	Name() string
	// LocalIdentity returns the identity this process joined as.
	LocalIdentity() string
	// Events returns the event stream. The channel is closed after a
	// Disconnected event has been delivered.
	Events() <-chan Event
	// Participants returns the current remote participant snapshot.
	Participants() []Participant
	// Metadata returns the current room metadata payload.
	Metadata() string
	// SendData broadcasts a data message to the room, best-effort.
	SendData(ctx context.Context, topic string, payload []byte) error
	// SetLocalMetadata publishes metadata for the local participant.
	SetLocalMetadata(ctx context.Context, metadata string) error
	// Close disconnects from the room. Safe to call more than once.
	Close() error
}
