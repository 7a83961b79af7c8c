package wsroom

import "encoding/json"

// Server to client frames. One JSON object per text message; the "type"
// field selects the shape. Unknown types are skipped by the reader.
type serverFrame struct {
	Type string `json:"type"`

	// joined
	Room         string             `json:"room,omitempty"`
	Identity     string             `json:"identity,omitempty"`
	Participants []participantState `json:"participants,omitempty"`

	// joined / metadata_changed
	Metadata string `json:"metadata,omitempty"`

	// participant_joined / participant_left / track_published / track_unpublished
	Participant *participantState `json:"participant,omitempty"`
	Kind        string            `json:"kind,omitempty"`

	// data
	From    string          `json:"from,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// error / disconnect
	Reason string `json:"reason,omitempty"`
}

type participantState struct {
	Identity    string `json:"identity"`
	Metadata    string `json:"metadata,omitempty"`
	AudioTracks int    `json:"audioTracks,omitempty"`
}

// Client to server frames.
type clientFrame struct {
	Type string `json:"type"`

	// data
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// set_metadata
	Metadata string `json:"metadata,omitempty"`
}

const (
	frameJoined            = "joined"
	frameParticipantJoined = "participant_joined"
	frameParticipantLeft   = "participant_left"
	frameTrackPublished    = "track_published"
	frameTrackUnpublished  = "track_unpublished"
	frameMetadataChanged   = "metadata_changed"
	frameData              = "data"
	frameDisconnect        = "disconnect"

	trackKindAudio = "audio"
)
