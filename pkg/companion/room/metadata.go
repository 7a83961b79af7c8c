package room

import (
	"encoding/json"
	"strings"
)

// Metadata is the structured payload carried by room metadata updates.
// Every field is optional; the backend only sets what it knows.
type Metadata struct {
	WardID    string `json:"wardId,omitempty"`
	CallID    string `json:"callId,omitempty"`
	Direction string `json:"direction,omitempty"`
	Takeover  *bool  `json:"takeover,omitempty"`
}

// ParseMetadata decodes a room metadata payload. An empty or malformed
// payload yields the zero value and ok=false; it is never an error the
// caller has to handle.
func ParseMetadata(raw string) (Metadata, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Metadata{}, false
	}
	var md Metadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return Metadata{}, false
	}
	return md, true
}
