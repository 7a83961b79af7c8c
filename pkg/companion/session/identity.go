package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/wardline/companion-agent/pkg/companion/notify"
	"github.com/wardline/companion-agent/pkg/companion/room"
)

// Direction indicates who initiated the call.
type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// Identity names the logical call a room instance represents. WardID and
// CallID are always non-empty after resolution; in the worst case both
// degrade to the raw room name so downstream writes stay addressable.
type Identity struct {
	WardID    string
	CallID    string
	Direction Direction
}

// CallResolver looks up call identity from the backend by room name.
// *notify.Client satisfies it.
type CallResolver interface {
	ResolveCall(ctx context.Context, roomName string) (notify.ResolvedCall, error)
}

// ResolveIdentity determines the call identity for a room. Exactly one
// source wins, in order of trust:
//
//  1. room metadata carrying both wardId and callId, used verbatim
//  2. backend lookup by room name
//  3. structural parse of a "call_{ward}_..." room name
//  4. the raw room name for both fields
//
// Resolution never fails; lower tiers absorb errors from higher ones.
func ResolveIdentity(ctx context.Context, roomName, metadataRaw string, resolver CallResolver, logger *slog.Logger) Identity {
	if md, ok := room.ParseMetadata(metadataRaw); ok && md.WardID != "" && md.CallID != "" {
		logger.Info("call identity from room metadata", "ward_id", md.WardID, "call_id", md.CallID)
		return Identity{WardID: md.WardID, CallID: md.CallID, Direction: parseDirection(md.Direction)}
	}

	if resolver != nil {
		resolved, err := resolver.ResolveCall(ctx, roomName)
		switch {
		case err == nil && resolved.WardID != "" && resolved.CallID != "":
			logger.Info("call identity from backend", "ward_id", resolved.WardID, "call_id", resolved.CallID)
			return Identity{WardID: resolved.WardID, CallID: resolved.CallID, Direction: parseDirection(resolved.Direction)}
		case errors.Is(err, notify.ErrNotFound):
			logger.Info("no backend record for room", "room", roomName)
		case err != nil:
			logger.Warn("backend call lookup failed", "room", roomName, "error", err)
		}
	}

	if ward, ok := parseRoomName(roomName); ok {
		logger.Info("call identity from room name", "ward_id", ward, "call_id", roomName)
		return Identity{WardID: ward, CallID: roomName, Direction: DirectionOutbound}
	}

	logger.Warn("call identity unresolved, using room name", "room", roomName)
	return Identity{WardID: roomName, CallID: roomName, Direction: DirectionOutbound}
}

// parseRoomName extracts the ward id from a "call_{ward}_{suffix}" room
// name. Anything else is not structural.
func parseRoomName(name string) (string, bool) {
	parts := strings.Split(name, "_")
	if len(parts) < 2 || parts[0] != "call" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func parseDirection(raw string) Direction {
	if strings.EqualFold(raw, string(DirectionInbound)) {
		return DirectionInbound
	}
	return DirectionOutbound
}
