// Package wsroom implements the room transport boundary over a WebSocket
// signaling connection.
package wsroom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wardline/companion-agent/pkg/companion/room"
)

const (
	defaultConnectTimeout = 10 * time.Second
	pingInterval          = 20 * time.Second
	writeTimeout          = 5 * time.Second
	eventBuffer           = 256
)

// Options configures a room connection.
type Options struct {
	// Token is the room access token, sent as a bearer header.
	Token string
	// Identity joins as this participant identity. When empty a
	// "bot-<uuid>" identity is generated.
	Identity string
	Logger   *slog.Logger
}

// Client is a room.Room over a WebSocket signaling connection.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	name     string
	identity string

	events chan room.Event
	done   chan struct{}

	mu           sync.RWMutex
	participants map[string]room.Participant
	metadata     string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial connects to the signaling endpoint and waits for the joined frame
// carrying the initial room snapshot.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "wsroom")

	identity := opts.Identity
	if identity == "" {
		identity = "bot-" + uuid.NewString()
	}

	headers := make(http.Header)
	if opts.Token != "" {
		headers.Set("Authorization", "Bearer "+opts.Token)
	}
	headers.Set("X-Participant-Identity", identity)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("room dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("room dial failed: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout))
	var joined serverFrame
	if err := conn.ReadJSON(&joined); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read joined frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if joined.Type != frameJoined {
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected first frame type %q", joined.Type)
	}
	if joined.Identity != "" {
		identity = joined.Identity
	}

	c := &Client{
		conn:         conn,
		logger:       logger,
		name:         joined.Room,
		identity:     identity,
		events:       make(chan room.Event, eventBuffer),
		done:         make(chan struct{}),
		participants: make(map[string]room.Participant),
		metadata:     joined.Metadata,
	}
	for _, p := range joined.Participants {
		if p.Identity == identity {
			continue
		}
		c.participants[p.Identity] = room.Participant{
			Identity:    p.Identity,
			Metadata:    p.Metadata,
			AudioTracks: p.AudioTracks,
		}
	}

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Name returns the room name from the joined frame.
func (c *Client) Name() string { return c.name }

// LocalIdentity returns the identity this client joined as.
func (c *Client) LocalIdentity() string { return c.identity }

// Events returns the room event stream.
func (c *Client) Events() <-chan room.Event { return c.events }

// Participants returns the current remote participant snapshot.
func (c *Client) Participants() []room.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]room.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// Metadata returns the latest room metadata payload.
func (c *Client) Metadata() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metadata
}

// SendData broadcasts a data message to the room.
func (c *Client) SendData(ctx context.Context, topic string, payload []byte) error {
	if !json.Valid(payload) {
		encoded, err := json.Marshal(string(payload))
		if err != nil {
			return fmt.Errorf("encode data payload: %w", err)
		}
		payload = encoded
	}
	return c.sendJSON(ctx, clientFrame{
		Type:    frameData,
		ID:      uuid.NewString(),
		Topic:   topic,
		Payload: payload,
	})
}

// SetLocalMetadata publishes metadata for the local participant.
func (c *Client) SetLocalMetadata(ctx context.Context, metadata string) error {
	return c.sendJSON(ctx, clientFrame{Type: "set_metadata", Metadata: metadata})
}

// Close disconnects from the room. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) sendJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return fmt.Errorf("room connection is closed")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)

	reason := "connection closed"
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.closed.Load() {
				reason = "closed"
			} else {
				reason = err.Error()
			}
			break
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("skipping undecodable frame", "error", err)
			continue
		}

		if frame.Type == frameDisconnect {
			if frame.Reason != "" {
				reason = frame.Reason
			} else {
				reason = "server disconnect"
			}
			break
		}

		if event := c.apply(frame); event != nil {
			c.emit(event)
		}
	}

	c.emit(room.Disconnected{Reason: reason})
}

// apply updates the participant snapshot for a frame and returns the event
// to surface, or nil for frames that carry no event.
func (c *Client) apply(frame serverFrame) room.Event {
	switch frame.Type {
	case frameParticipantJoined:
		if frame.Participant == nil || frame.Participant.Identity == c.identity {
			return nil
		}
		p := room.Participant{
			Identity:    frame.Participant.Identity,
			Metadata:    frame.Participant.Metadata,
			AudioTracks: frame.Participant.AudioTracks,
		}
		c.mu.Lock()
		c.participants[p.Identity] = p
		c.mu.Unlock()
		return room.ParticipantJoined{Participant: p}

	case frameParticipantLeft:
		if frame.Participant == nil {
			return nil
		}
		c.mu.Lock()
		delete(c.participants, frame.Participant.Identity)
		c.mu.Unlock()
		return room.ParticipantLeft{Identity: frame.Participant.Identity}

	case frameTrackPublished, frameTrackUnpublished:
		if frame.Participant == nil {
			return nil
		}
		audio := frame.Kind == trackKindAudio
		delta := 1
		if frame.Type == frameTrackUnpublished {
			delta = -1
		}
		c.mu.Lock()
		p := c.participants[frame.Participant.Identity]
		p.Identity = frame.Participant.Identity
		if audio {
			p.AudioTracks += delta
			if p.AudioTracks < 0 {
				p.AudioTracks = 0
			}
		}
		c.participants[p.Identity] = p
		c.mu.Unlock()
		if frame.Type == frameTrackPublished {
			return room.TrackPublished{Identity: p.Identity, Audio: audio}
		}
		return room.TrackUnpublished{Identity: p.Identity, Audio: audio}

	case frameMetadataChanged:
		c.mu.Lock()
		c.metadata = frame.Metadata
		c.mu.Unlock()
		return room.MetadataChanged{Raw: frame.Metadata}

	case frameData:
		return room.DataReceived{
			From:    frame.From,
			Topic:   frame.Topic,
			Payload: append([]byte(nil), frame.Payload...),
		}

	default:
		c.logger.Debug("skipping unknown frame type", "type", frame.Type)
		return nil
	}
}

func (c *Client) emit(event room.Event) {
	select {
	case c.events <- event:
	default:
		// Do not let a stalled consumer block the read loop.
		c.logger.Warn("dropping room event, consumer not keeping up", "type", event.EventType())
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
