package wsroom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wardline/companion-agent/pkg/companion/room"
)

var upgrader = websocket.Upgrader{}

// testServer upgrades one connection, sends the joined frame, then hands the
// connection to fn.
func testServer(t *testing.T, joined serverFrame, fn func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if err := conn.WriteJSON(joined); err != nil {
			t.Errorf("write joined: %v", err)
			return
		}
		if fn != nil {
			fn(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvent(t *testing.T, events <-chan room.Event) room.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestDial_SnapshotFromJoinedFrame(t *testing.T) {
	joined := serverFrame{
		Type:     frameJoined,
		Room:     "call_42_20240101",
		Identity: "bot-abc",
		Metadata: `{"wardId":"42"}`,
		Participants: []participantState{
			{Identity: "bot-abc"},
			{Identity: "ward_42", AudioTracks: 1},
		},
	}
	url := testServer(t, joined, func(conn *websocket.Conn) {
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), url, Options{Token: "tok"})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	if client.Name() != "call_42_20240101" {
		t.Errorf("Name=%q", client.Name())
	}
	if client.LocalIdentity() != "bot-abc" {
		t.Errorf("LocalIdentity=%q", client.LocalIdentity())
	}
	if client.Metadata() != `{"wardId":"42"}` {
		t.Errorf("Metadata=%q", client.Metadata())
	}

	parts := client.Participants()
	if len(parts) != 1 || parts[0].Identity != "ward_42" {
		t.Fatalf("Participants=%v, want only ward_42 (local excluded)", parts)
	}
	if !parts[0].HasAudio() {
		t.Error("ward_42 should have audio from snapshot")
	}
}

func TestReadLoop_EventsAndSnapshotUpdates(t *testing.T) {
	frames := []serverFrame{
		{Type: frameParticipantJoined, Participant: &participantState{Identity: "admin_1"}},
		{Type: frameTrackPublished, Participant: &participantState{Identity: "admin_1"}, Kind: trackKindAudio},
		{Type: "unknown_frame_type"},
		{Type: frameMetadataChanged, Metadata: `{"takeover":true}`},
		{Type: frameTrackUnpublished, Participant: &participantState{Identity: "admin_1"}, Kind: trackKindAudio},
		{Type: frameParticipantLeft, Participant: &participantState{Identity: "admin_1"}},
	}
	url := testServer(t, serverFrame{Type: frameJoined, Room: "r"}, func(conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), url, Options{})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	if ev, ok := waitEvent(t, client.Events()).(room.ParticipantJoined); !ok || ev.Participant.Identity != "admin_1" {
		t.Fatalf("event 1 = %#v, want ParticipantJoined admin_1", ev)
	}
	if ev, ok := waitEvent(t, client.Events()).(room.TrackPublished); !ok || !ev.Audio {
		t.Fatalf("event 2 = %#v, want audio TrackPublished", ev)
	}

	// Snapshot reflects the published audio track.
	parts := client.Participants()
	if len(parts) != 1 || parts[0].AudioTracks != 1 {
		t.Fatalf("snapshot after publish = %v", parts)
	}

	// Unknown frame types are skipped, metadata change comes through next.
	if ev, ok := waitEvent(t, client.Events()).(room.MetadataChanged); !ok || ev.Raw != `{"takeover":true}` {
		t.Fatalf("event 3 = %#v, want MetadataChanged", ev)
	}
	if client.Metadata() != `{"takeover":true}` {
		t.Errorf("Metadata=%q after change", client.Metadata())
	}

	if _, ok := waitEvent(t, client.Events()).(room.TrackUnpublished); !ok {
		t.Fatal("want TrackUnpublished")
	}
	if _, ok := waitEvent(t, client.Events()).(room.ParticipantLeft); !ok {
		t.Fatal("want ParticipantLeft")
	}
	if parts := client.Participants(); len(parts) != 0 {
		t.Errorf("snapshot after leave = %v, want empty", parts)
	}
}

func TestSendData_ReachesServer(t *testing.T) {
	received := make(chan clientFrame, 1)
	url := testServer(t, serverFrame{Type: frameJoined, Room: "r"}, func(conn *websocket.Conn) {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), url, Options{})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	payload, _ := json.Marshal(map[string]string{"speaker": "user", "text": "hi"})
	if err := client.SendData(context.Background(), "transcript", payload); err != nil {
		t.Fatalf("SendData error: %v", err)
	}

	select {
	case frame := <-received:
		if frame.Type != frameData || frame.Topic != "transcript" {
			t.Errorf("frame = %+v", frame)
		}
		if frame.ID == "" {
			t.Error("data frame should carry a generated id")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data frame")
	}
}

func TestSendData_CancelledContextRejected(t *testing.T) {
	received := make(chan clientFrame, 1)
	url := testServer(t, serverFrame{Type: frameJoined, Room: "r"}, func(conn *websocket.Conn) {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		received <- frame
	})

	client, err := Dial(context.Background(), url, Options{})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.SendData(ctx, "transcript", []byte(`{}`)); !errors.Is(err, context.Canceled) {
		t.Fatalf("SendData error = %v, want context.Canceled", err)
	}

	select {
	case frame := <-received:
		t.Fatalf("frame %+v reached the server despite cancelled context", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectFrame_EmitsDisconnected(t *testing.T) {
	url := testServer(t, serverFrame{Type: frameJoined, Room: "r"}, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(serverFrame{Type: frameDisconnect, Reason: "room closed"})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), url, Options{})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	ev, ok := waitEvent(t, client.Events()).(room.Disconnected)
	if !ok || ev.Reason != "room closed" {
		t.Fatalf("event = %#v, want Disconnected(room closed)", ev)
	}
}

func TestClose_Idempotent(t *testing.T) {
	url := testServer(t, serverFrame{Type: frameJoined, Room: "r"}, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	client, err := Dial(context.Background(), url, Options{})
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := client.SendData(context.Background(), "t", []byte(`{}`)); err == nil {
		t.Error("SendData after Close should fail")
	}
}
