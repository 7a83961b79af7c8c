package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeStore struct {
	mu      sync.Mutex
	appends []Entry
	expires int
	err     error
}

func (s *fakeStore) Append(ctx context.Context, sessionID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.appends = append(s.appends, entry)
	return nil
}

func (s *fakeStore) SetExpiry(ctx context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires++
	return s.err
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	count int
	err   error
}

func (b *fakeBroadcaster) SendData(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.count++
	return nil
}

func TestRecord_CapEvictsOldest(t *testing.T) {
	t.Parallel()
	r := NewRecorder("s1", RecorderOptions{Cap: 500})

	for i := 0; i < 520; i++ {
		r.Record(SpeakerUser, fmt.Sprintf("utterance %d", i))
	}

	if r.Len() != 500 {
		t.Fatalf("Len=%d, want 500", r.Len())
	}
	entries := r.Entries()
	if entries[0].Text != "utterance 20" {
		t.Errorf("first retained entry %q, want %q", entries[0].Text, "utterance 20")
	}
	if entries[len(entries)-1].Text != "utterance 519" {
		t.Errorf("last retained entry %q, want %q", entries[len(entries)-1].Text, "utterance 519")
	}
	// Relative order preserved.
	for i := 1; i < len(entries); i++ {
		var prev, cur int
		fmt.Sscanf(entries[i-1].Text, "utterance %d", &prev)
		fmt.Sscanf(entries[i].Text, "utterance %d", &cur)
		if cur != prev+1 {
			t.Fatalf("order broken at %d: %q then %q", i, entries[i-1].Text, entries[i].Text)
		}
	}
}

func TestRecord_EmptyAfterTrimIgnored(t *testing.T) {
	t.Parallel()
	r := NewRecorder("s1", RecorderOptions{})

	r.Record(SpeakerUser, "   ")
	r.Record(SpeakerAgent, "")
	r.Record(SpeakerUser, "\n\t")
	if r.Len() != 0 {
		t.Fatalf("Len=%d, want 0", r.Len())
	}

	r.Record(SpeakerUser, "  hello  ")
	if r.Len() != 1 {
		t.Fatalf("Len=%d, want 1", r.Len())
	}
	if got := r.Entries()[0].Text; got != "hello" {
		t.Errorf("text=%q, want trimmed %q", got, "hello")
	}
}

func TestFullTranscript_IdempotentAndOrdered(t *testing.T) {
	t.Parallel()
	r := NewRecorder("s1", RecorderOptions{})

	r.Record(SpeakerAgent, "good morning")
	r.Record(SpeakerUser, "hello dear")
	r.Record(SpeakerAgent, "how did you sleep")

	want := "agent: good morning\nuser: hello dear\nagent: how did you sleep"
	first := r.FullTranscript()
	if first != want {
		t.Errorf("FullTranscript=%q, want %q", first, want)
	}
	if second := r.FullTranscript(); second != first {
		t.Error("FullTranscript not idempotent")
	}
}

func TestRecord_MirrorsToStoreWithExpiry(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	r := NewRecorder("s1", RecorderOptions{Store: store})

	r.Record(SpeakerUser, "hi")
	r.Record(SpeakerAgent, "hello")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.appends) != 2 {
		t.Fatalf("appends=%d, want 2", len(store.appends))
	}
	if store.expires != 2 {
		t.Errorf("expiry refreshes=%d, want one per append", store.expires)
	}
}

// jitterStore varies its append latency so any concurrent mirror writes
// would land out of order.
type jitterStore struct {
	fakeStore
}

func (s *jitterStore) Append(ctx context.Context, sessionID string, entry Entry) error {
	time.Sleep(time.Duration(len(entry.Text)%3+1) * time.Millisecond)
	return s.fakeStore.Append(ctx, sessionID, entry)
}

func TestRecord_DurableMirrorPreservesOrder(t *testing.T) {
	t.Parallel()
	store := &jitterStore{}
	r := NewRecorder("s1", RecorderOptions{Store: store})

	for i := 0; i < 50; i++ {
		r.Record(SpeakerUser, fmt.Sprintf("utterance %d", i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	entries := r.Entries()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.appends) != len(entries) {
		t.Fatalf("store holds %d entries, memory holds %d", len(store.appends), len(entries))
	}
	for i := range entries {
		if store.appends[i].Text != entries[i].Text {
			t.Fatalf("durable log diverges from memory at %d: store=%q mem=%q",
				i, store.appends[i].Text, entries[i].Text)
		}
	}
}

func TestRecord_StoreFailureDoesNotPropagate(t *testing.T) {
	t.Parallel()
	store := &fakeStore{err: errors.New("redis down")}
	bc := &fakeBroadcaster{}
	r := NewRecorder("s1", RecorderOptions{Store: store, Broadcaster: bc})

	r.Record(SpeakerUser, "still recorded")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}

	// The in-memory transcript and the broadcast are unaffected.
	if r.Len() != 1 {
		t.Errorf("Len=%d, want 1", r.Len())
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.count != 1 {
		t.Errorf("broadcasts=%d, want 1", bc.count)
	}
}

func TestRecord_BroadcastFailureNonFatal(t *testing.T) {
	t.Parallel()
	bc := &fakeBroadcaster{err: errors.New("room gone")}
	r := NewRecorder("s1", RecorderOptions{Broadcaster: bc})

	r.Record(SpeakerUser, "hi")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Flush(ctx); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len=%d, want 1", r.Len())
	}
}

func TestRecord_ConcurrentAppendsKeepInvariant(t *testing.T) {
	t.Parallel()
	r := NewRecorder("s1", RecorderOptions{Cap: 100})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Record(SpeakerUser, fmt.Sprintf("g%d-%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	if r.Len() != 100 {
		t.Fatalf("Len=%d, want cap 100", r.Len())
	}
	if lines := strings.Split(r.FullTranscript(), "\n"); len(lines) != 100 {
		t.Errorf("transcript lines=%d, want 100", len(lines))
	}
}
