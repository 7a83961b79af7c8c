package redisstore

import (
	"testing"
	"time"

	"github.com/wardline/companion-agent/pkg/companion/transcript"
)

func TestSharedClient_SingleInstancePerAddr(t *testing.T) {
	t.Cleanup(func() { _ = CloseShared() })

	a := SharedClient("localhost:6379")
	b := SharedClient("localhost:6379")
	if a != b {
		t.Error("same addr should reuse the shared client")
	}

	c := SharedClient("otherhost:6379")
	if c == a {
		t.Error("addr change should replace the shared client")
	}
}

func TestCloseShared_Resets(t *testing.T) {
	a := SharedClient("localhost:6379")
	if err := CloseShared(); err != nil {
		t.Fatalf("CloseShared error: %v", err)
	}
	t.Cleanup(func() { _ = CloseShared() })

	b := SharedClient("localhost:6379")
	if a == b {
		t.Error("client after CloseShared should be a fresh instance")
	}
}

func TestNew_DefaultTTL(t *testing.T) {
	s := New(nil, 0)
	if s.ttl != 24*time.Hour {
		t.Errorf("ttl=%v, want 24h default", s.ttl)
	}
	if s.key("abc") != "transcript:abc" {
		t.Errorf("key=%q", s.key("abc"))
	}
}

func TestTail_ZeroCount(t *testing.T) {
	s := New(nil, time.Hour)
	entries, err := s.Tail(t.Context(), "s", 0)
	if err != nil || entries != nil {
		t.Errorf("Tail(0) = %v, %v; want nil, nil", entries, err)
	}
}

var _ transcript.Store = (*Store)(nil)
