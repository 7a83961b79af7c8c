// Package redisstore persists session transcripts to Redis as append-only
// lists with a TTL, one list per session.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wardline/companion-agent/pkg/companion/transcript"
)

const (
	// Redis key prefix for transcript lists.
	keyPrefix = "transcript:"
	// Default TTL applied on append when none is configured.
	defaultTTL = 24 * time.Hour
)

var (
	sharedMu     sync.Mutex
	sharedClient *redis.Client
	sharedAddr   string
)

// SharedClient returns the process-scoped Redis client for addr, creating
// it on first use. Sessions in one process share the connection pool.
func SharedClient(addr string) *redis.Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedClient == nil || sharedAddr != addr {
		sharedClient = redis.NewClient(&redis.Options{Addr: addr})
		sharedAddr = addr
	}
	return sharedClient
}

// CloseShared tears down the process-scoped client. Called on process
// shutdown.
func CloseShared() error {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedClient == nil {
		return nil
	}
	err := sharedClient.Close()
	sharedClient = nil
	sharedAddr = ""
	return err
}

// Store implements transcript.Store on Redis.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New creates a Store. ttl <= 0 picks the default.
func New(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Append pushes one entry onto the session's list. The TTL refresh is
// pipelined with the push so every append costs one round trip.
func (s *Store) Append(ctx context.Context, sessionID string, entry transcript.Entry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode transcript entry: %w", err)
	}
	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append transcript entry: %w", err)
	}
	return nil
}

// SetExpiry refreshes the session list's TTL.
func (s *Store) SetExpiry(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.client.Expire(ctx, s.key(sessionID), ttl).Err(); err != nil {
		return fmt.Errorf("refresh transcript expiry: %w", err)
	}
	return nil
}

// Tail returns the most recent n entries for a session, oldest first.
// A missing key yields an empty slice, not an error.
func (s *Store) Tail(ctx context.Context, sessionID string, n int) ([]transcript.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, s.key(sessionID), int64(-n), -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transcript tail: %w", err)
	}
	entries := make([]transcript.Entry, 0, len(vals))
	for _, val := range vals {
		var entry transcript.Entry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			// A corrupt element is skipped rather than poisoning the read.
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Ping verifies the store is reachable. Used by startup prewarm.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("transcript store unreachable: %w", err)
	}
	return nil
}

func (s *Store) key(sessionID string) string {
	return keyPrefix + sessionID
}

var _ transcript.Store = (*Store)(nil)
