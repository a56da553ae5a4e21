// Package redisstore persists agent.PausedRun snapshots in Redis, following
// the teacher's registry package convention of taking a concrete
// *redis.Client directly rather than narrowing it behind an interface (Redis
// clients are cheap to fake with miniredis or a real instance in tests, so
// the teacher doesn't bother with a seam here either).
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pelagus-ai/agentrt/agent"
	"github.com/pelagus-ai/agentrt/store"
)

const defaultKeyPrefix = "agentrt:paused_run:"

// Options configures the Redis-backed Store.
type Options struct {
	Client *redis.Client
	// KeyPrefix namespaces paused-run keys. Defaults to "agentrt:paused_run:".
	KeyPrefix string
	// TTL expires a saved snapshot after the given duration. Zero means no
	// expiry: the caller is responsible for Delete once a run is resumed.
	TTL time.Duration
}

// Store persists agent.PausedRun snapshots as JSON string values in Redis,
// one key per RunID.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a store.Store backed by Redis.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: opts.Client, prefix: prefix, ttl: opts.TTL}, nil
}

// Save upserts run's snapshot under its key, replacing any prior value.
func (s *Store) Save(ctx context.Context, run agent.PausedRun) error {
	if run.RunID == "" {
		return errors.New("redisstore: run id is required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("redisstore: encode paused run: %w", err)
	}
	if err := s.client.Set(ctx, s.key(run.RunID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: save run %s: %w", run.RunID, err)
	}
	return nil
}

// Load returns the saved snapshot for runID, or store.ErrNotFound.
func (s *Store) Load(ctx context.Context, runID string) (agent.PausedRun, error) {
	payload, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return agent.PausedRun{}, store.ErrNotFound
		}
		return agent.PausedRun{}, fmt.Errorf("redisstore: load run %s: %w", runID, err)
	}
	var run agent.PausedRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return agent.PausedRun{}, fmt.Errorf("redisstore: decode paused run: %w", err)
	}
	return run, nil
}

// Delete removes the saved snapshot for runID, if any. Deleting a run that
// was never saved is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) key(runID string) string {
	return s.prefix + runID
}
