// Package store defines a persistence boundary for paused runs. The agent
// loop never imports it: agent.Resume accepts a PausedRun value directly, so
// any caller that wants durable pause/resume across process restarts can
// save and load PausedRun through a Store of its choosing (store/mongostore,
// store/redisstore, or a caller-supplied implementation) without agent ever
// knowing persistence exists.
package store

import (
	"context"
	"errors"

	"github.com/pelagus-ai/agentrt/agent"
)

// ErrNotFound is returned by Load when runID has no saved PausedRun.
var ErrNotFound = errors.New("store: run not found")

// Store persists and restores agent.PausedRun snapshots keyed by RunID.
//
// Implementations must treat Save as an upsert: saving the same RunID twice
// replaces the prior snapshot. Delete is used once a paused run is resumed
// or abandoned so the backing store does not grow unbounded.
type Store interface {
	Save(ctx context.Context, run agent.PausedRun) error
	Load(ctx context.Context, runID string) (agent.PausedRun, error)
	Delete(ctx context.Context, runID string) error
}
