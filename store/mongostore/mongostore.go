// Package mongostore persists agent.PausedRun snapshots in MongoDB,
// following the teacher's thin Store-wrapping-a-narrow-client-interface
// shape (features/runlog/mongo): the document carries the run's metadata as
// typed BSON fields and the PausedRun payload itself as an opaque JSON blob,
// since message.Message's Parts union already has a JSON codec
// (message.Message.MarshalJSON) and re-deriving a parallel BSON codec for it
// would just duplicate that logic.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pelagus-ai/agentrt/agent"
	"github.com/pelagus-ai/agentrt/store"
)

const (
	defaultCollection = "agent_paused_runs"
	defaultTimeout    = 5 * time.Second
)

// Options configures the Mongo-backed Store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store persists agent.PausedRun documents in a single Mongo collection,
// keyed by run_id.
type Store struct {
	coll    collection
	timeout time.Duration
}

// New returns a store.Store backed by MongoDB.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	raw := opts.Client.Database(opts.Database).Collection(name)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	index := mongodriver.IndexModel{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := raw.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("mongostore: create index: %w", err)
	}
	return &Store{coll: mongoCollection{coll: raw}, timeout: timeout}, nil
}

type pausedRunDocument struct {
	RunID     string    `bson:"run_id"`
	Payload   []byte    `bson:"payload"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// Save upserts run's snapshot, replacing any prior one with the same RunID.
func (s *Store) Save(ctx context.Context, run agent.PausedRun) error {
	if run.RunID == "" {
		return errors.New("mongostore: run id is required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("mongostore: encode paused run: %w", err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := pausedRunDocument{RunID: run.RunID, Payload: payload, UpdatedAt: time.Now().UTC()}
	_, err = s.coll.ReplaceOne(ctx, bson.M{"run_id": run.RunID}, doc, options.Replace().SetUpsert(true))
	return err
}

// Load returns the saved snapshot for runID, or store.ErrNotFound.
func (s *Store) Load(ctx context.Context, runID string) (agent.PausedRun, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc pausedRunDocument
	if err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return agent.PausedRun{}, store.ErrNotFound
		}
		return agent.PausedRun{}, err
	}
	var run agent.PausedRun
	if err := json.Unmarshal(doc.Payload, &run); err != nil {
		return agent.PausedRun{}, fmt.Errorf("mongostore: decode paused run: %w", err)
	}
	return run, nil
}

// Delete removes the saved snapshot for runID, if any. Deleting a run that
// was never saved is not an error.
func (s *Store) Delete(ctx context.Context, runID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.DeleteOne(ctx, bson.M{"run_id": runID})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

// collection narrows *mongo.Collection to the operations Store needs, and
// singleResult narrows *mongo.SingleResult to Decode, so tests can inject a
// fake without spinning up a real server (mirrors the teacher's
// features/session/mongo client seam).
type collection interface {
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error)
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOptions]) (*mongodriver.DeleteResult, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) DeleteOne(ctx context.Context, filter any, opts ...options.Lister[options.DeleteOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter, opts...)
}
