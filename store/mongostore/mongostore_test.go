package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pelagus-ai/agentrt/agent"
	"github.com/pelagus-ai/agentrt/message"
	"github.com/pelagus-ai/agentrt/store"
)

type fakeSingleResult struct {
	doc pausedRunDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	out := val.(*pausedRunDocument)
	*out = r.doc
	return nil
}

type fakeCollection struct {
	docs map[string]pausedRunDocument
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]pausedRunDocument)}
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter, replacement any, _ ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	runID := filter.(bson.M)["run_id"].(string)
	f.docs[runID] = replacement.(pausedRunDocument)
	return &mongodriver.UpdateResult{}, nil
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	runID := filter.(bson.M)["run_id"].(string)
	doc, ok := f.docs[runID]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter any, _ ...options.Lister[options.DeleteOptions]) (*mongodriver.DeleteResult, error) {
	runID := filter.(bson.M)["run_id"].(string)
	delete(f.docs, runID)
	return &mongodriver.DeleteResult{DeletedCount: 1}, nil
}

func TestSaveLoadRoundTrips(t *testing.T) {
	fc := newFakeCollection()
	s := &Store{coll: fc, timeout: time.Second}

	run := agent.PausedRun{
		RunID:    "run-1",
		Messages: []message.Message{message.UserText("hi")},
		Usage:    message.Usage{Requests: 1, InputTokens: 3},
		PendingCalls: []agent.PendingCall{
			{Call: message.ToolCall{ID: "call-1", Name: "lookup"}},
		},
	}
	require.NoError(t, s.Save(context.Background(), run))

	got, err := s.Load(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.RunID, got.RunID)
	assert.Equal(t, run.Usage, got.Usage)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Parts[0].(message.TextPart).Text)
	require.Len(t, got.PendingCalls, 1)
	assert.Equal(t, "lookup", got.PendingCalls[0].Call.Name)
}

func TestLoadMissingReturnsErrNotFound(t *testing.T) {
	s := &Store{coll: newFakeCollection(), timeout: time.Second}

	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesSavedRun(t *testing.T) {
	fc := newFakeCollection()
	s := &Store{coll: fc, timeout: time.Second}
	require.NoError(t, s.Save(context.Background(), agent.PausedRun{RunID: "run-1"}))

	require.NoError(t, s.Delete(context.Background(), "run-1"))

	_, err := s.Load(context.Background(), "run-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveRejectsEmptyRunID(t *testing.T) {
	s := &Store{coll: newFakeCollection(), timeout: time.Second}
	err := s.Save(context.Background(), agent.PausedRun{})
	assert.Error(t, err)
}
