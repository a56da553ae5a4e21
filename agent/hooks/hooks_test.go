package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	received []Event
	err      error
}

func (r *recordingSubscriber) HandleEvent(_ context.Context, event Event) error {
	r.received = append(r.received, event)
	return r.err
}

func TestBusFanOutDeliversToEveryRegisteredSubscriber(t *testing.T) {
	b := NewBus()
	s1 := &recordingSubscriber{}
	s2 := &recordingSubscriber{}
	_, err := b.Register(s1)
	require.NoError(t, err)
	_, err = b.Register(s2)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), Event{Kind: EventRunCompleted, RunID: "r1"}))

	require.Len(t, s1.received, 1)
	require.Len(t, s2.received, 1)
	assert.Equal(t, "r1", s1.received[0].RunID)
}

func TestBusRegisterRejectsNilSubscriber(t *testing.T) {
	b := NewBus()

	_, err := b.Register(nil)

	assert.Error(t, err)
}

func TestBusPublishStopsAtFirstSubscriberError(t *testing.T) {
	b := NewBus()
	boom := errors.New("boom")
	failing := &recordingSubscriber{err: boom}
	ok := &recordingSubscriber{}
	_, err := b.Register(failing)
	require.NoError(t, err)
	_, err = b.Register(ok)
	require.NoError(t, err)

	err = b.Publish(context.Background(), Event{Kind: EventRunFailed})

	assert.ErrorIs(t, err, boom)
}

func TestSubscriptionCloseIsIdempotentAndUnregisters(t *testing.T) {
	b := NewBus()
	s := &recordingSubscriber{}
	sub, err := b.Register(s)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	require.NoError(t, b.Publish(context.Background(), Event{Kind: EventRunCompleted}))
	assert.Empty(t, s.received)
}
