package eventstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authapp/zitadel-sub007/pkg/eventstore"
)

func receiveBatch(t *testing.T, sub *eventstore.Subscription) []eventstore.Event {
	t.Helper()
	select {
	case batch, ok := <-sub.Events:
		require.True(t, ok, "subscription closed unexpectedly")
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription delivery")
		return nil
	}
}

func TestSubscribeReceivesCommittedBatch(t *testing.T) {
	es := newEngine(t, &fakeStorage{})
	sub := es.Subscribe()
	defer sub.Unsubscribe()

	first := validCommand()
	second := validCommand()
	second.EventType = "user.renamed"

	_, err := es.PushMany(context.Background(), first, second)
	require.NoError(t, err)

	batch := receiveBatch(t, sub)
	require.Len(t, batch, 2)
	assert.Equal(t, "user.added", batch[0].EventType)
	assert.Equal(t, "user.renamed", batch[1].EventType)
}

func TestSubscribeFiltersByType(t *testing.T) {
	es := newEngine(t, &fakeStorage{})

	users := es.Subscribe(eventstore.WithAggregateTypes("user"))
	defer users.Unsubscribe()
	orgRemovals := es.Subscribe(eventstore.WithAggregateTypes("org"), eventstore.WithEventTypes("org.removed"))
	defer orgRemovals.Unsubscribe()

	userCmd := validCommand()
	orgAdded := validCommand()
	orgAdded.AggregateType = "org"
	orgAdded.AggregateID = "org-1"
	orgAdded.EventType = "org.added"
	orgRemoved := orgAdded
	orgRemoved.EventType = "org.removed"

	_, err := es.PushMany(context.Background(), userCmd, orgAdded, orgRemoved)
	require.NoError(t, err)

	userBatch := receiveBatch(t, users)
	require.Len(t, userBatch, 1)
	assert.Equal(t, "user", userBatch[0].AggregateType)

	orgBatch := receiveBatch(t, orgRemovals)
	require.Len(t, orgBatch, 1)
	assert.Equal(t, "org.removed", orgBatch[0].EventType)
}

func TestSubscribeNonMatchingBatchIsNotDelivered(t *testing.T) {
	es := newEngine(t, &fakeStorage{})
	sub := es.Subscribe(eventstore.WithAggregateTypes("org"))
	defer sub.Unsubscribe()

	_, err := es.Push(context.Background(), validCommand())
	require.NoError(t, err)

	select {
	case batch := <-sub.Events:
		t.Fatalf("unexpected delivery: %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	es := newEngine(t, &fakeStorage{})
	sub := es.Subscribe()

	sub.Unsubscribe()
	sub.Unsubscribe() // safe to repeat

	_, ok := <-sub.Events
	assert.False(t, ok)
}

func TestCloseClosesSubscriptions(t *testing.T) {
	es, err := eventstore.New(&fakeStorage{})
	require.NoError(t, err)
	sub := es.Subscribe()

	require.NoError(t, es.Close())

	_, ok := <-sub.Events
	assert.False(t, ok)

	// Subscribing after shutdown yields a closed channel, not one that
	// never fires.
	late := es.Subscribe()
	_, ok = <-late.Events
	assert.False(t, ok)
}

func TestSlowSubscriberDoesNotBlockPush(t *testing.T) {
	es := newEngine(t, &fakeStorage{})
	sub := es.Subscribe(eventstore.WithBufferSize(1))
	defer sub.Unsubscribe()

	// The first batch fills the buffer; later ones are dropped because
	// nobody is draining. Pushes must complete regardless.
	for i := 0; i < 5; i++ {
		_, err := es.Push(context.Background(), validCommand())
		require.NoError(t, err)
	}

	batch := receiveBatch(t, sub)
	assert.Len(t, batch, 1)
}

func TestSubscriptionsDisabledByConfig(t *testing.T) {
	cfg := eventstore.DefaultConfig()
	cfg.EnableSubscriptions = false
	es := newEngine(t, &fakeStorage{}, eventstore.WithConfig(cfg))
	sub := es.Subscribe()
	defer sub.Unsubscribe()

	_, err := es.Push(context.Background(), validCommand())
	require.NoError(t, err)

	select {
	case batch := <-sub.Events:
		t.Fatalf("unexpected delivery: %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}
