package messenger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMessengerPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMessenger()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "index")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "index", []byte("put-object")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "index", msg.Subject)
		assert.Equal(t, []byte("put-object"), msg.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryMessengerSubjectsAreIsolated(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMessenger()
	defer m.Close()

	indexSub, err := m.Subscribe(ctx, "index")
	require.NoError(t, err)
	transferSub, err := m.Subscribe(ctx, "transfer")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "index", []byte("for-index")))

	select {
	case msg := <-indexSub.Messages():
		assert.Equal(t, []byte("for-index"), msg.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for index message")
	}

	select {
	case <-transferSub.Messages():
		t.Fatal("transfer subscriber should not have received the index publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryMessengerUnsubscribeClosesChannel(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMessenger()
	defer m.Close()

	sub, err := m.Subscribe(ctx, "index")
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	_, ok := <-sub.Messages()
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestMemoryMessengerMultipleSubscribersAllReceive(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryMessenger()
	defer m.Close()

	subA, err := m.Subscribe(ctx, "index")
	require.NoError(t, err)
	subB, err := m.Subscribe(ctx, "index")
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "index", []byte("broadcast")))

	for _, sub := range []Subscription{subA, subB} {
		select {
		case msg := <-sub.Messages():
			assert.Equal(t, []byte("broadcast"), msg.Data)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for broadcast message")
		}
	}
}
