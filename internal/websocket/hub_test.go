package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func receive(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case data, ok := <-client.send:
		require.True(t, ok, "send channel closed")
		var event Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub_InitializesMaps(t *testing.T) {
	hub := NewHub(nil)

	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.subscriptions)
	assert.NotNil(t, hub.logger)
}

func TestHub_SubscribeRequiresRegistration(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", nil, nil)

	hub.Subscribe(client, 7)

	assert.Never(t, func() bool { return hub.Subscribers(7) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestHub_MessageStoredReachesAccountSubscribers(t *testing.T) {
	hub := startHub(t)
	watcher := NewClient(hub, nil, "user-1", nil, nil)
	other := NewClient(hub, nil, "user-2", nil, nil)
	hub.Register(watcher)
	hub.Register(other)
	hub.Subscribe(watcher, 1)
	hub.Subscribe(other, 2)
	require.Eventually(t, func() bool { return hub.Subscribers(1) == 1 && hub.Subscribers(2) == 1 },
		time.Second, 5*time.Millisecond)

	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	hub.MessageStored(&models.EmailMessage{
		ID:          42,
		ThreadID:    9,
		AccountID:   1,
		FromAddress: "alice@example.org",
		FromName:    "Alice",
		Subject:     "Plans",
		Snippet:     "See you",
		Direction:   models.DirectionReceived,
		Timestamp:   ts,
	})

	event := receive(t, watcher)
	assert.Equal(t, EventMessageStored, event.Type)
	assert.Equal(t, uint(1), event.AccountID)
	require.NotNil(t, event.Message)
	assert.Equal(t, uint(42), event.Message.ID)
	assert.Equal(t, uint(9), event.Message.ThreadID)
	assert.Equal(t, "alice@example.org", event.Message.From)
	assert.Equal(t, models.DirectionReceived, event.Message.Direction)
	assert.True(t, ts.Equal(event.Message.Timestamp))

	assertNoEvent(t, other)
}

func TestHub_SyncCompleted(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", nil, nil)
	hub.Register(client)
	hub.Subscribe(client, 3)
	require.Eventually(t, func() bool { return hub.Subscribers(3) == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	hub.SyncCompleted(3, 50, 2, at)

	event := receive(t, client)
	assert.Equal(t, EventSyncCompleted, event.Type)
	require.NotNil(t, event.Sync)
	assert.Equal(t, 50, event.Sync.MessageCount)
	assert.Equal(t, 2, event.Sync.NewMessages)
	assert.True(t, at.Equal(event.Sync.SyncedAt))
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", nil, nil)
	hub.Register(client)
	hub.Subscribe(client, 4)
	require.Eventually(t, func() bool { return hub.Subscribers(4) == 1 }, time.Second, 5*time.Millisecond)

	hub.Unsubscribe(client, 4)
	require.Eventually(t, func() bool { return hub.Subscribers(4) == 0 }, time.Second, 5*time.Millisecond)

	hub.SyncCompleted(4, 1, 1, time.Now())
	assertNoEvent(t, client)
}

func TestHub_UnregisterClosesSendAndDropsSubscriptions(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", nil, nil)
	hub.Register(client)
	hub.Subscribe(client, 5)
	hub.Subscribe(client, 6)
	require.Eventually(t, func() bool { return hub.Subscribers(5) == 1 && hub.Subscribers(6) == 1 },
		time.Second, 5*time.Millisecond)

	hub.Unregister(client)

	require.Eventually(t, func() bool { return hub.Subscribers(5) == 0 && hub.Subscribers(6) == 0 },
		time.Second, 5*time.Millisecond)
	_, ok := <-client.send
	assert.False(t, ok)
}

func TestHub_PublishWithoutRunDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(hub.broadcast)+10; i++ {
			hub.SyncCompleted(1, i, 0, time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
	assert.Len(t, hub.broadcast, cap(hub.broadcast))
}

func TestHub_StopClosesClientsAndUnblocksCallers(t *testing.T) {
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run()
		close(stopped)
	}()
	client := NewClient(hub, nil, "user-1", nil, nil)
	hub.Register(client)

	hub.Stop()
	hub.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	_, ok := <-client.send
	assert.False(t, ok)

	// registration after stop returns immediately
	hub.Register(NewClient(hub, nil, "user-2", nil, nil))
}
