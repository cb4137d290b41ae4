package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
)

func ownsAccounts(ids ...uint) AuthorizeFunc {
	return func(_ context.Context, accountID uint) bool {
		for _, id := range ids {
			if id == accountID {
				return true
			}
		}
		return false
	}
}

func frame(t *testing.T, event Event) []byte {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return data
}

func TestNewClient_Defaults(t *testing.T) {
	hub := NewHub(nil)

	client := NewClient(hub, nil, "user-1", nil, nil)

	assert.Equal(t, hub, client.hub)
	assert.Equal(t, "user-1", client.userID)
	assert.NotNil(t, client.send)
	assert.NotNil(t, client.logger)
}

func TestClient_HandleMessage_SubscribeOwnedAccount(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", ownsAccounts(1), nil)
	hub.Register(client)

	client.handleMessage(frame(t, Event{Type: EventSubscribe, AccountID: 1}))

	require.Eventually(t, func() bool { return hub.Subscribers(1) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClient_HandleMessage_SubscribeForeignAccount(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", ownsAccounts(1), nil)
	hub.Register(client)

	client.handleMessage(frame(t, Event{Type: EventSubscribe, AccountID: 2}))

	event := receive(t, client)
	assert.Equal(t, EventError, event.Type)
	assert.Equal(t, "account not found", event.Error)
	assert.Zero(t, hub.Subscribers(2))
}

func TestClient_HandleMessage_NilAuthorizerDeniesAll(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil, "user-1", nil, nil)
	hub.Register(client)

	client.handleMessage(frame(t, Event{Type: EventSubscribe, AccountID: 1}))

	assert.Equal(t, "account not found", receive(t, client).Error)
}

func TestClient_HandleMessage_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"invalid json", "not json", "invalid message format"},
		{"subscribe without account", `{"type":"subscribe"}`, "account_id is required"},
		{"unsubscribe without account", `{"type":"unsubscribe"}`, "account_id is required"},
		{"unknown type", `{"type":"shout","account_id":1}`, "unknown message type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(NewHub(nil), nil, "user-1", ownsAccounts(1), nil)

			client.handleMessage([]byte(tt.input))

			event := receive(t, client)
			assert.Equal(t, EventError, event.Type)
			assert.Equal(t, tt.want, event.Error)
		})
	}
}

func TestClient_SendErrorDropsWhenBufferFull(t *testing.T) {
	client := NewClient(NewHub(nil), nil, "user-1", nil, nil)
	for i := 0; i < cap(client.send); i++ {
		client.send <- []byte("{}")
	}

	client.sendError("overflow")

	assert.Len(t, client.send, cap(client.send))
}

func TestClient_PumpsOverRealConnection(t *testing.T) {
	hub := startHub(t)
	upgrader := NewSecureUpgrader(nil, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, "user-1", ownsAccounts(11), nil)
		hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Event{Type: EventSubscribe, AccountID: 11}))
	require.Eventually(t, func() bool { return hub.Subscribers(11) == 1 }, time.Second, 5*time.Millisecond)

	hub.MessageStored(&models.EmailMessage{ID: 1, ThreadID: 2, AccountID: 11, Subject: "Hello"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventMessageStored, event.Type)
	assert.Equal(t, "Hello", event.Message.Subject)

	// closing the socket unregisters the client
	conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(11) == 0 }, 2*time.Second, 10*time.Millisecond)
}
