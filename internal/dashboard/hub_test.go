package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableup/scheduler/internal/logging"
)

func newTestClient(tenantID uuid.UUID) *Client {
	return &Client{tenantID: tenantID, send: make(chan Event, sendBufferSize)}
}

func TestHub_BroadcastsOnlyToBoundTenant(t *testing.T) {
	hub := NewHub(logging.New("error"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	tenantA, tenantB := uuid.New(), uuid.New()
	clientA := newTestClient(tenantA)
	clientB := newTestClient(tenantB)

	hub.register <- clientA
	hub.register <- clientB
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(Event{TenantID: tenantA, Type: "game.created"})

	select {
	case ev := <-clientA.send:
		assert.Equal(t, "game.created", ev.Type)
	case <-time.After(time.Second):
		t.Fatal("tenant A client never received the event")
	}

	select {
	case <-clientB.send:
		t.Fatal("tenant B client should not receive tenant A's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(logging.New("error"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	tenantID := uuid.New()
	client := newTestClient(tenantID)

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	_, ok := <-client.send
	require.False(t, ok, "send channel should be closed after unregister")
}
