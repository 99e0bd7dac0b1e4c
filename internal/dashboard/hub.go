// Package dashboard is the websocket live-push fan-out to the web
// dashboard (SPEC_FULL.md "Dashboard live-push"): a read-side mirror of
// every domain event, scoped per tenant, with no influence over
// dispatch semantics.
//
// Grounded on the teacher's internal/rooms.Manager/Client hub: a single
// goroutine owns the registry and serializes register/unregister/
// broadcast through channels instead of a mutex-guarded map accessed
// from arbitrary goroutines.
package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tableup/scheduler/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

// Event is one push frame: a domain event plus the tenant it belongs
// to, so a Hub can fan it out only to clients bound to that tenant.
type Event struct {
	TenantID   uuid.UUID `json:"-"`
	Type       string    `json:"type"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Hub owns the registry of connected dashboard clients, keyed by the
// tenant each client is bound to. One goroutine (Run) serializes all
// registry mutation and fan-out.
type Hub struct {
	log *logging.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan Event

	mu      sync.RWMutex
	clients map[uuid.UUID]map[*Client]bool
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan Event, 256),
		clients:    make(map[uuid.UUID]map[*Client]bool),
	}
}

// Run serves the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.tenantID] == nil {
				h.clients[c.tenantID] = make(map[*Client]bool)
			}
			h.clients[c.tenantID][c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[c.tenantID]; ok {
				if _, ok := set[c]; ok {
					delete(set, c)
					close(c.send)
				}
				if len(set) == 0 {
					delete(h.clients, c.tenantID)
				}
			}
			h.mu.Unlock()
		case ev := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients[ev.TenantID] {
				select {
				case c.send <- ev:
				default:
					h.log.Error(ctx, "dashboard: client send buffer full, dropping event")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast fans ev out to every client currently bound to ev.TenantID.
// Non-blocking: if Run's event loop is backed up, the event is
// dropped rather than stalling the caller (the event consumer).
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for c := range set {
			close(c.send)
		}
	}
	h.clients = make(map[uuid.UUID]map[*Client]bool)
}
