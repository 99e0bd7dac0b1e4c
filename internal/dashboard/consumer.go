package dashboard

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tableup/scheduler/internal/apperr"
	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
)

// sessionStore is the subset of internal/db.Database the consumer
// needs to resolve an event's session back to its owning tenant —
// every event payload carries a session id, never a tenant id
// directly (§6), so this is the only way to scope fan-out correctly.
type sessionStore interface {
	GetSessionByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Consumer bridges the broker's topic exchange into the Hub: every
// domain event is mirrored to connected dashboard clients scoped to
// its session's tenant. Grounded on internal/announcer.Consumer's
// Run/handleDelivery shape — same manual ack/nack discipline, because
// a malformed or unresolvable event must not silently vanish.
type Consumer struct {
	store  sessionStore
	broker *broker.Broker
	hub    *Hub
	log    *logging.Logger
}

func NewConsumer(store sessionStore, b *broker.Broker, hub *Hub, log *logging.Logger) *Consumer {
	return &Consumer{store: store, broker: b, hub: hub, log: log}
}

func (c *Consumer) Run(ctx context.Context, queueName, consumerTag string, prefetch int) error {
	deliveries, err := c.broker.Consume(ctx, queueName, consumerTag, prefetch)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	ev, data, err := broker.UnmarshalEvent(d.Body)
	if err != nil {
		c.log.Error(ctx, "dashboard: malformed event, dropping to dlq")
		d.Nack(false, false)
		return
	}

	sessionID, err := extractSessionID(data)
	if err != nil {
		c.log.Error(ctx, "dashboard: event missing session_id, dropping to dlq")
		d.Nack(false, false)
		return
	}

	session, err := c.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			// Session was deleted after the event was published; nothing left to push.
			d.Ack(false)
			return
		}
		c.log.Error(ctx, "dashboard: resolve session failed, routing to dlq")
		d.Nack(false, false)
		return
	}

	c.hub.Broadcast(Event{
		TenantID:   session.TenantID,
		Type:       ev.Type,
		Data:       json.RawMessage(data),
		OccurredAt: ev.OccurredAt,
	})
	d.Ack(false)
}

// extractSessionID decodes just the session_id field common to every
// event payload (§6), without needing to know the payload's full shape.
func extractSessionID(data json.RawMessage) (uuid.UUID, error) {
	var ref struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return uuid.Nil, err
	}
	return ref.SessionID, nil
}
