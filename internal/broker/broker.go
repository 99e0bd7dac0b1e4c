// Package broker wraps a RabbitMQ connection as the event bus spec.md
// §4.E/§6 describes: a single topic exchange carrying every domain
// event, a matching dead-letter exchange and queue for events whose
// consumer exhausted its retries, and per-message TTLs so a reminder
// that nobody consumed in time simply expires into the DLQ instead of
// firing late.
//
// Grounded on the teacher's internal/persistence.MessageWriter for the
// retry/backoff shape (internal/persistence/writer.go): bounded retries
// with exponential backoff around a transactional write, here replaced
// by cenkalti/backoff/v4 around a confirmed publish.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tableup/scheduler/internal/models"
)

const (
	MainExchange = "tableup.events"
	DLXExchange  = "tableup.events.dlx"
	DLQQueue     = "tableup.events.dlq"
)

type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects, opens a channel, enables publisher confirms, and
// declares the topology: a durable topic exchange, its dead-letter
// exchange, and a catch-all DLQ bound to every routing key.
func Dial(ctx context.Context, url string) (*Broker, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	b := &Broker{conn: conn, ch: ch}
	if err := b.declareTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declareTopology() error {
	if err := b.ch.ExchangeDeclare(MainExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare main exchange: %w", err)
	}
	if err := b.ch.ExchangeDeclare(DLXExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx: %w", err)
	}
	if _, err := b.ch.QueueDeclare(DLQQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq: %w", err)
	}
	if err := b.ch.QueueBind(DLQQueue, "#", DLXExchange, false, nil); err != nil {
		return fmt.Errorf("bind dlq: %w", err)
	}
	return nil
}

// DeclareConsumerQueue declares a durable queue bound to routingKey on
// the main exchange, with dead-lettering configured so an unacked or
// nacked message lands on the DLQ after retries are exhausted, and
// rejects straight to the DLQ on requeue=false per routing key.
func (b *Broker) DeclareConsumerQueue(queueName, routingKey string) error {
	args := amqp.Table{
		"x-dead-letter-exchange": DLXExchange,
	}
	if _, err := b.ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := b.ch.QueueBind(queueName, routingKey, MainExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", queueName, routingKey, err)
	}
	return nil
}

func (b *Broker) Close() error {
	if b.ch != nil {
		b.ch.Close()
	}
	return b.conn.Close()
}

// Publish sends ev on routingKey with an expiration header of ttl (the
// generic poller daemon computes ttl per row — see internal/poller) and
// waits for the broker's publisher confirm, retrying transient
// failures with exponential backoff.
func (b *Broker) Publish(ctx context.Context, routingKey string, ev models.Event, ttl time.Duration) error {
	ctx, span := otel.Tracer("tableup-broker").Start(ctx, "broker.publish",
		trace.WithAttributes(attribute.String("broker.routing_key", routingKey)))
	defer span.End()

	body, err := marshalEvent(ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshal event: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if ttl > 0 {
		publishing.Expiration = fmt.Sprintf("%d", ttl.Milliseconds())
	}

	op := func() error {
		confirm, err := b.ch.PublishWithDeferredConfirmWithContext(ctx, MainExchange, routingKey, false, false, publishing)
		if err != nil {
			return err
		}
		ok, err := confirm.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("broker nacked publish on %s", routingKey)
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Consume returns the delivery channel for queueName; callers ack on
// success and nack(requeue=false) on permanent failure so the message
// dead-letters instead of looping forever (spec.md §4.F).
func (b *Broker) Consume(ctx context.Context, queueName, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	if err := b.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := b.ch.ConsumeWithContext(ctx, queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	return deliveries, nil
}

// DrainDLQ pulls up to limit messages off the DLQ and republishes each
// on the main exchange with its TTL stripped, preserving the broker's
// own x-death header trail unchanged. It's how the poller's periodic
// DLQ sweep (spec.md §4.E) gives expired reminders one more chance
// after an outage.
func (b *Broker) DrainDLQ(ctx context.Context, limit int) (int, error) {
	drained := 0
	for i := 0; i < limit; i++ {
		msg, ok, err := b.ch.Get(DLQQueue, false)
		if err != nil {
			return drained, fmt.Errorf("get from dlq: %w", err)
		}
		if !ok {
			break
		}

		publishing := amqp.Publishing{
			ContentType:  msg.ContentType,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      msg.Headers,
			Body:         msg.Body,
			// Expiration intentionally left unset: the drain's purpose
			// is giving a TTL-expired message one more unbounded try.
		}
		if err := b.ch.PublishWithContext(ctx, MainExchange, msg.RoutingKey, false, false, publishing); err != nil {
			msg.Nack(false, true)
			return drained, fmt.Errorf("republish dlq message: %w", err)
		}
		msg.Ack(false)
		drained++
	}
	return drained, nil
}
