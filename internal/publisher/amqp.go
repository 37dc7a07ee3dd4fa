package publisher

import (
	"context"

	"github.com/jmehdipour/orders-outbox/internal/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes persistent messages to exchange, routed by event type.
// An empty exchange routes straight to the queue named by routingKey.
type AMQP struct {
	ch         amqpChannel
	exchange   string
	routingKey string
}

func NewAMQP(ch *amqp.Channel, exchange, routingKey string) *AMQP {
	return &AMQP{ch: ch, exchange: exchange, routingKey: routingKey}
}

func (a *AMQP) Name() string { return "amqp" }

func (a *AMQP) Publish(ctx context.Context, e model.OutboxEvent) error {
	table := amqp.Table{}
	for k, v := range headers(e) {
		table[k] = v
	}

	key := a.routingKey
	if key == "" {
		key = e.EventType
	}

	return a.ch.PublishWithContext(
		ctx,
		a.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         e.Payload,
			MessageId:    e.EventID,
			Type:         e.EventType,
			Timestamp:    e.CreatedAt,
			Headers:      table,
			DeliveryMode: amqp.Persistent,
		},
	)
}
