package publisher

import (
	"context"

	"github.com/jmehdipour/orders-outbox/internal/model"
	"github.com/nats-io/nats.go"
)

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATS publishes to "<prefix>.<event type>", e.g. orders.ItemAdded.
type NATS struct {
	nc     natsConn
	prefix string
}

func NewNATS(nc *nats.Conn, subjectPrefix string) *NATS {
	if subjectPrefix == "" {
		subjectPrefix = "orders"
	}
	return &NATS{nc: nc, prefix: subjectPrefix}
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(ctx context.Context, e model.OutboxEvent) error {
	msg := &nats.Msg{
		Subject: n.prefix + "." + e.EventType,
		Data:    e.Payload,
		Header:  make(nats.Header),
	}
	for k, v := range headers(e) {
		msg.Header.Set(k, v)
	}
	// dedupe key for JetStream streams
	msg.Header.Set(nats.MsgIdHdr, e.EventID)

	if err := n.nc.PublishMsg(msg); err != nil {
		return err
	}
	return n.nc.FlushWithContext(ctx)
}
