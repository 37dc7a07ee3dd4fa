package publisher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaKeysByAggregate(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w, topic: "orders.events"}

	require.NoError(t, k.Publish(context.Background(), sampleEvent()))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	assert.JSONEq(t, `{"kind":"ItemAdded"}`, string(msg.Value))

	got := map[string]string{}
	for _, h := range msg.Headers {
		got[h.Key] = string(h.Value)
	}
	assert.Equal(t, "01HZY3Q7M8K2V9D5X0A1B2C3D4", got[HeaderEventID])
	assert.Equal(t, "ItemAdded", got[HeaderEventType])
	assert.Equal(t, "42", got[HeaderOutboxID])
}

func TestKafkaPropagatesWriteError(t *testing.T) {
	k := &Kafka{w: &fakeWriter{err: errors.New("leader not available")}}
	assert.Error(t, k.Publish(context.Background(), sampleEvent()))
}

func TestRedisAppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := NewRedis(rdb, "orders.events", 1000)
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	entries, err := rdb.XRange(context.Background(), "orders.events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "order-1", entries[0].Values[HeaderAggregateSku])
	assert.Equal(t, `{"kind":"ItemAdded"}`, entries[0].Values["payload"])
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestAMQPPublishesPersistentMessage(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQP{ch: ch, exchange: "orders"}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	assert.Equal(t, "orders", ch.exchange)
	assert.Equal(t, "ItemAdded", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "01HZY3Q7M8K2V9D5X0A1B2C3D4", ch.msg.MessageId)
	assert.Equal(t, "order-1", ch.msg.Headers[HeaderAggregateSku])
}

type fakeNATS struct {
	msgs    []*nats.Msg
	flushed int
}

func (f *fakeNATS) PublishMsg(m *nats.Msg) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error {
	f.flushed++
	return nil
}

func TestNATSSubjectPerEventType(t *testing.T) {
	nc := &fakeNATS{}
	p := &NATS{nc: nc, prefix: "orders"}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))

	require.Len(t, nc.msgs, 1)
	assert.Equal(t, "orders.ItemAdded", nc.msgs[0].Subject)
	assert.Equal(t, "01HZY3Q7M8K2V9D5X0A1B2C3D4", nc.msgs[0].Header.Get(nats.MsgIdHdr))
	assert.Equal(t, 1, nc.flushed)
}

func TestWebhookPostsPayload(t *testing.T) {
	var gotKey, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, time.Second).Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "01HZY3Q7M8K2V9D5X0A1B2C3D4", gotKey)
	assert.JSONEq(t, `{"kind":"ItemAdded"}`, gotBody)
}

func TestWebhookNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}
