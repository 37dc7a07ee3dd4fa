package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/orders-outbox/internal/config"
	"github.com/jmehdipour/orders-outbox/internal/publisher"
	"github.com/jmehdipour/orders-outbox/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publishers is the fan-out built from the publisher section plus the
// connections it owns.
type Publishers struct {
	*publisher.Fanout
	closers []func() error
}

func (p *Publishers) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildPublishers connects every configured driver and wraps each in its own
// circuit breaker. rdb and ch may be nil when the drivers that need them are
// not configured.
func BuildPublishers(cfg config.Config, rdb *redis.Client, ch *sqlx.DB, log *zap.Logger) (*Publishers, error) {
	if log == nil {
		log = zap.NewNop()
	}
	out := &Publishers{}
	var pubs []publisher.Publisher

	fail := func(err error) (*Publishers, error) {
		_ = out.Close()
		return nil, err
	}

	drivers := cfg.Publisher.Drivers
	if len(drivers) == 0 {
		drivers = []string{"log"}
	}

	for _, name := range drivers {
		var p publisher.Publisher
		switch name {
		case "log":
			p = publisher.NewLog(log)
		case "kafka":
			k := publisher.NewKafka(publisher.KafkaConfig{
				Brokers:      cfg.Kafka.Brokers,
				Topic:        cfg.Kafka.Topic,
				WriteTimeout: time.Duration(cfg.Kafka.WriteTimeoutMs) * time.Millisecond,
			})
			out.closers = append(out.closers, k.Close)
			p = k
		case "redis":
			if rdb == nil {
				return fail(errors.New("redis publisher needs a redis connection"))
			}
			p = publisher.NewRedis(rdb, cfg.Redis.Stream, cfg.Redis.StreamMaxLen)
		case "amqp":
			conn, err := amqp.Dial(cfg.AMQP.URL)
			if err != nil {
				return fail(fmt.Errorf("amqp dial: %w", err))
			}
			out.closers = append(out.closers, conn.Close)
			channel, err := conn.Channel()
			if err != nil {
				return fail(fmt.Errorf("amqp channel: %w", err))
			}
			if cfg.AMQP.Exchange != "" {
				if err := channel.ExchangeDeclare(cfg.AMQP.Exchange, "topic", true, false, false, false, nil); err != nil {
					return fail(fmt.Errorf("amqp exchange: %w", err))
				}
			}
			p = publisher.NewAMQP(channel, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey)
		case "nats":
			nc, err := nats.Connect(cfg.NATS.URL, nats.Name("orders-outbox"))
			if err != nil {
				return fail(fmt.Errorf("nats connect: %w", err))
			}
			out.closers = append(out.closers, func() error { nc.Close(); return nil })
			p = publisher.NewNATS(nc, cfg.NATS.SubjectPrefix)
		case "webhook":
			if cfg.Webhook.URL == "" {
				return fail(errors.New("webhook publisher needs webhook.url"))
			}
			p = publisher.NewWebhook(cfg.Webhook.URL, time.Duration(cfg.Webhook.TimeoutMs)*time.Millisecond)
		default:
			return fail(fmt.Errorf("unknown publisher driver %q", name))
		}

		br := publisher.NewMicroBreaker(cfg.Publisher.Breaker.FailThreshold,
			time.Duration(cfg.Publisher.Breaker.OpenForMs)*time.Millisecond)
		pubs = append(pubs, publisher.WithBreaker(p, br))
	}

	var journal publisher.Journal
	if cfg.Publisher.Journal && ch != nil {
		journal = repository.NewCHDeliveriesRepository(ch)
	}

	out.Fanout = publisher.NewFanout(log, journal, pubs...)
	log.Info("publishers ready", zap.Strings("drivers", drivers), zap.Bool("journal", journal != nil))
	return out, nil
}
