package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpEngine/internal/oracle"
)

// PriceSubscriber consumes perp.prices.> and writes into the oracle
// cache. The engine reads the cache synchronously; the subscriber is
// the only writer in production.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *oracle.Cache
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, cache *oracle.Cache, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{js: js, cache: cache, log: log}
}

// Subscribe creates a durable consumer on the price stream. Messages
// are acked after the cache write; malformed messages are terminated
// rather than redelivered.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       "engine-prices",
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		update, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping bad price message")
			msg.Term()
			return
		}
		ps.apply(update)
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}
	ps.consumer = cc
	ps.log.Info().Str("subject", PriceSubject).Msg("price subscriber started")
	return nil
}

func (ps *PriceSubscriber) apply(u PriceUpdate) {
	switch {
	case !u.Available:
		ps.cache.SetAvailable(u.Asset, false)
	case u.Source != "":
		ps.cache.SetSourcePrice(u.Asset, u.Source, u.Price)
	default:
		ps.cache.SetPrice(u.Asset, u.Price)
	}
}

// Stop halts consumption. Safe to call before Subscribe.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
}
