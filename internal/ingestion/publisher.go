package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpEngine/internal/event"
)

// Publisher drains the engine's publish channel to JetStream. Subjects
// follow perp.engine.events.{event_type}.{asset}; global events use
// "global" as the asset token. The engine's sends are non-blocking, so
// a slow publisher drops events for live subscribers; they catch up
// from the persisted log.
type Publisher struct {
	js    jetstream.JetStream
	input <-chan event.Envelope
	log   zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, input <-chan event.Envelope, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, input: input, log: log}
}

// Run publishes until ctx is cancelled or the input channel closes.
// Publish failures are logged and skipped, never fatal.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(struct {
		Sequence  int64       `json:"sequence"`
		EventType string      `json:"event_type"`
		Asset     string      `json:"asset,omitempty"`
		Height    int64       `json:"height"`
		Payload   interface{} `json:"payload"`
	}{
		Sequence:  env.Sequence,
		EventType: env.Type.String(),
		Asset:     env.Asset,
		Height:    env.Height,
		Payload:   env.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	asset := env.Asset
	if asset == "" {
		asset = "global"
	}
	subject := fmt.Sprintf("%s.%s.%s", EventSubjectRoot, env.Type.String(), asset)

	_, err = p.js.Publish(ctx, subject, data)
	return err
}
