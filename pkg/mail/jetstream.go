package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding outbound mail.
	StreamName = "MAIL"
	// Subject is the subject mail is published on.
	Subject = "mail.outbound"
	// ConsumerName is the durable pull consumer shared by workers.
	ConsumerName = "mail-worker"
	// MaxDeliver caps redeliveries of one message.
	MaxDeliver = 5
)

// JetStreamQueue persists outbound mail in a NATS JetStream stream.
type JetStreamQueue struct {
	js         jetstream.JetStream
	logger     *slog.Logger
	FetchWait  time.Duration
	RetryDelay time.Duration
}

// NewJetStreamQueue ensures the MAIL stream exists on nc.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn) (*JetStreamQueue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return &JetStreamQueue{
		js:         js,
		logger:     slog.Default().With("component", "mail", "queue", "jetstream"),
		FetchWait:  5 * time.Second,
		RetryDelay: 30 * time.Second,
	}, nil
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail: %w", err)
	}
	if _, err := q.js.Publish(ctx, Subject, data); err != nil {
		return fmt.Errorf("publish mail: %w", err)
	}
	return nil
}

func (q *JetStreamQueue) Consume(ctx context.Context, handle Handler) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: Subject,
		MaxDeliver:    MaxDeliver,
		AckWait:       time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", ConsumerName, err)
	}
	q.logger.Info("consumer connected", "stream", StreamName, "consumer", ConsumerName)

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(q.FetchWait))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, jetstream.ErrNoMessages) {
				q.logger.Warn("fetch failed", "error", err)
			}
			continue
		}
		for m := range batch.Messages() {
			if ctx.Err() != nil {
				_ = m.Nak()
				continue
			}
			q.handle(ctx, m, handle)
		}
	}
}

func (q *JetStreamQueue) handle(ctx context.Context, m jetstream.Msg, handle Handler) {
	var msg Message
	if err := json.Unmarshal(m.Data(), &msg); err != nil {
		q.logger.Warn("dropping malformed mail message", "error", err)
		_ = m.Term()
		return
	}
	if err := handle(ctx, msg); err != nil {
		meta, metaErr := m.Metadata()
		if metaErr == nil && meta.NumDelivered >= MaxDeliver {
			q.logger.Error("mail dropped after max deliveries", "to", msg.To, "error", err)
			_ = m.Term()
			return
		}
		_ = m.NakWithDelay(q.RetryDelay)
		return
	}
	_ = m.Ack()
}
