// Package mail queues outbound email and delivers it from a background
// worker.
package mail

import (
	"context"
	"errors"
)

// Message is one outbound email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Validate rejects messages that can never be delivered.
func (m Message) Validate() error {
	if m.To == "" {
		return errors.New("mail: message has no recipient")
	}
	if m.Subject == "" && m.Body == "" {
		return errors.New("mail: message is empty")
	}
	return nil
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Queue accepts messages for asynchronous delivery.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Handler processes one dequeued message. A non-nil error asks the queue to
// redeliver it later.
type Handler func(ctx context.Context, msg Message) error

// Source feeds queued messages to a handler until ctx is cancelled.
type Source interface {
	Consume(ctx context.Context, handle Handler) error
}
