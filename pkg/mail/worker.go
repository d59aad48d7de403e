package mail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/inkwell-labs/forum/pkg/observability"
)

// Worker drains a Source and delivers each message through a Sender.
type Worker struct {
	source   Source
	sender   Sender
	metrics  *observability.Metrics
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithMetrics records deliveries on m.
func WithMetrics(m *observability.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithRetry sets the attempts per message and the first backoff delay,
// which doubles after each failure.
func WithRetry(attempts int, backoff time.Duration) WorkerOption {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		w.backoff = backoff
	}
}

// NewWorker creates a worker with three attempts per message.
func NewWorker(source Source, sender Sender, opts ...WorkerOption) *Worker {
	w := &Worker{
		source:   source,
		sender:   sender,
		logger:   slog.Default().With("component", "mail"),
		attempts: 3,
		backoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("mail worker started")
	defer w.logger.Info("mail worker stopped")
	return w.source.Consume(ctx, w.Deliver)
}

// Deliver sends msg, retrying with exponential backoff.
func (w *Worker) Deliver(ctx context.Context, msg Message) error {
	delay := w.backoff
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.sender.Send(ctx, msg); err == nil {
			w.metrics.MailDelivered()
			w.logger.Debug("mail sent", "to", msg.To, "subject", msg.Subject, "attempt", attempt)
			return nil
		}
		w.logger.Warn("mail send failed", "to", msg.To, "attempt", attempt, "error", err)
		if attempt == w.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	w.metrics.MailAbandoned()
	return fmt.Errorf("mail to %s failed after %d attempts: %w", msg.To, w.attempts, err)
}
