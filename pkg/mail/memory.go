package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrQueueFull is returned when the in-process queue cannot accept more work.
var ErrQueueFull = errors.New("mail: queue full")

type queued struct {
	msg      Message
	attempts int
}

// MemoryQueue is a buffered in-process queue for single-instance
// deployments. Failed messages are requeued after RetryDelay and dropped
// once they have been delivered MaxAttempts times.
type MemoryQueue struct {
	ch          chan queued
	RetryDelay  time.Duration
	MaxAttempts int
	logger      *slog.Logger
}

// NewMemoryQueue creates a queue holding up to size messages.
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		ch:          make(chan queued, size),
		RetryDelay:  time.Second,
		MaxAttempts: MaxDeliver,
		logger:      slog.Default().With("component", "mail", "queue", "memory"),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	select {
	case q.ch <- queued{msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Len reports the number of waiting messages.
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-q.ch:
			err := handle(ctx, item.msg)
			if err == nil {
				continue
			}
			item.attempts++
			if item.attempts >= q.MaxAttempts {
				q.logger.Error("mail dropped after max deliveries", "to", item.msg.To, "attempts", item.attempts, "error", err)
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.RetryDelay):
			}
			select {
			case q.ch <- item:
			default:
				q.logger.Error("mail dropped, queue full", "to", item.msg.To, "error", err)
			}
		}
	}
}
