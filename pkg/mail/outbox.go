package mail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// OutboxQueue stores outbound mail in the mail_outbox table, so that mail
// is enqueued in the same database as the data it is about.
type OutboxQueue struct {
	db           *sqlx.DB
	logger       *slog.Logger
	PollInterval time.Duration
	MaxAttempts  int
}

// NewOutboxQueue creates a queue over db.
func NewOutboxQueue(db *sqlx.DB) *OutboxQueue {
	return &OutboxQueue{
		db:           db,
		logger:       slog.Default().With("component", "mail", "queue", "outbox"),
		PollInterval: 2 * time.Second,
		MaxAttempts:  MaxDeliver,
	}
}

// OutboxRecord is a row of mail_outbox.
type OutboxRecord struct {
	ID          int64     `db:"id"`
	Recipient   string    `db:"recipient"`
	Subject     string    `db:"subject"`
	Body        string    `db:"body"`
	Attempts    int       `db:"attempts"`
	ScheduledAt time.Time `db:"scheduled_at"`
}

func (q *OutboxQueue) Enqueue(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO mail_outbox (recipient, subject, body, status, attempts, scheduled_at)
		VALUES ($1, $2, $3, 'PENDING', 0, $4)`,
		msg.To, msg.Subject, msg.Body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to schedule mail: %w", err)
	}
	return nil
}

// ClaimNext locks the oldest due message. ok is false when none is due.
func (q *OutboxQueue) ClaimNext(ctx context.Context) (*OutboxRecord, *sqlx.Tx, bool, error) {
	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, false, err
	}
	var rec OutboxRecord
	err = tx.GetContext(ctx, &rec, `
		SELECT id, recipient, subject, body, attempts, scheduled_at
		FROM mail_outbox
		WHERE status = 'PENDING' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		if isNoRows(err) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("claim mail: %w", err)
	}
	return &rec, tx, true, nil
}

// MarkDone completes a claimed message.
func (q *OutboxQueue) MarkDone(ctx context.Context, tx *sqlx.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `UPDATE mail_outbox SET status = 'DONE', sent_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MarkFailed reschedules a claimed message, or parks it as FAILED once
// attempts reach MaxAttempts.
func (q *OutboxQueue) MarkFailed(ctx context.Context, tx *sqlx.Tx, rec *OutboxRecord, cause error) error {
	attempts := rec.Attempts + 1
	status := "PENDING"
	if attempts >= q.MaxAttempts {
		status = "FAILED"
	}
	next := time.Now().UTC().Add(time.Duration(attempts) * 30 * time.Second)
	_, err := tx.ExecContext(ctx, `
		UPDATE mail_outbox SET status = $2, attempts = $3, scheduled_at = $4, last_error = $5
		WHERE id = $1`, rec.ID, status, attempts, next, cause.Error())
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (q *OutboxQueue) Consume(ctx context.Context, handle Handler) error {
	ticker := time.NewTicker(q.PollInterval)
	defer ticker.Stop()
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			rec, tx, ok, err := q.ClaimNext(ctx)
			if err != nil {
				q.logger.Warn("outbox poll failed", "error", err)
				break
			}
			if !ok {
				break
			}
			msg := Message{To: rec.Recipient, Subject: rec.Subject, Body: rec.Body}
			if herr := handle(ctx, msg); herr != nil {
				err = q.MarkFailed(ctx, tx, rec, herr)
			} else {
				err = q.MarkDone(ctx, tx, rec.ID)
			}
			if err != nil {
				q.logger.Warn("outbox update failed", "id", rec.ID, "error", err)
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
