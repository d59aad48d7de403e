package mail

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-labs/forum/pkg/observability"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []Message
	calls    int
}

func (f *flakySender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("relay unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *flakySender) snapshot() ([]Message, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...), f.calls
}

var welcome = Message{To: "alice@example.com", Subject: "Finish the registration", Body: "code: 123456"}

func TestWorker_DeliverRetries(t *testing.T) {
	sender := &flakySender{failures: 2}
	metrics := observability.NewMetrics()
	w := NewWorker(nil, sender, WithRetry(3, time.Millisecond), WithMetrics(metrics))

	require.NoError(t, w.Deliver(context.Background(), welcome))
	sent, calls := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, []Message{welcome}, sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MailSent))
}

func TestWorker_DeliverGivesUp(t *testing.T) {
	sender := &flakySender{failures: 10}
	metrics := observability.NewMetrics()
	w := NewWorker(nil, sender, WithRetry(3, time.Millisecond), WithMetrics(metrics))

	err := w.Deliver(context.Background(), welcome)
	require.Error(t, err)
	_, calls := sender.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MailFailed))
}

func TestWorker_RunDrainsMemoryQueue(t *testing.T) {
	q := NewMemoryQueue(10)
	q.RetryDelay = time.Millisecond
	sender := &flakySender{}
	w := NewWorker(q, sender, WithRetry(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, welcome))
	}
	require.Eventually(t, func() bool {
		sent, _ := sender.snapshot()
		return len(sent) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestMemoryQueue_RequeuesFailures(t *testing.T) {
	q := NewMemoryQueue(1)
	q.RetryDelay = time.Millisecond
	sender := &flakySender{failures: 1}
	w := NewWorker(q, sender, WithRetry(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = w.Run(ctx); close(done) }()

	require.NoError(t, q.Enqueue(ctx, welcome))
	require.Eventually(t, func() bool {
		sent, _ := sender.snapshot()
		return len(sent) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestMemoryQueue_DropsAfterMaxAttempts(t *testing.T) {
	q := NewMemoryQueue(1)
	q.RetryDelay = time.Millisecond
	q.MaxAttempts = 3
	sender := &flakySender{failures: 100}
	w := NewWorker(q, sender, WithRetry(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { _ = w.Run(ctx); close(done) }()

	require.NoError(t, q.Enqueue(ctx, welcome))
	require.Eventually(t, func() bool {
		_, calls := sender.snapshot()
		return calls == 3
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		_, calls := sender.snapshot()
		return calls > 3
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Zero(t, q.Len())
	cancel()
	<-done
}

func TestMemoryQueue_Full(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), welcome))
	assert.ErrorIs(t, q.Enqueue(context.Background(), welcome), ErrQueueFull)
	assert.Error(t, q.Enqueue(context.Background(), Message{}), "no recipient")
}

func TestConsoleSender(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSender(&buf, "noreply@forum.example")
	require.NoError(t, s.Send(context.Background(), welcome))
	assert.Contains(t, buf.String(), "To: alice@example.com")
	assert.Contains(t, buf.String(), "Subject: Finish the registration")
	assert.Contains(t, buf.String(), "code: 123456")
}

func TestSMTPSender_Format(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "user", "pass", "noreply@forum.example")
	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		assert.NotNil(t, a)
		assert.Equal(t, "noreply@forum.example", from)
		return nil
	}

	require.NoError(t, s.Send(context.Background(), Message{To: "bob@example.com", Subject: "Изменение email", Body: "line1\nline2"}))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"bob@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: =?utf-8?q?")
	assert.Contains(t, string(gotMsg), "line1\r\nline2")
}
