package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"

	"github.com/inkwell-labs/forum/pkg/account"
	"github.com/inkwell-labs/forum/pkg/auth"
	"github.com/inkwell-labs/forum/pkg/blog"
	"github.com/inkwell-labs/forum/pkg/cache"
	"github.com/inkwell-labs/forum/pkg/config"
	"github.com/inkwell-labs/forum/pkg/database"
	"github.com/inkwell-labs/forum/pkg/kvstore"
	"github.com/inkwell-labs/forum/pkg/mail"
	"github.com/inkwell-labs/forum/pkg/media"
	"github.com/inkwell-labs/forum/pkg/observability"
	"github.com/inkwell-labs/forum/pkg/server"
)

const (
	memoryQueueSize = 256
	closeTimeout    = 10 * time.Second
)

// app holds the process-wide infrastructure shared by the sub-commands.
type app struct {
	cfg     *config.Config
	db      *sqlx.DB
	kv      kvstore.Store
	limiter auth.LimiterStore
	metrics *observability.Metrics
	queue   mail.Queue
	source  mail.Source
	// inProcess is set when queued mail can only be delivered by this
	// process.
	inProcess bool

	closers []func(context.Context) error
}

// newApp opens the database, key-value store and mail queue. The caller
// must Close the app.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: observability.NewMetrics()}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	db, err := database.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	a.db = db
	a.onClose(func(context.Context) error { return db.Close() })

	if a.cfg.Redis.InMemory() {
		a.kv = kvstore.NewMemoryStore()
		a.limiter = auth.NewMemoryLimiter()
	} else {
		rs := kvstore.NewRedisStore(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Addr, err)
		}
		a.kv = rs
		a.limiter = auth.NewRedisLimiter(rs.Client())
	}
	kv := a.kv
	a.onClose(func(context.Context) error { return kv.Close() })

	return a.openQueue(ctx)
}

// openQueue selects JetStream when NATS is configured, an in-memory queue
// when the whole process runs in memory, and the Postgres outbox otherwise.
func (a *app) openQueue(ctx context.Context) error {
	switch {
	case a.cfg.NATSURL != "":
		nc, err := nats.Connect(a.cfg.NATSURL, nats.Name("forum"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", a.cfg.NATSURL, err)
		}
		a.onClose(func(context.Context) error { return nc.Drain() })
		q, err := mail.NewJetStreamQueue(ctx, nc)
		if err != nil {
			return err
		}
		a.queue, a.source = q, q
	case a.cfg.Redis.InMemory():
		q := mail.NewMemoryQueue(memoryQueueSize)
		a.queue, a.source, a.inProcess = q, q, true
	default:
		q := mail.NewOutboxQueue(a.db)
		a.queue, a.source = q, q
	}
	return nil
}

func (a *app) onClose(f func(context.Context) error) {
	a.closers = append(a.closers, f)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// sender builds the configured mail transport.
func (a *app) sender() mail.Sender {
	e := a.cfg.Email
	if e.Backend == "smtp" {
		return mail.NewSMTPSender(e.Host, e.Port, e.User, e.Password, e.From)
	}
	return mail.NewConsoleSender(os.Stdout, e.From)
}

func (a *app) worker() *mail.Worker {
	return mail.NewWorker(a.source, a.sender(), mail.WithMetrics(a.metrics))
}

func (a *app) blogService(store *blog.Store) *blog.Service {
	return blog.NewService(store, cache.New(a.kv), blog.NewViewCounter(a.kv, a.metrics))
}

// server wires the services, media store and telemetry behind the HTTP
// server.
func (a *app) server(ctx context.Context) (*server.Server, error) {
	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "forum",
		ServiceVersion: version,
		Environment:    a.cfg.Environment,
		OTLPEndpoint:   a.cfg.Telemetry.Endpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        a.cfg.Telemetry.Enabled,
		Insecure:       a.cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.onClose(telemetry.Shutdown)

	store, err := media.NewFromConfig(ctx, a.cfg.Media)
	if err != nil {
		return nil, err
	}

	users := account.NewUserStore(a.db)
	articles := blog.NewStore(a.db)
	accounts := account.NewService(users, a.kv, a.queue,
		account.WithActivity(articles),
		account.WithMedia(store),
		account.WithMetrics(a.metrics),
		account.WithBaseURL(a.cfg.BaseURL),
	)

	slog.Info("services ready",
		"media", a.cfg.Media.Backend,
		"email", a.cfg.Email.Backend,
		"telemetry", a.cfg.Telemetry.Enabled,
	)
	return server.New(server.Deps{
		Config:    a.cfg,
		KV:        a.kv,
		Users:     users,
		Accounts:  accounts,
		Blog:      a.blogService(articles),
		Limiter:   a.limiter,
		Media:     store,
		Metrics:   a.metrics,
		Telemetry: telemetry,
		DB:        a.db,
	}), nil
}
