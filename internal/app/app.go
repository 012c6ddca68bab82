// Package app wires configuration into the send pipeline. The server, the
// worker and newsletterctl all build their dependencies through it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/lock"
	"github.com/unclebandit/newsletter-backend/internal/mailer"
	"github.com/unclebandit/newsletter-backend/internal/metrics"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

type App struct {
	Config      *config.Config
	DB          *sql.DB
	Redis       *redis.Client
	Metrics     *metrics.Registry
	SendService *service.SendService
	Scheduler   *service.Scheduler

	// Queue and Topic are nil/empty in webhook mode.
	Queue queue.Queue
	Topic string

	closers []func() error
}

// Build opens every backing service named in cfg. Call Close when done.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.NewRegistry(true)}

	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, client.Close)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis locks")
	}

	provider, err := NewMailProvider(ctx, cfg.Email)
	if err != nil {
		a.Close()
		return nil, err
	}
	renderer, err := mailer.NewRenderer(cfg.Email.SiteURL)
	if err != nil {
		a.Close()
		return nil, err
	}

	trigger, q, topic, closer, err := NewTrigger(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Queue, a.Topic = q, topic
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	locks := &lock.Backend{Redis: a.Redis, DB: a.DB}
	dispatcher := mailer.NewDispatcher(provider, cfg.Email.From, cfg.Email.Timeout(), a.Metrics)
	a.SendService = NewSendService(a.DB, cfg.Send, dispatcher, renderer, trigger, locks, a.Metrics)

	a.Scheduler = service.NewScheduler(a.SendService.SendRepo, trigger, cfg.Scheduler.Interval(), cfg.Scheduler.BatchSize)
	a.Scheduler.Locks = locks
	a.Scheduler.Metrics = a.Metrics

	log.Info().
		Str("trigger", cfg.Trigger.Mode).
		Str("provider", provider.Name()).
		Int("concurrency", cfg.Send.Concurrency).
		Msg("send pipeline ready")
	return a, nil
}

// NewSendService assembles the orchestrator over Postgres repositories.
func NewSendService(conn *sql.DB, cfg config.SendConfig, dispatcher service.EmailDispatcher,
	renderer service.ContentRenderer, trigger service.Trigger, locks lock.Provider, m *metrics.Registry) *service.SendService {
	return &service.SendService{
		NewsletterRepo: &repository.NewsletterRepository{DB: conn},
		SendRepo:       &repository.SendRepository{DB: conn},
		Resolver:       service.NewAudienceResolver(&repository.SubscriberRepository{DB: conn}),
		Ledger:         service.NewDeliveryLedger(&repository.DeliveryRepository{DB: conn}, cfg.PageSize, cfg.SeedChunk),
		Dispatcher:     dispatcher,
		Renderer:       renderer,
		Trigger:        trigger,
		Pool:           service.NewWorkerPool(cfg.Concurrency),
		Locks:          locks,
		Metrics:        m,
	}
}

// NewMailProvider picks the outbound email API.
func NewMailProvider(ctx context.Context, cfg config.EmailConfig) (mailer.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "http", "resend":
		if cfg.APIKey == "" {
			log.Warn().Msg("EMAIL_API_KEY is empty; every delivery will fail")
		}
		return mailer.NewHTTPProvider(cfg.APIKey, cfg.BaseURL), nil
	case "ses":
		return mailer.NewSESProvider(ctx, cfg.SESRegion, cfg.SESAccessKey, cfg.SESSecretKey)
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

// NewTrigger builds the out-of-band trigger for the configured mode. The
// returned queue is what a consumer must subscribe to.
func NewTrigger(cfg *config.Config) (service.Trigger, queue.Queue, string, func() error, error) {
	switch cfg.Trigger.Mode {
	case config.TriggerInline:
		q := queue.NewInMemoryQueue()
		return queue.NewPublishTrigger(q, queue.SendsTopic), q, queue.SendsTopic, nil, nil
	case config.TriggerAMQP:
		if cfg.AMQP.URL == "" {
			return nil, nil, "", nil, errors.New("AMQP_URL is required for the amqp trigger")
		}
		q, err := queue.DialAMQP(cfg.AMQP.URL)
		if err != nil {
			return nil, nil, "", nil, err
		}
		t := queue.NewPublishTrigger(q, cfg.AMQP.Queue)
		return t, q, t.Topic, q.Close, nil
	case config.TriggerWebhook:
		if cfg.Trigger.WebhookURL == "" {
			return nil, nil, "", nil, errors.New("TRIGGER_WEBHOOK_URL is required for the webhook trigger")
		}
		if cfg.Trigger.Secret == "" {
			return nil, nil, "", nil, errors.New("NEWSLETTER_SECRET is required for the webhook trigger")
		}
		return queue.NewWebhookTrigger(cfg.Trigger.WebhookURL, cfg.Trigger.Secret), nil, "", nil, nil
	default:
		return nil, nil, "", nil, fmt.Errorf("unknown trigger mode %q", cfg.Trigger.Mode)
	}
}

// Consume subscribes the orchestrator to the trigger queue.
func (a *App) Consume(ctx context.Context) error {
	if a.Queue == nil {
		return errors.New("trigger mode has no queue to consume")
	}
	return queue.SubscribeSends(ctx, a.Queue, a.Topic, a.SendService.RunJob, service.IsRetryable)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// ShutdownTimeout bounds graceful shutdown of the HTTP server and consumers.
const ShutdownTimeout = 30 * time.Second
