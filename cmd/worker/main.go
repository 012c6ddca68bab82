package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/logger"
	"github.com/unclebandit/newsletter-backend/internal/queue"
)

// The worker consumes send jobs from RabbitMQ. Each job runs one processing
// invocation; a page-size remainder is re-published by the job itself.
func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logger.Setup(cfg.Log.Env, cfg.Log.Level); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logger")
	}
	if cfg.Trigger.Mode != config.TriggerAMQP {
		log.Warn().Str("mode", cfg.Trigger.Mode).Msg("worker forces the amqp trigger")
		cfg.Trigger.Mode = config.TriggerAMQP
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	if err := a.Consume(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}
	log.Info().Str("queue", a.Topic).Msg("worker running, waiting for send jobs")

	amqpQueue := a.Queue.(*queue.AMQPQueue)
	if err := amqpQueue.Wait(ctx); err != nil {
		log.Error().Err(err).Msg("consumer stopped")
	}
}
