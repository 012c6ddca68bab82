// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/controller"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/logger"
)

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := logger.Setup(cfg.Log.Env, cfg.Log.Level); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	// the server consumes its own jobs only in inline mode; amqp jobs go to cmd/worker
	if cfg.Trigger.Mode == config.TriggerInline {
		if err := a.Consume(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to send jobs")
		}
	}

	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start scheduler")
		}
		defer a.Scheduler.Stop()
	}

	sends := controller.NewSendController(a.SendService, a.Scheduler)
	router := app.NewRouter(app.RouterDeps{
		Sends:          sends,
		Reads:          handler.NewSendHandler(a.SendService),
		Metrics:        a.Metrics.Handler(),
		JWTSecret:      cfg.Auth.JWTSecret,
		AdminRole:      cfg.Auth.AdminRole,
		TriggerSecret:  cfg.Trigger.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server running")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	sends.Wait()
	if q, ok := a.Queue.(interface{ Wait() }); ok {
		q.Wait()
	}
}
