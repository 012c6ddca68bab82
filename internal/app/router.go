package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/unclebandit/newsletter-backend/internal/auth"
	"github.com/unclebandit/newsletter-backend/internal/controller"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/queue"
)

type RouterDeps struct {
	Sends   *controller.SendController
	Reads   *handler.SendHandler
	Metrics http.Handler

	JWTSecret      string
	AdminRole      string
	TriggerSecret  string
	AllowedOrigins []string
}

func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", queue.SecretHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAdmin(d.JWTSecret, d.AdminRole))
		r.Post("/sends", d.Sends.CreateSend)
		r.Get("/sends", d.Reads.ListSendsHandler)
		r.Get("/sends/{id}", d.Reads.GetSendHandler)
	})

	r.Route("/internal/sends", func(r chi.Router) {
		r.With(auth.RequireSecret(queue.SecretHeader, d.TriggerSecret)).Post("/process", d.Sends.ProcessSend)
		// called by the platform cron, which carries no credentials
		r.Post("/sweep", d.Sends.Sweep)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
