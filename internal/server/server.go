// Package server is the composition root: it opens the store, wires
// repositories into services and handlers, mounts the routes, runs the
// background sweep and shuts everything down in order.
//
//	config → store (sqlite | postgres) → services → handlers → chi router
//	                                   ↘ sweep runner → notify.Sender (log | asynq queue → worker)
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/meeting-scheduler/internal/auth"
	"github.com/sakif/meeting-scheduler/internal/calendar"
	"github.com/sakif/meeting-scheduler/internal/config"
	"github.com/sakif/meeting-scheduler/internal/handler"
	"github.com/sakif/meeting-scheduler/internal/middleware"
	"github.com/sakif/meeting-scheduler/internal/notify"
	"github.com/sakif/meeting-scheduler/internal/repository"
	pgRepo "github.com/sakif/meeting-scheduler/internal/repository/postgres"
	sqliteRepo "github.com/sakif/meeting-scheduler/internal/repository/sqlite"
	"github.com/sakif/meeting-scheduler/internal/service"
	"github.com/sakif/meeting-scheduler/internal/sweep"
	"github.com/sakif/meeting-scheduler/internal/worker"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Server owns the router and every long-lived resource.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	store   repository.Store
	sweeper *sweep.Runner
	queue   *notify.QueueSender // nil without Redis
	worker  *worker.Worker      // nil without Redis
}

// New opens the store and wires the application. Nothing runs in the
// background until Start.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if !cfg.AuthEnabled() {
		return nil, fmt.Errorf("server: JWT_SECRET of at least %d characters is required", config.MinJWTSecretLength)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setup(); err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

// openStore picks Postgres when DATABASE_URL is set and SQLite otherwise.
func openStore(cfg config.Config) (repository.Store, error) {
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := pgRepo.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return db, nil
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." && cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	return db, nil
}

func (s *Server) setup() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret, s.config.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var (
		google *auth.GoogleProvider
		syncer calendar.Syncer
	)
	if s.config.GoogleEnabled() {
		google = auth.NewGoogleProvider(s.config.GoogleClientID, s.config.GoogleClientSecret, s.config.GoogleCallbackURL)
		syncer = calendar.NewGoogleSyncer(google.Config())
	}

	sender, err := s.reminderSender()
	if err != nil {
		return err
	}

	accounts := service.NewAuthService(s.store.Users(), tokens, auth.NewPasswordService(), s.logger)
	meetings := service.NewMeetingService(s.store.Users(), s.store.Meetings(), service.MeetingOptions{
		Syncer:                syncer,
		StrictUpdateConflicts: s.config.StrictUpdateConflicts,
	}, s.logger)

	s.sweeper = sweep.New(s.store.Sweeps(), sender, sweep.Config{
		Interval:       s.config.SweepInterval,
		Retention:      s.config.PurgeRetention,
		ReminderWindow: s.config.ReminderWindow,
	}, s.logger)

	s.routes(
		handler.NewAuthHandler(accounts, tokens, google, s.logger),
		handler.NewMeetingHandler(meetings, accounts, s.logger),
		tokens,
		google != nil,
	)
	return nil
}

// reminderSender returns the asynq-backed sender plus its worker when Redis
// is configured, and the log sender otherwise.
func (s *Server) reminderSender() (notify.Sender, error) {
	delivery := notify.NewLogSender(s.logger)
	if s.config.RedisURL == "" {
		return delivery, nil
	}

	queue, err := notify.NewQueueSender(s.config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("creating reminder queue: %w", err)
	}
	w, err := worker.New(s.config.RedisURL, delivery, s.logger)
	if err != nil {
		queue.Close()
		return nil, fmt.Errorf("creating reminder worker: %w", err)
	}

	s.queue = queue
	s.worker = w
	return queue, nil
}

// routes mounts the API.
//
// Public:
//
//	GET  /health
//	POST /auth/register, /auth/login, /auth/logout
//	GET  /auth/google/callback
//
// Bearer token or token cookie:
//
//	GET  /auth/me, /auth/google/login
//	GET  /meetings, /meetings/calendar.ics, /meetings/{id}
//	POST /meetings
//	PUT|PATCH|DELETE /meetings/{id}
//	GET  /availability/{email}
func (s *Server) routes(authH *handler.AuthHandler, meetingH *handler.MeetingHandler, tokens *auth.TokenService, google bool) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/health", handler.HandleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authH.HandleRegister)
		r.Post("/login", authH.HandleLogin)
		r.Post("/logout", authH.HandleLogout)
		if google {
			r.Get("/google/callback", authH.HandleGoogleCallback)
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authH.HandleMe)
			if google {
				r.Get("/google/login", authH.HandleGoogleLogin)
			}
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))

		r.Route("/meetings", func(r chi.Router) {
			r.Get("/", meetingH.HandleList)
			r.Post("/", meetingH.HandleCreate)
			r.Get("/calendar.ics", meetingH.HandleCalendarExport)
			r.Get("/{id}", meetingH.HandleGet)
			r.Put("/{id}", meetingH.HandleUpdate)
			r.Patch("/{id}", meetingH.HandleUpdate)
			r.Delete("/{id}", meetingH.HandleDelete)
		})

		r.Get("/availability/{email}", meetingH.HandleAvailability)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP and runs the background jobs until SIGINT/SIGTERM, then
// shuts down: stop accepting requests, drain in-flight ones, stop the sweep,
// stop the worker, close the queue and the store.
func (s *Server) Start() error {
	defer s.closeResources()

	if s.worker != nil {
		if err := s.worker.Start(); err != nil {
			return fmt.Errorf("starting reminder worker: %w", err)
		}
	}
	s.sweeper.Start()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Any("config", s.config),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// closeResources releases everything New and Start acquired. Each step is
// safe when its resource was never started.
func (s *Server) closeResources() {
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	if s.worker != nil {
		s.worker.Shutdown()
	}
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Warn("closing reminder queue", slog.String("error", err.Error()))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", slog.String("error", err.Error()))
	}
}
