// Package worker runs the asynq server that delivers queued reminders.
// It is embedded in the API process and only started when REDIS_URL is set.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sakif/meeting-scheduler/internal/notify"
)

// Concurrency is the number of reminders delivered in parallel.
const Concurrency = 5

// asynqLogger routes asynq's own logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (a *asynqLogger) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

// Fatal must not return, per the asynq.Logger contract.
func (a *asynqLogger) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Worker wraps an asynq server and its handler mux.
type Worker struct {
	srv    *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// New configures (but does not start) a worker. deliver performs the final
// delivery of each reminder task.
func New(redisURL string, deliver notify.Sender, logger *slog.Logger) (*Worker, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("worker: parsing redis url: %w", err)
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     Concurrency,
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler:    asynq.ErrorHandlerFunc(errorHandler(logger)),
		Logger:          &asynqLogger{logger: logger},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TaskReminder, HandleReminder(deliver, logger))

	return &Worker{srv: srv, mux: mux, logger: logger}, nil
}

// Start runs the server in the background.
func (w *Worker) Start() error {
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("worker: starting: %w", err)
	}
	w.logger.Info("reminder worker started", slog.Int("concurrency", Concurrency))
	return nil
}

// Shutdown waits up to ShutdownTimeout for in-flight tasks.
func (w *Worker) Shutdown() {
	w.srv.Shutdown()
	w.logger.Info("reminder worker stopped")
}

// HandleReminder decodes a reminder task and hands it to deliver. A payload
// that cannot be decoded is never retried.
func HandleReminder(deliver notify.Sender, logger *slog.Logger) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		r, err := notify.UnmarshalReminder(task.Payload())
		if err != nil {
			logger.Error("dropping malformed reminder task", slog.String("error", err.Error()))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		if err := deliver.SendReminder(ctx, r); err != nil {
			return fmt.Errorf("delivering reminder for %s: %w", r.MeetingID, err)
		}
		return nil
	}
}

func errorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Error("task failed",
			slog.String("type", task.Type()),
			slog.Int("retry", retried),
			slog.Int("max_retry", maxRetry),
			slog.String("error", err.Error()),
		)
	}
}
