// Package sweep runs the scheduler's periodic housekeeping: purging long
// finished meetings and dispatching reminders for meetings about to start.
//
// Both jobs run on one ticker but are independent: a failure in one is logged
// and never stops the other, and nothing here can bring the process down.
// Whatever failed is picked up again on the next tick.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/meeting-scheduler/internal/notify"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

// Config controls the runner. Zero fields take the defaults below.
type Config struct {
	Interval       time.Duration // time between runs
	Retention      time.Duration // meetings that ended longer ago than this are purged
	ReminderWindow time.Duration // remind meetings starting within this window
	BatchSize      int           // rows per purge statement / reminder query
	MaxBatches     int           // purge statements per run
	RunTimeout     time.Duration // deadline for one RunOnce
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Minute,
		Retention:      30 * 24 * time.Hour,
		ReminderWindow: 30 * time.Minute,
		BatchSize:      500,
		MaxBatches:     20,
		RunTimeout:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Retention <= 0 {
		c.Retention = d.Retention
	}
	if c.ReminderWindow <= 0 {
		c.ReminderWindow = d.ReminderWindow
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = d.MaxBatches
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = d.RunTimeout
	}
	return c
}

// Result summarizes one RunOnce.
type Result struct {
	Purged   int64
	Reminded int
	Failed   int // reminders whose dispatch or flag update failed
}

// Runner owns the background goroutine.
type Runner struct {
	repo   repository.SweepRepository
	sender notify.Sender
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(repo repository.SweepRepository, sender notify.Sender, cfg Config, logger *slog.Logger) *Runner {
	return &Runner{
		repo:   repo,
		sender: sender,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Start runs once immediately and then every Interval until Stop.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.logger.Info("starting background sweep",
			slog.Duration("interval", r.cfg.Interval),
			slog.Duration("retention", r.cfg.Retention),
			slog.Duration("reminder_window", r.cfg.ReminderWindow),
		)
		r.wg.Add(1)
		go r.loop()
	})
}

// Stop signals the loop and waits for an in-flight run to finish. Safe to
// call more than once, and before Start.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Info("background sweep stopped")
	})
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.runWithTimeout()

		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
	}
}

// runWithTimeout gives each run its own deadline and cancels it early when
// Stop is called mid-run.
func (r *Runner) runWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.RunTimeout)
	defer cancel()

	go func() {
		select {
		case <-r.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.RunOnce(ctx)
}

// RunOnce runs both jobs one time. The returned error joins whatever failed;
// it is informational, since every failure is already logged.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	purged, purgeErr := r.purge(ctx)
	res.Purged = purged
	if purgeErr != nil {
		r.logger.Error("purge job failed", slog.String("error", purgeErr.Error()))
	}

	reminded, failed, remindErr := r.remind(ctx)
	res.Reminded = reminded
	res.Failed = failed
	if remindErr != nil {
		r.logger.Error("reminder job failed", slog.String("error", remindErr.Error()))
	}

	if res.Purged > 0 || res.Reminded > 0 || res.Failed > 0 {
		r.logger.Info("sweep finished",
			slog.Int64("purged", res.Purged),
			slog.Int("reminded", res.Reminded),
			slog.Int("failed", res.Failed),
		)
	}
	return res, errors.Join(purgeErr, remindErr)
}

// purge deletes in batches until a batch comes back short or MaxBatches is
// reached (the rest waits for the next tick).
func (r *Runner) purge(ctx context.Context) (int64, error) {
	cutoff := r.now().UTC().Add(-r.cfg.Retention)

	var total int64
	for i := 0; i < r.cfg.MaxBatches; i++ {
		n, err := r.repo.PurgeEndedBefore(ctx, cutoff, r.cfg.BatchSize)
		total += n
		if err != nil {
			return total, fmt.Errorf("purging meetings ended before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if n < int64(r.cfg.BatchSize) {
			break
		}
	}
	return total, nil
}

// remind dispatches one batch. A meeting is flagged only after its dispatch
// succeeded; if the flag update then fails the reminder goes out again on a
// later run (at-least-once).
func (r *Runner) remind(ctx context.Context) (reminded, failed int, err error) {
	now := r.now().UTC()
	due, err := r.repo.DueForReminder(ctx, now, now.Add(r.cfg.ReminderWindow), r.cfg.BatchSize)
	if err != nil {
		return 0, 0, fmt.Errorf("finding meetings due for reminder: %w", err)
	}

	var errs []error
	for i := range due {
		m := &due[i]
		if err := r.sender.SendReminder(ctx, notify.ReminderFor(m)); err != nil {
			failed++
			errs = append(errs, fmt.Errorf("dispatching reminder for %s: %w", m.ID, err))
			continue
		}
		if err := r.repo.MarkReminderSent(ctx, m.ID); err != nil {
			failed++
			errs = append(errs, fmt.Errorf("marking reminder sent for %s: %w", m.ID, err))
			continue
		}
		reminded++
	}
	return reminded, failed, errors.Join(errs...)
}
