package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskReminder is the asynq task type carrying a Reminder payload.
const TaskReminder = "meeting:reminder"

// enqueuer is the slice of *asynq.Client QueueSender uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueSender hands reminders to Redis through asynq. A successful enqueue
// counts as dispatch; the worker does the actual delivery with retries.
type QueueSender struct {
	client enqueuer
}

// NewQueueSender connects an asynq client to redisURL
// (redis://[:password@]host:port[/db]).
func NewQueueSender(redisURL string) (*QueueSender, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("notify: parsing redis url: %w", err)
	}
	return &QueueSender{client: asynq.NewClient(opt)}, nil
}

// NewReminderTask builds the task for r. The task id is derived from the
// meeting id, so a reminder re-dispatched after a crash collapses into the
// one already queued.
func NewReminderTask(r Reminder) (*asynq.Task, []asynq.Option, error) {
	payload, err := r.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("notify: encoding reminder: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID("reminder:" + r.MeetingID),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		asynq.Retention(24 * time.Hour),
	}
	return asynq.NewTask(TaskReminder, payload), opts, nil
}

func (s *QueueSender) SendReminder(ctx context.Context, r Reminder) error {
	task, opts, err := NewReminderTask(r)
	if err != nil {
		return err
	}

	_, err = s.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("notify: enqueueing reminder: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *QueueSender) Close() error {
	return s.client.Close()
}
