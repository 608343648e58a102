package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/meeting-scheduler/internal/notify"
)

type recordingSender struct {
	got []notify.Reminder
	err error
}

func (s *recordingSender) SendReminder(_ context.Context, r notify.Reminder) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, r)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func reminderTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, _, err := notify.NewReminderTask(notify.Reminder{
		MeetingID:      "m1",
		Title:          "Standup",
		StartTime:      time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		OrganizerEmail: "alice@example.com",
	})
	require.NoError(t, err)
	return task
}

func TestHandleReminder_Delivers(t *testing.T) {
	sender := &recordingSender{}

	err := HandleReminder(sender, discardLogger())(context.Background(), reminderTask(t))

	require.NoError(t, err)
	require.Len(t, sender.got, 1)
	assert.Equal(t, "m1", sender.got[0].MeetingID)
}

func TestHandleReminder_BadPayloadSkipsRetry(t *testing.T) {
	task := asynq.NewTask(notify.TaskReminder, []byte("{"))

	err := HandleReminder(&recordingSender{}, discardLogger())(context.Background(), task)

	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleReminder_DeliveryFailureRetries(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}

	err := HandleReminder(sender, discardLogger())(context.Background(), reminderTask(t))

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestAsynqLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &asynqLogger{logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Info("worker ", "ready")
	assert.Contains(t, buf.String(), "worker ready")

	assert.Panics(t, func() { l.Fatal("boom") })
}

func TestNew_BadRedisURL(t *testing.T) {
	_, err := New("ftp://nowhere", &recordingSender{}, discardLogger())
	assert.Error(t, err)
}
