//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

// setupDB connects to DATABASE_URL and empties the tables. Run with
//
//	DATABASE_URL=postgres://... go test -tags integration ./internal/repository/postgres/
func setupDB(t *testing.T) *DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Fatal("DATABASE_URL must be set for integration tests")
	}

	ctx := context.Background()
	db, err := New(ctx, dbURL)
	require.NoError(t, err, "failed to connect db")
	t.Cleanup(func() { db.Close() })

	_, err = db.pool.Exec(ctx, `TRUNCATE meeting_attendees, meetings, users`)
	require.NoError(t, err)
	return db
}

func seedUser(t *testing.T, db *DB, email string) *model.User {
	t.Helper()
	u := &model.User{Email: email, FullName: email, IsActive: true}
	require.NoError(t, db.Users().Create(context.Background(), u))
	return u
}

var day = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func slot(fromHour, toHour int) (time.Time, time.Time) {
	return day.Add(time.Duration(fromHour) * time.Hour), day.Add(time.Duration(toHour) * time.Hour)
}

func TestIntegration_CreateAndConflict(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	alice := seedUser(t, db, "alice@example.com")
	bob := seedUser(t, db, "bob@example.com")

	start, end := slot(10, 11)
	first := &model.Meeting{Title: "One", StartTime: start, EndTime: end, OrganizerID: alice.ID}
	require.NoError(t, db.Meetings().Create(ctx, first, []string{"bob@example.com", "ghost@example.com"}))
	assert.Equal(t, []string{"bob@example.com"}, first.AttendeeEmails())

	// bob is busy through his attendance
	clash := &model.Meeting{Title: "Two", StartTime: start.Add(30 * time.Minute), EndTime: end.Add(30 * time.Minute), OrganizerID: bob.ID}
	err := db.Meetings().Create(ctx, clash, nil)
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	// back-to-back is fine
	start, end = slot(11, 12)
	next := &model.Meeting{Title: "Three", StartTime: start, EndTime: end, OrganizerID: bob.ID}
	require.NoError(t, db.Meetings().Create(ctx, next, nil))

	list, err := db.Meetings().ListForParticipant(ctx, bob.ID, nil)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
}

func TestIntegration_ConcurrentCreates(t *testing.T) {
	db := setupDB(t)
	alice := seedUser(t, db, "alice@example.com")
	start, end := slot(14, 15)

	const workers = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := &model.Meeting{Title: "Race", StartTime: start, EndTime: end, OrganizerID: alice.ID}
			err := db.Meetings().Create(context.Background(), m, nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, apperror.ErrConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, conflicts)
}

func TestIntegration_UpdateAndSweep(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	alice := seedUser(t, db, "alice@example.com")

	start, end := slot(9, 10)
	m := &model.Meeting{Title: "Old", StartTime: start, EndTime: end, OrganizerID: alice.ID}
	require.NoError(t, db.Meetings().Create(ctx, m, nil))

	title := "New"
	got, err := db.Meetings().Update(ctx, m.ID, model.MeetingUpdate{Title: &title}, repository.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)
	assert.True(t, got.StartTime.Equal(start))

	due, err := db.Sweeps().DueForReminder(ctx, start.Add(-time.Minute), start, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NoError(t, db.Sweeps().MarkReminderSent(ctx, m.ID))

	due, err = db.Sweeps().DueForReminder(ctx, start.Add(-time.Minute), start, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	n, err := db.Sweeps().PurgeEndedBefore(ctx, end.Add(time.Minute), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	deleted, err := db.Meetings().Delete(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
