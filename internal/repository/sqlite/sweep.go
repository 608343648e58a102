package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

var _ repository.SweepRepository = (*SweepDB)(nil)

// SweepDB serves the background purge and reminder jobs.
type SweepDB struct {
	conn *sql.DB
}

// PurgeEndedBefore deletes one batch of meetings whose end time is strictly
// before cutoff. Callers loop until it returns fewer than limit rows, which
// keeps each write transaction (and the lock it holds) short.
func (s *SweepDB) PurgeEndedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	result, err := s.conn.ExecContext(ctx,
		`DELETE FROM meetings WHERE id IN (
			SELECT id FROM meetings WHERE end_time < ? ORDER BY end_time LIMIT ?
		)`,
		cutoff.UTC().UnixMicro(), limit,
	)
	if err != nil {
		return 0, translate("purging ended meetings", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n, nil
}

// DueForReminder returns meetings starting in (now, until] that have not had
// a reminder yet, soonest first.
func (s *SweepDB) DueForReminder(ctx context.Context, now, until time.Time, limit int) ([]model.Meeting, error) {
	meetings, err := queryMeetings(ctx, s.conn,
		meetingSelect+`
		WHERE m.reminder_sent = 0 AND m.start_time > ? AND m.start_time <= ?
		ORDER BY m.start_time, m.id
		LIMIT ?`,
		now.UTC().UnixMicro(), until.UTC().UnixMicro(), limit,
	)
	if err != nil {
		return nil, translate("finding meetings due for reminder", err)
	}
	return meetings, nil
}

// MarkReminderSent sets the flag. The WHERE clause makes a repeat call (or a
// call for a meeting deleted in the meantime) a harmless no-op.
func (s *SweepDB) MarkReminderSent(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE meetings SET reminder_sent = 1, updated_at = ? WHERE id = ? AND reminder_sent = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return translate("marking reminder sent", err)
	}
	return nil
}
