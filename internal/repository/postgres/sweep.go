package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

var _ repository.SweepRepository = (*SweepDB)(nil)

// SweepDB implements repository.SweepRepository.
type SweepDB struct {
	pool *pgxpool.Pool
}

// PurgeEndedBefore deletes one batch. SKIP LOCKED lets the purge step around
// rows an in-flight update holds instead of waiting on them.
func (s *SweepDB) PurgeEndedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM meetings WHERE id IN (
			SELECT id FROM meetings WHERE end_time < $1
			ORDER BY end_time LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return 0, translate("purging ended meetings", err)
	}
	return tag.RowsAffected(), nil
}

func (s *SweepDB) DueForReminder(ctx context.Context, now, until time.Time, limit int) ([]model.Meeting, error) {
	meetings, err := queryMeetings(ctx, s.pool,
		meetingSelect+`
		WHERE NOT m.reminder_sent AND m.start_time > $1 AND m.start_time <= $2
		ORDER BY m.start_time, m.id
		LIMIT $3`,
		now.UTC(), until.UTC(), limit,
	)
	if err != nil {
		return nil, translate("finding meetings due for reminder", err)
	}
	return meetings, nil
}

func (s *SweepDB) MarkReminderSent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE meetings SET reminder_sent = TRUE, updated_at = $1 WHERE id = $2 AND NOT reminder_sent`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return translate("marking reminder sent", err)
	}
	return nil
}
