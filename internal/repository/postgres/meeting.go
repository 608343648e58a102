package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/xid"

	"github.com/sakif/meeting-scheduler/internal/apperror"
	"github.com/sakif/meeting-scheduler/internal/model"
	"github.com/sakif/meeting-scheduler/internal/repository"
)

var _ repository.MeetingRepository = (*MeetingDB)(nil)

// MeetingDB implements repository.MeetingRepository.
type MeetingDB struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

const meetingSelect = `
	SELECT m.id, m.title, m.description, m.start_time, m.end_time, m.location,
	       m.organizer_id, o.email, o.full_name,
	       m.external_event_id, m.reminder_sent, m.created_at, m.updated_at
	FROM meetings m
	JOIN users o ON o.id = m.organizer_id`

// conflictQuery: overlap is M.start < end AND M.end > start, restricted to
// meetings sharing a participant.
const conflictQuery = `
	SELECT EXISTS (
		SELECT 1 FROM meetings m
		WHERE m.start_time < $1 AND m.end_time > $2
		  AND m.id <> $3
		  AND (m.organizer_id = ANY($4)
		       OR EXISTS (SELECT 1 FROM meeting_attendees a
		                  WHERE a.meeting_id = m.id AND a.user_id = ANY($4)))
	)`

func (d *MeetingDB) HasConflict(ctx context.Context, start, end time.Time, participantIDs []string, excludeID string) (bool, error) {
	found, err := hasConflict(ctx, d.pool, start, end, participantIDs, excludeID)
	if err != nil {
		return false, translate("checking conflicts", err)
	}
	return found, nil
}

func hasConflict(ctx context.Context, q querier, start, end time.Time, participantIDs []string, excludeID string) (bool, error) {
	ids := uniqueStrings(participantIDs)
	if len(ids) == 0 {
		return false, nil
	}

	var found bool
	err := q.QueryRow(ctx, conflictQuery, end.UTC(), start.UTC(), excludeID, ids).Scan(&found)
	return found, err
}

// Create locks every participant, checks for overlaps and inserts the meeting
// with its attendees in one transaction.
func (d *MeetingDB) Create(ctx context.Context, meeting *model.Meeting, attendeeEmails []string) error {
	return withTx(ctx, d.pool, "creating meeting", func(tx pgx.Tx) error {
		organizer, err := participantByID(ctx, tx, meeting.OrganizerID)
		if err != nil {
			return err
		}

		attendees, err := resolveEmails(ctx, tx, attendeeEmails)
		if err != nil {
			return err
		}

		meeting.Organizer = organizer
		meeting.Attendees = participantsOf(attendees)

		if err := lockParticipants(ctx, tx, d.lockTimeout, meeting.ParticipantIDs()); err != nil {
			return err
		}

		conflict, err := hasConflict(ctx, tx, meeting.StartTime, meeting.EndTime, meeting.ParticipantIDs(), "")
		if err != nil {
			return err
		}
		if conflict {
			return apperror.SchedulingConflict()
		}

		now := time.Now().UTC()
		meeting.ID = xid.New().String()
		meeting.StartTime = meeting.StartTime.UTC()
		meeting.EndTime = meeting.EndTime.UTC()
		meeting.ReminderSent = false
		meeting.CreatedAt = now
		meeting.UpdatedAt = now

		_, err = tx.Exec(ctx,
			`INSERT INTO meetings (id, title, description, start_time, end_time, location,
			                       organizer_id, external_event_id, reminder_sent, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)`,
			meeting.ID, meeting.Title, meeting.Description, meeting.StartTime, meeting.EndTime,
			meeting.Location, meeting.OrganizerID, meeting.ExternalEventID, meeting.CreatedAt, meeting.UpdatedAt,
		)
		if err != nil {
			return err
		}

		return insertAttendees(ctx, tx, meeting.ID, meeting.Attendees)
	})
}

func (d *MeetingDB) GetByID(ctx context.Context, id string) (*model.Meeting, error) {
	m, err := getMeeting(ctx, d.pool, id, false)
	if err != nil {
		return nil, translate(fmt.Sprintf("getting meeting %s", id), err)
	}
	return m, nil
}

// Update merges upd into the stored row. The row is locked FOR UPDATE so two
// concurrent partial updates of the same meeting apply one after the other.
func (d *MeetingDB) Update(ctx context.Context, id string, upd model.MeetingUpdate, opts repository.UpdateOptions) (*model.Meeting, error) {
	var updated *model.Meeting

	err := withTx(ctx, d.pool, "updating meeting", func(tx pgx.Tx) error {
		m, err := getMeeting(ctx, tx, id, true)
		if err != nil {
			return err
		}

		upd.Apply(m)
		if !m.EndTime.After(m.StartTime) {
			return apperror.ValidationFailed("end_time", "end time must be after start time")
		}

		if upd.ReplacesAttendees() {
			attendees, err := resolveEmails(ctx, tx, upd.AttendeeEmails)
			if err != nil {
				return err
			}
			m.Attendees = participantsOf(attendees)
		}

		if opts.CheckConflicts && (upd.ChangesInterval() || upd.ReplacesAttendees()) {
			if err := lockParticipants(ctx, tx, d.lockTimeout, m.ParticipantIDs()); err != nil {
				return err
			}
			conflict, err := hasConflict(ctx, tx, m.StartTime, m.EndTime, m.ParticipantIDs(), m.ID)
			if err != nil {
				return err
			}
			if conflict {
				return apperror.SchedulingConflict()
			}
		}

		m.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx,
			`UPDATE meetings
			 SET title = $1, description = $2, start_time = $3, end_time = $4, location = $5, updated_at = $6
			 WHERE id = $7`,
			m.Title, m.Description, m.StartTime, m.EndTime, m.Location, m.UpdatedAt, m.ID,
		)
		if err != nil {
			return err
		}

		if upd.ReplacesAttendees() {
			if _, err := tx.Exec(ctx, `DELETE FROM meeting_attendees WHERE meeting_id = $1`, m.ID); err != nil {
				return err
			}
			if err := insertAttendees(ctx, tx, m.ID, m.Attendees); err != nil {
				return err
			}
		}

		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *MeetingDB) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := d.pool.Exec(ctx, `DELETE FROM meetings WHERE id = $1`, id)
	if err != nil {
		return false, translate(fmt.Sprintf("deleting meeting %s", id), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (d *MeetingDB) ListForParticipant(ctx context.Context, participantID string, within *model.TimeRange) ([]model.Meeting, error) {
	var sb strings.Builder
	sb.WriteString(meetingSelect)
	sb.WriteString(`
	WHERE (m.organizer_id = $1
	       OR EXISTS (SELECT 1 FROM meeting_attendees a WHERE a.meeting_id = m.id AND a.user_id = $1))`)
	args := []any{participantID}

	if within != nil {
		sb.WriteString(` AND m.start_time >= $2 AND m.end_time <= $3`)
		args = append(args, within.From.UTC(), within.To.UTC())
	}
	sb.WriteString(` ORDER BY m.start_time, m.id`)

	meetings, err := queryMeetings(ctx, d.pool, sb.String(), args...)
	if err != nil {
		return nil, translate("listing meetings", err)
	}
	return meetings, nil
}

func (d *MeetingDB) SetExternalEventID(ctx context.Context, id, externalID string) error {
	tag, err := d.pool.Exec(ctx,
		`UPDATE meetings SET external_event_id = $1, updated_at = $2 WHERE id = $3`,
		externalID, time.Now().UTC(), id,
	)
	if err != nil {
		return translate("setting external event id", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("meeting", id)
	}
	return nil
}

func getMeeting(ctx context.Context, q querier, id string, forUpdate bool) (*model.Meeting, error) {
	query := meetingSelect + ` WHERE m.id = $1`
	if forUpdate {
		query += ` FOR UPDATE OF m`
	}
	meetings, err := queryMeetings(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, apperror.NotFound("meeting", id)
	}
	return &meetings[0], nil
}

func queryMeetings(ctx context.Context, q querier, query string, args ...any) ([]model.Meeting, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	meetings := make([]model.Meeting, 0)
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		meetings = append(meetings, *m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := loadAttendees(ctx, q, meetings); err != nil {
		return nil, err
	}
	return meetings, nil
}

func scanMeeting(row pgx.Row) (*model.Meeting, error) {
	var m model.Meeting
	if err := row.Scan(
		&m.ID,
		&m.Title,
		&m.Description,
		&m.StartTime,
		&m.EndTime,
		&m.Location,
		&m.OrganizerID,
		&m.Organizer.Email,
		&m.Organizer.FullName,
		&m.ExternalEventID,
		&m.ReminderSent,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Organizer.ID = m.OrganizerID
	m.StartTime = m.StartTime.UTC()
	m.EndTime = m.EndTime.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	m.Attendees = []model.Participant{}
	return &m, nil
}

func loadAttendees(ctx context.Context, q querier, meetings []model.Meeting) error {
	if len(meetings) == 0 {
		return nil
	}

	index := make(map[string]int, len(meetings))
	ids := make([]string, 0, len(meetings))
	for i := range meetings {
		index[meetings[i].ID] = i
		ids = append(ids, meetings[i].ID)
	}

	rows, err := q.Query(ctx,
		`SELECT a.meeting_id, u.id, u.email, u.full_name
		 FROM meeting_attendees a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.meeting_id = ANY($1)
		 ORDER BY u.email`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var meetingID string
		var p model.Participant
		if err := rows.Scan(&meetingID, &p.ID, &p.Email, &p.FullName); err != nil {
			return err
		}
		if i, ok := index[meetingID]; ok {
			meetings[i].Attendees = append(meetings[i].Attendees, p)
		}
	}
	return rows.Err()
}

func participantByID(ctx context.Context, q querier, id string) (model.Participant, error) {
	var p model.Participant
	err := q.QueryRow(ctx, `SELECT id, email, full_name FROM users WHERE id = $1`, id).
		Scan(&p.ID, &p.Email, &p.FullName)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, apperror.NotFound("user", id)
	}
	return p, err
}

func insertAttendees(ctx context.Context, tx pgx.Tx, meetingID string, attendees []model.Participant) error {
	if len(attendees) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range attendees {
		batch.Queue(
			`INSERT INTO meeting_attendees (meeting_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			meetingID, a.ID,
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func participantsOf(users []model.User) []model.Participant {
	out := make([]model.Participant, 0, len(users))
	for i := range users {
		out = append(out, users[i].AsParticipant())
	}
	return out
}
