package calendar

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/meeting-scheduler/internal/model"
)

func sampleMeeting() model.Meeting {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	return model.Meeting{
		ID:          "m1",
		Title:       "Planning",
		Description: "Quarterly goals",
		Location:    "Room 4",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		OrganizerID: "u1",
		Organizer:   model.Participant{ID: "u1", Email: "alice@example.com", FullName: "Alice"},
		Attendees: []model.Participant{
			{ID: "u2", Email: "bob@example.com", FullName: "Bob"},
			{ID: "u3", Email: "carol@example.com"},
		},
	}
}

func TestWriteICS_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, WriteICS(&buf, []model.Meeting{sampleMeeting()}, now))
	assert.True(t, strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR"))
	assert.Contains(t, buf.String(), "DTSTART:20250602T100000Z")

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 1)
	ev := events[0]

	summary, err := ev.Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Planning", summary)

	start, err := ev.DateTimeStart(time.UTC)
	require.NoError(t, err)
	assert.True(t, start.Equal(sampleMeeting().StartTime))

	end, err := ev.DateTimeEnd(time.UTC)
	require.NoError(t, err)
	assert.True(t, end.Equal(sampleMeeting().EndTime))

	assert.Equal(t, "mailto:alice@example.com", ev.Props.Get(ical.PropOrganizer).Value)
	attendees := ev.Props.Values(ical.PropAttendee)
	require.Len(t, attendees, 2)
	assert.Equal(t, "mailto:bob@example.com", attendees[0].Value)
	assert.Equal(t, "Bob", attendees[0].Params.Get(ical.ParamCommonName))
}

func TestWriteICS_Empty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteICS(&buf, nil, time.Now()))

	assert.True(t, strings.HasSuffix(buf.String(), "END:VCALENDAR\r\n"))

	cal, err := ical.NewDecoder(&buf).Decode()
	require.NoError(t, err)
	assert.Empty(t, cal.Events())

	prodID, err := cal.Props.Text(ical.PropProductID)
	require.NoError(t, err)
	assert.Equal(t, ProductID, prodID)
}

func TestWriteICS_OmitsEmptyOptionalText(t *testing.T) {
	m := sampleMeeting()
	m.Description = ""
	m.Location = ""
	var buf bytes.Buffer

	require.NoError(t, WriteICS(&buf, []model.Meeting{m}, time.Now()))

	assert.NotContains(t, buf.String(), "DESCRIPTION")
	assert.NotContains(t, buf.String(), "LOCATION")
}
