package calendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/sakif/meeting-scheduler/internal/model"
)

// ProductID identifies this server in exported feeds.
const ProductID = "-//meeting-scheduler//EN"

// WriteICS renders meetings as a VCALENDAR with one VEVENT each. Times are
// written in UTC ("Z" form), so no VTIMEZONE blocks are needed.
func WriteICS(w io.Writer, meetings []model.Meeting, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	stamp := now.UTC()
	for i := range meetings {
		cal.Children = append(cal.Children, toICalEvent(&meetings[i], stamp).Component)
	}

	if len(cal.Children) == 0 {
		return writeEmptyCalendar(w)
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("calendar: encoding ics: %w", err)
	}
	return nil
}

// writeEmptyCalendar emits a feed with no events. The encoder refuses a
// VCALENDAR without children.
func writeEmptyCalendar(w io.Writer) error {
	lines := []string{
		"BEGIN:" + ical.CompCalendar,
		ical.PropVersion + ":2.0",
		ical.PropProductID + ":" + ProductID,
		ical.PropCalendarScale + ":GREGORIAN",
		"END:" + ical.CompCalendar,
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\r\n")+"\r\n"); err != nil {
		return fmt.Errorf("calendar: encoding ics: %w", err)
	}
	return nil
}

func toICalEvent(m *model.Meeting, stamp time.Time) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, m.ID+"@meeting-scheduler")
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	event.Props.SetDateTime(ical.PropDateTimeStart, m.StartTime.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, m.EndTime.UTC())
	event.Props.SetText(ical.PropSummary, m.Title)
	if m.Description != "" {
		event.Props.SetText(ical.PropDescription, m.Description)
	}
	if m.Location != "" {
		event.Props.SetText(ical.PropLocation, m.Location)
	}

	organizer := ical.NewProp(ical.PropOrganizer)
	organizer.Value = "mailto:" + m.Organizer.Email
	if m.Organizer.FullName != "" {
		organizer.Params.Set(ical.ParamCommonName, m.Organizer.FullName)
	}
	event.Props.Set(organizer)

	for _, a := range m.Attendees {
		attendee := ical.NewProp(ical.PropAttendee)
		attendee.Value = "mailto:" + a.Email
		if a.FullName != "" {
			attendee.Params.Set(ical.ParamCommonName, a.FullName)
		}
		event.Props.Add(attendee)
	}
	return event
}
