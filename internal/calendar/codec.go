package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"github.com/tms-tools/teamcal/internal/task"
)

// dateFormat is the all-day date shape the Calendar API expects.
const dateFormat = "2006-01-02"

// SummaryPrefix marks events that are projections of tasks, so inbound sync
// can tell them apart from events a user created directly in Google.
const SummaryPrefix = "[Task] "

// priorityColors maps task priority to the Calendar color palette.
var priorityColors = map[task.Priority]string{
	task.PriorityLow:    "2",
	task.PriorityMedium: "5",
	task.PriorityHigh:   "6",
	task.PriorityUrgent: "11",
}

// TaskToEvent translates a task into the Calendar event shape. The function
// is pure and deterministic: the same task and reference time always yield
// the same payload, so the orchestrator can hash the result to skip no-op
// updates. now is only consulted when the task carries no dates at all.
//
// All-day events use the API's exclusive end-date convention: the end date
// is the day after the last day the event covers. Timed events with both a
// start and a due date are stretched to the end of the due day so the event
// spans the full range in the calendar UI.
func TaskToEvent(t *task.Task, now time.Time) *calendar.Event {
	start := now.UTC()
	if t.StartDate != nil {
		start = t.StartDate.UTC()
	} else if t.DueDate != nil {
		start = t.DueDate.UTC()
	}

	end := start.Add(time.Hour)
	if t.DueDate != nil {
		end = t.DueDate.UTC()
	}

	event := &calendar.Event{
		Summary:     SummaryPrefix + t.Title,
		Description: describeTask(t),
	}

	if t.AllDay {
		event.Start = &calendar.EventDateTime{Date: start.Format(dateFormat)}
		// End date is exclusive; without the extra day the last day of the
		// task would not show.
		event.End = &calendar.EventDateTime{Date: end.AddDate(0, 0, 1).Format(dateFormat)}
	} else {
		if t.StartDate != nil && t.DueDate != nil {
			y, m, d := end.Date()
			end = time.Date(y, m, d, 23, 59, 59, 999000000, time.UTC)
		}
		event.Start = &calendar.EventDateTime{
			DateTime: start.Format(time.RFC3339),
			TimeZone: "UTC",
		}
		event.End = &calendar.EventDateTime{
			DateTime: end.Format(time.RFC3339),
			TimeZone: "UTC",
		}
	}

	if color, ok := priorityColors[t.Priority]; ok {
		event.ColorId = color
	}
	if t.Location != "" {
		event.Location = t.Location
	}
	if t.Recurrence != "" {
		event.Recurrence = []string{t.Recurrence}
	}

	return event
}

// describeTask renders the fixed-order description block. Lines for absent
// fields are omitted.
func describeTask(t *task.Task) string {
	var b strings.Builder

	if t.MeetingLink != "" {
		fmt.Fprintf(&b, "Meeting: %s\n\n", t.MeetingLink)
	}
	if t.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", t.Status)
	}
	if t.Priority != "" {
		fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	}
	fmt.Fprintf(&b, "Progress: %d%%\n", t.Progress)
	if t.Type != "" {
		fmt.Fprintf(&b, "Type: %s\n", t.Type)
	}
	if name := personName(t.TeamMembers, t.Collaborators, t.AssigneeID); name != "" {
		fmt.Fprintf(&b, "Assignee: %s\n", name)
	}
	if name := personName(t.TeamMembers, t.Collaborators, t.CreatorID); name != "" {
		fmt.Fprintf(&b, "Created by: %s\n", name)
	}
	if len(t.TeamMembers) > 0 {
		fmt.Fprintf(&b, "Team Members: %s\n", joinNames(t.TeamMembers))
	}
	if len(t.Collaborators) > 0 {
		fmt.Fprintf(&b, "Collaborators: %s\n", joinNames(t.Collaborators))
	}

	return strings.TrimRight(b.String(), "\n")
}

// personName looks a user id up in the loaded membership lists.
func personName(members, collaborators []task.Person, id string) string {
	if id == "" {
		return ""
	}
	for _, p := range members {
		if p.ID == id {
			return p.DisplayName()
		}
	}
	for _, p := range collaborators {
		if p.ID == id {
			return p.DisplayName()
		}
	}
	return ""
}

func joinNames(people []task.Person) string {
	names := make([]string, 0, len(people))
	for _, p := range people {
		if n := p.DisplayName(); n != "" {
			names = append(names, n)
		}
	}
	return strings.Join(names, ", ")
}

// EventToRecord translates an external event into a calendar-origin
// personal event record. The inverse direction never reconstructs a Task:
// the external event knows nothing about priority, assignees or progress.
//
// For all-day events the exclusive end date is folded back, so the record's
// EndTime is the last day the event actually covers.
func EventToRecord(event *calendar.Event, ownerID string) task.PersonalEvent {
	rec := task.PersonalEvent{
		UserID:        ownerID,
		Title:         event.Summary,
		Description:   event.Description,
		Location:      event.Location,
		GoogleEventID: event.Id,
	}

	if event.Start != nil {
		if event.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, event.Start.DateTime); err == nil {
				rec.StartTime = t
			}
		} else if event.Start.Date != "" {
			rec.AllDay = true
			if t, err := time.Parse(dateFormat, event.Start.Date); err == nil {
				rec.StartTime = t
			}
		}
	}

	if event.End != nil {
		if event.End.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, event.End.DateTime); err == nil {
				rec.EndTime = t
			}
		} else if event.End.Date != "" {
			if t, err := time.Parse(dateFormat, event.End.Date); err == nil {
				rec.EndTime = t.AddDate(0, 0, -1)
			}
		}
	}

	return rec
}

// IsTaskProjection reports whether an external event was produced by
// TaskToEvent.
func IsTaskProjection(event *calendar.Event) bool {
	return strings.HasPrefix(event.Summary, SummaryPrefix)
}

// Fingerprint returns a stable hash of an event payload. Two payloads with
// the same fingerprint do not need an update call.
func Fingerprint(event *calendar.Event) string {
	data, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
