// Package calendar translates tasks to and from the Google Calendar event
// shape and wraps the Calendar API for the accounts users have connected.
//
// The codec half (TaskToEvent, EventToRecord) is pure: tasks encode to
// calendar/v3 event payloads with the all-day exclusive end-date adjustment
// and the priority color mapping applied, and external events decode to
// calendar-origin personal event records. Encoding is deterministic so
// payload fingerprints can be compared to skip no-op update calls.
//
// The client half authenticates per account through the google package and
// exposes the event operations the sync orchestrator needs.
//
// Example usage:
//
//	ctx := context.Background()
//	client, err := calendar.NewClientForAccount(ctx, "default")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	event := calendar.TaskToEvent(t, time.Now())
//	created, err := client.CreateEvent(ctx, calendar.DefaultCalendarID, event)
package calendar
