package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gcal "google.golang.org/api/calendar/v3"

	"github.com/tms-tools/teamcal/internal/calendar"
	"github.com/tms-tools/teamcal/internal/logging"
	"github.com/tms-tools/teamcal/internal/task"
)

// CalendarService is the slice of the calendar client the orchestrator
// needs. *calendar.Client satisfies it.
type CalendarService interface {
	CreateEvent(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, event *gcal.Event) (*gcal.Event, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*gcal.Event, error)
}

// ClientFactory resolves the calendar service for a user's connected
// account.
type ClientFactory func(ctx context.Context, userID string) (CalendarService, error)

// CalendarResolver is implemented by services that can resolve the
// account's dedicated task calendar. *calendar.Client satisfies it.
type CalendarResolver interface {
	EnsureTaskCalendar(ctx context.Context) (string, error)
}

// SettingsSource provides per-user sync settings.
type SettingsSource interface {
	GetSyncSettings(ctx context.Context, userID string) (task.SyncSettings, error)
}

// EventSink stores calendar-origin records produced by inbound sync.
type EventSink interface {
	UpsertPersonalEvent(ctx context.Context, rec task.PersonalEvent) error
	DeletePersonalEventsByGoogleID(ctx context.Context, googleEventID string) error
}

// Recorder counts sync outcomes and external calendar calls. Implemented
// by the instrumentation metrics; nil disables recording.
type Recorder interface {
	RecordSync(ctx context.Context, operation, status string)
	RecordCalendarOperation(ctx context.Context, operation, status, account string, duration time.Duration)
}

// Orchestrator decides, per task mutation, whether and how to call the
// external calendar. Every outbound call is fire-and-continue: failures
// are logged and reported as *task.SyncError, and the caller's task
// mutation proceeds regardless.
type Orchestrator struct {
	logger   *slog.Logger
	settings SettingsSource
	clients  ClientFactory
	sink     EventSink
	metrics  Recorder

	calendarID string
	now        func() time.Time

	// fingerprints caches the last pushed payload hash per task so
	// unchanged tasks skip the update call. calendars caches the resolved
	// dedicated calendar id per user.
	mu           sync.Mutex
	fingerprints map[string]string
	calendars    map[string]string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCalendarID overrides the target calendar (default "primary").
func WithCalendarID(id string) Option {
	return func(o *Orchestrator) { o.calendarID = id }
}

// WithMetrics attaches a sync outcome recorder.
func WithMetrics(r Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(logger *slog.Logger, settings SettingsSource, clients ClientFactory, sink EventSink, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:       logger,
		settings:     settings,
		clients:      clients,
		sink:         sink,
		calendarID:   calendar.DefaultCalendarID,
		now:          time.Now,
		fingerprints: make(map[string]string),
		calendars:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// PushTask projects a task to the external calendar when the owner's sync
// settings allow it. It returns the external event id to store on the task,
// or "" when the push was skipped. A non-nil error is always a
// *task.SyncError and must not fail the owning mutation.
func (o *Orchestrator) PushTask(ctx context.Context, t *task.Task) (string, error) {
	logger := logging.WithOperation(o.logger, "sync.push")

	if t.DueDate == nil {
		return "", nil
	}
	settings, err := o.settings.GetSyncSettings(ctx, t.AssigneeID)
	if err != nil {
		o.record(ctx, "push", logging.StatusError)
		logger.Warn("could not load sync settings", logging.TaskID(t.ID), logging.Err(err))
		return "", &task.SyncError{Op: "settings", Err: err}
	}
	if !settings.PushEnabled() || !settings.SyncTaskDeadlines {
		return "", nil
	}

	payload := calendar.TaskToEvent(t, o.now())
	fingerprint := calendar.Fingerprint(payload)
	if t.GoogleEventID != "" && o.lastFingerprint(t.ID) == fingerprint {
		o.record(ctx, "push", logging.StatusSkipped)
		return t.GoogleEventID, nil
	}

	svc, err := o.clients(ctx, t.AssigneeID)
	if err != nil {
		o.record(ctx, "push", logging.StatusError)
		logger.Warn("calendar client unavailable", logging.TaskID(t.ID), logging.Err(err))
		return "", &task.SyncError{Op: "connect", Err: err}
	}

	calendarID := o.targetCalendar(ctx, t.AssigneeID, svc)

	if t.GoogleEventID == "" {
		start := time.Now()
		created, err := svc.CreateEvent(ctx, calendarID, payload)
		o.recordCalendarOp(ctx, "create", t.AssigneeID, start, err)
		if err != nil {
			o.record(ctx, "push", logging.StatusError)
			logger.Warn("failed to create calendar event", logging.TaskID(t.ID), logging.Err(err))
			return "", &task.SyncError{Op: "create", Err: err}
		}
		o.storeFingerprint(t.ID, fingerprint)
		o.record(ctx, "push", logging.StatusSuccess)
		logger.Info("calendar event created", logging.TaskID(t.ID), logging.EventID(created.Id))
		return created.Id, nil
	}

	start := time.Now()
	_, err = svc.UpdateEvent(ctx, calendarID, t.GoogleEventID, payload)
	o.recordCalendarOp(ctx, "update", t.AssigneeID, start, err)
	if err != nil {
		o.record(ctx, "push", logging.StatusError)
		logger.Warn("failed to update calendar event", logging.TaskID(t.ID),
			logging.EventID(t.GoogleEventID), logging.Err(err))
		return "", &task.SyncError{Op: "update", Err: err}
	}
	o.storeFingerprint(t.ID, fingerprint)
	o.record(ctx, "push", logging.StatusSuccess)
	logger.Info("calendar event updated", logging.TaskID(t.ID), logging.EventID(t.GoogleEventID))
	return t.GoogleEventID, nil
}

// DeleteTaskEvent removes the task's external event and any cached
// calendar-origin records for it. Best effort: the task deletion proceeds
// whatever happens here.
func (o *Orchestrator) DeleteTaskEvent(ctx context.Context, t *task.Task) error {
	logger := logging.WithOperation(o.logger, "sync.delete")

	if t.GoogleEventID == "" {
		return nil
	}
	defer o.forgetFingerprint(t.ID)

	svc, err := o.clients(ctx, t.AssigneeID)
	if err != nil {
		o.record(ctx, "delete", logging.StatusError)
		logger.Warn("calendar client unavailable", logging.TaskID(t.ID), logging.Err(err))
		return &task.SyncError{Op: "connect", Err: err}
	}

	start := time.Now()
	err = svc.DeleteEvent(ctx, o.targetCalendar(ctx, t.AssigneeID, svc), t.GoogleEventID)
	o.recordCalendarOp(ctx, "delete", t.AssigneeID, start, err)
	if err != nil {
		o.record(ctx, "delete", logging.StatusError)
		logger.Warn("failed to delete calendar event", logging.TaskID(t.ID),
			logging.EventID(t.GoogleEventID), logging.Err(err))
		return &task.SyncError{Op: "delete", Err: err}
	}

	if err := o.sink.DeletePersonalEventsByGoogleID(ctx, t.GoogleEventID); err != nil {
		logger.Warn("failed to clean cached event records", logging.Err(err))
	}

	o.record(ctx, "delete", logging.StatusSuccess)
	logger.Info("calendar event deleted", logging.TaskID(t.ID), logging.EventID(t.GoogleEventID))
	return nil
}

// PullEvents imports external events in the window into calendar-origin
// personal event records. Events that are projections of tasks are
// skipped; they already exist as tasks. Returns the number of imported
// events.
func (o *Orchestrator) PullEvents(ctx context.Context, userID string, from, to time.Time) (int, error) {
	logger := logging.WithOperation(o.logger, "sync.pull")

	settings, err := o.settings.GetSyncSettings(ctx, userID)
	if err != nil {
		return 0, &task.SyncError{Op: "settings", Err: err}
	}
	if !settings.PullEnabled() {
		return 0, nil
	}

	svc, err := o.clients(ctx, userID)
	if err != nil {
		o.record(ctx, "pull", logging.StatusError)
		return 0, &task.SyncError{Op: "connect", Err: err}
	}

	start := time.Now()
	events, err := svc.ListEvents(ctx, o.targetCalendar(ctx, userID, svc), from, to)
	o.recordCalendarOp(ctx, "list", userID, start, err)
	if err != nil {
		o.record(ctx, "pull", logging.StatusError)
		logger.Warn("failed to list calendar events", logging.Err(err))
		return 0, &task.SyncError{Op: "list", Err: err}
	}

	imported := 0
	for _, event := range events {
		if calendar.IsTaskProjection(event) {
			continue
		}
		rec := calendar.EventToRecord(event, userID)
		if err := o.sink.UpsertPersonalEvent(ctx, rec); err != nil {
			logger.Warn("failed to store imported event", logging.EventID(event.Id), logging.Err(err))
			continue
		}
		imported++
	}

	o.record(ctx, "pull", logging.StatusSuccess)
	logger.Info("calendar events imported", slog.Int("count", imported))
	return imported, nil
}

// targetCalendar picks the calendar to operate on for a user. When the
// target is the default it prefers the account's dedicated task calendar,
// caching the resolved id per user; resolution failures fall back to the
// primary calendar so sync keeps working.
func (o *Orchestrator) targetCalendar(ctx context.Context, userID string, svc CalendarService) string {
	if o.calendarID != calendar.DefaultCalendarID {
		return o.calendarID
	}
	resolver, ok := svc.(CalendarResolver)
	if !ok {
		return o.calendarID
	}

	o.mu.Lock()
	cached, ok := o.calendars[userID]
	o.mu.Unlock()
	if ok {
		return cached
	}

	id, err := resolver.EnsureTaskCalendar(ctx)
	if err != nil || id == "" {
		o.logger.Warn("could not resolve dedicated task calendar, using primary",
			logging.Account(userID), logging.Err(err))
		return o.calendarID
	}

	o.mu.Lock()
	o.calendars[userID] = id
	o.mu.Unlock()
	return id
}

func (o *Orchestrator) record(ctx context.Context, operation, status string) {
	if o.metrics != nil {
		o.metrics.RecordSync(ctx, operation, status)
	}
}

func (o *Orchestrator) recordCalendarOp(ctx context.Context, operation, account string, start time.Time, err error) {
	if o.metrics == nil {
		return
	}
	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
	}
	o.metrics.RecordCalendarOperation(ctx, operation, status, account, time.Since(start))
}

func (o *Orchestrator) lastFingerprint(taskID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fingerprints[taskID]
}

func (o *Orchestrator) storeFingerprint(taskID, fingerprint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fingerprints[taskID] = fingerprint
}

func (o *Orchestrator) forgetFingerprint(taskID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.fingerprints, taskID)
}
