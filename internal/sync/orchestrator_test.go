package sync

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/tms-tools/teamcal/internal/task"
)

type fakeService struct {
	createCalls    int
	updateCalls    int
	deleteCalls    int
	failWith       error
	listResult     []*gcal.Event
	lastCalendarID string
}

func (f *fakeService) CreateEvent(ctx context.Context, calendarID string, event *gcal.Event) (*gcal.Event, error) {
	f.createCalls++
	f.lastCalendarID = calendarID
	if f.failWith != nil {
		return nil, f.failWith
	}
	created := *event
	created.Id = "evt-created"
	return &created, nil
}

func (f *fakeService) UpdateEvent(ctx context.Context, calendarID, eventID string, event *gcal.Event) (*gcal.Event, error) {
	f.updateCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	return event, nil
}

func (f *fakeService) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	f.deleteCalls++
	return f.failWith
}

func (f *fakeService) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*gcal.Event, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.listResult, nil
}

type fakeSettings struct {
	settings task.SyncSettings
	err      error
}

func (f *fakeSettings) GetSyncSettings(ctx context.Context, userID string) (task.SyncSettings, error) {
	return f.settings, f.err
}

type fakeSink struct {
	upserts []task.PersonalEvent
	deleted []string
}

func (f *fakeSink) UpsertPersonalEvent(ctx context.Context, rec task.PersonalEvent) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeSink) DeletePersonalEventsByGoogleID(ctx context.Context, googleEventID string) error {
	f.deleted = append(f.deleted, googleEventID)
	return nil
}

func enabledSettings() *fakeSettings {
	return &fakeSettings{settings: task.SyncSettings{
		Enabled:           true,
		Direction:         task.SyncBoth,
		SyncTaskDeadlines: true,
	}}
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2024, 1, 5, 8, 0, 0, 0, time.UTC) }
}

func syncableTask() *task.Task {
	due := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	return &task.Task{
		ID:         "t1",
		Title:      "Ship release",
		Status:     task.StatusInProgress,
		Progress:   40,
		DueDate:    &due,
		AssigneeID: "u1",
	}
}

func newOrchestrator(settings SettingsSource, svc CalendarService, sink EventSink) *Orchestrator {
	factory := func(ctx context.Context, userID string) (CalendarService, error) {
		return svc, nil
	}
	return New(slog.Default(), settings, factory, sink, WithClock(fixedClock()))
}

type fakeRecorder struct {
	syncOps     []string
	calendarOps []string
}

func (f *fakeRecorder) RecordSync(ctx context.Context, operation, status string) {
	f.syncOps = append(f.syncOps, operation+":"+status)
}

func (f *fakeRecorder) RecordCalendarOperation(ctx context.Context, operation, status, account string, duration time.Duration) {
	f.calendarOps = append(f.calendarOps, operation+":"+status)
}

type resolvingService struct {
	fakeService
	resolveCalls int
	calendarID   string
	resolveErr   error
}

func (r *resolvingService) EnsureTaskCalendar(ctx context.Context) (string, error) {
	r.resolveCalls++
	return r.calendarID, r.resolveErr
}

func TestPushTask_RecordsCalendarOperations(t *testing.T) {
	recorder := &fakeRecorder{}
	svc := &fakeService{}
	factory := func(ctx context.Context, userID string) (CalendarService, error) {
		return svc, nil
	}
	o := New(slog.Default(), enabledSettings(), factory, &fakeSink{},
		WithClock(fixedClock()), WithMetrics(recorder))

	_, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Equal(t, []string{"create:success"}, recorder.calendarOps)
	assert.Equal(t, []string{"push:success"}, recorder.syncOps)

	svc.failWith = errors.New("quota exceeded")
	failing := syncableTask()
	failing.ID = "t2"
	_, err = o.PushTask(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, []string{"create:success", "create:error"}, recorder.calendarOps)
}

func TestPushTask_UsesDedicatedCalendar(t *testing.T) {
	svc := &resolvingService{calendarID: "cal-tasks"}
	o := newOrchestrator(enabledSettings(), svc, &fakeSink{})

	_, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Equal(t, "cal-tasks", svc.lastCalendarID)

	// Second push reuses the cached calendar id.
	second := syncableTask()
	second.ID = "t2"
	_, err = o.PushTask(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.resolveCalls)
}

func TestPushTask_FallsBackToPrimaryOnResolveFailure(t *testing.T) {
	svc := &resolvingService{resolveErr: errors.New("calendar list unavailable")}
	o := newOrchestrator(enabledSettings(), svc, &fakeSink{})

	_, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Equal(t, "primary", svc.lastCalendarID)
}

func TestPushTask_ExplicitCalendarSkipsResolution(t *testing.T) {
	svc := &resolvingService{calendarID: "cal-tasks"}
	factory := func(ctx context.Context, userID string) (CalendarService, error) {
		return svc, nil
	}
	o := New(slog.Default(), enabledSettings(), factory, &fakeSink{},
		WithClock(fixedClock()), WithCalendarID("team@example.com"))

	_, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Equal(t, 0, svc.resolveCalls)
	assert.Equal(t, "team@example.com", svc.lastCalendarID)
}

func TestPushTask_CreatesEvent(t *testing.T) {
	svc := &fakeService{}
	o := newOrchestrator(enabledSettings(), svc, &fakeSink{})

	eventID, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Equal(t, "evt-created", eventID)
	assert.Equal(t, 1, svc.createCalls)
	assert.Equal(t, 0, svc.updateCalls)
}

func TestPushTask_SkipsWhenDisabled(t *testing.T) {
	svc := &fakeService{}
	settings := &fakeSettings{settings: task.SyncSettings{Enabled: false}}
	o := newOrchestrator(settings, svc, &fakeSink{})

	eventID, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Empty(t, eventID)
	assert.Equal(t, 0, svc.createCalls)
}

func TestPushTask_SkipsInboundOnlyDirection(t *testing.T) {
	svc := &fakeService{}
	settings := &fakeSettings{settings: task.SyncSettings{
		Enabled:           true,
		Direction:         task.SyncGoogleToTMS,
		SyncTaskDeadlines: true,
	}}
	o := newOrchestrator(settings, svc, &fakeSink{})

	eventID, err := o.PushTask(context.Background(), syncableTask())
	require.NoError(t, err)
	assert.Empty(t, eventID)
	assert.Equal(t, 0, svc.createCalls)
}

func TestPushTask_SkipsWithoutDueDate(t *testing.T) {
	svc := &fakeService{}
	o := newOrchestrator(enabledSettings(), svc, &fakeSink{})

	tk := syncableTask()
	tk.DueDate = nil
	eventID, err := o.PushTask(context.Background(), tk)
	require.NoError(t, err)
	assert.Empty(t, eventID)
	assert.Equal(t, 0, svc.createCalls)
}

func TestPushTask_SkipsUnchangedPayload(t *testing.T) {
	svc := &fakeService{}
	o := newOrchestrator(enabledSettings(), svc, &fakeSink{})
	tk := syncableTask()

	eventID, err := o.PushTask(context.Background(), tk)
	require.NoError(t, err)
	tk.GoogleEventID = eventID

	// Unchanged task: the fingerprint matches, no update call goes out.
	eventID, err = o.PushTask(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, "evt-created", eventID)
	assert.Equal(t, 0, svc.updateCalls)

	// A real change pushes an update.
	tk.Progress = 80
	_, err = o.PushTask(context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.updateCalls)
}

func TestPushTask_FailureIsSyncError(t *testing.T) {
	svc := &fakeService{failWith: errors.New("calendar unavailable")}
	o := newOrchestrator(enabledSettings(), svc, &fakeSink{})

	_, err := o.PushTask(context.Background(), syncableTask())
	require.Error(t, err)
	var syncErr *task.SyncError
	assert.True(t, errors.As(err, &syncErr), "expected *task.SyncError, got %T", err)
}

func TestDeleteTaskEvent(t *testing.T) {
	svc := &fakeService{}
	sink := &fakeSink{}
	o := newOrchestrator(enabledSettings(), svc, sink)

	tk := syncableTask()
	tk.GoogleEventID = "evt-9"
	require.NoError(t, o.DeleteTaskEvent(context.Background(), tk))
	assert.Equal(t, 1, svc.deleteCalls)
	assert.Equal(t, []string{"evt-9"}, sink.deleted)

	// No external event, nothing to do.
	tk.GoogleEventID = ""
	require.NoError(t, o.DeleteTaskEvent(context.Background(), tk))
	assert.Equal(t, 1, svc.deleteCalls)
}

func TestPullEvents_ImportsAndSkipsProjections(t *testing.T) {
	svc := &fakeService{listResult: []*gcal.Event{
		{
			Id:      "evt-1",
			Summary: "Dentist",
			Start:   &gcal.EventDateTime{DateTime: "2024-01-10T09:00:00Z"},
			End:     &gcal.EventDateTime{DateTime: "2024-01-10T10:00:00Z"},
		},
		{
			Id:      "evt-2",
			Summary: "[Task] Ship release",
			Start:   &gcal.EventDateTime{DateTime: "2024-01-11T09:00:00Z"},
			End:     &gcal.EventDateTime{DateTime: "2024-01-11T10:00:00Z"},
		},
	}}
	sink := &fakeSink{}
	o := newOrchestrator(enabledSettings(), svc, sink)

	n, err := o.PullEvents(context.Background(), "u1",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.upserts, 1)
	assert.Equal(t, "Dentist", sink.upserts[0].Title)
	assert.Equal(t, "u1", sink.upserts[0].UserID)
}

func TestPullEvents_DisabledDirection(t *testing.T) {
	svc := &fakeService{}
	settings := &fakeSettings{settings: task.SyncSettings{
		Enabled:   true,
		Direction: task.SyncTMSToGoogle,
	}}
	o := newOrchestrator(settings, svc, &fakeSink{})

	n, err := o.PullEvents(context.Background(), "u1", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}
