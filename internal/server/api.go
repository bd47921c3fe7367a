package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tms-tools/teamcal/internal/instrumentation"
	"github.com/tms-tools/teamcal/internal/logging"
	"github.com/tms-tools/teamcal/internal/service"
	"github.com/tms-tools/teamcal/internal/store"
	"github.com/tms-tools/teamcal/internal/task"
)

// Puller is the inbound half of the calendar sync the API needs.
// *sync.Orchestrator satisfies it.
type Puller interface {
	PullEvents(ctx context.Context, userID string, from, to time.Time) (int, error)
}

// SettingsStore reads and writes per-user sync settings. *store.Store
// satisfies it.
type SettingsStore interface {
	GetSyncSettings(ctx context.Context, userID string) (task.SyncSettings, error)
	PutSyncSettings(ctx context.Context, settings task.SyncSettings) error
	ListPersonalEvents(ctx context.Context, userID string, from, to time.Time) ([]task.PersonalEvent, error)
}

// APIConfig wires the API server's dependencies.
type APIConfig struct {
	Service  *service.Service
	Settings SettingsStore
	Puller   Puller
	Hub      http.Handler
	Auth     *Authenticator
	Health   *HealthChecker
	Logger   *slog.Logger
	Metrics  *instrumentation.Metrics
	Audit    *instrumentation.AuditLogger
}

// API is the HTTP JSON surface over the task service.
type API struct {
	svc      *service.Service
	settings SettingsStore
	puller   Puller
	hub      http.Handler
	auth     *Authenticator
	health   *HealthChecker
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	audit    *instrumentation.AuditLogger
}

// NewAPI creates the API server.
func NewAPI(config APIConfig) *API {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		svc:      config.Service,
		settings: config.Settings,
		puller:   config.Puller,
		hub:      config.Hub,
		auth:     config.Auth,
		health:   config.Health,
		logger:   logger,
		metrics:  config.Metrics,
		audit:    config.Audit,
	}
}

// Handler builds the route table. Everything under /api and /ws requires a
// valid bearer token; the health endpoints do not.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	if a.health != nil {
		a.health.RegisterHealthEndpoints(mux)
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/tasks", a.handleListTasks)
	api.HandleFunc("POST /api/tasks", a.handleCreateTask)
	api.HandleFunc("GET /api/tasks/{id}", a.handleGetTask)
	api.HandleFunc("PATCH /api/tasks/{id}", a.handleUpdateTask)
	api.HandleFunc("DELETE /api/tasks/{id}", a.handleDeleteTask)
	api.HandleFunc("POST /api/tasks/{id}/status", a.handleUpdateStatus)
	api.HandleFunc("GET /api/tasks/{id}/subtasks", a.handleListSubtasks)
	api.HandleFunc("GET /api/calendar/settings", a.handleGetSettings)
	api.HandleFunc("PUT /api/calendar/settings", a.handlePutSettings)
	api.HandleFunc("POST /api/calendar/pull", a.handlePull)
	api.HandleFunc("GET /api/calendar/events", a.handleListPersonalEvents)
	if a.hub != nil {
		api.Handle("GET /ws", a.hub)
	}

	protected := http.Handler(api)
	if a.auth != nil {
		protected = a.auth.Middleware(api)
	}
	mux.Handle("/api/", protected)
	mux.Handle("/ws", protected)

	return a.instrument(mux)
}

// instrument records request metrics keyed by the matched route pattern so
// path parameters do not explode label cardinality.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if a.metrics != nil {
			a.metrics.RecordHTTPRequest(r.Context(), r.Method, route, sw.status, time.Since(start))
		}
		a.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", sw.status),
			slog.Duration("duration", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Hijack is needed for the websocket upgrade on /ws.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// personJSON is the wire form of a task participant.
type personJSON struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
}

// taskJSON is the wire form of a task.
type taskJSON struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Status        task.Status   `json:"status"`
	Priority      task.Priority `json:"priority,omitempty"`
	Progress      int           `json:"progress"`
	Type          task.Type     `json:"type"`
	StartDate     *time.Time    `json:"startDate,omitempty"`
	DueDate       *time.Time    `json:"dueDate,omitempty"`
	AllDay        bool          `json:"allDay,omitempty"`
	Location      string        `json:"location,omitempty"`
	MeetingLink   string        `json:"meetingLink,omitempty"`
	Recurrence    string        `json:"recurrence,omitempty"`
	GoogleEventID string        `json:"googleEventId,omitempty"`
	ParentID      string        `json:"parentId,omitempty"`
	AssigneeID    string        `json:"assigneeId,omitempty"`
	CreatorID     string        `json:"creatorId,omitempty"`
	AssignedByID  string        `json:"assignedById,omitempty"`
	TeamID        string        `json:"teamId,omitempty"`
	TeamMembers   []personJSON  `json:"teamMembers,omitempty"`
	Collaborators []personJSON  `json:"collaborators,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func toPersonJSON(people []task.Person) []personJSON {
	if len(people) == 0 {
		return nil
	}
	out := make([]personJSON, len(people))
	for i, p := range people {
		out[i] = personJSON{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName, Name: p.Name, Email: p.Email}
	}
	return out
}

func toTaskJSON(t *task.Task) taskJSON {
	return taskJSON{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		Priority:      t.Priority,
		Progress:      t.Progress,
		Type:          t.Type,
		StartDate:     t.StartDate,
		DueDate:       t.DueDate,
		AllDay:        t.AllDay,
		Location:      t.Location,
		MeetingLink:   t.MeetingLink,
		Recurrence:    t.Recurrence,
		GoogleEventID: t.GoogleEventID,
		ParentID:      t.ParentID,
		AssigneeID:    t.AssigneeID,
		CreatorID:     t.CreatorID,
		AssignedByID:  t.AssignedByID,
		TeamID:        t.TeamID,
		TeamMembers:   toPersonJSON(t.TeamMembers),
		Collaborators: toPersonJSON(t.Collaborators),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// mutationResponse wraps a mutated task. SyncWarning is set when the task
// was saved but the calendar projection failed.
type mutationResponse struct {
	Task        taskJSON `json:"task"`
	SyncWarning string   `json:"syncWarning,omitempty"`
}

func toMutationResponse(res service.MutationResult) mutationResponse {
	out := mutationResponse{Task: toTaskJSON(res.Task)}
	if res.SyncWarning != nil {
		out.SyncWarning = res.SyncWarning.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Msg)
	case task.IsForbidden(err):
		writeError(w, http.StatusForbidden, err.Error())
	case task.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		a.logger.Error("request failed", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) logMutation(r *http.Request, action string, actor service.Actor, taskID string, err error) {
	if a.audit == nil {
		return
	}
	m := instrumentation.NewMutation(action, actor.ID, EmailFromContext(r.Context())).WithTask(taskID)
	a.audit.LogMutation(m.Complete(err))
}

type createTaskRequest struct {
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Priority        task.Priority `json:"priority"`
	Type            task.Type     `json:"type"`
	StartDate       *time.Time    `json:"startDate"`
	DueDate         *time.Time    `json:"dueDate"`
	AllDay          bool          `json:"allDay"`
	Location        string        `json:"location"`
	MeetingLink     string        `json:"meetingLink"`
	Recurrence      string        `json:"recurrence"`
	ParentID        string        `json:"parentId"`
	AssigneeID      string        `json:"assigneeId"`
	TeamID          string        `json:"teamId"`
	TeamMemberIDs   []string      `json:"teamMemberIds"`
	CollaboratorIDs []string      `json:"collaboratorIds"`
}

func (a *API) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.svc.CreateTask(r.Context(), actor, service.CreateInput{
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		Type:            req.Type,
		StartDate:       req.StartDate,
		DueDate:         req.DueDate,
		AllDay:          req.AllDay,
		Location:        req.Location,
		MeetingLink:     req.MeetingLink,
		Recurrence:      req.Recurrence,
		ParentID:        req.ParentID,
		AssigneeID:      req.AssigneeID,
		TeamID:          req.TeamID,
		TeamMemberIDs:   req.TeamMemberIDs,
		CollaboratorIDs: req.CollaboratorIDs,
	})
	var taskID string
	if res.Task != nil {
		taskID = res.Task.ID
	}
	a.logMutation(r, "task.create", actor, taskID, err)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMutationResponse(res))
}

func (a *API) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskJSON(t))
}

func (a *API) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		AssigneeID: q.Get("assignee"),
		CreatorID:  q.Get("creator"),
		TeamID:     q.Get("team"),
		ParentID:   q.Get("parent"),
		Status:     task.Status(q.Get("status")),
		RootsOnly:  q.Get("roots") == "true",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	tasks, err := a.svc.ListTasks(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListSubtasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := a.svc.ListTasks(r.Context(), store.TaskFilter{ParentID: r.PathValue("id")})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]taskJSON, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskJSON(t))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateTaskRequest struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Priority    *task.Priority `json:"priority"`
	Progress    *int           `json:"progress"`
	Status      *task.Status   `json:"status"`
	StartDate   *time.Time     `json:"startDate"`
	DueDate     *time.Time     `json:"dueDate"`
	AllDay      *bool          `json:"allDay"`
	Location    *string        `json:"location"`
	MeetingLink *string        `json:"meetingLink"`
	Recurrence  *string        `json:"recurrence"`
	AssigneeID  *string        `json:"assigneeId"`
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id := r.PathValue("id")

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := a.svc.UpdateTask(r.Context(), actor, id, service.UpdateInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Progress:    req.Progress,
		Status:      req.Status,
		StartDate:   req.StartDate,
		DueDate:     req.DueDate,
		AllDay:      req.AllDay,
		Location:    req.Location,
		MeetingLink: req.MeetingLink,
		Recurrence:  req.Recurrence,
		AssigneeID:  req.AssigneeID,
	})
	a.logMutation(r, "task.update", actor, id, err)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

type statusRequest struct {
	Status   task.Status `json:"status"`
	Progress *int        `json:"progress"`
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id := r.PathValue("id")

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := service.UpdateInput{Progress: req.Progress}
	if req.Status != "" {
		in.Status = &req.Status
	}

	res, err := a.svc.UpdateTask(r.Context(), actor, id, in)
	a.logMutation(r, "task.status", actor, id, err)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

func (a *API) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id := r.PathValue("id")

	res, err := a.svc.DeleteTask(r.Context(), actor, id)
	a.logMutation(r, "task.delete", actor, id, err)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "deleted",
		"syncWarning": syncWarningString(res),
	})
}

func syncWarningString(res service.MutationResult) string {
	if res.SyncWarning == nil {
		return ""
	}
	return res.SyncWarning.Error()
}

// settingsJSON is the wire form of per-user sync settings.
type settingsJSON struct {
	Enabled            bool               `json:"enabled"`
	Direction          task.SyncDirection `json:"direction"`
	SyncTaskDeadlines  bool               `json:"syncTaskDeadlines"`
	SyncTeamEvents     bool               `json:"syncTeamEvents"`
	SyncPersonalEvents bool               `json:"syncPersonalEvents"`
	SyncHolidays       bool               `json:"syncHolidays"`
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	settings, err := a.settings.GetSyncSettings(r.Context(), actor.ID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsJSON{
		Enabled:            settings.Enabled,
		Direction:          settings.Direction,
		SyncTaskDeadlines:  settings.SyncTaskDeadlines,
		SyncTeamEvents:     settings.SyncTeamEvents,
		SyncPersonalEvents: settings.SyncPersonalEvents,
		SyncHolidays:       settings.SyncHolidays,
	})
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req settingsJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Direction {
	case task.SyncTMSToGoogle, task.SyncGoogleToTMS, task.SyncBoth:
	default:
		writeError(w, http.StatusBadRequest, "unknown sync direction")
		return
	}

	settings := task.SyncSettings{
		UserID:             actor.ID,
		Enabled:            req.Enabled,
		Direction:          req.Direction,
		SyncTaskDeadlines:  req.SyncTaskDeadlines,
		SyncTeamEvents:     req.SyncTeamEvents,
		SyncPersonalEvents: req.SyncPersonalEvents,
		SyncHolidays:       req.SyncHolidays,
	}
	if err := a.settings.PutSyncSettings(r.Context(), settings); err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

type pullRequest struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

func (a *API) handlePull(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req pullRequest
	if r.Body != nil {
		// An empty body means the default window.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	from := time.Now().AddDate(0, 0, -7)
	to := time.Now().AddDate(0, 1, 0)
	if req.From != nil {
		from = *req.From
	}
	if req.To != nil {
		to = *req.To
	}
	if !to.After(from) {
		writeError(w, http.StatusBadRequest, "time window end must be after start")
		return
	}

	imported, err := a.puller.PullEvents(r.Context(), actor.ID, from, to)
	if err != nil {
		// A pull failure is the whole request failing; unlike pushes there
		// is no task mutation to protect.
		var syncErr *task.SyncError
		if errors.As(err, &syncErr) {
			writeError(w, http.StatusBadGateway, syncErr.Error())
			return
		}
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"imported": imported})
}

// personalEventJSON is the wire form of a calendar-origin event record.
type personalEventJSON struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Location      string    `json:"location,omitempty"`
	StartTime     time.Time `json:"startTime"`
	EndTime       time.Time `json:"endTime"`
	AllDay        bool      `json:"allDay"`
	GoogleEventID string    `json:"googleEventId"`
}

func (a *API) handleListPersonalEvents(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	q := r.URL.Query()
	from := time.Now().AddDate(0, 0, -7)
	to := time.Now().AddDate(0, 1, 0)
	if v := q.Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		from = parsed
	}
	if v := q.Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		to = parsed
	}

	events, err := a.settings.ListPersonalEvents(r.Context(), actor.ID, from, to)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	out := make([]personalEventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, personalEventJSON{
			ID:            e.ID,
			Title:         e.Title,
			Description:   e.Description,
			Location:      e.Location,
			StartTime:     e.StartTime,
			EndTime:       e.EndTime,
			AllDay:        e.AllDay,
			GoogleEventID: e.GoogleEventID,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
