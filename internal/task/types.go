package task

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority is the urgency level of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is one of the known priority values.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Type describes who works on a task.
type Type string

const (
	TypeIndividual    Type = "INDIVIDUAL"
	TypeTeam          Type = "TEAM"
	TypeCollaboration Type = "COLLABORATION"
)

// Person is the minimal user projection the task domain needs for
// assignment and for rendering names into calendar event descriptions.
type Person struct {
	ID        string
	FirstName string
	LastName  string
	Name      string
	Email     string
}

// DisplayName returns the best available human-readable name:
// first and last name, then the display name, then the email address.
func (p Person) DisplayName() string {
	if p.FirstName != "" && p.LastName != "" {
		return p.FirstName + " " + p.LastName
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}

// Task is the central work item. A task whose ParentID is set is a subtask;
// subtasks may not have children of their own (the tree is two levels deep).
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Priority    Priority
	Progress    int // 0..100
	Type        Type

	StartDate *time.Time
	DueDate   *time.Time
	AllDay    bool

	Location    string
	MeetingLink string
	Recurrence  string // RRULE string, passed through to the calendar

	// GoogleEventID is the id of the calendar event this task is projected
	// to, empty when the task has never been synced.
	GoogleEventID string

	ParentID     string
	AssigneeID   string
	CreatorID    string
	AssignedByID string
	TeamID       string

	TeamMembers   []Person
	Collaborators []Person

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSubtask reports whether the task rolls up into a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != ""
}

// ActorCapability is the set of permissions the acting user holds for one
// task, computed once per request and passed into the pure reconciliation
// functions so they can be tested without a database.
type ActorCapability struct {
	ActorID        string
	IsAdmin        bool
	IsCreator      bool
	IsAssignee     bool
	IsTeamMember   bool
	IsCollaborator bool
	TeamRole       string

	// CanEdit and CanChangeStatus are the oracle verdicts for the general
	// edit path and the stricter explicit status-change path.
	CanEdit         bool
	CanChangeStatus bool
}

// IsAssigneeOrAdmin reports whether the actor may complete a task or drive
// its progress to 100.
func (c ActorCapability) IsAssigneeOrAdmin() bool {
	return c.IsAssignee || c.IsAdmin
}

// SyncDirection controls which way calendar synchronization flows.
type SyncDirection string

const (
	SyncTMSToGoogle SyncDirection = "TMS_TO_GOOGLE"
	SyncGoogleToTMS SyncDirection = "GOOGLE_TO_TMS"
	SyncBoth        SyncDirection = "BOTH"
)

// SyncSettings are the per-user calendar synchronization preferences.
type SyncSettings struct {
	UserID             string
	Enabled            bool
	Direction          SyncDirection
	SyncTaskDeadlines  bool
	SyncTeamEvents     bool
	SyncPersonalEvents bool
	SyncHolidays       bool
}

// PushEnabled reports whether task mutations should be projected to the
// external calendar.
func (s SyncSettings) PushEnabled() bool {
	return s.Enabled && (s.Direction == SyncTMSToGoogle || s.Direction == SyncBoth)
}

// PullEnabled reports whether external events should be imported.
func (s SyncSettings) PullEnabled() bool {
	return s.Enabled && (s.Direction == SyncGoogleToTMS || s.Direction == SyncBoth)
}

// PersonalEvent is a calendar-origin record created by inbound sync. It is
// deliberately not a Task: the external event knows nothing about priority,
// assignees or progress, so the inverse direction stores a separate
// projection instead of mutating tasks.
type PersonalEvent struct {
	ID            string
	UserID        string
	Title         string
	Description   string
	Location      string
	StartTime     time.Time
	EndTime       time.Time
	AllDay        bool
	GoogleEventID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
