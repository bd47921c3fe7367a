package permission

import (
	"github.com/tms-tools/teamcal/internal/task"
)

// Role is the organization-wide role of a user.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleManager  Role = "MANAGER"
	RoleEmployee Role = "EMPLOYEE"
)

// Team roles.
const (
	TeamRoleLeader = "LEADER"
	TeamRoleMember = "MEMBER"
)

// Relationship describes how an actor relates to one task. It is assembled
// by the caller from the task record and the membership join rows, then
// turned into a task.ActorCapability once per request.
type Relationship struct {
	ActorID   string
	ActorRole Role

	CreatorID    string
	AssigneeID   string
	AssignedByID string

	TaskType       task.Type
	IsTeamMember   bool
	IsCollaborator bool
	TeamRole       string
}

// CanEditTask reports whether the actor may modify task fields.
// Admins, the creator, the assignee, the user who assigned the task and
// team leaders may edit.
func CanEditTask(rel Relationship) bool {
	if rel.ActorRole == RoleAdmin {
		return true
	}
	if rel.ActorID == rel.CreatorID || rel.ActorID == rel.AssigneeID || rel.ActorID == rel.AssignedByID {
		return true
	}
	return rel.TeamRole == TeamRoleLeader
}

// CanDeleteTask reports whether the actor may delete the task. Deletion is
// narrower than editing: only admins, the creator and team leaders.
func CanDeleteTask(rel Relationship) bool {
	if rel.ActorRole == RoleAdmin {
		return true
	}
	if rel.ActorID == rel.CreatorID {
		return true
	}
	return rel.TeamRole == TeamRoleLeader
}

// CanChangeTaskStatus reports whether the actor may move the task to a
// different status. Beyond the edit circle, team members may drive TEAM
// tasks and collaborators may drive COLLABORATION tasks.
func CanChangeTaskStatus(rel Relationship) bool {
	if rel.ActorRole == RoleAdmin {
		return true
	}
	if rel.ActorID == rel.CreatorID || rel.ActorID == rel.AssigneeID {
		return true
	}
	if rel.TeamRole == TeamRoleLeader {
		return true
	}
	switch rel.TaskType {
	case task.TypeTeam:
		return rel.IsTeamMember
	case task.TypeCollaboration:
		return rel.IsCollaborator
	}
	return false
}

// Capability evaluates every predicate once and returns the value object
// the reconciler consumes.
func Capability(rel Relationship) task.ActorCapability {
	return task.ActorCapability{
		ActorID:         rel.ActorID,
		IsAdmin:         rel.ActorRole == RoleAdmin,
		IsCreator:       rel.ActorID == rel.CreatorID,
		IsAssignee:      rel.ActorID == rel.AssigneeID,
		IsTeamMember:    rel.IsTeamMember,
		IsCollaborator:  rel.IsCollaborator,
		TeamRole:        rel.TeamRole,
		CanEdit:         CanEditTask(rel),
		CanChangeStatus: CanChangeTaskStatus(rel),
	}
}

// ForTask builds the Relationship for an actor and a task record, using the
// membership information already loaded on the task.
func ForTask(t *task.Task, actorID string, actorRole Role, teamRole string) Relationship {
	rel := Relationship{
		ActorID:      actorID,
		ActorRole:    actorRole,
		CreatorID:    t.CreatorID,
		AssigneeID:   t.AssigneeID,
		AssignedByID: t.AssignedByID,
		TaskType:     t.Type,
		TeamRole:     teamRole,
	}
	for _, m := range t.TeamMembers {
		if m.ID == actorID {
			rel.IsTeamMember = true
			break
		}
	}
	for _, c := range t.Collaborators {
		if c.ID == actorID {
			rel.IsCollaborator = true
			break
		}
	}
	return rel
}
