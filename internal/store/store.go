// Package store defines the persistence boundary for Axon: the only
// package in the repository that touches I/O for task, message, and
// work-session state. Two implementations exist — SQLiteStore for
// deployment and MemoryStore for tests — selected behind the Store
// interface so the coordination engine never depends on either concretely.
package store

import (
	"context"
	"time"

	"github.com/axon-run/axon/internal/coordination"
)

// NewTaskParams is the input to CreateTask.
type NewTaskParams struct {
	Code        string
	Name        string
	Description string
	Owner       *string
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Name        *string
	Description *string
	Owner       *string
	OwnerSet    bool // distinguishes "clear owner" from "leave owner alone"
}

// TaskFilter composes AND-ed filters for ListTasks, per spec §4.1.
type TaskFilter struct {
	Owner       *string
	OwnerIsNull bool // true: match only tasks with no owner (e.g. discover_work)
	State       *coordination.TaskState
	DateFrom    *time.Time
	DateTo      *time.Time
	Limit       int
	Offset      int
}

// MessageFilter composes AND-ed filters for GetTaskMessages.
type MessageFilter struct {
	TaskCode string
	Author   *string
	Target   *string // exact match only; null targets never match a non-empty filter
	Kind     *string
	ReplyTo  *int64
	Limit    int
	Offset   int
}

// NewMessageParams is the input to CreateTaskMessage.
type NewMessageParams struct {
	TaskCode string
	Author   string
	Target   *string
	Kind     string
	Content  string
	ReplyTo  *int64
}

// Store is the narrow transactional boundary the engine is built on. Every
// method either commits its effect atomically and returns a result, or
// returns a *coordination.Error and leaves no observable effect.
type Store interface {
	CreateTask(ctx context.Context, p NewTaskParams) (*coordination.Task, error)
	UpdateTask(ctx context.Context, id int64, patch TaskPatch) (*coordination.Task, error)
	AssignTask(ctx context.Context, id int64, owner *string) (*coordination.Task, error)

	// TransitionTask performs a compare-and-swap from `from` to `to`. If
	// the task's current state is not `from`, it returns a Conflict error
	// (if the task exists) so the engine can distinguish a stale read from
	// a missing task. stampDone/stampArchived control whether done_at /
	// archived_at are set on success.
	TransitionTask(ctx context.Context, id int64, from, to coordination.TaskState, stampDone, stampArchived bool) (*coordination.Task, error)

	GetTaskByID(ctx context.Context, id int64) (*coordination.Task, error)
	GetTaskByCode(ctx context.Context, code string) (*coordination.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*coordination.Task, error)

	// ClaimTask is the linearizable compare-and-set described in spec §4.3:
	// it succeeds only if owner is null and state is Created.
	ClaimTask(ctx context.Context, id int64, agent string) (*coordination.Task, error)
	// ReleaseTask succeeds only if owner equals agent and state is
	// InProgress or Blocked.
	ReleaseTask(ctx context.Context, id int64, agent string) (*coordination.Task, error)

	StartWorkSession(ctx context.Context, taskID int64, agent string) (*coordination.WorkSession, error)
	EndWorkSession(ctx context.Context, sessionID int64, notes *string, productivityScore *float64) (*coordination.WorkSession, error)

	CreateTaskMessage(ctx context.Context, p NewMessageParams) (*coordination.TaskMessage, error)
	GetTaskMessages(ctx context.Context, filter MessageFilter) ([]*coordination.TaskMessage, error)

	Close() error
}
