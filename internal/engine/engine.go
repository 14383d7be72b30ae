// Package engine implements the operations catalog of §4.1: it composes
// validate's pure checks with a store.Store transaction per call. It
// depends on both coordination (domain types and errors) and store
// (persistence); since store already imports coordination, it is split out
// from coordination rather than living alongside the state machine it drives.
package engine

import (
	"context"

	"github.com/axon-run/axon/internal/coordination"
	"github.com/axon-run/axon/internal/store"
	"github.com/axon-run/axon/internal/validate"
)

// Engine holds no state of its own beyond the Store handle, so it is safe
// to share across goroutines — every suspension point is inside the Store.
type Engine struct {
	store store.Store
}

// New wires an engine to a store. The caller owns the Store's lifecycle
// (open/close); the engine never opens or closes it.
func New(s store.Store) *Engine {
	return &Engine{store: s}
}

// CreateTask validates code/name/description and inserts a new task in
// state Created.
func (e *Engine) CreateTask(ctx context.Context, code, name, description string, owner *string) (*coordination.Task, error) {
	if err := validate.TaskCode(code); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	if err := validate.TaskName(name); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	if err := validate.Description(description); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	if owner != nil {
		if err := validate.AgentName(*owner); err != nil {
			return nil, coordination.ValidationErr("%s", err)
		}
	}
	return e.store.CreateTask(ctx, store.NewTaskParams{
		Code: code, Name: name, Description: description, Owner: owner,
	})
}

// UpdateTaskParams carries update_task's optional fields; at least one
// must be set.
type UpdateTaskParams struct {
	Name        *string
	Description *string
	Owner       *string
	OwnerSet    bool
}

// UpdateTask applies a partial update. At least one field must be present.
func (e *Engine) UpdateTask(ctx context.Context, id int64, p UpdateTaskParams) (*coordination.Task, error) {
	if p.Name == nil && p.Description == nil && !p.OwnerSet {
		return nil, coordination.ValidationErr("update_task requires at least one field")
	}
	if p.Name != nil {
		if err := validate.TaskName(*p.Name); err != nil {
			return nil, coordination.ValidationErr("%s", err)
		}
	}
	if p.Description != nil {
		if err := validate.Description(*p.Description); err != nil {
			return nil, coordination.ValidationErr("%s", err)
		}
	}
	if p.OwnerSet && p.Owner != nil {
		if err := validate.AgentName(*p.Owner); err != nil {
			return nil, coordination.ValidationErr("%s", err)
		}
	}
	return e.store.UpdateTask(ctx, id, store.TaskPatch{
		Name: p.Name, Description: p.Description, Owner: p.Owner, OwnerSet: p.OwnerSet,
	})
}

// AssignTask sets or clears a task's owner without touching state.
func (e *Engine) AssignTask(ctx context.Context, id int64, newOwner *string) (*coordination.Task, error) {
	if newOwner != nil {
		if err := validate.AgentName(*newOwner); err != nil {
			return nil, coordination.ValidationErr("%s", err)
		}
	}
	return e.store.AssignTask(ctx, id, newOwner)
}

// SetTaskState drives the task through the state machine in §4.2, failing
// InvalidStateTransition for any (from,to) pair absent from the table.
func (e *Engine) SetTaskState(ctx context.Context, id int64, to coordination.TaskState) (*coordination.Task, error) {
	current, err := e.store.GetTaskByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, coordination.NotFoundErr("task %d", id)
	}
	if !coordination.IsLegalTransition(current.State, to) {
		return nil, coordination.InvalidStateErr("cannot transition task %d from %s to %s", id, current.State, to)
	}
	if to == coordination.StateArchived && current.State != coordination.StateDone {
		return nil, coordination.InvalidStateErr("task %d must be Done before it can be archived", id)
	}
	return e.store.TransitionTask(ctx, id, current.State, to, to == coordination.StateDone, to == coordination.StateArchived)
}

// ArchiveTask is set_task_state(id, Archived), kept distinct for wire
// compatibility (§4.1).
func (e *Engine) ArchiveTask(ctx context.Context, id int64) (*coordination.Task, error) {
	return e.SetTaskState(ctx, id, coordination.StateArchived)
}

// GetTaskByID returns nil, nil when the task does not exist (never an error).
func (e *Engine) GetTaskByID(ctx context.Context, id int64) (*coordination.Task, error) {
	return e.store.GetTaskByID(ctx, id)
}

// GetTaskByCode returns nil, nil when the task does not exist.
func (e *Engine) GetTaskByCode(ctx context.Context, code string) (*coordination.Task, error) {
	return e.store.GetTaskByCode(ctx, code)
}

// ListTasks applies AND-composed filters; limit/offset are clamped by the store.
func (e *Engine) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*coordination.Task, error) {
	return e.store.ListTasks(ctx, filter)
}

// DiscoverWork returns up to maxTasks unclaimed, Created tasks. Capabilities
// are advisory metadata the engine never interprets: they do not filter the
// result, and they are not included in the returned tasks.
func (e *Engine) DiscoverWork(ctx context.Context, agent string, capabilities []string, maxTasks int) ([]*coordination.Task, error) {
	if err := validate.AgentName(agent); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	if maxTasks <= 0 {
		maxTasks = 10
	}
	state := coordination.StateCreated
	return e.store.ListTasks(ctx, store.TaskFilter{State: &state, OwnerIsNull: true, Limit: maxTasks})
}

// ClaimTask is the linearizable compare-and-set of §4.3, resolved by the
// store: owner must be null and state must be Created.
func (e *Engine) ClaimTask(ctx context.Context, taskID int64, agent string) (*coordination.Task, error) {
	if err := validate.AgentName(agent); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	return e.store.ClaimTask(ctx, taskID, agent)
}

// ReleaseTask returns a claimed task to Created; only the current owner may
// release it.
func (e *Engine) ReleaseTask(ctx context.Context, taskID int64, agent string) (*coordination.Task, error) {
	if err := validate.AgentName(agent); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	return e.store.ReleaseTask(ctx, taskID, agent)
}

// StartWorkSession opens a session for agent on taskID; fails if one is
// already open for this (task, agent) pair.
func (e *Engine) StartWorkSession(ctx context.Context, taskID int64, agent string) (*coordination.WorkSession, error) {
	if err := validate.AgentName(agent); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	return e.store.StartWorkSession(ctx, taskID, agent)
}

// EndWorkSession closes an open session, stamping ended_at and storing the
// optional notes/score verbatim.
func (e *Engine) EndWorkSession(ctx context.Context, sessionID int64, notes *string, productivityScore *float64) (*coordination.WorkSession, error) {
	if productivityScore != nil && (*productivityScore < 0.0 || *productivityScore > 1.0) {
		return nil, coordination.ValidationErr("productivity_score must be in [0.0, 1.0], got %v", *productivityScore)
	}
	return e.store.EndWorkSession(ctx, sessionID, notes, productivityScore)
}

// CreateTaskMessage appends a message to task_code's log after resolving
// the code and validating author/target/kind/content.
func (e *Engine) CreateTaskMessage(ctx context.Context, taskCode, author string, target *string, kind, content string, replyTo *int64) (*coordination.TaskMessage, error) {
	if err := validate.AgentName(author); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	if target != nil {
		if err := validate.AgentName(*target); err != nil {
			return nil, coordination.ValidationErr("%s", err)
		}
	}
	if err := validate.MessageKind(kind); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	if err := validate.MessageContent(content); err != nil {
		return nil, coordination.ValidationErr("%s", err)
	}
	return e.store.CreateTaskMessage(ctx, store.NewMessageParams{
		TaskCode: taskCode, Author: author, Target: target, Kind: kind, Content: content, ReplyTo: replyTo,
	})
}

// GetTaskMessages lists a task's messages under AND-composed filters,
// ordered by (created_at, id). A Target filter is an exact match: broadcast
// messages (nil Target) are never included when it is set.
func (e *Engine) GetTaskMessages(ctx context.Context, filter store.MessageFilter) ([]*coordination.TaskMessage, error) {
	return e.store.GetTaskMessages(ctx, filter)
}
