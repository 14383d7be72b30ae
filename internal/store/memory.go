package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/axon-run/axon/internal/coordination"
)

// MemoryStore is an in-memory Store guarded by a single writer mutex. Per
// the design notes, the claim race is resolved here the same way the
// SQLite store resolves it — a compare-and-set under lock — rather than by
// emulating MVCC.
type MemoryStore struct {
	mu sync.Mutex

	nextTaskID    int64
	nextMessageID int64
	nextSessionID int64

	tasks      map[int64]*coordination.Task
	codeIndex  map[string]int64
	messages   map[int64]*coordination.TaskMessage
	sessions   map[int64]*coordination.WorkSession
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[int64]*coordination.Task),
		codeIndex: make(map[string]int64),
		messages:  make(map[int64]*coordination.TaskMessage),
		sessions:  make(map[int64]*coordination.WorkSession),
	}
}

func (s *MemoryStore) Close() error { return nil }

func cloneTask(t *coordination.Task) *coordination.Task {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneMessage(m *coordination.TaskMessage) *coordination.TaskMessage {
	if m == nil {
		return nil
	}
	cp := *m
	return &cp
}

func cloneSession(s *coordination.WorkSession) *coordination.WorkSession {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

func (s *MemoryStore) CreateTask(_ context.Context, p NewTaskParams) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codeIndex[p.Code]; exists {
		return nil, coordination.DuplicateCodeErr(p.Code)
	}

	now := time.Now()
	s.nextTaskID++
	t := &coordination.Task{
		ID:          s.nextTaskID,
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
		Owner:       p.Owner,
		State:       coordination.StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	s.codeIndex[t.Code] = t.ID
	return cloneTask(t), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id int64, patch TaskPatch) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, coordination.NotFoundErr("task %d", id)
	}
	if t.State == coordination.StateArchived {
		return nil, coordination.InvalidStateErr("task %d is archived", id)
	}
	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.OwnerSet {
		t.Owner = patch.Owner
	}
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

func (s *MemoryStore) AssignTask(_ context.Context, id int64, owner *string) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, coordination.NotFoundErr("task %d", id)
	}
	if t.State == coordination.StateArchived {
		return nil, coordination.InvalidStateErr("task %d is archived", id)
	}
	t.Owner = owner
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

func (s *MemoryStore) TransitionTask(_ context.Context, id int64, from, to coordination.TaskState, stampDone, stampArchived bool) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, coordination.NotFoundErr("task %d", id)
	}
	if t.State != from {
		return nil, coordination.ConflictErr("wrong_state", "task %d is in state %s, not %s", id, t.State, from)
	}
	now := time.Now()
	t.State = to
	t.UpdatedAt = now
	if stampDone {
		t.DoneAt = &now
	}
	if stampArchived {
		t.ArchivedAt = &now
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) GetTaskByID(_ context.Context, id int64) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTask(s.tasks[id]), nil
}

func (s *MemoryStore) GetTaskByCode(_ context.Context, code string) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codeIndex[code]
	if !ok {
		return nil, nil
	}
	return cloneTask(s.tasks[id]), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*coordination.Task
	for _, t := range s.tasks {
		if filter.Owner != nil {
			if t.Owner == nil || *t.Owner != *filter.Owner {
				continue
			}
		}
		if filter.OwnerIsNull && t.Owner != nil {
			continue
		}
		if filter.State != nil && t.State != *filter.State {
			continue
		}
		if filter.DateFrom != nil && t.CreatedAt.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && !t.CreatedAt.Before(*filter.DateTo) {
			continue
		}
		all = append(all, t)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	limit, offset := clampLimitOffset(filter.Limit, filter.Offset)
	if offset >= len(all) {
		return []*coordination.Task{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	out := make([]*coordination.Task, 0, end-offset)
	for _, t := range all[offset:end] {
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (s *MemoryStore) ClaimTask(_ context.Context, id int64, agent string) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, coordination.NotFoundErr("task %d", id)
	}
	if t.Owner != nil {
		return nil, coordination.ConflictErr("already_claimed", "task %d already owned by %s", id, *t.Owner)
	}
	if t.State != coordination.StateCreated {
		return nil, coordination.ConflictErr("wrong_state", "task %d is in state %s", id, t.State)
	}

	now := time.Now()
	owner := agent
	t.Owner = &owner
	t.State = coordination.StateInProgress
	t.UpdatedAt = now
	return cloneTask(t), nil
}

func (s *MemoryStore) ReleaseTask(_ context.Context, id int64, agent string) (*coordination.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, coordination.NotFoundErr("task %d", id)
	}
	if t.Owner == nil || *t.Owner != agent {
		return nil, coordination.ConflictErr("not_owner", "task %d is not owned by %s", id, agent)
	}
	if t.State != coordination.StateInProgress && t.State != coordination.StateBlocked {
		return nil, coordination.ConflictErr("wrong_state", "task %d is in state %s", id, t.State)
	}

	t.Owner = nil
	t.State = coordination.StateCreated
	t.UpdatedAt = time.Now()
	return cloneTask(t), nil
}

func (s *MemoryStore) StartWorkSession(_ context.Context, taskID int64, agent string) (*coordination.WorkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, coordination.NotFoundErr("task %d", taskID)
	}
	if t.Owner == nil || *t.Owner != agent {
		return nil, coordination.ConflictErr("not_owner", "task %d is not owned by %s", taskID, agent)
	}
	if t.State != coordination.StateInProgress && t.State != coordination.StateReview {
		return nil, coordination.InvalidStateErr("task %d is in state %s", taskID, t.State)
	}

	for _, sess := range s.sessions {
		if sess.TaskID == taskID && sess.Agent == agent && sess.EndedAt == nil {
			return nil, coordination.ConflictErr("session_open", "agent %s already has an open session on task %d", agent, taskID)
		}
	}

	s.nextSessionID++
	sess := &coordination.WorkSession{
		ID:        s.nextSessionID,
		TaskID:    taskID,
		Agent:     agent,
		StartedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess
	return cloneSession(sess), nil
}

func (s *MemoryStore) EndWorkSession(_ context.Context, sessionID int64, notes *string, productivityScore *float64) (*coordination.WorkSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, coordination.NotFoundErr("session %d", sessionID)
	}
	if sess.EndedAt != nil {
		return nil, coordination.ConflictErr("already_ended", "session %d already ended", sessionID)
	}

	now := time.Now()
	if now.Before(sess.StartedAt) {
		now = sess.StartedAt
	}
	sess.EndedAt = &now
	sess.Notes = notes
	sess.ProductivityScore = productivityScore
	return cloneSession(sess), nil
}

func (s *MemoryStore) CreateTaskMessage(_ context.Context, p NewMessageParams) (*coordination.TaskMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID, ok := s.codeIndex[p.TaskCode]
	if !ok {
		return nil, coordination.NotFoundErr("task code %s", p.TaskCode)
	}
	t := s.tasks[taskID]
	if t.State == coordination.StateArchived {
		return nil, coordination.InvalidStateErr("task %s is archived", p.TaskCode)
	}

	if p.ReplyTo != nil {
		parent, ok := s.messages[*p.ReplyTo]
		if !ok || parent.TaskID != taskID {
			return nil, coordination.ValidationErr("reply_to %d does not belong to task %s", *p.ReplyTo, p.TaskCode)
		}
	}

	s.nextMessageID++
	m := &coordination.TaskMessage{
		ID:        s.nextMessageID,
		TaskID:    taskID,
		Author:    p.Author,
		Target:    p.Target,
		Kind:      p.Kind,
		Content:   p.Content,
		ReplyTo:   p.ReplyTo,
		CreatedAt: time.Now(),
	}
	s.messages[m.ID] = m
	return cloneMessage(m), nil
}

func (s *MemoryStore) GetTaskMessages(_ context.Context, filter MessageFilter) ([]*coordination.TaskMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	taskID, ok := s.codeIndex[filter.TaskCode]
	if !ok {
		return nil, coordination.NotFoundErr("task code %s", filter.TaskCode)
	}

	var all []*coordination.TaskMessage
	for _, m := range s.messages {
		if m.TaskID != taskID {
			continue
		}
		if filter.Author != nil && m.Author != *filter.Author {
			continue
		}
		// Exact match only: a null target never satisfies a target filter.
		if filter.Target != nil {
			if m.Target == nil || *m.Target != *filter.Target {
				continue
			}
		}
		if filter.Kind != nil && m.Kind != *filter.Kind {
			continue
		}
		if filter.ReplyTo != nil {
			if m.ReplyTo == nil || *m.ReplyTo != *filter.ReplyTo {
				continue
			}
		}
		all = append(all, m)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	limit, offset := clampLimitOffset(filter.Limit, filter.Offset)
	if offset >= len(all) {
		return []*coordination.TaskMessage{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	out := make([]*coordination.TaskMessage, 0, end-offset)
	for _, m := range all[offset:end] {
		out = append(out, cloneMessage(m))
	}
	return out, nil
}

func clampLimitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
