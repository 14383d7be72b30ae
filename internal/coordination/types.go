// Package coordination defines the domain of Axon's coordination engine:
// the task state machine and its transition table, the Task/TaskMessage/
// WorkSession types, and the typed error taxonomy. The claim protocol and
// message storage are implemented in internal/store and driven by
// internal/engine.
package coordination

import "time"

// TaskState is one of the six states in the task lifecycle.
type TaskState string

const (
	StateCreated    TaskState = "Created"
	StateInProgress TaskState = "InProgress"
	StateBlocked    TaskState = "Blocked"
	StateReview     TaskState = "Review"
	StateDone       TaskState = "Done"
	StateArchived   TaskState = "Archived"
)

// Task is the unit of coordinated work.
type Task struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Owner       *string
	State       TaskState
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DoneAt      *time.Time
	ArchivedAt  *time.Time
}

// TaskMessage is an append-only communication scoped to one task.
type TaskMessage struct {
	ID        int64
	TaskID    int64
	Author    string
	Target    *string
	Kind      string
	Content   string
	ReplyTo   *int64
	CreatedAt time.Time
}

// WorkSession is a timestamped record of an agent's focused effort.
type WorkSession struct {
	ID                int64
	TaskID            int64
	Agent             string
	StartedAt         time.Time
	EndedAt           *time.Time
	Notes             *string
	ProductivityScore *float64
}

// well-known message kinds; any other 1-32 char string is accepted as a
// custom kind (see internal/validate).
const (
	KindHandoff  = "handoff"
	KindQuestion = "question"
	KindComment  = "comment"
	KindSolution = "solution"
	KindBlocker  = "blocker"
)

// validTransitions encodes the canonical table in spec §4.2. Entries not
// present here are illegal. InProgress->Created is intentionally absent:
// it is reachable only through ReleaseTask, never through SetTaskState.
var validTransitions = map[TaskState]map[TaskState]bool{
	StateCreated:    {StateInProgress: true},
	StateInProgress: {StateBlocked: true, StateReview: true, StateDone: true},
	StateBlocked:    {StateInProgress: true},
	StateReview:     {StateInProgress: true, StateDone: true},
	StateDone:       {StateArchived: true},
	StateArchived:   {},
}

func isLegalTransition(from, to TaskState) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// IsLegalTransition reports whether (from, to) appears in the canonical
// transition table. Exported for the engine package, which owns the
// decision of when a transition is attempted.
func IsLegalTransition(from, to TaskState) bool {
	return isLegalTransition(from, to)
}
