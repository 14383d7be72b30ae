package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/axon-run/axon/internal/coordination"
)

// schema is applied at startup, forward-only, the same way the teacher's
// internal/memory.db embeds and replays its schema.sql before checking a
// version marker. Axon has only ever shipped one schema version so there
// is a single embedded statement rather than a migration chain yet; the
// schema_version table exists so a future migration has somewhere to read
// "what version is this database at" without guessing from table shape.
const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	owner TEXT,
	state TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	done_at TIMESTAMP,
	archived_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_code ON tasks(code);
CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

CREATE TABLE IF NOT EXISTS task_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL REFERENCES tasks(id),
	author TEXT NOT NULL,
	target TEXT,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	reply_to INTEGER REFERENCES task_messages(id),
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_task_created ON task_messages(task_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_task_target ON task_messages(task_id, target);
CREATE INDEX IF NOT EXISTS idx_messages_task_author ON task_messages(task_id, author);

CREATE TABLE IF NOT EXISTS work_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id INTEGER NOT NULL REFERENCES tasks(id),
	agent TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	notes TEXT,
	productivity_score REAL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open_per_agent
	ON work_sessions(task_id, agent) WHERE ended_at IS NULL;
`

// SQLiteStore implements Store atop a single *sql.DB, following the same
// shape as the teacher's internal/tasks.Store and internal/memory.SQLiteMemoryDB:
// one connection pool, schema applied eagerly, every operation a single
// statement or a short withTx block.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed store at path, applies
// the schema, and configures the connection pool per maxOpenConns (§5).
func Open(path string, maxOpenConns int) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err == nil && count == 0 {
		db.Exec("INSERT INTO schema_version (version) VALUES (1)")
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return coordination.StoreErr(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return coordination.StoreErr(err)
	}
	return nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, p NewTaskParams) (*coordination.Task, error) {
	var result *coordination.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE code = ?`, p.Code).Scan(&exists); err != nil {
			return coordination.StoreErr(err)
		}
		if exists > 0 {
			return coordination.DuplicateCodeErr(p.Code)
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (code, name, description, owner, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.Code, p.Name, p.Description, nullableString(p.Owner), string(coordination.StateCreated), now, now)
		if err != nil {
			return coordination.StoreErr(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return coordination.StoreErr(err)
		}

		result = &coordination.Task{
			ID: id, Code: p.Code, Name: p.Name, Description: p.Description,
			Owner: p.Owner, State: coordination.StateCreated,
			CreatedAt: now, UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, patch TaskPatch) (*coordination.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?`, id).Scan(&state)
		if err == sql.ErrNoRows {
			return coordination.NotFoundErr("task %d", id)
		}
		if err != nil {
			return coordination.StoreErr(err)
		}
		if coordination.TaskState(state) == coordination.StateArchived {
			return coordination.InvalidStateErr("task %d is archived", id)
		}

		now := time.Now()
		if patch.Name != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET name = ?, updated_at = ? WHERE id = ?`, *patch.Name, now, id); err != nil {
				return coordination.StoreErr(err)
			}
		}
		if patch.Description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET description = ?, updated_at = ? WHERE id = ?`, *patch.Description, now, id); err != nil {
				return coordination.StoreErr(err)
			}
		}
		if patch.OwnerSet {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET owner = ?, updated_at = ? WHERE id = ?`, nullableString(patch.Owner), now, id); err != nil {
				return coordination.StoreErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTaskByID(ctx, id)
}

func (s *SQLiteStore) AssignTask(ctx context.Context, id int64, owner *string) (*coordination.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var state string
		err := tx.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = ?`, id).Scan(&state)
		if err == sql.ErrNoRows {
			return coordination.NotFoundErr("task %d", id)
		}
		if err != nil {
			return coordination.StoreErr(err)
		}
		if coordination.TaskState(state) == coordination.StateArchived {
			return coordination.InvalidStateErr("task %d is archived", id)
		}
		_, err = tx.ExecContext(ctx, `UPDATE tasks SET owner = ?, updated_at = ? WHERE id = ?`, nullableString(owner), time.Now(), id)
		if err != nil {
			return coordination.StoreErr(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTaskByID(ctx, id)
}

func (s *SQLiteStore) TransitionTask(ctx context.Context, id int64, from, to coordination.TaskState, stampDone, stampArchived bool) (*coordination.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		setClauses := []string{"state = ?", "updated_at = ?"}
		args := []interface{}{string(to), now}
		if stampDone {
			setClauses = append(setClauses, "done_at = ?")
			args = append(args, now)
		}
		if stampArchived {
			setClauses = append(setClauses, "archived_at = ?")
			args = append(args, now)
		}
		args = append(args, id, string(from))

		q := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ? AND state = ?`, strings.Join(setClauses, ", "))
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return coordination.StoreErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return coordination.StoreErr(err)
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
				return coordination.StoreErr(err)
			}
			if exists == 0 {
				return coordination.NotFoundErr("task %d", id)
			}
			return coordination.ConflictErr("wrong_state", "task %d is not in state %s", id, from)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTaskByID(ctx, id)
}

func (s *SQLiteStore) GetTaskByID(ctx context.Context, id int64) (*coordination.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coordination.StoreErr(err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTaskByCode(ctx context.Context, code string) (*coordination.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectCols+` FROM tasks WHERE code = ?`, code)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, coordination.StoreErr(err)
	}
	return t, nil
}

const taskSelectCols = `SELECT id, code, name, description, owner, state, created_at, updated_at, done_at, archived_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*coordination.Task, error) {
	var t coordination.Task
	var owner, state string
	var ownerNull sql.NullString
	var doneAt, archivedAt sql.NullTime

	if err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Description, &ownerNull, &state, &t.CreatedAt, &t.UpdatedAt, &doneAt, &archivedAt); err != nil {
		return nil, err
	}
	if ownerNull.Valid {
		owner = ownerNull.String
		t.Owner = &owner
	}
	t.State = coordination.TaskState(state)
	if doneAt.Valid {
		dt := doneAt.Time
		t.DoneAt = &dt
	}
	if archivedAt.Valid {
		at := archivedAt.Time
		t.ArchivedAt = &at
	}
	return &t, nil
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*coordination.Task, error) {
	q := taskSelectCols + ` FROM tasks WHERE 1=1`
	var args []interface{}

	if filter.Owner != nil {
		q += ` AND owner = ?`
		args = append(args, *filter.Owner)
	}
	if filter.OwnerIsNull {
		q += ` AND owner IS NULL`
	}
	if filter.State != nil {
		q += ` AND state = ?`
		args = append(args, string(*filter.State))
	}
	if filter.DateFrom != nil {
		q += ` AND created_at >= ?`
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q += ` AND created_at < ?`
		args = append(args, *filter.DateTo)
	}

	limit, offset := clampLimitOffset(filter.Limit, filter.Offset)
	q += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, coordination.StoreErr(err)
	}
	defer rows.Close()

	var out []*coordination.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, coordination.StoreErr(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, coordination.StoreErr(err)
	}
	if out == nil {
		out = []*coordination.Task{}
	}
	return out, nil
}

func (s *SQLiteStore) ClaimTask(ctx context.Context, id int64, agent string) (*coordination.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Single UPDATE with the precondition baked into the WHERE clause
		// (spec §4.3 option (a)): zero rows affected means someone else
		// already claimed it, or it was never claimable.
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET owner = ?, state = ?, updated_at = ?
			WHERE id = ? AND owner IS NULL AND state = ?
		`, agent, string(coordination.StateInProgress), time.Now(), id, string(coordination.StateCreated))
		if err != nil {
			return coordination.StoreErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return coordination.StoreErr(err)
		}
		if n == 0 {
			var owner sql.NullString
			var state string
			scanErr := tx.QueryRowContext(ctx, `SELECT owner, state FROM tasks WHERE id = ?`, id).Scan(&owner, &state)
			if scanErr == sql.ErrNoRows {
				return coordination.NotFoundErr("task %d", id)
			}
			if scanErr != nil {
				return coordination.StoreErr(scanErr)
			}
			if owner.Valid {
				return coordination.ConflictErr("already_claimed", "task %d already owned by %s", id, owner.String)
			}
			return coordination.ConflictErr("wrong_state", "task %d is in state %s", id, state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTaskByID(ctx, id)
}

func (s *SQLiteStore) ReleaseTask(ctx context.Context, id int64, agent string) (*coordination.Task, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET owner = NULL, state = ?, updated_at = ?
			WHERE id = ? AND owner = ? AND state IN (?, ?)
		`, string(coordination.StateCreated), time.Now(), id, agent,
			string(coordination.StateInProgress), string(coordination.StateBlocked))
		if err != nil {
			return coordination.StoreErr(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return coordination.StoreErr(err)
		}
		if n == 0 {
			var owner sql.NullString
			var state string
			scanErr := tx.QueryRowContext(ctx, `SELECT owner, state FROM tasks WHERE id = ?`, id).Scan(&owner, &state)
			if scanErr == sql.ErrNoRows {
				return coordination.NotFoundErr("task %d", id)
			}
			if scanErr != nil {
				return coordination.StoreErr(scanErr)
			}
			if !owner.Valid || owner.String != agent {
				return coordination.ConflictErr("not_owner", "task %d is not owned by %s", id, agent)
			}
			return coordination.ConflictErr("wrong_state", "task %d is in state %s", id, state)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTaskByID(ctx, id)
}

func (s *SQLiteStore) StartWorkSession(ctx context.Context, taskID int64, agent string) (*coordination.WorkSession, error) {
	var result *coordination.WorkSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var owner sql.NullString
		var state string
		scanErr := tx.QueryRowContext(ctx, `SELECT owner, state FROM tasks WHERE id = ?`, taskID).Scan(&owner, &state)
		if scanErr == sql.ErrNoRows {
			return coordination.NotFoundErr("task %d", taskID)
		}
		if scanErr != nil {
			return coordination.StoreErr(scanErr)
		}
		if !owner.Valid || owner.String != agent {
			return coordination.ConflictErr("not_owner", "task %d is not owned by %s", taskID, agent)
		}
		st := coordination.TaskState(state)
		if st != coordination.StateInProgress && st != coordination.StateReview {
			return coordination.InvalidStateErr("task %d is in state %s", taskID, state)
		}

		// Relies on the partial unique index (task_id, agent) WHERE
		// ended_at IS NULL to make this check atomic under concurrent
		// inserts; the explicit guard below gives a typed Conflict
		// instead of surfacing the raw UNIQUE constraint error.
		var openCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM work_sessions WHERE task_id = ? AND agent = ? AND ended_at IS NULL
		`, taskID, agent).Scan(&openCount); err != nil {
			return coordination.StoreErr(err)
		}
		if openCount > 0 {
			return coordination.ConflictErr("session_open", "agent %s already has an open session on task %d", agent, taskID)
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO work_sessions (task_id, agent, started_at) VALUES (?, ?, ?)
		`, taskID, agent, now)
		if err != nil {
			return coordination.StoreErr(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return coordination.StoreErr(err)
		}
		result = &coordination.WorkSession{ID: id, TaskID: taskID, Agent: agent, StartedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) EndWorkSession(ctx context.Context, sessionID int64, notes *string, productivityScore *float64) (*coordination.WorkSession, error) {
	var result *coordination.WorkSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var taskID int64
		var agent string
		var startedAt time.Time
		var endedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT task_id, agent, started_at, ended_at FROM work_sessions WHERE id = ?
		`, sessionID).Scan(&taskID, &agent, &startedAt, &endedAt)
		if err == sql.ErrNoRows {
			return coordination.NotFoundErr("session %d", sessionID)
		}
		if err != nil {
			return coordination.StoreErr(err)
		}
		if endedAt.Valid {
			return coordination.ConflictErr("already_ended", "session %d already ended", sessionID)
		}

		now := time.Now()
		if now.Before(startedAt) {
			now = startedAt
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE work_sessions SET ended_at = ?, notes = ?, productivity_score = ? WHERE id = ?
		`, now, nullableString(notes), nullableFloat(productivityScore), sessionID)
		if err != nil {
			return coordination.StoreErr(err)
		}

		result = &coordination.WorkSession{
			ID: sessionID, TaskID: taskID, Agent: agent, StartedAt: startedAt,
			EndedAt: &now, Notes: notes, ProductivityScore: productivityScore,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) CreateTaskMessage(ctx context.Context, p NewMessageParams) (*coordination.TaskMessage, error) {
	var result *coordination.TaskMessage
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var taskID int64
		var state string
		err := tx.QueryRowContext(ctx, `SELECT id, state FROM tasks WHERE code = ?`, p.TaskCode).Scan(&taskID, &state)
		if err == sql.ErrNoRows {
			return coordination.NotFoundErr("task code %s", p.TaskCode)
		}
		if err != nil {
			return coordination.StoreErr(err)
		}
		if coordination.TaskState(state) == coordination.StateArchived {
			return coordination.InvalidStateErr("task %s is archived", p.TaskCode)
		}

		if p.ReplyTo != nil {
			var parentTaskID int64
			err := tx.QueryRowContext(ctx, `SELECT task_id FROM task_messages WHERE id = ?`, *p.ReplyTo).Scan(&parentTaskID)
			if err == sql.ErrNoRows || (err == nil && parentTaskID != taskID) {
				return coordination.ValidationErr("reply_to %d does not belong to task %s", *p.ReplyTo, p.TaskCode)
			}
			if err != nil && err != sql.ErrNoRows {
				return coordination.StoreErr(err)
			}
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO task_messages (task_id, author, target, kind, content, reply_to, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, taskID, p.Author, nullableString(p.Target), p.Kind, p.Content, nullableInt64(p.ReplyTo), now)
		if err != nil {
			return coordination.StoreErr(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return coordination.StoreErr(err)
		}

		result = &coordination.TaskMessage{
			ID: id, TaskID: taskID, Author: p.Author, Target: p.Target,
			Kind: p.Kind, Content: p.Content, ReplyTo: p.ReplyTo, CreatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) GetTaskMessages(ctx context.Context, filter MessageFilter) ([]*coordination.TaskMessage, error) {
	var taskID int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM tasks WHERE code = ?`, filter.TaskCode).Scan(&taskID); err != nil {
		if err == sql.ErrNoRows {
			return nil, coordination.NotFoundErr("task code %s", filter.TaskCode)
		}
		return nil, coordination.StoreErr(err)
	}

	q := `SELECT id, task_id, author, target, kind, content, reply_to, created_at FROM task_messages WHERE task_id = ?`
	args := []interface{}{taskID}

	if filter.Author != nil {
		q += ` AND author = ?`
		args = append(args, *filter.Author)
	}
	if filter.Target != nil {
		// Exact match only; NULL targets never satisfy a target filter.
		q += ` AND target = ?`
		args = append(args, *filter.Target)
	}
	if filter.Kind != nil {
		q += ` AND kind = ?`
		args = append(args, *filter.Kind)
	}
	if filter.ReplyTo != nil {
		q += ` AND reply_to = ?`
		args = append(args, *filter.ReplyTo)
	}

	limit, offset := clampLimitOffset(filter.Limit, filter.Offset)
	q += ` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, coordination.StoreErr(err)
	}
	defer rows.Close()

	var out []*coordination.TaskMessage
	for rows.Next() {
		var m coordination.TaskMessage
		var target sql.NullString
		var replyTo sql.NullInt64
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Author, &target, &m.Kind, &m.Content, &replyTo, &m.CreatedAt); err != nil {
			return nil, coordination.StoreErr(err)
		}
		if target.Valid {
			v := target.String
			m.Target = &v
		}
		if replyTo.Valid {
			v := replyTo.Int64
			m.ReplyTo = &v
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, coordination.StoreErr(err)
	}
	if out == nil {
		out = []*coordination.TaskMessage{}
	}
	return out, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullableInt64(i *int64) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
