package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                 TEXT PRIMARY KEY,
	title              TEXT NOT NULL,
	notes              TEXT NOT NULL DEFAULT '',
	tier               INTEGER NOT NULL DEFAULT 2,
	rating             REAL NOT NULL DEFAULT 1500,
	comparison_count   INTEGER NOT NULL DEFAULT 0,
	due_date           TEXT NOT NULL DEFAULT '',
	state              TEXT NOT NULL,
	start_date         TEXT NOT NULL DEFAULT '',
	delegated_to       TEXT NOT NULL DEFAULT '',
	follow_up_date     TEXT NOT NULL DEFAULT '',
	last_resurfaced_at DATETIME,
	resurface_count    INTEGER NOT NULL DEFAULT 0,
	version            INTEGER NOT NULL DEFAULT 1,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL,
	completed_at       DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);

CREATE TABLE IF NOT EXISTS dependencies (
	blocked_id  TEXT NOT NULL,
	blocking_id TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (blocked_id, blocking_id)
);

CREATE TABLE IF NOT EXISTS comparisons (
	id                  TEXT PRIMARY KEY,
	winner_id           TEXT NOT NULL,
	loser_id            TEXT NOT NULL,
	winner_rating_after REAL NOT NULL,
	loser_rating_after  REAL NOT NULL,
	created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS task_history (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	from_state TEXT NOT NULL,
	to_state   TEXT NOT NULL,
	origin     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id);

CREATE TABLE IF NOT EXISTS postponements (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const taskColumns = `id, title, notes, tier, rating, comparison_count, due_date, state,
	start_date, delegated_to, follow_up_date, last_resurfaced_at, resurface_count,
	version, created_at, updated_at, completed_at`

// dateLayout is how calendar dates (due, start, follow-up) are stored.
// The fixed-width form keeps SQL comparisons lexical.
const dateLayout = "2006-01-02"

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	loc *time.Location
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists. Calendar dates are interpreted in loc (time.Local when
// nil). The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &SQLiteStore{db: db, loc: loc}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task. A missing ID, state or rating is filled in.
func (s *SQLiteStore) Create(ctx context.Context, t *Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.State == "" {
		t.State = StateActive
	}
	if t.Rating == 0 {
		t.Rating = DefaultRating
	}
	if !t.Tier.IsValid() {
		return "", fmt.Errorf("create task: invalid tier %d", t.Tier)
	}
	if !t.State.IsValid() {
		return "", fmt.Errorf("create task: invalid state %q", t.State)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Version = 1

	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Notes, int(t.Tier), t.Rating, t.ComparisonCount,
		formatDate(t.DueDate), string(t.State),
		formatDate(t.StartDate), t.DelegatedTo, formatDate(t.FollowUpDate),
		nullTime(t.LastResurfacedAt), t.ResurfaceCount,
		t.Version, t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	return s.get(ctx, s.db, id)
}

func (s *SQLiteStore) get(ctx context.Context, q queryer, id string) (*Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	return t, err
}

// List returns tasks matching the filter, oldest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + taskColumns + " FROM tasks WHERE 1=1")
	args := []any{}

	if filter.State != nil {
		q.WriteString(" AND state=?")
		args = append(args, string(*filter.State))
	}
	q.WriteString(" ORDER BY created_at ASC, id ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}
	return s.query(ctx, q.String(), args...)
}

// ActiveTasks returns all tasks in the active state.
func (s *SQLiteStore) ActiveTasks(ctx context.Context) ([]*Task, error) {
	st := StateActive
	return s.List(ctx, Filter{State: &st})
}

// SomedayTasks returns all tasks in the someday state.
func (s *SQLiteStore) SomedayTasks(ctx context.Context) ([]*Task, error) {
	st := StateSomeday
	return s.List(ctx, Filter{State: &st})
}

// DeferredDueBy returns deferred tasks whose start date is on or before day.
func (s *SQLiteStore) DeferredDueBy(ctx context.Context, day time.Time) ([]*Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE state = ? AND start_date != '' AND start_date <= ?
		ORDER BY start_date ASC, id ASC`,
		string(StateDeferred), day.In(s.loc).Format(dateLayout))
}

// DelegatedDueBy returns delegated tasks whose follow-up date is on or before day.
func (s *SQLiteStore) DelegatedDueBy(ctx context.Context, day time.Time) ([]*Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE state = ? AND follow_up_date != '' AND follow_up_date <= ?
		ORDER BY follow_up_date ASC, id ASC`,
		string(StateDelegated), day.In(s.loc).Format(dateLayout))
}

// Update saves field edits of an existing task. Lifecycle fields are left
// alone; use Apply for those. t.Version must match the stored version.
func (s *SQLiteStore) Update(ctx context.Context, t *Task) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title=?, notes=?, tier=?, rating=?, comparison_count=?, due_date=?,
			updated_at=?, version=version+1
		WHERE id=? AND version=?`,
		t.Title, t.Notes, int(t.Tier), t.Rating, t.ComparisonCount, formatDate(t.DueDate),
		now, t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := s.checkWritten(ctx, s.db, res, t); err != nil {
		return err
	}
	t.UpdatedAt = now
	t.Version++
	return nil
}

// Apply commits lifecycle changes and their history events in one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, changes ...Change) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var applied []string
	var conflicts []error
	for _, c := range changes {
		t := c.Task
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET
				state=?, start_date=?, delegated_to=?, follow_up_date=?,
				last_resurfaced_at=?, resurface_count=?, completed_at=?,
				updated_at=?, version=version+1
			WHERE id=? AND version=?`,
			string(t.State), formatDate(t.StartDate), t.DelegatedTo, formatDate(t.FollowUpDate),
			nullTime(t.LastResurfacedAt), t.ResurfaceCount, nullTime(t.CompletedAt),
			t.UpdatedAt.UTC(), t.ID, t.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("apply change to %s: %w", t.ID, err)
		}
		if err := s.checkWritten(ctx, tx, res, t); err != nil {
			var stale *StaleTaskError
			var nf *NotFoundError
			if errors.As(err, &stale) || errors.As(err, &nf) {
				conflicts = append(conflicts, err)
				continue
			}
			return nil, err
		}
		if err := insertHistory(ctx, tx, c.Event); err != nil {
			return nil, err
		}
		if c.Postponement != nil {
			if err := insertPostponement(ctx, tx, *c.Postponement); err != nil {
				return nil, err
			}
		}
		applied = append(applied, t.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	for _, c := range changes {
		if slices.Contains(applied, c.Task.ID) {
			c.Task.Version++
		}
	}
	return applied, errors.Join(conflicts...)
}

// Delete removes a task and every dependency edge that references it.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &NotFoundError{ID: id}
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM dependencies WHERE blocked_id=? OR blocking_id=?", id, id); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}
	return tx.Commit()
}

// AppendHistory writes a standalone audit event.
func (s *SQLiteStore) AppendHistory(ctx context.Context, ev HistoryEvent) error {
	return insertHistory(ctx, s.db, ev)
}

// History returns the audit events of a task, oldest first.
func (s *SQLiteStore) History(ctx context.Context, taskID string) ([]HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, from_state, to_state, origin, created_at
		FROM task_history WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var events []HistoryEvent
	for rows.Next() {
		var ev HistoryEvent
		var from, to, origin string
		if err := rows.Scan(&ev.ID, &ev.TaskID, &from, &to, &origin, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.From, ev.To, ev.Origin = State(from), State(to), Origin(origin)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Edges returns every dependency edge.
func (s *SQLiteStore) Edges(ctx context.Context) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT blocked_id, blocking_id, created_at FROM dependencies ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Blocked, &e.Blocking, &e.CreatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// AddEdge persists a dependency edge. Adding an existing edge is a no-op.
func (s *SQLiteStore) AddEdge(ctx context.Context, e Edge) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO dependencies (blocked_id, blocking_id, created_at) VALUES (?,?,?)`,
		e.Blocked, e.Blocking, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert edge: %w", err)
	}
	return nil
}

// RemoveEdge deletes a dependency edge.
func (s *SQLiteStore) RemoveEdge(ctx context.Context, blocked, blocking string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dependencies WHERE blocked_id=? AND blocking_id=?`, blocked, blocking)
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &NotFoundError{Kind: "dependency", ID: blocked + " -> " + blocking}
	}
	return nil
}

// RecordComparison stores both rating updates and the comparison record in
// one transaction. Either everything is written or nothing is.
func (s *SQLiteStore) RecordComparison(ctx context.Context, winner, loser *Task, rec ComparisonRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, t := range []*Task{winner, loser} {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET rating=?, comparison_count=?, updated_at=?, version=version+1
			WHERE id=? AND version=?`,
			t.Rating, t.ComparisonCount, now, t.ID, t.Version)
		if err != nil {
			return fmt.Errorf("update rating of %s: %w", t.ID, err)
		}
		if err := s.checkWritten(ctx, tx, res, t); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO comparisons (id, winner_id, loser_id, winner_rating_after, loser_rating_after, created_at)
		VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.WinnerID, rec.LoserID, rec.WinnerRatingAfter, rec.LoserRatingAfter, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert comparison: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	winner.Version++
	loser.Version++
	winner.UpdatedAt, loser.UpdatedAt = now, now
	return nil
}

// Comparisons returns the most recent comparison records, newest first.
func (s *SQLiteStore) Comparisons(ctx context.Context, limit int) ([]ComparisonRecord, error) {
	q := `SELECT id, winner_id, loser_id, winner_rating_after, loser_rating_after, created_at
		FROM comparisons ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list comparisons: %w", err)
	}
	defer rows.Close()

	var recs []ComparisonRecord
	for rows.Next() {
		var r ComparisonRecord
		if err := rows.Scan(&r.ID, &r.WinnerID, &r.LoserID, &r.WinnerRatingAfter, &r.LoserRatingAfter, &r.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// RecordPostponement appends to the postponement history.
func (s *SQLiteStore) RecordPostponement(ctx context.Context, p Postponement) error {
	return insertPostponement(ctx, s.db, p)
}

// PostponementsSince returns postponements created at or after since.
func (s *SQLiteStore) PostponementsSince(ctx context.Context, since time.Time) ([]Postponement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, reason, created_at FROM postponements ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("list postponements: %w", err)
	}
	defer rows.Close()

	var out []Postponement
	for rows.Next() {
		var p Postponement
		var reason string
		if err := rows.Scan(&p.ID, &p.TaskID, &reason, &p.CreatedAt); err != nil {
			return nil, err
		}
		// Timestamps are filtered here; their stored text form does not sort.
		if p.CreatedAt.Before(since) {
			continue
		}
		p.Reason = PostponeReason(reason)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetMeta reads an engine bookkeeping value.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return v, true, nil
}

// SetMeta writes an engine bookkeeping value.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// queryer abstracts *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkWritten turns a zero-row version-checked update into a typed error.
func (s *SQLiteStore) checkWritten(ctx context.Context, q queryer, res sql.Result, t *Task) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE id = ?`, t.ID).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{ID: t.ID}
	}
	return &StaleTaskError{TaskID: t.ID, Version: t.Version}
}

func insertPostponement(ctx context.Context, q queryer, p Postponement) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO postponements (id, task_id, reason, created_at) VALUES (?,?,?,?)`,
		p.ID, p.TaskID, string(p.Reason), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert postponement: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, q queryer, ev HistoryEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO task_history (id, task_id, from_state, to_state, origin, created_at)
		VALUES (?,?,?,?,?,?)`,
		ev.ID, ev.TaskID, string(ev.From), string(ev.To), string(ev.Origin), ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanTask(sc scanner) (*Task, error) {
	var t Task
	var tier int
	var state, due, start, followUp string
	var resurfaced, completed sql.NullTime

	err := sc.Scan(
		&t.ID, &t.Title, &t.Notes, &tier, &t.Rating, &t.ComparisonCount, &due, &state,
		&start, &t.DelegatedTo, &followUp, &resurfaced, &t.ResurfaceCount,
		&t.Version, &t.CreatedAt, &t.UpdatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	t.Tier = Tier(tier)
	t.State = State(state)
	if t.DueDate, err = s.parseDate(due); err != nil {
		return nil, err
	}
	if t.StartDate, err = s.parseDate(start); err != nil {
		return nil, err
	}
	if t.FollowUpDate, err = s.parseDate(followUp); err != nil {
		return nil, err
	}
	if resurfaced.Valid {
		t.LastResurfacedAt = &resurfaced.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return &t, nil
}

func (s *SQLiteStore) parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation(dateLayout, v, s.loc)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", v, err)
	}
	return &d, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
