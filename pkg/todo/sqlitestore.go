package todo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore is a file-backed task store. The *sql.DB must use a SQLite
// driver (see internal/db.OpenSQLite).
type SQLiteStore struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStore creates a SQLiteStore. The handle is released by Close.
func NewSQLiteStore(db *sql.DB, opts ...Option) *SQLiteStore {
	return &SQLiteStore{db: db, opts: buildOptions(opts)}
}

// EnsureSchema creates the tasks and users tables if they don't exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_ip      TEXT,
			text         TEXT,
			completed    INTEGER,
			last_updated INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			ip           TEXT PRIMARY KEY,
			display_name TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_ip ON tasks(user_ip)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return unavailable("ensure schema", err)
		}
	}
	return nil
}

// Migrate adds tasks.last_updated to tables created before it existed.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	has, err := s.hasColumn(ctx, "tasks", "last_updated")
	if err != nil {
		return unavailable("inspect tasks columns", err)
	}
	if has {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE tasks ADD COLUMN last_updated INTEGER`); err != nil {
		return unavailable("add tasks.last_updated", err)
	}
	return nil
}

func (s *SQLiteStore) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			found = true
		}
	}
	return found, rows.Err()
}

// InsertTask creates an incomplete task owned by owner.
func (s *SQLiteStore) InsertTask(ctx context.Context, owner, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (user_ip, text, completed, last_updated) VALUES (?, ?, 0, ?)`,
		owner, text, toMillis(s.opts.now()))
	if err != nil {
		return 0, unavailable("insert task", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, unavailable("insert task", err)
	}
	return id, nil
}

// UpdateTaskCompletion sets completed on a task owned by owner.
func (s *SQLiteStore) UpdateTaskCompletion(ctx context.Context, id int64, owner string, completed bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, last_updated = ? WHERE id = ? AND user_ip = ?`,
		boolToInt(completed), toMillis(s.opts.now()), id, owner)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("update task %d", id), err)
	}
	return rowsAffected(res, fmt.Sprintf("update task %d", id))
}

// DeleteTask removes a task owned by owner.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64, owner string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_ip = ?`, id, owner)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("delete task %d", id), err)
	}
	return rowsAffected(res, fmt.Sprintf("delete task %d", id))
}

// ListTasks returns all tasks joined with their owner's display name.
func (s *SQLiteStore) ListTasks(ctx context.Context, viewer string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_ip, t.text, t.completed, t.last_updated, u.display_name
		FROM tasks t LEFT JOIN users u ON t.user_ip = u.ip
		ORDER BY `+fmt.Sprintf(listOrder, "?"), viewer)
	if err != nil {
		return nil, unavailable("list tasks", err)
	}
	defer rows.Close()

	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, unavailable("list tasks", err)
	}
	return tasks, nil
}

// GetTask returns task id if owner owns it, or nil.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64, owner string) (*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_ip, t.text, t.completed, t.last_updated, u.display_name
		FROM tasks t LEFT JOIN users u ON t.user_ip = u.ip
		WHERE t.id = ? AND t.user_ip = ?`, id, owner)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get task %d", id), err)
	}
	defer rows.Close()

	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get task %d", id), err)
	}
	return firstTask(tasks), nil
}

// UpsertDisplayName sets the display name for identity, replacing any previous one.
func (s *SQLiteStore) UpsertDisplayName(ctx context.Context, identity, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (ip, display_name) VALUES (?, ?)`, identity, name)
	if err != nil {
		return unavailable("upsert display name", err)
	}
	return nil
}

// GetIdentity returns the stored identity row, or nil when there is none.
func (s *SQLiteStore) GetIdentity(ctx context.Context, identity string) (*Identity, error) {
	var rec Identity
	err := s.db.QueryRowContext(ctx, `SELECT ip, display_name FROM users WHERE ip = ?`, identity).
		Scan(&rec.ID, &rec.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get identity %s", identity), err)
	}
	return &rec, nil
}

// Ping checks the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func rowsAffected(res sql.Result, op string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
