package todo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
	opts options
}

// NewPgStore creates a PgStore. The pool is owned by the store and released by Close.
func NewPgStore(pool *pgxpool.Pool, opts ...Option) *PgStore {
	return &PgStore{pool: pool, opts: buildOptions(opts)}
}

// EnsureSchema creates the tasks and users tables if they don't exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id           BIGSERIAL PRIMARY KEY,
			user_ip      TEXT NOT NULL,
			text         TEXT NOT NULL,
			completed    BOOLEAN NOT NULL DEFAULT FALSE,
			last_updated BIGINT
		)`)
	if err != nil {
		return unavailable("create tasks table", err)
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			ip           TEXT PRIMARY KEY,
			display_name TEXT
		)`)
	if err != nil {
		return unavailable("create users table", err)
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_user_ip ON tasks(user_ip)`)
	if err != nil {
		return unavailable("create tasks index", err)
	}
	return nil
}

// Migrate adds tasks.last_updated to tables created before it existed.
func (s *PgStore) Migrate(ctx context.Context) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = 'tasks' AND column_name = 'last_updated'
		)`).Scan(&exists)
	if err != nil {
		return unavailable("inspect tasks columns", err)
	}
	if exists {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `ALTER TABLE tasks ADD COLUMN IF NOT EXISTS last_updated BIGINT`); err != nil {
		return unavailable("add tasks.last_updated", err)
	}
	return nil
}

// InsertTask creates an incomplete task owned by owner.
func (s *PgStore) InsertTask(ctx context.Context, owner, text string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (user_ip, text, completed, last_updated)
		VALUES ($1, $2, FALSE, $3)
		RETURNING id`,
		owner, text, toMillis(s.opts.now())).Scan(&id)
	if err != nil {
		return 0, unavailable("insert task", err)
	}
	return id, nil
}

// UpdateTaskCompletion sets completed on a task owned by owner.
func (s *PgStore) UpdateTaskCompletion(ctx context.Context, id int64, owner string, completed bool) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET completed = $1, last_updated = $2
		WHERE id = $3 AND user_ip = $4`,
		completed, toMillis(s.opts.now()), id, owner)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("update task %d", id), err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTask removes a task owned by owner.
func (s *PgStore) DeleteTask(ctx context.Context, id int64, owner string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_ip = $2`, id, owner)
	if err != nil {
		return 0, unavailable(fmt.Sprintf("delete task %d", id), err)
	}
	return tag.RowsAffected(), nil
}

// ListTasks returns all tasks joined with their owner's display name.
func (s *PgStore) ListTasks(ctx context.Context, viewer string) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.user_ip, t.text, t.completed, t.last_updated, u.display_name
		FROM tasks t LEFT JOIN users u ON t.user_ip = u.ip
		ORDER BY `+fmt.Sprintf(listOrder, "$1"), viewer)
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
func (s *PgStore) GetTask(ctx context.Context, id int64, owner string) (*Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.user_ip, t.text, t.completed, t.last_updated, u.display_name
		FROM tasks t LEFT JOIN users u ON t.user_ip = u.ip
		WHERE t.id = $1 AND t.user_ip = $2`, id, owner)
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
func (s *PgStore) UpsertDisplayName(ctx context.Context, identity, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (ip, display_name) VALUES ($1, $2)
		ON CONFLICT (ip) DO UPDATE SET display_name = EXCLUDED.display_name`,
		identity, name)
	if err != nil {
		return unavailable("upsert display name", err)
	}
	return nil
}

// GetIdentity returns the stored identity row, or nil when there is none.
func (s *PgStore) GetIdentity(ctx context.Context, identity string) (*Identity, error) {
	var rec Identity
	err := s.pool.QueryRow(ctx, `SELECT ip, display_name FROM users WHERE ip = $1`, identity).
		Scan(&rec.ID, &rec.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(fmt.Sprintf("get identity %s", identity), err)
	}
	return &rec, nil
}

// Ping checks the pool can reach the server.
func (s *PgStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTaskRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var (
			t           Task
			owner, text *string
			completed   *bool
			updated     *int64
		)
		// Rows written by older clients may hold NULL in any of these.
		if err := rows.Scan(&t.ID, &owner, &text, &completed, &updated, &t.DisplayName); err != nil {
			return nil, err
		}
		if owner != nil {
			t.Owner = *owner
		}
		if text != nil {
			t.Text = *text
		}
		t.Completed = completed != nil && *completed
		t.LastUpdated = fromMillis(updated)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}
