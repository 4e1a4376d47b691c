package todo_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sharedtodo/internal/db"
	"sharedtodo/pkg/todo"
)

func openSQLite(t *testing.T, opts ...todo.Option) (*todo.SQLiteStore, *sql.DB) {
	t.Helper()
	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "todo.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := todo.NewSQLiteStore(sqlDB, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, sqlDB
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock func() time.Time) todo.Store {
		s, _ := openSQLite(t, todo.WithClock(clock))
		return s
	})
}

func columnNames(t *testing.T, sqlDB *sql.DB, table string) []string {
	t.Helper()
	rows, err := sqlDB.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table info %s: %v", table, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan column: %v", err)
		}
		names = append(names, name)
	}
	return names
}

func TestSQLiteMigrateAddsLastUpdatedToLegacyTable(t *testing.T) {
	ctx := context.Background()
	s, sqlDB := openSQLite(t)

	if _, err := sqlDB.Exec(`CREATE TABLE tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_ip TEXT,
		text TEXT,
		completed INTEGER
	)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := sqlDB.Exec(`INSERT INTO tasks (user_ip, text, completed) VALUES ('1.1.1.1', 'old task', 1)`); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}
	// Older clients could store a task with no text or completion flag.
	if _, err := sqlDB.Exec(`INSERT INTO tasks (user_ip, text, completed) VALUES ('9.9.9.9', NULL, NULL)`); err != nil {
		t.Fatalf("seed legacy null row: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := todo.Setup(ctx, s); err != nil {
			t.Fatalf("setup run %d: %v", i+1, err)
		}
	}

	cols := columnNames(t, sqlDB, "tasks")
	count := 0
	for _, c := range cols {
		if c == "last_updated" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one last_updated column, got columns %v", cols)
	}

	tasks, err := s.ListTasks(ctx, "2.2.2.2")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected legacy rows preserved, got %d rows", len(tasks))
	}
	old, ok := findTask(tasks, 1)
	if !ok || old.Text != "old task" || !old.Completed || old.LastUpdated != nil {
		t.Fatalf("unexpected legacy row %+v", old)
	}
	blank, ok := findTask(tasks, 2)
	if !ok || blank.Owner != "9.9.9.9" || blank.Text != "" || blank.Completed {
		t.Fatalf("unexpected legacy null row %+v", blank)
	}
	if got, err := s.GetTask(ctx, 2, "9.9.9.9"); err != nil || got == nil {
		t.Fatalf("get legacy null row = (%+v, %v)", got, err)
	}

	// New rows sort ahead of the legacy NULL timestamp within the same bucket.
	mustInsert(t, s, "1.1.1.1", "new task")
	assertOrder(t, texts(mustList(t, s, "1.1.1.1")), []string{"new task", "old task", ""})
}

func TestSQLiteSetupCreatesTablesOnce(t *testing.T) {
	ctx := context.Background()
	s, sqlDB := openSQLite(t)
	for i := 0; i < 2; i++ {
		if err := todo.Setup(ctx, s); err != nil {
			t.Fatalf("setup run %d: %v", i+1, err)
		}
	}
	var n int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('tasks', 'users')`).Scan(&n); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 tables, got %d", n)
	}
}

func TestSQLiteStoreUnavailableAfterClose(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	if err := todo.Setup(ctx, s); err != nil {
		t.Fatalf("setup: %v", err)
	}
	_ = s.Close()

	if _, err := s.InsertTask(ctx, "1.1.1.1", "late"); !errors.Is(err, todo.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.ListTasks(ctx, "1.1.1.1"); !errors.Is(err, todo.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable from list, got %v", err)
	}
}
