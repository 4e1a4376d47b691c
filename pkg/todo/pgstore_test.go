package todo_test

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"sharedtodo/internal/db"
	"sharedtodo/pkg/todo"
)

var (
	pgOnce      sync.Once
	pgContainer *postgres.PostgresContainer
	pgConnStr   string
	pgErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgContainer != nil {
		_ = testcontainers.TerminateContainer(pgContainer)
	}
	os.Exit(code)
}

// dockerAvailable probes the daemon up front: testcontainers panics rather
// than erroring when Docker is missing.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

// postgresURL starts one container for the whole package run.
func postgresURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	if !dockerAvailable() {
		t.Skip("Docker not available, skipping PostgreSQL integration tests")
	}
	pgOnce.Do(func() {
		ctx := context.Background()
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("todo"),
			postgres.WithUsername("todo"),
			postgres.WithPassword("todo"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			pgErr = err
			return
		}
		pgContainer = container
		pgConnStr, pgErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if pgErr != nil {
		t.Skipf("failed to start PostgreSQL container: %v", pgErr)
	}
	return pgConnStr
}

func openPg(t *testing.T, opts ...todo.Option) *todo.PgStore {
	t.Helper()
	ctx := context.Background()
	pool, err := db.Connect(ctx, postgresURL(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS tasks, users`); err != nil {
		pool.Close()
		t.Fatalf("reset tables: %v", err)
	}
	s := todo.NewPgStore(pool, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPgStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T, clock func() time.Time) todo.Store {
		return openPg(t, todo.WithClock(clock))
	})
}

func TestPgMigrateAddsLastUpdatedToLegacyTable(t *testing.T) {
	ctx := context.Background()
	s := openPg(t)
	pool, err := db.Connect(ctx, postgresURL(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `CREATE TABLE tasks (
		id BIGSERIAL PRIMARY KEY,
		user_ip TEXT NOT NULL,
		text TEXT NOT NULL,
		completed BOOLEAN NOT NULL DEFAULT FALSE
	)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO tasks (user_ip, text) VALUES ('1.1.1.1', 'old task')`); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := todo.Setup(ctx, s); err != nil {
			t.Fatalf("setup run %d: %v", i+1, err)
		}
	}

	var n int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = 'tasks' AND column_name = 'last_updated'`).Scan(&n); err != nil {
		t.Fatalf("count columns: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one last_updated column, got %d", n)
	}

	mustInsert(t, s, "1.1.1.1", "new task")
	assertOrder(t, texts(mustList(t, s, "1.1.1.1")), []string{"new task", "old task"})
}
