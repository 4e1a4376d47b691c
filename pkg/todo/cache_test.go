package todo_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"sharedtodo/pkg/todo"
)

// countingStore counts identity lookups that reach the backing store.
type countingStore struct {
	*todo.MemStore
	lookups int
}

func (s *countingStore) GetIdentity(ctx context.Context, identity string) (*todo.Identity, error) {
	s.lookups++
	return s.MemStore.GetIdentity(ctx, identity)
}

// pausingStore holds the first GetIdentity after it has read the store,
// until release is closed.
type pausingStore struct {
	*todo.MemStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) GetIdentity(ctx context.Context, identity string) (*todo.Identity, error) {
	rec, err := s.MemStore.GetIdentity(ctx, identity)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return rec, err
}

func newCache(t *testing.T) (*todo.Cache, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	base := &countingStore{MemStore: todo.NewMemStore()}
	c := todo.NewCache(base, client, time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c, base, mr
}

func TestCacheServesRepeatLookupsFromRedis(t *testing.T) {
	ctx := context.Background()
	c, base, _ := newCache(t)
	if err := base.UpsertDisplayName(ctx, "1.1.1.1", "alice"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for i := 0; i < 3; i++ {
		rec, err := c.GetIdentity(ctx, "1.1.1.1")
		if err != nil {
			t.Fatalf("get identity: %v", err)
		}
		if rec == nil || rec.DisplayName == nil || *rec.DisplayName != "alice" {
			t.Fatalf("unexpected identity %+v", rec)
		}
	}
	if base.lookups != 1 {
		t.Fatalf("expected 1 store lookup, got %d", base.lookups)
	}
}

func TestCacheRemembersMisses(t *testing.T) {
	ctx := context.Background()
	c, base, _ := newCache(t)
	for i := 0; i < 2; i++ {
		rec, err := c.GetIdentity(ctx, "9.9.9.9")
		if err != nil {
			t.Fatalf("get identity: %v", err)
		}
		if rec != nil {
			t.Fatalf("expected nil identity, got %+v", rec)
		}
	}
	if base.lookups != 1 {
		t.Fatalf("expected 1 store lookup, got %d", base.lookups)
	}
}

func TestCacheRefreshesOnUpsert(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)
	if _, err := c.GetIdentity(ctx, "1.1.1.1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if err := c.UpsertDisplayName(ctx, "1.1.1.1", "alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err := c.GetIdentity(ctx, "1.1.1.1")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if rec == nil || rec.DisplayName == nil || *rec.DisplayName != "alice" {
		t.Fatalf("stale identity after upsert: %+v", rec)
	}
}

func TestCacheSlowFillDoesNotOverwriteNewerName(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	base := &pausingStore{
		MemStore: todo.NewMemStore(),
		read:     make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := todo.NewCache(base, redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { _ = c.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.GetIdentity(ctx, "1.1.1.1")
	}()

	<-base.read
	if err := c.UpsertDisplayName(ctx, "1.1.1.1", "alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	close(base.release)
	<-done

	rec, err := c.GetIdentity(ctx, "1.1.1.1")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if rec == nil || rec.DisplayName == nil || *rec.DisplayName != "alice" {
		t.Fatalf("expected alice after upsert, got %+v", rec)
	}
}

func TestCacheEntriesExpire(t *testing.T) {
	ctx := context.Background()
	c, base, mr := newCache(t)
	if _, err := c.GetIdentity(ctx, "1.1.1.1"); err != nil {
		t.Fatalf("prime: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := c.GetIdentity(ctx, "1.1.1.1"); err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if base.lookups != 2 {
		t.Fatalf("expected refetch after ttl, got %d lookups", base.lookups)
	}
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	c, base, mr := newCache(t)
	if err := base.UpsertDisplayName(ctx, "1.1.1.1", "alice"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mr.Close()

	rec, err := c.GetIdentity(ctx, "1.1.1.1")
	if err != nil {
		t.Fatalf("get identity with redis down: %v", err)
	}
	if rec == nil || *rec.DisplayName != "alice" {
		t.Fatalf("unexpected identity %+v", rec)
	}
	if err := c.UpsertDisplayName(ctx, "1.1.1.1", "bob"); err != nil {
		t.Fatalf("upsert with redis down: %v", err)
	}
}

func TestCacheDoesNotCacheTasks(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)
	if _, err := c.InsertTask(ctx, "1.1.1.1", "first"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := len(mustList(t, c, "1.1.1.1")); got != 1 {
		t.Fatalf("expected 1 task, got %d", got)
	}
	if _, err := c.InsertTask(ctx, "1.1.1.1", "second"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := len(mustList(t, c, "1.1.1.1")); got != 2 {
		t.Fatalf("expected fresh list of 2 tasks, got %d", got)
	}
}
