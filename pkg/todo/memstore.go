package todo

import (
	"context"
	"sync"
	"time"
)

// MemStore keeps tasks in process memory. It is the "memory" backend and
// the fixture for service and HTTP tests; data does not survive restart.
type MemStore struct {
	mu     sync.Mutex
	opts   options
	nextID int64
	tasks  []Task
	names  map[string]string
}

// NewMemStore creates an empty MemStore.
func NewMemStore(opts ...Option) *MemStore {
	return &MemStore{opts: buildOptions(opts), names: make(map[string]string)}
}

func (s *MemStore) EnsureSchema(context.Context) error { return nil }
func (s *MemStore) Migrate(context.Context) error      { return nil }
func (s *MemStore) Ping(context.Context) error         { return nil }
func (s *MemStore) Close() error                       { return nil }

func (s *MemStore) InsertTask(_ context.Context, owner, text string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.opts.now().UTC().Truncate(time.Millisecond)
	s.tasks = append(s.tasks, Task{ID: s.nextID, Owner: owner, Text: text, LastUpdated: &now})
	return s.nextID, nil
}

func (s *MemStore) UpdateTaskCompletion(_ context.Context, id int64, owner string, completed bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOwned(id, owner)
	if i < 0 {
		return 0, nil
	}
	now := s.opts.now().UTC().Truncate(time.Millisecond)
	s.tasks[i].Completed = completed
	s.tasks[i].LastUpdated = &now
	return 1, nil
}

func (s *MemStore) DeleteTask(_ context.Context, id int64, owner string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOwned(id, owner)
	if i < 0 {
		return 0, nil
	}
	s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
	return 1, nil
}

func (s *MemStore) GetTask(_ context.Context, id int64, owner string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOwned(id, owner)
	if i < 0 {
		return nil, nil
	}
	t := s.tasks[i]
	if name, ok := s.names[owner]; ok {
		t.DisplayName = &name
	}
	return &t, nil
}

func (s *MemStore) ListTasks(_ context.Context, viewer string) ([]Task, error) {
	s.mu.Lock()
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	for i := range out {
		if name, ok := s.names[out[i].Owner]; ok {
			out[i].DisplayName = &name
		}
	}
	s.mu.Unlock()

	SortForViewer(out, viewer)
	return out, nil
}

func (s *MemStore) UpsertDisplayName(_ context.Context, identity, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[identity] = name
	return nil
}

func (s *MemStore) GetIdentity(_ context.Context, identity string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.names[identity]
	if !ok {
		return nil, nil
	}
	return &Identity{ID: identity, DisplayName: &name}, nil
}

func (s *MemStore) indexOwned(id int64, owner string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id && s.tasks[i].Owner == owner {
			return i
		}
	}
	return -1
}
