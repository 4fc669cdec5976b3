package completion

import (
	"sort"
	"sync"
	"time"

	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
)

// MemoryStore implements the completion.Store interface using a standard Go
// map protected by a sync.RWMutex for thread-safety. It provides a volatile
// store suitable for tests and dry runs; nothing survives process restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]fileRecord
}

// NewMemoryStore creates and initializes a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]fileRecord),
	}
}

// IsDone reports whether the (instance, task, date) record is marked done.
// It is thread-safe due to the read lock.
func (s *MemoryStore) IsDone(instance, task, date string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks, ok := s.data[instance]
	if !ok {
		return false, nil
	}
	rec, ok := tasks[task]
	if !ok {
		return false, nil
	}
	return rec.Date == date, nil
}

// MarkDone records the (instance, task, date) fact. The second call for the
// same key and date is a no-op and returns false.
func (s *MemoryStore) MarkDone(instance, task, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, ok := s.data[instance]
	if !ok {
		tasks = make(map[string]fileRecord)
		s.data[instance] = tasks
	}
	if rec, exists := tasks[task]; exists && rec.Date == date {
		return false, nil
	}
	tasks[task] = fileRecord{Date: date, UpdatedAt: time.Now().UTC()}
	return true, nil
}

// Reset clears completion records with the same scoping rules as FileStore.
func (s *MemoryStore) Reset(instance, task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case instance == "" && task == "":
		s.data = make(map[string]map[string]fileRecord)
	case task == "":
		delete(s.data, instance)
	case instance == "":
		for _, tasks := range s.data {
			delete(tasks, task)
		}
	default:
		if tasks, ok := s.data[instance]; ok {
			delete(tasks, task)
		}
	}
	return nil
}

// Records returns a snapshot of all records, sorted by instance then task.
func (s *MemoryStore) Records() ([]completion.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []completion.Record
	for instance, tasks := range s.data {
		for task, rec := range tasks {
			records = append(records, completion.Record{
				Instance:  instance,
				Task:      task,
				Date:      rec.Date,
				UpdatedAt: rec.UpdatedAt,
			})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Instance != records[j].Instance {
			return records[i].Instance < records[j].Instance
		}
		return records[i].Task < records[j].Task
	})
	return records, nil
}

// Close is a no-op for the MemoryStore as there are no external resources.
func (s *MemoryStore) Close() error {
	return nil
}

// Compile-time check to ensure MemoryStore implements the public store interface.
var _ completion.Store = (*MemoryStore)(nil)
