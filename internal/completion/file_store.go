package completion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/emupilot-labs/emupilot/pkg/emupilot/v1/completion"
	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	eplog "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/log"
)

// fileRecord is the persisted form of one (task -> completion) entry.
type fileRecord struct {
	Date      string    `json:"date"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileDocument is the on-disk JSON shape: instance -> task kind -> record,
// plus a document-level last-updated timestamp.
type fileDocument struct {
	LastUpdated *time.Time                       `json:"last_updated"`
	Instances   map[string]map[string]fileRecord `json:"instances"`
}

// FileStore implements the completion.Store interface on a single JSON file.
// All mutation happens under one write lock held only for the duration of a
// single record update (the single-writer discipline): workers for different
// instances touch disjoint keys, so the lock never becomes a cross-instance
// ordering constraint, it only keeps the file itself consistent.
// Writes go through a temp-file-then-rename sequence so a crash mid-write
// never corrupts the previous good state.
type FileStore struct {
	path string
	log  eplog.Logger

	mu  sync.Mutex
	doc fileDocument
}

// NewFileStore opens (or creates) the store at path. A missing file yields an
// empty store; an unreadable or corrupt file is logged and treated as empty
// rather than failing the run, matching the tolerance expected of a tracker
// whose absence only costs duplicate task execution.
func NewFileStore(path string, log eplog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, eperrors.NewConfigError("completion store path cannot be empty", nil)
	}
	if log == nil {
		panic("completion.NewFileStore requires a non-nil logger")
	}
	s := &FileStore{
		path: path,
		log:  log.With("component", "CompletionStore"),
		doc:  fileDocument{Instances: make(map[string]map[string]fileRecord)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warnf("Error reading completion store '%s', starting fresh: %v", path, err)
		}
		return s, nil
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warnf("Completion store '%s' is corrupt, starting fresh: %v", path, err)
		return s, nil
	}
	if doc.Instances == nil {
		doc.Instances = make(map[string]map[string]fileRecord)
	}
	s.doc = doc
	return s, nil
}

// IsDone reports whether the (instance, task, date) record is marked done.
func (s *FileStore) IsDone(instance, task, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, ok := s.doc.Instances[instance]
	if !ok {
		return false, nil
	}
	rec, ok := tasks[task]
	if !ok {
		return false, nil
	}
	return rec.Date == date, nil
}

// MarkDone atomically records the (instance, task, date) fact, persisting the
// updated document before returning. The second call for the same key and
// date is a no-op and returns false.
func (s *FileStore) MarkDone(instance, task, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, ok := s.doc.Instances[instance]
	if !ok {
		tasks = make(map[string]fileRecord)
		s.doc.Instances[instance] = tasks
	}
	if rec, exists := tasks[task]; exists && rec.Date == date {
		s.log.Debugf("Task '%s' already recorded done for instance '%s' on %s", task, instance, date)
		return false, nil
	}
	tasks[task] = fileRecord{Date: date, UpdatedAt: time.Now().UTC()}
	if err := s.persistLocked(); err != nil {
		return false, err
	}
	s.log.Infof("Marked '%s' as completed for instance '%s' on %s (UTC)", task, instance, date)
	return true, nil
}

// Reset clears completion records. An empty instance matches all instances;
// an empty task matches all task kinds.
func (s *FileStore) Reset(instance, task string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case instance == "" && task == "":
		s.doc.Instances = make(map[string]map[string]fileRecord)
	case task == "":
		delete(s.doc.Instances, instance)
	case instance == "":
		for _, tasks := range s.doc.Instances {
			delete(tasks, task)
		}
	default:
		if tasks, ok := s.doc.Instances[instance]; ok {
			delete(tasks, task)
		}
	}
	return s.persistLocked()
}

// Records returns a snapshot of all persisted records, sorted by instance
// then task for stable display.
func (s *FileStore) Records() ([]completion.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []completion.Record
	for instance, tasks := range s.doc.Instances {
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

// Close is a no-op for the FileStore; every mutation is persisted eagerly.
func (s *FileStore) Close() error {
	return nil
}

// persistLocked writes the document to disk. Callers must hold s.mu.
// The write lands in a temp file first and is renamed into place, so readers
// never observe a partially written document.
func (s *FileStore) persistLocked() error {
	now := time.Now().UTC()
	s.doc.LastUpdated = &now

	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode completion store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create completion store directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for completion store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write completion store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close completion store temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace completion store '%s': %w", s.path, err)
	}
	return nil
}

// Compile-time check to ensure FileStore implements the public store interface.
var _ completion.Store = (*FileStore)(nil)
