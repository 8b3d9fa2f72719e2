// Package file provides file-based persistence, one JSON document per record.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Eld3rt/aflow-sub000/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root             string
	workflowRepo     *WorkflowRepository
	executionRepo    *ExecutionRepository
	notificationRepo *NotificationConfigRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		workflowRepo:     NewWorkflowRepository(cleanRoot),
		executionRepo:    NewExecutionRepository(cleanRoot),
		notificationRepo: NewNotificationConfigRepository(cleanRoot),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) NotificationConfigRepository() persistence.NotificationConfigRepository {
	return fp.notificationRepo
}

// store keeps one JSON file per record in a directory.
type store struct {
	dir string
	mu  sync.RWMutex
}

func newStore(root, name string) *store {
	return &store{dir: filepath.Join(root, name)}
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: id contains invalid characters", persistence.ErrInvalidID)
	}

	return nil
}

// write replaces the record atomically: the document is written to a temp file
// in the same directory and renamed over the previous version.
func (s *store) write(id string, value any) error {
	if err := validateID(id); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = os.MkdirAll(s.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write record %s: %w", id, err)
	}

	err = os.Rename(tmpName, filepath.Join(s.dir, id+".json"))
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to replace record %s: %w", id, err)
	}

	return nil
}

// read decodes the record into dest. found is false when no record exists.
func (s *store) read(id string, dest any) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read record %s: %w", id, err)
	}

	err = json.Unmarshal(data, dest)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
	}

	return true, nil
}

func (s *store) remove(id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to delete record %s: %w", id, err)
	}

	return true, nil
}

// ids lists stored record ids in lexical order.
func (s *store) ids() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", s.dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	sort.Strings(ids)

	return ids, nil
}
