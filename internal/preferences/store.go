// Package preferences caches per machine view preferences in memory and
// writes changed entries back to a repository on Save.
package preferences

import (
	"context"
	"fmt"
	"sync"
	"time"

	"monview/internal/domain"
	"monview/internal/logger"
	"monview/internal/repository"
)

// DefaultTimeout bounds each backend call
const DefaultTimeout = 5 * time.Second

// Store implements the synchronous preference contract of the monitoring
// view. Entries are loaded lazily and kept by machine ID.
type Store struct {
	mu      sync.Mutex
	backend repository.PreferenceRepository
	log     logger.Logger
	timeout time.Duration

	entries map[string]domain.ViewPreference
	dirty   map[string]struct{}
}

// New creates a store over backend
func New(backend repository.PreferenceRepository, log logger.Logger) *Store {
	if log == nil {
		log = logger.Noop()
	}
	return &Store{
		backend: backend,
		log:     log,
		timeout: DefaultTimeout,
		entries: make(map[string]domain.ViewPreference),
		dirty:   make(map[string]struct{}),
	}
}

// Entry returns a copy of the machine's entry. A machine without a stored
// entry, or whose entry cannot be loaded, gets an empty one.
func (s *Store) Entry(machine *domain.Machine) domain.ViewPreference {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[machine.ID]; ok {
		return e.Clone()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	entry, found, err := s.backend.LoadPreference(ctx, machine.ID)
	if err != nil {
		// not cached, so a later call retries
		s.log.Warn("load preference for %s: %v", machine.ID, err)
		return domain.NewViewPreference()
	}
	if !found {
		entry = domain.NewViewPreference()
	}
	if entry.TimeWindow == "" {
		entry.TimeWindow = domain.DefaultTimeWindow
	}
	s.entries[machine.ID] = entry.Clone()
	return entry.Clone()
}

// SetEntry replaces the machine's entry in memory
func (s *Store) SetEntry(machine *domain.Machine, entry domain.ViewPreference) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[machine.ID] = entry.Clone()
	s.dirty[machine.ID] = struct{}{}
}

// Save writes every changed entry to the backend
func (s *Store) Save() error {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make(map[string]domain.ViewPreference, len(s.dirty))
	for id := range s.dirty {
		batch[id] = s.entries[id].Clone()
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.backend.SavePreferences(ctx, batch); err != nil {
		s.mu.Lock()
		for id := range batch {
			s.dirty[id] = struct{}{}
		}
		s.mu.Unlock()
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// Forget drops a cached entry so the next Entry reloads it
func (s *Store) Forget(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, machineID)
	delete(s.dirty, machineID)
}

// Snapshot returns copies of all cached entries
func (s *Store) Snapshot() map[string]domain.ViewPreference {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ViewPreference, len(s.entries))
	for id, e := range s.entries {
		out[id] = e.Clone()
	}
	return out
}
