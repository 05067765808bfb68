package game

import (
	"fmt"
	"sort"
	"sync"

	"wager-engine/internal/model"
)

// Registry holds the managers the scheduler drives, keyed by mode.
type Registry struct {
	managers map[model.Mode]Manager
	mu       sync.RWMutex
}

// NewRegistry creates a new manager registry.
func NewRegistry() *Registry {
	return &Registry{
		managers: make(map[model.Mode]Manager),
	}
}

// Register adds a manager to the registry.
// If a manager for the same mode already exists, it will be replaced.
func (r *Registry) Register(m Manager) error {
	if m == nil {
		return fmt.Errorf("cannot register nil manager")
	}
	if m.Mode() == "" {
		return fmt.Errorf("manager mode cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.managers[m.Mode()] = m
	return nil
}

// Get retrieves the manager of a mode.
func (r *Registry) Get(mode model.Mode) (Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[mode]
	return m, ok
}

// List returns all registered managers ordered by mode.
// The returned slice is a copy, so modifications won't affect the registry.
func (r *Registry) List() []Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	managers := make([]Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	sort.Slice(managers, func(i, j int) bool { return managers[i].Mode() < managers[j].Mode() })
	return managers
}

// Modes returns all registered modes, sorted.
func (r *Registry) Modes() []model.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]model.Mode, 0, len(r.managers))
	for mode := range r.managers {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// Count returns the number of registered managers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.managers)
}

// Unregister removes the manager of a mode.
// Returns true if the manager was found and removed, false otherwise.
func (r *Registry) Unregister(mode model.Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.managers[mode]; ok {
		delete(r.managers, mode)
		return true
	}
	return false
}
