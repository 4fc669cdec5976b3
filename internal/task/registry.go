package task

import (
	"fmt"
	"sync"

	eperrors "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/errors"
	eptask "github.com/emupilot-labs/emupilot/pkg/emupilot/v1/task"
)

// StaticRegistry implements the task.Registry interface using a compile-time map.
// It provides thread-safe registration and retrieval of task script factories.
// This is the default registry implementation used if no other registry is provided.
type StaticRegistry struct {
	// factories maps the registered task kind (string) to its factory function.
	factories map[string]eptask.Factory
	// mu provides read/write locking to ensure thread-safe access to the factories map.
	mu sync.RWMutex
}

// NewStaticRegistry creates a new, empty static registry.
// Task scripts must be registered using the Register method before they can be retrieved.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		factories: make(map[string]eptask.Factory),
	}
}

// Register associates a task kind with its factory function.
// This function is typically called from the init() function of a task package
// or explicitly by the application wiring the registry. It enforces that kinds
// and factories are valid and prevents duplicate registrations.
func (r *StaticRegistry) Register(kind string, factory eptask.Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == "" {
		return eperrors.NewConfigError("task registration error: kind cannot be empty", nil)
	}
	if factory == nil {
		return eperrors.NewConfigError(fmt.Sprintf("task registration error for '%s': factory cannot be nil", kind), nil)
	}
	if _, exists := r.factories[kind]; exists {
		return eperrors.NewConfigError(fmt.Sprintf("task registration error: duplicate task kind '%s'", kind), nil)
	}

	r.factories[kind] = factory
	return nil
}

// Get retrieves the factory function for a given task kind.
// If the kind is not registered, it returns nil and a TaskNotFoundError.
func (r *StaticRegistry) Get(kind string) (eptask.Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[kind]
	if !exists {
		return nil, eperrors.NewTaskNotFoundError(kind)
	}
	return factory, nil
}

// List returns a slice containing the kinds of all registered task scripts.
// The order of kinds in the returned slice is not guaranteed.
func (r *StaticRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	return kinds
}

// --- Default Global Registry (for compile-time registration via init) ---

var (
	// globalRegistry holds the default registry instance used for package-level
	// registration via the global Register function.
	globalRegistry = NewStaticRegistry()
	// Compile-time check to ensure StaticRegistry correctly implements the public
	// task.Registry interface. This fails the build if the implementation drifts.
	_ eptask.Registry = (*StaticRegistry)(nil)
)

// Register globally associates a task kind with its factory function in the
// default global registry instance. This is the intended mechanism for task
// packages to self-register during program initialization via their init()
// functions. It panics on registration errors (e.g., duplicate kind) because
// init() functions run early, and such errors indicate a programming mistake
// that must be fixed.
func Register(kind string, factory eptask.Factory) {
	if err := globalRegistry.Register(kind, factory); err != nil {
		panic(fmt.Errorf("failed to register task kind '%s' globally: %w", kind, err))
	}
}

// DefaultStaticRegistryGetter provides convenient access to the global static
// registry instance, exposed as the public task.Registry interface type.
var DefaultStaticRegistryGetter eptask.Registry = globalRegistry
