package rest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/metal-stack/failover/pkg/healthstatus"
	"github.com/metal-stack/failover/pkg/units"
)

// ErrUnknownComponent is returned for names that were never registered.
var ErrUnknownComponent = errors.New("unknown component")

// Action is invoked on POST requests to a component. It returns whether the
// action was granted; an error means it could not be carried out.
type Action func(ctx context.Context) (bool, error)

// Registry maps component names to their checks and POST actions.
type Registry struct {
	lock    sync.RWMutex
	checks  map[string]healthstatus.HealthCheck
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{
		checks:  map[string]healthstatus.HealthCheck{},
		actions: map[string]Action{},
	}
}

// AddComponent registers check and onPost under name, both are optional but
// not both at once. Registering a name again overwrites the given parts.
func (r *Registry) AddComponent(name string, check healthstatus.HealthCheck, onPost Action) error {
	if name == "" {
		return fmt.Errorf("%w: component name must not be empty", units.ErrInvalidArgument)
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: component name %q must not start with /", units.ErrInvalidArgument, name)
	}
	if check == nil && onPost == nil {
		return fmt.Errorf("%w: component %q needs a check or an action", units.ErrInvalidArgument, name)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if check != nil {
		r.checks[name] = check
	}
	if onPost != nil {
		r.actions[name] = onPost
	}
	return nil
}

// Check returns the check registered for name.
func (r *Registry) Check(name string) (healthstatus.HealthCheck, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	hc, ok := r.checks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	return hc, nil
}

// Action returns the POST action registered for name.
func (r *Registry) Action(name string) (Action, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	a, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, name)
	}
	return a, nil
}

// Names returns the sorted names of all components with a check.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
