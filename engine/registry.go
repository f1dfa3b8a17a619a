package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// Constructors return these (possibly wrapped) to classify why they
	// refused to build a processor.
	ErrConstructorDenied   = errors.New("engine: processor construction denied")
	ErrConstructorArgument = errors.New("engine: invalid processor construction argument")
)

// Constructor builds a processor. It runs at most once per namespace until
// it succeeds.
type Constructor func() (Processor, error)

// Registry maps processor names to constructors. It is filled at startup
// and read concurrently afterwards.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Constructor)}
}

// Register adds name. A nil constructor is accepted and reported to callers
// as a bad constructor at invoke time.
func (r *Registry) Register(name string, c Constructor) error {
	if name == "" {
		return errors.New("engine: processor name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.m[name]; dup {
		return fmt.Errorf("engine: processor %q already registered", name)
	}
	r.m[name] = c
	return nil
}

func (r *Registry) MustRegister(name string, c Constructor) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Lookup reports the constructor and whether name is registered.
func (r *Registry) Lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.m[name]
	return c, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
