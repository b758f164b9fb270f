package router

import (
	"sort"
	"sync"

	rtsup "dayorder/internal/runtime/supervisor"
)

// SupervisorRegistry maps subsystem names to their live supervisors for
// /health and the dashboard.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers sup under name; a nil sup deletes the entry.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) { r.Set(name, nil) }

// Names returns registered names in order.
func (r *SupervisorRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *SupervisorRegistry) Get(name string) *rtsup.Supervisor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[name]
}
