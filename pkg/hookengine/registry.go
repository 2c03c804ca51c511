package hookengine

import (
	"sync"

	"github.com/google/uuid"
)

// Callback is a single registered hook. Implementations must be safe for
// concurrent use; Execute must not retain payload beyond the call.
type Callback interface {
	Execute(payload HookPayload) error
}

// CallbackFunc adapts a plain function to the Callback interface.
type CallbackFunc func(payload HookPayload) error

func (f CallbackFunc) Execute(payload HookPayload) error { return f(payload) }

type registration struct {
	id       string
	callback Callback
}

// Registry stores ordered callbacks keyed by lifecycle phase. Listing is
// a snapshot, safe to iterate while the registry mutates concurrently.
type Registry struct {
	mu    sync.RWMutex
	hooks map[HookType][]registration
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[HookType][]registration)}
}

// Register appends cb to the ordered list for typ and returns a stable
// identifier usable with Unregister.
func (r *Registry) Register(typ HookType, cb Callback) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.hooks[typ] = append(r.hooks[typ], registration{id: id, callback: cb})
	return id
}

// Unregister removes the callback with the given id from typ's list, if
// present.
func (r *Registry) Unregister(typ HookType, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.hooks[typ]
	for i, reg := range list {
		if reg.id == id {
			r.hooks[typ] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Snapshot returns the ordered callbacks currently registered for typ.
func (r *Registry) Snapshot(typ HookType) []Callback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.hooks[typ]
	out := make([]Callback, len(list))
	for i, reg := range list {
		out[i] = reg.callback
	}
	return out
}
