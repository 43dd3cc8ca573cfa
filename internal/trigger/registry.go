package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRegistryCorrupt is returned when a mutation finds the registration
// table inconsistent. The lifecycle manager treats it as fatal for the
// extension subsystem and rebuilds from the on-disk store.
var ErrRegistryCorrupt = errors.New("trigger registry is corrupt")

// Handle is the dispatcher's view of a subscribed extension. The concrete
// type lives in the extension package; the interface keeps this package free
// of an import cycle with it.
type Handle interface {
	// Name returns the extension's unique name.
	Name() string

	// Invoke runs the extension's handler for one trigger firing. An error
	// satisfying errors.Is(err, context.DeadlineExceeded) marks a timeout;
	// any other error is a handler fault.
	Invoke(ctx context.Context, trigger string, payload map[string]any, budget time.Duration) error
}

// Registry is the registration table: trigger name to ordered subscriber
// list. Order is load/install order; updates preserve position except where
// a trigger is removed and re-added, which re-enters at the tail.
//
// Single-writer, multiple-reader: the lifecycle manager is the only writer,
// dispatchers read copy-on-read snapshots.
type Registry struct {
	mu   sync.RWMutex
	subs map[string][]Handle
}

// NewRegistry creates an empty registration table.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[string][]Handle),
	}
}

// Register appends the handle to the tail of each named trigger's list.
// Triggers the handle is already subscribed to are left untouched, so a
// re-register after an update keeps the original position.
func (r *Registry) Register(h Handle, triggers []string) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrRegistryCorrupt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range triggers {
		if r.indexOf(name, h.Name()) >= 0 {
			continue
		}
		r.subs[name] = append(r.subs[name], h)
	}
	return nil
}

// Deregister removes the named extension from the given triggers only.
func (r *Registry) Deregister(extName string, triggers []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range triggers {
		r.removeLocked(name, extName)
	}
}

// DeregisterAll removes every registration for the named extension.
func (r *Registry) DeregisterAll(extName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.subs {
		r.removeLocked(name, extName)
	}
}

// Swap replaces the handle for the named extension in every list it appears
// in, preserving position. Used by update so the new version inherits the
// old version's order for triggers it kept.
func (r *Registry) Swap(extName string, h Handle) error {
	if h == nil {
		return fmt.Errorf("%w: nil handle", ErrRegistryCorrupt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, list := range r.subs {
		if i := r.indexOf(name, extName); i >= 0 {
			list[i] = h
		}
	}
	return nil
}

// SubscribersOf returns a snapshot of the ordered subscriber list for a
// trigger. Unknown triggers return an empty slice; firing an undocumented
// trigger is legal and a no-op.
func (r *Registry) SubscribersOf(trigger string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.subs[trigger]
	out := make([]Handle, len(list))
	copy(out, list)
	return out
}

// Triggers returns the trigger names the extension is currently registered
// for. Order is unspecified.
func (r *Registry) Triggers(extName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name := range r.subs {
		if r.indexOf(name, extName) >= 0 {
			names = append(names, name)
		}
	}
	return names
}

// Reset drops every registration. Used when rebuilding from the store.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string][]Handle)
}

// Check validates internal consistency: no nil handles, no duplicate
// entries within one trigger list.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, list := range r.subs {
		seen := make(map[string]bool, len(list))
		for _, h := range list {
			if h == nil {
				return fmt.Errorf("%w: nil handle under %q", ErrRegistryCorrupt, name)
			}
			if seen[h.Name()] {
				return fmt.Errorf("%w: duplicate entry %q under %q", ErrRegistryCorrupt, h.Name(), name)
			}
			seen[h.Name()] = true
		}
	}
	return nil
}

// indexOf returns the position of extName in the trigger's list, -1 if
// absent. Callers hold at least the read lock.
func (r *Registry) indexOf(trigger, extName string) int {
	for i, h := range r.subs[trigger] {
		if h != nil && h.Name() == extName {
			return i
		}
	}
	return -1
}

// removeLocked removes extName from one trigger's list. Callers hold the
// write lock.
func (r *Registry) removeLocked(trigger, extName string) {
	list := r.subs[trigger]
	i := r.indexOf(trigger, extName)
	if i < 0 {
		return
	}
	r.subs[trigger] = append(list[:i], list[i+1:]...)
	if len(r.subs[trigger]) == 0 {
		delete(r.subs, trigger)
	}
}
