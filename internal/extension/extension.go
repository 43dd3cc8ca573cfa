package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	plua "github.com/mralfiem591/paxd/internal/extension/lua"
)

// Host is one installed extension: its manifest, on-disk location, state,
// and lazily created Lua runtime. It implements trigger.Handle.
type Host struct {
	mu sync.RWMutex

	name     string
	manifest *Manifest
	dir      string
	dataDir  string

	state   State
	runtime *plua.State

	logger *slog.Logger
}

// NewHost creates a host for a validated manifest. The runtime is created
// on first invocation, so installing a broken extension surfaces the fault
// in its outcome, never in the install itself.
func NewHost(manifest *Manifest, dataDir string, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		name:     manifest.Name,
		manifest: manifest,
		dir:      manifest.Path(),
		dataDir:  dataDir,
		state:    StateInstalled,
		logger:   logger,
	}
}

// Name returns the extension's unique name.
func (h *Host) Name() string {
	return h.name
}

// Manifest returns the extension's manifest.
func (h *Host) Manifest() *Manifest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.manifest
}

// Dir returns the extension's install directory.
func (h *Host) Dir() string {
	return h.dir
}

// DataDir returns the extension's private writable directory.
func (h *Host) DataDir() string {
	return h.dataDir
}

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// setState transitions the lifecycle state. Only the Manager calls this.
func (h *Host) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// Invoke implements trigger.Handle: it runs the extension's on_trigger
// handler inside the sandbox with the given time budget.
func (h *Host) Invoke(ctx context.Context, trigger string, payload map[string]any, budget time.Duration) error {
	rt, err := h.ensureRuntime()
	if err != nil {
		return fmt.Errorf("extension %s: %w", h.name, err)
	}
	return rt.InvokeTrigger(ctx, trigger, payload, budget)
}

// ensureRuntime lazily creates and loads the sandboxed Lua state.
func (h *Host) ensureRuntime() (*plua.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.runtime != nil {
		return h.runtime, nil
	}

	rt, err := plua.NewState(
		plua.WithDataDir(h.dataDir),
		plua.WithLogger(h.logger.With("extension", h.name)),
	)
	if err != nil {
		return nil, err
	}

	if err := rt.LoadEntry(h.manifest.EntryPath()); err != nil {
		rt.Close()
		return nil, err
	}

	h.runtime = rt
	return rt, nil
}

// Close releases the Lua runtime. The host may be invoked again afterwards;
// a fresh runtime is created on demand.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.runtime != nil {
		h.runtime.Close()
		h.runtime = nil
	}
}

// Info is the list() projection of a host.
type Info struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	State    string   `json:"state"`
	Triggers []string `json:"triggers"`
}

// Info returns the host's management-surface projection.
func (h *Host) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	triggers := make([]string, len(h.manifest.Triggers))
	copy(triggers, h.manifest.Triggers)

	return Info{
		Name:     h.name,
		Version:  h.manifest.Version,
		State:    h.state.String(),
		Triggers: triggers,
	}
}
