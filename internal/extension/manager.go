package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	goversion "github.com/hashicorp/go-version"

	"github.com/mralfiem591/paxd/internal/trigger"
)

// Manager orchestrates the extension lifecycle: install, update, uninstall,
// enable and disable. It is the sole writer of the trigger registry and the
// sole mutator of extension state; all operations serialize on one mutex.
type Manager struct {
	mu sync.Mutex

	store    *Store
	registry *trigger.Registry
	logger   *slog.Logger

	// hosts holds every known extension, including ones stuck in Failed.
	// order is install order and drives registration order on rebuild.
	hosts map[string]*Host
	order []string

	// disabled is set when the registry could not be recovered. Every
	// lifecycle operation fails with ErrSubsystemDisabled until restart.
	disabled bool

	// rename is os.Rename; tests swap it in to exercise swap failures.
	rename func(oldpath, newpath string) error
}

// NewManager creates a manager over the given store and registry.
func NewManager(store *Store, registry *trigger.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		registry: registry,
		logger:   logger,
		hosts:    make(map[string]*Host),
		rename:   os.Rename,
	}
}

// LoadInstalled repairs any interrupted install/update, scans the store and
// registers every installed extension. Invalid directories are skipped with
// a warning; a broken extension must never keep the host from starting.
func (m *Manager) LoadInstalled(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.RecoverInterrupted(m.logger)

	manifests, err := m.store.Scan(ctx, m.logger)
	if err != nil {
		return err
	}

	for _, man := range manifests {
		if _, ok := m.hosts[man.Name]; ok {
			continue
		}
		host := NewHost(man, m.store.DataDir(man.Name), m.logger)
		m.hosts[man.Name] = host
		m.order = append(m.order, man.Name)
		m.registerLocked(host)
	}

	m.logger.Info("extensions loaded", "count", len(m.hosts))
	return nil
}

// Resync reconciles the in-memory state with the store after an
// out-of-band change: extension directories dropped in by hand are
// registered (at the tail, like any fresh install), and hosts whose
// directory vanished are deregistered and forgotten. Hosts in Failed
// state are left alone; they are records, not store contents.
func (m *Manager) Resync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrSubsystemDisabled
	}

	manifests, err := m.store.Scan(ctx, m.logger)
	if err != nil {
		return err
	}

	for _, man := range manifests {
		if _, ok := m.hosts[man.Name]; ok {
			continue
		}
		host := NewHost(man, m.store.DataDir(man.Name), m.logger)
		m.hosts[man.Name] = host
		m.order = append(m.order, man.Name)
		m.registerLocked(host)
		m.logger.Info("extension appeared in store", "extension", man.Name)
	}

	for _, name := range append([]string(nil), m.order...) {
		host := m.hosts[name]
		if host == nil || host.State() == StateFailed {
			continue
		}
		if _, err := os.Stat(host.Dir()); !os.IsNotExist(err) {
			continue
		}
		m.registry.DeregisterAll(name)
		host.Close()
		delete(m.hosts, name)
		m.dropOrderLocked(name)
		m.logger.Warn("extension vanished from store", "extension", name)
	}
	return nil
}

// Install installs an extension from a local zip path or an http(s) URL.
// The archive is staged and validated before anything touches the live
// store; on any failure the store is exactly as it was.
func (m *Manager) Install(ctx context.Context, source string, overwrite bool) (*Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return nil, ErrSubsystemDisabled
	}

	staging, man, err := m.stage(ctx, source)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if existing := m.findFoldLocked(man.Name); existing != nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %q is already installed as %q", ErrNameConflict, man.Name, existing.Name())
		}
		if err := m.removeLocked(existing); err != nil {
			return nil, err
		}
	}

	live := m.store.ExtensionDir(man.Name)
	if err := os.Rename(staging, live); err != nil {
		return nil, fmt.Errorf("failed to commit extension %s: %w", man.Name, err)
	}

	dataDir := m.store.DataDir(man.Name)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir for %s: %w", man.Name, err)
	}

	committed, err := LoadManifestFromDir(live)
	if err != nil {
		return nil, err
	}

	host := NewHost(committed, dataDir, m.logger)
	m.hosts[man.Name] = host
	m.order = append(m.order, man.Name)
	m.registerLocked(host)

	m.logger.Info("extension installed", "extension", man.Name, "version", man.Version)
	return host, nil
}

// Update replaces an installed extension with a new archive. With an empty
// source the manifest's source_url is used. The swap is two-phase: the old
// version moves to trash, the staged version moves live, and the trash is
// cleared only after the swap committed. An interrupted swap is repaired by
// the next LoadInstalled.
func (m *Manager) Update(ctx context.Context, name, source string) (*Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return nil, ErrSubsystemDisabled
	}

	old, ok := m.hosts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}

	if source == "" {
		source = old.Manifest().SourceURL
	}
	if source == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSource, name)
	}

	prevState := old.State()
	old.setState(StateUpdating)

	host, err := m.updateLocked(ctx, old, prevState, source)
	if err != nil {
		// A failed rollback already moved the host to Failed; that record
		// must survive, not be reset to the pre-update state.
		if old.State() != StateFailed {
			old.setState(prevState)
		}
		return nil, err
	}
	return host, nil
}

func (m *Manager) updateLocked(ctx context.Context, old *Host, prevState State, source string) (*Host, error) {
	name := old.Name()

	staging, newMan, err := m.stage(ctx, source)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	if !strings.EqualFold(newMan.Name, name) {
		return nil, fmt.Errorf("%w: archive is %q, installed extension is %q", ErrIncompatibleManifest, newMan.Name, name)
	}
	m.warnDowngrade(name, old.Manifest().Version, newMan.Version)

	// Two-phase swap. The window with no live directory is the crash
	// exposure RecoverInterrupted repairs.
	trashRoot, err := m.store.TrashDir()
	if err != nil {
		return nil, err
	}
	trash := filepath.Join(trashRoot, trashName(name, strconv.FormatInt(time.Now().UnixNano(), 10)))

	live := old.Dir()
	old.Close()

	if err := m.rename(live, trash); err != nil {
		return nil, fmt.Errorf("failed to retire old version of %s: %w", name, err)
	}
	if err := m.rename(staging, live); err != nil {
		if restoreErr := m.rename(trash, live); restoreErr != nil {
			m.logger.Error("swap rollback failed, extension left broken",
				"extension", name, "swap_error", err, "rollback_error", restoreErr)
			m.registry.DeregisterAll(name)
			old.setState(StateFailed)
			return nil, fmt.Errorf("update swap failed and rollback failed for %s: %w", name, err)
		}
		return nil, fmt.Errorf("failed to swap in new version of %s: %w", name, err)
	}
	if err := os.RemoveAll(trash); err != nil {
		m.logger.Warn("could not clear swap trash", "extension", name, "error", err)
	}

	committed, err := LoadManifestFromDir(live)
	if err != nil {
		return nil, err
	}

	oldTriggers := old.Manifest().Triggers
	host := NewHost(committed, m.store.DataDir(name), m.logger)
	m.hosts[name] = host

	if prevState == StateDisabled {
		// Disabled stays disabled across an update, with no registrations.
		host.setState(StateDisabled)
	} else {
		m.swapRegistrationsLocked(host, oldTriggers, committed.Triggers)
	}

	m.logger.Info("extension updated",
		"extension", name, "from", old.Manifest().Version, "to", committed.Version)
	return host, nil
}

// Uninstall removes an extension: registrations first, then the install and
// data directories. If deletion fails the extension is already unreachable
// but stays recorded in Failed state rather than silently resurrecting.
func (m *Manager) Uninstall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrSubsystemDisabled
	}

	host, ok := m.hosts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}

	host.setState(StateUninstalling)
	return m.removeLocked(host)
}

// removeLocked is the shared deregister-then-delete path for Uninstall and
// overwrite installs. Deregistration comes first so no trigger can reach
// the extension mid-deletion.
func (m *Manager) removeLocked(host *Host) error {
	name := host.Name()

	m.registry.DeregisterAll(name)
	host.Close()

	var firstErr error
	for _, dir := range []string{host.Dir(), host.DataDir()} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		host.setState(StateFailed)
		m.logger.Error("extension deletion failed", "extension", name, "error", firstErr)
		return fmt.Errorf("failed to delete extension %s: %w", name, firstErr)
	}

	delete(m.hosts, name)
	m.dropOrderLocked(name)
	m.logger.Info("extension uninstalled", "extension", name)
	return nil
}

// SetEnabled flips an extension between Installed and Disabled. Files stay
// put; only registrations change. Disabled extensions re-enter every
// trigger list at the tail.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return ErrSubsystemDisabled
	}

	host, ok := m.hosts[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrExtensionNotFound, name)
	}

	if enabled {
		if host.State() != StateDisabled {
			return fmt.Errorf("%w: %s is %s", ErrNotDisabled, name, host.State())
		}
		m.registerLocked(host)
		host.setState(StateInstalled)
		m.logger.Info("extension enabled", "extension", name)
		return nil
	}

	if host.State() != StateInstalled {
		return fmt.Errorf("%w: %s is %s", ErrNotInstalled, name, host.State())
	}
	m.registry.DeregisterAll(name)
	host.Close()
	host.setState(StateDisabled)
	m.logger.Info("extension disabled", "extension", name)
	return nil
}

// Get returns the host for an exact extension name.
func (m *Manager) Get(name string) (*Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hosts[name]
	return h, ok
}

// List returns every known extension in install order, Failed ones included.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]Info, 0, len(m.order))
	for _, name := range m.order {
		if h, ok := m.hosts[name]; ok {
			infos = append(infos, h.Info())
		}
	}
	return infos
}

// Disabled reports whether the subsystem shut itself off after a registry
// failure.
func (m *Manager) Disabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// stage downloads (if remote) and extracts a source archive into a fresh
// staging directory, then validates the staged contents. The returned
// directory is the caller's to commit or discard.
func (m *Manager) stage(ctx context.Context, source string) (string, *Manifest, error) {
	staging, err := m.store.NewStagingDir()
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	archive := source
	if isRemoteSource(source) {
		archive = filepath.Join(staging, "download.zip")
		if err := fetchArchive(ctx, source, archive); err != nil {
			os.RemoveAll(staging)
			return "", nil, err
		}
	}

	if err := extractArchive(archive, staging); err != nil {
		os.RemoveAll(staging)
		return "", nil, err
	}
	if isRemoteSource(source) {
		os.Remove(archive)
	}

	man, err := inspectStaged(staging)
	if err != nil {
		os.RemoveAll(staging)
		return "", nil, err
	}
	return staging, man, nil
}

// registerLocked subscribes a host to its manifest triggers. Unknown
// trigger names register fine but are inert until a future version of the
// host fires them, so they get a warning.
func (m *Manager) registerLocked(host *Host) {
	man := host.Manifest()
	for _, t := range man.Triggers {
		if !trigger.Known(t) {
			m.logger.Warn("manifest names unknown trigger",
				"extension", host.Name(), "trigger", t)
		}
	}
	if err := m.registry.Register(host, man.Triggers); err != nil {
		m.recoverRegistryLocked(err)
	}
}

// swapRegistrationsLocked applies an update's trigger diff: kept triggers
// keep their position via Swap, dropped ones are deregistered, new ones
// append at the tail.
func (m *Manager) swapRegistrationsLocked(host *Host, oldTriggers, newTriggers []string) {
	if err := m.registry.Swap(host.Name(), host); err != nil {
		m.recoverRegistryLocked(err)
		return
	}

	newSet := make(map[string]bool, len(newTriggers))
	for _, t := range newTriggers {
		newSet[t] = true
	}

	var removed []string
	for _, t := range oldTriggers {
		if !newSet[t] {
			removed = append(removed, t)
		}
	}
	m.registry.Deregister(host.Name(), removed)

	for _, t := range newTriggers {
		if !trigger.Known(t) {
			m.logger.Warn("manifest names unknown trigger",
				"extension", host.Name(), "trigger", t)
		}
	}
	if err := m.registry.Register(host, newTriggers); err != nil {
		m.recoverRegistryLocked(err)
	}
}

// recoverRegistryLocked handles a corrupt registration table: reset it and
// rebuild from the in-memory hosts in install order. If the rebuilt table
// still fails its consistency check, the whole subsystem turns off rather
// than dispatch from bad state.
func (m *Manager) recoverRegistryLocked(cause error) {
	m.logger.Error("trigger registry corrupt, rebuilding", "error", cause)
	m.registry.Reset()

	for _, name := range m.order {
		host, ok := m.hosts[name]
		if !ok || !host.State().Active() {
			continue
		}
		if err := m.registry.Register(host, host.Manifest().Triggers); err != nil {
			m.disableSubsystemLocked(err)
			return
		}
	}

	if err := m.registry.Check(); err != nil {
		m.disableSubsystemLocked(err)
		return
	}
	m.logger.Info("trigger registry rebuilt", "extensions", len(m.order))
}

func (m *Manager) disableSubsystemLocked(cause error) {
	m.logger.Error("registry rebuild failed, disabling extension subsystem", "error", cause)
	m.registry.Reset()
	m.disabled = true
}

// findFoldLocked returns the installed host whose name matches
// case-insensitively, if any. Install treats a fold match as a conflict.
func (m *Manager) findFoldLocked(name string) *Host {
	for _, h := range m.hosts {
		if strings.EqualFold(h.Name(), name) {
			return h
		}
	}
	return nil
}

func (m *Manager) dropOrderLocked(name string) {
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// warnDowngrade logs when an update moves to an older version. Versions
// that do not parse as semver are compared by nobody; the update proceeds.
func (m *Manager) warnDowngrade(name, from, to string) {
	vFrom, err1 := goversion.NewVersion(from)
	vTo, err2 := goversion.NewVersion(to)
	if err1 != nil || err2 != nil {
		return
	}
	if vTo.LessThan(vFrom) {
		m.logger.Warn("update is a downgrade", "extension", name, "from", from, "to", to)
	}
}
