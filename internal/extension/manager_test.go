package extension

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mralfiem591/paxd/internal/trigger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *trigger.Registry, *Store) {
	t.Helper()

	root := t.TempDir()
	store, err := NewStore(filepath.Join(root, "extensions"), filepath.Join(root, "data"))
	if err != nil {
		t.Fatal(err)
	}
	reg := trigger.NewRegistry()
	return NewManager(store, reg, discardLogger()), reg, store
}

// extensionArchive builds an installable zip for a minimal extension.
func extensionArchive(t *testing.T, name, version string, triggers []string) string {
	t.Helper()

	manifest, err := json.Marshal(map[string]any{
		"name":        name,
		"version":     version,
		"description": "test extension",
		"author":      "tester",
		"triggers":    triggers,
	})
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), name+".zip")
	writeArchive(t, path, map[string]string{
		ManifestFilename: string(manifest),
		EntryFilename:    "function on_trigger(trigger, ctx) end",
	})
	return path
}

func subscriberNames(reg *trigger.Registry, trig string) []string {
	subs := reg.SubscribersOf(trig)
	names := make([]string, len(subs))
	for i, h := range subs {
		names[i] = h.Name()
	}
	return names
}

func namesEqual(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestInstallAndList(t *testing.T) {
	m, reg, store := newTestManager(t)
	ctx := context.Background()

	host, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install"}), false)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if host.State() != StateInstalled {
		t.Errorf("State() = %v, want Installed", host.State())
	}

	if _, err := os.Stat(filepath.Join(store.ExtensionDir("logger"), EntryFilename)); err != nil {
		t.Errorf("entry point not committed: %v", err)
	}
	if _, err := os.Stat(store.DataDir("logger")); err != nil {
		t.Errorf("data dir not created: %v", err)
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].Name != "logger" || infos[0].Version != "1.0.0" {
		t.Errorf("List() = %+v", infos)
	}

	if got := subscriberNames(reg, "post_install"); !namesEqual(got, []string{"logger"}) {
		t.Errorf("subscribers = %v, want [logger]", got)
	}
}

func TestUninstallLeavesNoTrace(t *testing.T) {
	m, reg, store := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install"}), false); err != nil {
		t.Fatal(err)
	}
	if err := m.Uninstall("logger"); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}

	if len(m.List()) != 0 {
		t.Errorf("List() = %v, want empty", m.List())
	}
	if got := subscriberNames(reg, "post_install"); len(got) != 0 {
		t.Errorf("subscribers = %v, want empty", got)
	}
	if _, err := os.Stat(store.ExtensionDir("logger")); !os.IsNotExist(err) {
		t.Error("extension dir still present after uninstall")
	}
	if _, err := os.Stat(store.DataDir("logger")); !os.IsNotExist(err) {
		t.Error("data dir still present after uninstall")
	}
}

func TestUninstallUnknown(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Uninstall("ghost"); !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("Uninstall() error = %v, want ErrExtensionNotFound", err)
	}
}

func TestInstallNameConflictPreservesOriginal(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}

	_, err := m.Install(ctx, extensionArchive(t, "logger", "2.0.0", nil), false)
	if !errors.Is(err, ErrNameConflict) {
		t.Fatalf("Install() error = %v, want ErrNameConflict", err)
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].Version != "1.0.0" {
		t.Errorf("List() = %+v, want original v1.0.0 only", infos)
	}
}

func TestInstallOverwrite(t *testing.T) {
	m, reg, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install"}), false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Install(ctx, extensionArchive(t, "logger", "2.0.0", []string{"app_exit"}), true); err != nil {
		t.Fatalf("Install(overwrite) error = %v", err)
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].Version != "2.0.0" {
		t.Errorf("List() = %+v, want v2.0.0 only", infos)
	}
	if got := subscriberNames(reg, "post_install"); len(got) != 0 {
		t.Errorf("old trigger subscribers = %v, want empty", got)
	}
	if got := subscriberNames(reg, "app_exit"); !namesEqual(got, []string{"logger"}) {
		t.Errorf("new trigger subscribers = %v", got)
	}
}

func TestUpdateTriggerDiffPreservesOrder(t *testing.T) {
	m, reg, _ := newTestManager(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if _, err := m.Install(ctx, extensionArchive(t, name, "1.0.0", []string{"post_install"}), false); err != nil {
			t.Fatal(err)
		}
	}

	// beta keeps post_install and adds app_exit.
	host, err := m.Update(ctx, "beta", extensionArchive(t, "beta", "1.1.0", []string{"post_install", "app_exit"}))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if host.Manifest().Version != "1.1.0" {
		t.Errorf("Version = %q, want 1.1.0", host.Manifest().Version)
	}

	if got := subscriberNames(reg, "post_install"); !namesEqual(got, []string{"alpha", "beta", "gamma"}) {
		t.Errorf("post_install order = %v, want [alpha beta gamma]", got)
	}
	if got := subscriberNames(reg, "app_exit"); !namesEqual(got, []string{"beta"}) {
		t.Errorf("app_exit subscribers = %v, want [beta]", got)
	}
}

func TestUpdateDropsRemovedTrigger(t *testing.T) {
	m, reg, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install", "app_exit"}), false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Update(ctx, "logger", extensionArchive(t, "logger", "1.1.0", []string{"app_exit"})); err != nil {
		t.Fatal(err)
	}

	if got := subscriberNames(reg, "post_install"); len(got) != 0 {
		t.Errorf("post_install subscribers = %v, want empty", got)
	}
	if got := subscriberNames(reg, "app_exit"); !namesEqual(got, []string{"logger"}) {
		t.Errorf("app_exit subscribers = %v", got)
	}
}

func TestUpdateNameMismatch(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}

	_, err := m.Update(ctx, "logger", extensionArchive(t, "imposter", "9.9.9", nil))
	if !errors.Is(err, ErrIncompatibleManifest) {
		t.Fatalf("Update() error = %v, want ErrIncompatibleManifest", err)
	}

	// Old version stays live.
	if infos := m.List(); infos[0].Version != "1.0.0" {
		t.Errorf("List() = %+v, want v1.0.0", infos)
	}
}

func TestUpdateNoSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Update(ctx, "logger", ""); !errors.Is(err, ErrNoSource) {
		t.Fatalf("Update() error = %v, want ErrNoSource", err)
	}
}

func TestUpdateUnknown(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Update(context.Background(), "ghost", extensionArchive(t, "ghost", "1.0.0", nil))
	if !errors.Is(err, ErrExtensionNotFound) {
		t.Fatalf("Update() error = %v, want ErrExtensionNotFound", err)
	}
}

func TestDisableEnableRoundTrip(t *testing.T) {
	m, reg, _ := newTestManager(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		if _, err := m.Install(ctx, extensionArchive(t, name, "1.0.0", []string{"post_install"}), false); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.SetEnabled("alpha", false); err != nil {
		t.Fatalf("SetEnabled(false) error = %v", err)
	}
	host, _ := m.Get("alpha")
	if host.State() != StateDisabled {
		t.Errorf("State() = %v, want Disabled", host.State())
	}
	if got := subscriberNames(reg, "post_install"); !namesEqual(got, []string{"beta"}) {
		t.Errorf("subscribers while disabled = %v, want [beta]", got)
	}

	// Re-enable joins at the tail, behind beta.
	if err := m.SetEnabled("alpha", true); err != nil {
		t.Fatalf("SetEnabled(true) error = %v", err)
	}
	if host.State() != StateInstalled {
		t.Errorf("State() = %v, want Installed", host.State())
	}
	if got := subscriberNames(reg, "post_install"); !namesEqual(got, []string{"beta", "alpha"}) {
		t.Errorf("subscribers after enable = %v, want [beta alpha]", got)
	}
}

func TestEnableWhenNotDisabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEnabled("logger", true); !errors.Is(err, ErrNotDisabled) {
		t.Fatalf("SetEnabled(true) error = %v, want ErrNotDisabled", err)
	}
}

func TestDisableWhenAlreadyDisabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEnabled("logger", false); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEnabled("logger", false); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("SetEnabled(false) error = %v, want ErrNotInstalled", err)
	}
}

func TestUpdateKeepsDisabled(t *testing.T) {
	m, reg, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install"}), false); err != nil {
		t.Fatal(err)
	}
	if err := m.SetEnabled("logger", false); err != nil {
		t.Fatal(err)
	}

	host, err := m.Update(ctx, "logger", extensionArchive(t, "logger", "1.1.0", []string{"post_install"}))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if host.State() != StateDisabled {
		t.Errorf("State() = %v, want Disabled", host.State())
	}
	if got := subscriberNames(reg, "post_install"); len(got) != 0 {
		t.Errorf("subscribers = %v, want empty while disabled", got)
	}
}

func TestUpdateFailedRollbackLeavesFailedState(t *testing.T) {
	m, reg, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install"}), false); err != nil {
		t.Fatal(err)
	}

	// Retiring the old version succeeds; the swap-in and the rollback
	// both fail, stranding the extension with no live directory.
	calls := 0
	m.rename = func(oldpath, newpath string) error {
		calls++
		if calls == 1 {
			return os.Rename(oldpath, newpath)
		}
		return errors.New("rename refused")
	}

	_, err := m.Update(ctx, "logger", extensionArchive(t, "logger", "1.1.0", []string{"post_install"}))
	if err == nil {
		t.Fatal("Update() error = nil, want swap failure")
	}

	host, ok := m.Get("logger")
	if !ok {
		t.Fatal("broken extension dropped from the record")
	}
	if host.State() != StateFailed {
		t.Errorf("State() = %v, want Failed", host.State())
	}
	if got := subscriberNames(reg, "post_install"); len(got) != 0 {
		t.Errorf("subscribers = %v, want none for a broken extension", got)
	}
	if infos := m.List(); len(infos) != 1 || infos[0].State != "failed" {
		t.Errorf("List() = %+v, want one failed entry", infos)
	}
}

func TestResyncReconcilesStore(t *testing.T) {
	m, reg, store := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "alpha", "1.0.0", []string{"post_install"}), false); err != nil {
		t.Fatal(err)
	}

	// Out-of-band: one extension dropped into the store by hand, the
	// installed one deleted by hand.
	dir := store.ExtensionDir("dropped")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"name":"dropped","version":"1.0.0","description":"d","author":"a","triggers":["post_install"]}`
	writeFileOrFatal(t, filepath.Join(dir, ManifestFilename), manifest)
	writeFileOrFatal(t, filepath.Join(dir, EntryFilename), "function on_trigger(trigger, ctx) end")

	if err := os.RemoveAll(store.ExtensionDir("alpha")); err != nil {
		t.Fatal(err)
	}

	if err := m.Resync(ctx); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].Name != "dropped" {
		t.Errorf("List() = %+v, want [dropped]", infos)
	}
	if got := subscriberNames(reg, "post_install"); !namesEqual(got, []string{"dropped"}) {
		t.Errorf("subscribers = %v, want [dropped]", got)
	}
}

func TestInstallCorruptArchive(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "broken.zip")
	writeArchive(t, path, map[string]string{
		EntryFilename: "function on_trigger(trigger, ctx) end",
	})

	_, err := m.Install(ctx, path, false)
	if !errors.Is(err, ErrCorruptArchive) {
		t.Fatalf("Install() error = %v, want ErrCorruptArchive", err)
	}
	if len(m.List()) != 0 {
		t.Errorf("List() = %v, want empty after failed install", m.List())
	}
}

func TestLoadInstalled(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", []string{"post_install"}), false); err != nil {
		t.Fatal(err)
	}

	// A directory with no manifest must be skipped, not fatal.
	junk := store.ExtensionDir("junk")
	if err := os.MkdirAll(junk, 0o755); err != nil {
		t.Fatal(err)
	}

	reg2 := trigger.NewRegistry()
	m2 := NewManager(store, reg2, discardLogger())
	if err := m2.LoadInstalled(ctx); err != nil {
		t.Fatalf("LoadInstalled() error = %v", err)
	}

	infos := m2.List()
	if len(infos) != 1 || infos[0].Name != "logger" {
		t.Errorf("List() = %+v, want [logger]", infos)
	}
	if got := subscriberNames(reg2, "post_install"); !namesEqual(got, []string{"logger"}) {
		t.Errorf("subscribers = %v, want [logger]", got)
	}
}

func TestRecoverInterruptedUpdate(t *testing.T) {
	m, _, store := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash between the two swap renames: live moved to trash,
	// nothing moved in.
	trash, err := store.TrashDir()
	if err != nil {
		t.Fatal(err)
	}
	live := store.ExtensionDir("logger")
	if err := os.Rename(live, filepath.Join(trash, trashName("logger", "123"))); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(store, trigger.NewRegistry(), discardLogger())
	if err := m2.LoadInstalled(ctx); err != nil {
		t.Fatalf("LoadInstalled() error = %v", err)
	}

	infos := m2.List()
	if len(infos) != 1 || infos[0].Version != "1.0.0" {
		t.Errorf("List() = %+v, want restored v1.0.0", infos)
	}
	if _, err := os.Stat(filepath.Join(live, EntryFilename)); err != nil {
		t.Errorf("live dir not restored: %v", err)
	}
}

func TestInstallCaseInsensitiveConflict(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Install(ctx, extensionArchive(t, "logger", "1.0.0", nil), false); err != nil {
		t.Fatal(err)
	}

	// Manifest names are lowercase by validation, so the fold check guards
	// against store dirs hand-renamed on case-insensitive filesystems. It
	// is exercised through findFoldLocked directly.
	m.mu.Lock()
	found := m.findFoldLocked("LOGGER")
	m.mu.Unlock()
	if found == nil {
		t.Error("findFoldLocked(LOGGER) = nil, want logger host")
	}
}
