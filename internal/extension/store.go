package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Store owns the on-disk extension layout: one directory per installed
// extension under the store root, a private data directory per extension
// under the data root, and scratch areas for staged installs and the
// update swap.
type Store struct {
	root     string
	dataRoot string
}

// Directory names for scratch areas inside the store root. The leading dot
// keeps Scan from treating them as extensions.
const (
	stagingDirName = ".staging"
	trashDirName   = ".trash"
)

// scanParallelism bounds concurrent manifest parsing during startup scan.
const scanParallelism = 4

// NewStore creates the store and data roots if needed.
func NewStore(root, dataRoot string) (*Store, error) {
	for _, dir := range []string{root, dataRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store layout: %w", err)
		}
	}
	return &Store{root: root, dataRoot: dataRoot}, nil
}

// Root returns the store root.
func (s *Store) Root() string {
	return s.root
}

// ExtensionDir returns the live directory for an extension name.
func (s *Store) ExtensionDir(name string) string {
	return filepath.Join(s.root, name)
}

// DataDir returns the private data directory for an extension name.
func (s *Store) DataDir(name string) string {
	return filepath.Join(s.dataRoot, name)
}

// NewStagingDir creates a fresh staging directory for one install/update.
func (s *Store) NewStagingDir() (string, error) {
	base := filepath.Join(s.root, stagingDirName)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "stage-")
}

// TrashDir returns the swap trash area, creating it if needed.
func (s *Store) TrashDir() (string, error) {
	dir := filepath.Join(s.root, trashDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// RecoverInterrupted repairs the store after a crash: a trash entry whose
// live directory is missing is an update that died between the two swap
// renames, so the old version is moved back; leftover staging directories
// are discarded.
func (s *Store) RecoverInterrupted(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	trash := filepath.Join(s.root, trashDirName)
	if entries, err := os.ReadDir(trash); err == nil {
		for _, entry := range entries {
			name := trashOriginalName(entry.Name())
			live := s.ExtensionDir(name)
			trashPath := filepath.Join(trash, entry.Name())

			if _, err := os.Stat(live); os.IsNotExist(err) {
				if err := os.Rename(trashPath, live); err != nil {
					logger.Warn("could not restore interrupted update", "extension", name, "error", err)
					continue
				}
				logger.Warn("restored previous version after interrupted update", "extension", name)
				continue
			}
			// Swap committed; the trash copy is garbage.
			if err := os.RemoveAll(trashPath); err != nil {
				logger.Warn("could not clear swap trash", "path", trashPath, "error", err)
			}
		}
	}

	staging := filepath.Join(s.root, stagingDirName)
	if err := os.RemoveAll(staging); err != nil {
		logger.Warn("could not clear staging area", "error", err)
	}
}

// trashName builds the trash entry name for an extension. The suffix keeps
// repeated updates of the same extension from colliding.
func trashName(name string, nonce string) string {
	return name + "@" + nonce
}

// trashOriginalName recovers the extension name from a trash entry name.
func trashOriginalName(entry string) string {
	if i := strings.LastIndex(entry, "@"); i >= 0 {
		return entry[:i]
	}
	return entry
}

// Scan reads every installed extension's manifest. Directories that fail
// validation are skipped with a warning; a broken extension on disk must
// not keep the subsystem from starting. Results are sorted by name for a
// deterministic load order.
func (s *Store) Scan(ctx context.Context, logger *slog.Logger) ([]*Manifest, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension store: %w", err)
	}

	var (
		mu        sync.Mutex
		manifests []*Manifest
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)

	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := inspectStaged(dir)
			if err != nil {
				logger.Warn("skipping invalid extension directory", "dir", dir, "error", err)
				return nil
			}
			mu.Lock()
			manifests = append(manifests, m)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].Name < manifests[j].Name
	})
	return manifests, nil
}
