package extension

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks an extension zip into destDir. Entry names are
// validated so an archive can never write outside destDir.
func extractArchive(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if err := extractFile(file, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, destDir string) error {
	name := filepath.Clean(file.Name)
	if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: entry escapes archive: %s", ErrCorruptArchive, file.Name)
	}
	target := filepath.Join(destDir, name)

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return nil
}

// inspectStaged validates a staged extension directory: the manifest must
// parse and the Lua entry point must exist.
func inspectStaged(dir string) (*Manifest, error) {
	m, err := LoadManifestFromDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: missing %s", ErrCorruptArchive, ManifestFilename)
		}
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(dir, EntryFilename)); err != nil {
		return nil, fmt.Errorf("%w: missing %s", ErrCorruptArchive, EntryFilename)
	}
	return m, nil
}
