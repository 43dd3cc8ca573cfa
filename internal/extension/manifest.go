package extension

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
)

// Well-known file names inside an extension directory or archive.
const (
	// ManifestFilename is the required metadata file.
	ManifestFilename = "extension.json"

	// EntryFilename is the required Lua entry point defining on_trigger.
	EntryFilename = "extension.lua"
)

// Manifest describes an extension's metadata.
//
// The original PaxD embedded this block as EXTENSION_INFO inside the handler
// source, which meant executing untrusted code just to read metadata. Here
// the manifest is a separate JSON document validated before any extension
// code is loaded.
type Manifest struct {
	Name        string   `json:"name"`        // Unique identifier (e.g., "activity-logger")
	Version     string   `json:"version"`     // Version string (e.g., "1.0.0")
	Description string   `json:"description"` // Short description
	Author      string   `json:"author"`      // Author name or org
	Triggers    []string `json:"triggers"`    // Trigger names to subscribe to (may be empty)
	SourceURL   string   `json:"source_url"`  // Optional URL used by update

	// Internal: path to the extension directory.
	path string
}

// Validation errors. Each names the missing or malformed field.
var (
	ErrMissingName        = errors.New("manifest: name is required")
	ErrInvalidName        = errors.New("manifest: name must be lowercase alphanumeric with hyphens")
	ErrMissingVersion     = errors.New("manifest: version is required")
	ErrMissingDescription = errors.New("manifest: description is required")
	ErrMissingAuthor      = errors.New("manifest: author is required")
	ErrInvalidTriggers    = errors.New("manifest: triggers must be an array of strings")
	ErrInvalidSourceURL   = errors.New("manifest: source_url must be an absolute http(s) URL")
	ErrMalformedManifest  = errors.New("manifest: malformed JSON")
)

// namePattern validates extension names: lowercase, digits, hyphens and
// dots (the original uses reverse-DNS names like com.example.logger).
var namePattern = regexp.MustCompile(`^[a-z0-9]+([.-][a-z0-9]+)*$`)

// ParseManifest parses and validates manifest data. Validation is pure and
// all-or-nothing: a descriptor is returned only if every field passes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifest loads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}

	m.path = filepath.Dir(path)
	return m, nil
}

// LoadManifestFromDir loads the manifest from an extension directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFilename))
}

// Validate checks that the manifest is complete and well formed.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.Name)
	}
	if m.Version == "" {
		return ErrMissingVersion
	}
	if m.Description == "" {
		return ErrMissingDescription
	}
	if m.Author == "" {
		return ErrMissingAuthor
	}

	for _, trig := range m.Triggers {
		if trig == "" {
			return fmt.Errorf("%w: empty trigger name", ErrInvalidTriggers)
		}
	}

	if m.SourceURL != "" {
		u, err := url.Parse(m.SourceURL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: %q", ErrInvalidSourceURL, m.SourceURL)
		}
	}

	return nil
}

// Path returns the extension directory the manifest was loaded from.
func (m *Manifest) Path() string {
	return m.path
}

// EntryPath returns the full path to the Lua entry point.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.path, EntryFilename)
}

// HasTrigger reports whether the manifest declares the trigger.
func (m *Manifest) HasTrigger(name string) bool {
	for _, t := range m.Triggers {
		if t == name {
			return true
		}
	}
	return false
}

// String returns a string representation of the manifest.
func (m *Manifest) String() string {
	return fmt.Sprintf("%s v%s", m.Name, m.Version)
}

// Clone creates a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	clone := *m
	if m.Triggers != nil {
		clone.Triggers = make([]string, len(m.Triggers))
		copy(clone.Triggers, m.Triggers)
	}
	return &clone
}
