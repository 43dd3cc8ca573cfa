package extension

import "errors"

// Lifecycle errors surfaced to the caller of the Manager. These abort only
// the requested operation. Handler faults never appear here; they are
// tagged outcomes at the dispatch boundary.
var (
	// ErrExtensionNotFound is returned when no installed extension has the name.
	ErrExtensionNotFound = errors.New("extension not found")

	// ErrNameConflict is returned when installing over an existing name
	// without overwrite. Names differing only by case conflict too.
	ErrNameConflict = errors.New("extension name conflict")

	// ErrCorruptArchive is returned when an extension archive cannot be
	// extracted or lacks its required files.
	ErrCorruptArchive = errors.New("corrupt extension archive")

	// ErrFetchFailed is returned when a remote archive cannot be downloaded.
	ErrFetchFailed = errors.New("extension fetch failed")

	// ErrIncompatibleManifest is returned when an update's manifest does not
	// belong to the extension being updated.
	ErrIncompatibleManifest = errors.New("incompatible manifest")

	// ErrNoSource is returned when update has no archive and the installed
	// manifest declares no source_url.
	ErrNoSource = errors.New("extension has no update source")

	// ErrNotDisabled is returned when enabling an extension that is not disabled.
	ErrNotDisabled = errors.New("extension is not disabled")

	// ErrNotInstalled is returned when disabling an extension that is not installed.
	ErrNotInstalled = errors.New("extension is not in installed state")

	// ErrSubsystemDisabled is returned when the registry could not be
	// recovered and the extension subsystem shut itself off.
	ErrSubsystemDisabled = errors.New("extension subsystem is disabled")
)
