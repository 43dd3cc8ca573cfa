package extension

// State represents the lifecycle state of an extension.
type State int

// Extension states. Installing/Updating/Uninstalling are transitional and
// only observable while a Manager operation is in flight.
const (
	// StateInstalled - extension is on disk and registered for its triggers.
	StateInstalled State = iota

	// StateDisabled - extension is on disk but removed from all trigger lists.
	StateDisabled

	// StateFailed - uninstall deregistered the extension but could not
	// delete its files; it is recorded but unreachable via triggers.
	StateFailed

	// StateInstalling - install in progress.
	StateInstalling

	// StateUpdating - update in progress; previous version still active
	// until the swap commits.
	StateUpdating

	// StateUninstalling - uninstall in progress.
	StateUninstalling
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInstalled:
		return "installed"
	case StateDisabled:
		return "disabled"
	case StateFailed:
		return "failed"
	case StateInstalling:
		return "installing"
	case StateUpdating:
		return "updating"
	case StateUninstalling:
		return "uninstalling"
	default:
		return "unknown"
	}
}

// Active reports whether the extension participates in trigger dispatch.
func (s State) Active() bool {
	return s == StateInstalled
}
