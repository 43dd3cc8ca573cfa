package lua

import (
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeBudget bounds a single handler invocation when the caller does
// not supply its own budget.
const DefaultTimeBudget = 5 // seconds

// State wraps a gopher-lua LState prepared for extension handler execution.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. The mutex serializes
// all access, which also gives one extension's handlers a deterministic
// execution order when several triggers fire concurrently.
type State struct {
	L *lua.LState

	mu sync.Mutex

	sandbox *Sandbox
	bridge  *Bridge

	dataDir string
	logger  *slog.Logger

	loaded bool
	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithDataDir sets the private directory the extension may read and write.
func WithDataDir(dir string) StateOption {
	return func(s *State) {
		s.dataDir = dir
	}
}

// WithLogger sets the logger exposed to handlers via paxd.log.
func WithLogger(logger *slog.Logger) StateOption {
	return func(s *State) {
		s.logger = logger
	}
}

// NewState creates a sandboxed Lua state for one extension.
func NewState(opts ...StateOption) (*State, error) {
	s := &State{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // opened selectively below
	})
	s.L = L

	openSafeLibraries(L)

	s.bridge = NewBridge(L)
	s.sandbox = NewSandbox(L, s.dataDir, s.logger)
	s.sandbox.Install()

	return s, nil
}

// openSafeLibraries opens only the Lua standard libraries that cannot touch
// the host: base, table, string, math.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Intentionally not opened:
	// - io (replaced by the sandbox's data-dir confined version)
	// - os (system calls)
	// - debug (can bypass the sandbox)
	// - package loading from disk (require is replaced)
}

// LoadEntry executes the extension's entry file and verifies it defines a
// global on_trigger function.
func (s *State) LoadEntry(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if err := s.doWithRecovery(func() error {
		return s.L.DoFile(path)
	}); err != nil {
		return fmt.Errorf("failed to load extension entry: %w", err)
	}

	handler := s.L.GetGlobal(handlerGlobal)
	if handler.Type() != lua.LTFunction {
		return ErrNoHandler
	}

	s.loaded = true
	return nil
}

// Loaded reports whether LoadEntry has succeeded.
func (s *State) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// doWithRecovery executes fn converting panics into errors.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// DataDir returns the extension's private data directory.
func (s *State) DataDir() string {
	return s.dataDir
}

// Sandbox returns the sandbox for inspection in tests.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// IsClosed reports whether Close has been called.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. Safe to call more than once.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.closed = true
	s.loaded = false
	return nil
}
