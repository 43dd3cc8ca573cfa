package lua

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts what extension code can reach from Lua.
//
// The restriction model is capability-by-construction: the state starts with
// only the safe libraries, require is whitelist-based, and the injected io
// module refuses any path outside the extension's private data directory.
// Network access is simply never injected; the dispatch path grants nothing
// beyond what Install sets up.
type Sandbox struct {
	L *lua.LState

	dataDir string
	logger  *slog.Logger
}

// handlerGlobal is the global function every extension must define.
const handlerGlobal = "on_trigger"

// NewSandbox creates a sandbox for the Lua state. dataDir may be empty, in
// which case all file access is refused.
func NewSandbox(L *lua.LState, dataDir string, logger *slog.Logger) *Sandbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{
		L:       L,
		dataDir: dataDir,
		logger:  logger,
	}
}

// Install applies the sandbox restrictions and injects the paxd module.
func (s *Sandbox) Install() {
	// Remove the loaders that could pull arbitrary code into the state.
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installSafeRequire()
	s.installConfinedIO()
	s.installPaxdModule()
}

// installSafeRequire replaces require with a whitelist-based version.
//
// SECURITY: package.path/cpath are cleared so nothing can be loaded from
// disk; only the built-in safe modules and the paxd module resolve.
func (s *Sandbox) installSafeRequire() {
	if pkgTable, ok := s.L.GetGlobal("package").(*lua.LTable); ok {
		s.L.SetField(pkgTable, "path", lua.LString(""))
		s.L.SetField(pkgTable, "cpath", lua.LString(""))
	}

	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if safeModules[modName] {
			L.Push(originalRequire)
			L.Push(lua.LString(modName))
			L.Call(1, 1)
			return 1
		}

		if modName == "paxd" {
			L.Push(L.GetGlobal("paxd"))
			return 1
		}

		L.RaiseError("module %q is not available to extensions", modName)
		return 0 // unreachable, RaiseError does a longjmp
	}))
}

// resolveDataPath validates that a handler-supplied path stays inside the
// data directory and returns the absolute on-disk path.
func (s *Sandbox) resolveDataPath(name string) (string, error) {
	if s.dataDir == "" {
		return "", fmt.Errorf("extension has no data directory")
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", name)
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the data directory: %s", name)
	}
	return filepath.Join(s.dataDir, clean), nil
}

// installConfinedIO injects an io module whose operations are confined to
// the extension's data directory. Paths are interpreted relative to it.
func (s *Sandbox) installConfinedIO() {
	ioMod := s.L.NewTable()

	s.L.SetField(ioMod, "open", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		mode := L.OptString(2, "r")

		path, err := s.resolveDataPath(name)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		var flag int
		switch mode {
		case "r", "rb":
			flag = os.O_RDONLY
		case "w", "wb":
			flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		case "a", "ab":
			flag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		default:
			L.ArgError(2, "unsupported mode: "+mode)
			return 0
		}

		if flag != os.O_RDONLY {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
		}

		file, err := os.OpenFile(path, flag, 0o644)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		ud := L.NewUserData()
		ud.Value = file
		L.SetMetatable(ud, s.fileMetatable())
		L.Push(ud)
		return 1
	}))

	s.L.SetField(ioMod, "remove", s.L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		path, err := s.resolveDataPath(name)
		if err == nil {
			err = os.Remove(path)
		}
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	s.L.SetGlobal("io", ioMod)
}

// fileMetatable builds the metatable shared by sandboxed file handles.
func (s *Sandbox) fileMetatable() *lua.LTable {
	if mt, ok := s.L.GetGlobal("__paxd_file_mt").(*lua.LTable); ok {
		return mt
	}

	mt := s.L.NewTable()
	index := s.L.NewTable()

	checkFile := func(L *lua.LState) *os.File {
		ud := L.CheckUserData(1)
		file, ok := ud.Value.(*os.File)
		if !ok {
			L.ArgError(1, "expected file")
			return nil
		}
		return file
	}

	s.L.SetField(index, "read", s.L.NewFunction(func(L *lua.LState) int {
		file := checkFile(L)
		format := L.OptString(2, "*a")
		switch format {
		case "*a", "*all":
			// Reads from the handle's current position, so a second
			// read returns "" like stock Lua io.
			content, err := io.ReadAll(file)
			if err != nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(content))
			return 1
		default:
			L.Push(lua.LNil)
			return 1
		}
	}))

	s.L.SetField(index, "write", s.L.NewFunction(func(L *lua.LState) int {
		file := checkFile(L)
		for i := 2; i <= L.GetTop(); i++ {
			if _, err := file.WriteString(L.CheckString(i)); err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
		}
		L.Push(L.Get(1)) // return the handle for chaining
		return 1
	}))

	s.L.SetField(index, "close", s.L.NewFunction(func(L *lua.LState) int {
		file := checkFile(L)
		if err := file.Close(); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LTrue)
		return 1
	}))

	s.L.SetField(mt, "__index", index)
	s.L.SetGlobal("__paxd_file_mt", mt)
	return mt
}

// installPaxdModule injects the host facilities extensions may use.
func (s *Sandbox) installPaxdModule() {
	mod := s.L.NewTable()

	s.L.SetField(mod, "log", s.L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		s.logger.Info(msg, "source", "extension")
		return 0
	}))

	s.L.SetField(mod, "data_dir", s.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(s.dataDir))
		return 1
	}))

	s.L.SetField(mod, "json_encode", s.L.NewFunction(func(L *lua.LState) int {
		bridge := NewBridge(L)
		val := bridge.ToGoValue(L.CheckAny(1))
		data, err := json.Marshal(val)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(data))
		return 1
	}))

	s.L.SetField(mod, "json_decode", s.L.NewFunction(func(L *lua.LState) int {
		bridge := NewBridge(L)
		var val any
		if err := json.Unmarshal([]byte(L.CheckString(1)), &val); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(bridge.ToLuaValue(val))
		return 1
	}))

	s.L.SetGlobal("paxd", mod)
}
