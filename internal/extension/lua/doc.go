// Package lua provides the sandboxed handler runtime for extensions.
//
// Each installed extension owns a single sandboxed Lua state. The state is
// created with only the safe standard libraries opened, a whitelist-based
// require, and a "paxd" module that exposes the few host facilities a
// handler may use (logging, its private data directory, JSON helpers).
// File access through the injected io module is confined to the extension's
// data directory.
//
// Handlers are invoked through InvokeTrigger, which applies a time budget
// and converts every failure mode (Lua error, Go panic, deadline) into an
// ordinary Go error at the boundary. The dispatcher classifies those errors
// into outcomes; nothing raised inside a handler can propagate past this
// package.
//
//	st, err := lua.NewState(lua.WithDataDir(dir))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
//
//	if err := st.LoadEntry(filepath.Join(extDir, "extension.lua")); err != nil {
//	    return err
//	}
//	err = st.InvokeTrigger(ctx, "post_install", map[string]any{"package": "demo"}, 3*time.Second)
//
// A State is not goroutine-safe. All methods serialize through an internal
// mutex, so concurrent trigger firings against the same extension run one
// at a time.
package lua
