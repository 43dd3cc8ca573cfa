// Package extension implements the extension store and lifecycle: manifest
// validation, install/update/uninstall/enable/disable, and the per-extension
// Host that owns a sandboxed Lua runtime.
//
// An extension package is a zip archive containing extension.json (the
// manifest) and extension.lua (the handler entry point defining a global
// on_trigger function), plus arbitrary resource files. Installed extensions
// live one directory per name under the store root; each gets a private
// writable data directory under the data root. The trigger registration
// table is derived state, rebuilt from installed manifests at startup.
//
//	mgr, err := extension.NewManager(extension.ManagerConfig{
//	    StoreDir: storeDir,
//	    DataDir:  dataDir,
//	    Registry: registry,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := mgr.LoadInstalled(ctx); err != nil {
//	    log.Printf("some extensions failed to load: %v", err)
//	}
//
//	host, err := mgr.Install(ctx, "activity-logger.zip", false)
//
// All lifecycle mutations are serialized through the Manager; the trigger
// dispatcher only ever reads registry snapshots the Manager maintains.
package extension
