// Package trigger implements the host side of extension dispatch: the
// catalog of documented trigger names, the registration table mapping
// triggers to ordered subscriber lists, and the dispatcher that fires a
// trigger at every subscriber with fault isolation.
//
// The central guarantee lives here: a misbehaving extension cannot break the
// host operation that fired the trigger. Fire never returns an error for
// handler failures; every invocation collapses to a tagged Outcome
// (success, handler error, or timeout) and dispatch always continues to the
// next subscriber.
//
//	reg := trigger.NewRegistry()
//	d := trigger.NewDispatcher(reg, trigger.WithTimeBudget(3*time.Second))
//
//	// From a host operation:
//	res := d.Fire(ctx, "post_install", map[string]any{
//	    "package": "demo",
//	    "version": "2.0",
//	})
//	for _, out := range res.Failed() {
//	    log.Printf("extension %s: %v", out.Extension, out.Err)
//	}
//
// The registry is written only by the extension lifecycle manager and read
// by dispatchers through copy-on-read snapshots, so a Fire in flight never
// observes a half-applied mutation.
package trigger
