package trace

import "fmt"

// Debug gates the runtime's debug-only invariant checks (empty reader
// set at destruction, the propagator's revisit check, the GC's
// use-after-free check in AssertLive). It
// defaults on: this is a systems runtime whose release-mode contract is
// genuinely undefined behavior on violation (spec.md §7), and the
// checks here are cheap enough that there is little reason to disable
// them outside of a benchmark run, which is precisely what
// runtime/config.Config.Debug is for.
var Debug = true

func assertf(cond bool, format string, args ...interface{}) {
	if Debug && !cond {
		panic(fmt.Sprintf("psac: invariant violated: "+format, args...))
	}
}

// AssertInvariant is assertf exported for other runtime/ packages
// (runtime/propagate's revisit check, principally) that want the same
// debug-gated panic-on-violation behavior without duplicating the
// Debug-flag check themselves.
func AssertInvariant(cond bool, format string, args ...interface{}) {
	assertf(cond, format, args...)
}
