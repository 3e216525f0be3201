//go:build !debug

package lockorder

// Acquire is a no-op outside debug builds: the total lock order is
// still the contract, just not checked at runtime.
func Acquire(level Level) {}

// Release is a no-op outside debug builds.
func Release(level Level) {}
