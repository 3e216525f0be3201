//go:build debug

package lockorder

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
	"sync"
)

// stacks holds each goroutine's currently-held lock levels, outermost
// first. Keyed by goroutine id rather than threaded through every call
// site explicitly, since most of the functions that take these locks
// (bbolt's db.Update/View, sync.Mutex.Lock) don't have a context or
// other per-call value to hang a tracker off of.
var stacks sync.Map // uint64 -> *[]Level

// Acquire records that the calling goroutine is taking a lock at level.
// It panics if the goroutine already holds a lock at the same level or
// higher, since that violates the total order this package encodes.
func Acquire(level Level) {
	id := goroutineID()
	v, _ := stacks.LoadOrStore(id, &[]Level{})
	stack := v.(*[]Level)

	if len(*stack) > 0 {
		top := (*stack)[len(*stack)-1]
		if level <= top {
			panic(fmt.Sprintf("lockorder: acquiring %s while holding %s violates the total lock order (%s must come first)", level, top, level))
		}
	}
	*stack = append(*stack, level)
}

// Release undoes the matching Acquire(level). Levels must be released in
// reverse acquisition order, same as nested locks.
func Release(level Level) {
	id := goroutineID()
	v, ok := stacks.Load(id)
	if !ok {
		panic(fmt.Sprintf("lockorder: release %s without a matching acquire", level))
	}
	stack := v.(*[]Level)

	if len(*stack) == 0 || (*stack)[len(*stack)-1] != level {
		panic(fmt.Sprintf("lockorder: release %s does not match the innermost held lock", level))
	}
	*stack = (*stack)[:len(*stack)-1]
	if len(*stack) == 0 {
		stacks.Delete(id)
	}
}

// goroutineID parses the "goroutine N [...]" header runtime.Stack
// writes, since Go has no public API for a goroutine's identity. Debug
// builds only; never called when the lockorder package is compiled
// without the debug tag.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
