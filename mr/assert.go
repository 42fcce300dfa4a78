package mr

import "fmt"

// Assertf panics with the formatted message when debug checks are enabled and
// cond is false. In release builds it compiles to nothing.
func Assertf(cond bool, format string, args ...any) {
	if DebugChecks && !cond {
		panic(fmt.Sprintf("mr: assertion failed: "+format, args...))
	}
}
