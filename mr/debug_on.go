//go:build mrdebug

package mr

// DebugChecks enables misuse assertions. Build with -tags mrdebug to turn it on.
const DebugChecks = true
