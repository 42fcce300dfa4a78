// Package mr defines the memory-resource abstraction shared by every device
// memory allocator and adaptor in gpumr.
//
// # Overview
//
// A Resource hands out regions of device memory against an opaque execution
// stream. Concrete strategies live in subpackages and all satisfy Resource, so
// they can be stacked freely:
//
//   - device.Direct: passthrough to the native device allocator
//   - pool.Pool: coalescing sub-allocator that grows from an upstream
//   - arena.Resource: per-stream arenas carved out of shared superblocks
//   - binning.Resource: size-class router over per-bin resources
//   - fixedsize.Resource: single block size, preallocated in chunks
//   - adaptor: logging, tracking, statistics, limiting, failure callbacks
//   - Callback: allocation delegated to caller-supplied functions
//
// # Device Registry
//
// SetCurrentDeviceResource and SetPerDeviceResource install the resource
// used for a device when none is passed explicitly. CurrentDeviceResource
// and PerDeviceResource read them back. The registry never owns what it
// holds.
//
// # Usage Example
//
//	dev := device.NewSimulated(8 << 30)
//	p, err := pool.New(device.NewDirect(dev), pool.WithInitialSize(1<<30))
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	ptr, err := p.Allocate(4096, stream)
//	if err != nil {
//	    return err
//	}
//	p.Deallocate(ptr, 4096, stream)
//
// # Contract
//
// Every Allocate is paired with exactly one Deallocate carrying the same size
// and stream. Allocations of size zero return NullPtr, which Deallocate accepts
// with size zero. Returned pointers are aligned to align.DeviceAlignment.
//
// Resources never enforce that prior work queued on a stream has completed
// before a block is handed out again. Callers must not deallocate a region
// until the stream work using it is done.
//
// # Errors
//
// Failures wrap one of ErrInvalidArgument, ErrOutOfMemory, ErrLogic or
// ErrRuntime and are matched with errors.Is.
//
// # Debug Builds
//
// Building with the mrdebug tag enables assertions on misuse: foreign or
// double-freed pointers, mismatched sizes and outstanding allocations at Close.
package mr
