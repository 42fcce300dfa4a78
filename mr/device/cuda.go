//go:build cuda
// +build cuda

package device

/*
#cgo linux,amd64 LDFLAGS: -L/usr/local/cuda/lib64 -lcudart
#cgo linux,arm64 LDFLAGS: -L/usr/lib/aarch64-linux-gnu -lcudart
#cgo CFLAGS: -I/usr/local/cuda/include

#include <cuda_runtime_api.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/gpumr/internal/logger"
	"github.com/joshuapare/gpumr/mr"
)

// CUDA is a Device backed by the CUDA runtime's stream-ordered allocator.
// Streams are interpreted as cudaStream_t handles.
type CUDA struct {
	id int
}

var _ Device = (*CUDA)(nil)

// Each CUDA device starts out with a direct resource over its own allocator.
func init() {
	mr.SetInitialResource(func(id mr.DeviceID) mr.Resource {
		dev, err := NewCUDA(int(id))
		if err != nil {
			logger.Error("no initial resource for device", "device", id, "error", err)
			return nil
		}
		return NewDirect(dev)
	})
}

// NewCUDA binds a device allocator to the given CUDA device ordinal.
func NewCUDA(deviceID int) (*CUDA, error) {
	if rc := C.cudaSetDevice(C.int(deviceID)); rc != C.cudaSuccess {
		return nil, cudaError("cudaSetDevice", rc)
	}
	return &CUDA{id: deviceID}, nil
}

// RawAllocate satisfies Device.
func (c *CUDA) RawAllocate(size uint64, stream mr.Stream) (mr.Ptr, error) {
	var p unsafe.Pointer
	rc := C.cudaMallocAsync(&p, C.size_t(size), cudaStream(stream))
	if rc == C.cudaErrorMemoryAllocation {
		return mr.NullPtr, mr.OutOfMemory("cudaMallocAsync", size)
	}
	if rc != C.cudaSuccess {
		return mr.NullPtr, cudaError("cudaMallocAsync", rc)
	}
	return mr.Ptr(p), nil
}

// RawDeallocate satisfies Device.
func (c *CUDA) RawDeallocate(p mr.Ptr, stream mr.Stream) {
	if rc := C.cudaFreeAsync(unsafe.Pointer(p), cudaStream(stream)); rc != C.cudaSuccess {
		logger.Error("cudaFreeAsync failed", "ptr", p, "device", c.id, "err", cudaError("cudaFreeAsync", rc))
	}
}

// MemoryInfo satisfies Device.
func (c *CUDA) MemoryInfo() (free, total uint64, err error) {
	var f, t C.size_t
	if rc := C.cudaMemGetInfo(&f, &t); rc != C.cudaSuccess {
		return 0, 0, cudaError("cudaMemGetInfo", rc)
	}
	return uint64(f), uint64(t), nil
}

func cudaStream(s mr.Stream) C.cudaStream_t {
	return C.cudaStream_t(unsafe.Pointer(uintptr(s))) //nolint:govet // stream handles are opaque driver values
}

func cudaError(call string, rc C.cudaError_t) error {
	return fmt.Errorf("%w: %s: %s", mr.ErrRuntime, call, C.GoString(C.cudaGetErrorString(rc)))
}
