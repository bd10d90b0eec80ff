package renderer

import (
	"fmt"
	"unsafe"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// ConstantBufferAlignment is the placement alignment of a constant buffer view.
const ConstantBufferAlignment uint64 = 256

// ConstantBuffer is an array of count T values in a persistently mapped
// upload buffer. Each element starts on a 256 byte boundary so it can be
// bound as a root CBV on its own.
type ConstantBuffer[T any] struct {
	buffer      *UploadBuffer
	elementSize uint64
	count       uint32

	// Staging is filled by the caller and copied with CopyStagingToGpu.
	Staging T
}

func NewConstantBuffer[T any](device gpu.Device, count uint32, name string) (*ConstantBuffer[T], error) {
	var zero T
	elementSize := math.Align(uint64(unsafe.Sizeof(zero)), ConstantBufferAlignment)
	buffer, err := newUploadBuffer(device, elementSize*uint64(count), name)
	if err != nil {
		return nil, err
	}
	return &ConstantBuffer[T]{buffer: buffer, elementSize: elementSize, count: count}, nil
}

func (cb *ConstantBuffer[T]) inRange(i uint32) bool {
	core.Assert(i < cb.count, "constant buffer %s: element %d of %d", cb.buffer.Name(), i, cb.count)
	return i < cb.count
}

// CopyData writes v into element i.
func (cb *ConstantBuffer[T]) CopyData(i uint32, v *T) {
	if !cb.inRange(i) {
		return
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
	copy(cb.buffer.mapped[uint64(i)*cb.elementSize:], src)
}

func (cb *ConstantBuffer[T]) CopyStagingToGpu(i uint32) {
	cb.CopyData(i, &cb.Staging)
}

// Element reads element i back out of the mapping.
func (cb *ConstantBuffer[T]) Element(i uint32) (T, error) {
	var out T
	if i >= cb.count {
		return out, fmt.Errorf("constant buffer %s: element %d of %d", cb.buffer.Name(), i, cb.count)
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&out)), unsafe.Sizeof(out))
	copy(dst, cb.buffer.mapped[uint64(i)*cb.elementSize:])
	return out, nil
}

func (cb *ConstantBuffer[T]) GpuVirtualAddress(i uint32) uint64 {
	if !cb.inRange(i) {
		return 0
	}
	return cb.buffer.GpuAddress() + uint64(i)*cb.elementSize
}

func (cb *ConstantBuffer[T]) ElementSize() uint64 {
	return cb.elementSize
}

func (cb *ConstantBuffer[T]) Count() uint32 {
	return cb.count
}

func (cb *ConstantBuffer[T]) Resource() *GpuResource {
	return cb.buffer.GpuResource
}

func (cb *ConstantBuffer[T]) Release() error {
	return cb.buffer.Destroy()
}
