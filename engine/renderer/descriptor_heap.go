package renderer

import (
	"fmt"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// DescriptorHandle is a weak reference to one slot of a DescriptorHeap.
// It never owns the view it points at.
type DescriptorHandle struct {
	cpu  gpu.CPUDescriptorHandle
	gpu  gpu.GPUDescriptorHandle
	heap *DescriptorHeap
}

func (h DescriptorHandle) CPU() gpu.CPUDescriptorHandle {
	return h.cpu
}

func (h DescriptorHandle) GPU() gpu.GPUDescriptorHandle {
	return h.gpu
}

func (h DescriptorHandle) Heap() *DescriptorHeap {
	return h.heap
}

func (h DescriptorHandle) IsNull() bool {
	return h.cpu.Ptr == 0
}

func (h DescriptorHandle) IsShaderVisible() bool {
	return h.gpu.Ptr != 0
}

// Offset returns the handle n slots further along.
func (h DescriptorHandle) Offset(n int, stride uint32) DescriptorHandle {
	delta := int64(n) * int64(stride)
	out := h
	out.cpu.Ptr = uint64(int64(h.cpu.Ptr) + delta)
	if h.gpu.Ptr != 0 {
		out.gpu.Ptr = uint64(int64(h.gpu.Ptr) + delta)
	}
	return out
}

func (h DescriptorHandle) String() string {
	if h.IsNull() {
		return "descriptor(null)"
	}
	return fmt.Sprintf("descriptor(cpu=%#x gpu=%#x)", h.cpu.Ptr, h.gpu.Ptr)
}

// DescriptorHeap is a fixed-capacity arena of descriptors. Handles are
// handed out in order and never reclaimed.
type DescriptorHeap struct {
	heap     gpu.DescriptorHeap
	kind     gpu.DescriptorHeapType
	name     string
	capacity uint32
	stride   uint32
	next     uint32
	first    DescriptorHandle
}

func NewDescriptorHeap(device gpu.Device, kind gpu.DescriptorHeapType, maxCount uint32, shaderVisible bool) (*DescriptorHeap, error) {
	heap, err := device.CreateDescriptorHeap(gpu.DescriptorHeapDesc{
		Type:           kind,
		NumDescriptors: maxCount,
		ShaderVisible:  shaderVisible,
	})
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, "CreateDescriptorHeap", "", err, device.InfoMessages())
	}
	name := core.NewDebugName(kind.String() + "Heap")
	heap.SetName(name)

	h := &DescriptorHeap{
		heap:     heap,
		kind:     kind,
		name:     name,
		capacity: maxCount,
		stride:   device.DescriptorHandleIncrementSize(kind),
	}
	h.first = DescriptorHandle{cpu: heap.CPUStart(), heap: h}
	if shaderVisible {
		h.first.gpu = heap.GPUStart()
	}
	core.LogDebug("descriptor heap %s created with %d slots (stride %d)", name, maxCount, h.stride)
	return h, nil
}

// Alloc hands out count contiguous handles. Running past the capacity is a
// contract violation; the heap never wraps around.
func (h *DescriptorHeap) Alloc(count uint32) (DescriptorHandle, error) {
	if count == 0 {
		return DescriptorHandle{}, core.AssertErr(core.ErrInvalidHandle, "descriptor heap %s: zero-sized allocation", h.name)
	}
	if uint64(h.next)+uint64(count) > uint64(h.capacity) {
		return DescriptorHandle{}, core.AssertErr(core.ErrHeapExhausted,
			"descriptor heap %s: %d more descriptors requested, %d of %d left", h.name, count, h.Remaining(), h.capacity)
	}
	handle := h.At(h.next)
	h.next += count
	return handle, nil
}

// At returns the handle at index without any allocation bookkeeping.
func (h *DescriptorHeap) At(index uint32) DescriptorHandle {
	return h.first.Offset(int(index), h.stride)
}

// ValidateHandle reports whether handle points inside this heap and, for
// shader-visible heaps, whether its CPU and GPU offsets agree.
func (h *DescriptorHeap) ValidateHandle(handle DescriptorHandle) bool {
	if handle.heap != h || handle.IsNull() {
		return false
	}
	if handle.cpu.Ptr < h.first.cpu.Ptr {
		return false
	}
	offset := handle.cpu.Ptr - h.first.cpu.Ptr
	if offset >= uint64(h.capacity)*uint64(h.stride) {
		return false
	}
	if h.first.IsShaderVisible() {
		return handle.gpu.Ptr >= h.first.gpu.Ptr && handle.gpu.Ptr-h.first.gpu.Ptr == offset
	}
	return true
}

func (h *DescriptorHeap) Remaining() uint32 {
	return h.capacity - h.next
}

func (h *DescriptorHeap) Capacity() uint32 {
	return h.capacity
}

func (h *DescriptorHeap) Stride() uint32 {
	return h.stride
}

func (h *DescriptorHeap) Kind() gpu.DescriptorHeapType {
	return h.kind
}

func (h *DescriptorHeap) Name() string {
	return h.name
}

// Heap is the native heap, used for SetDescriptorHeaps.
func (h *DescriptorHeap) Heap() gpu.DescriptorHeap {
	return h.heap
}

func (h *DescriptorHeap) Release() error {
	if h.heap == nil {
		return nil
	}
	err := h.heap.Release()
	h.heap = nil
	return err
}
