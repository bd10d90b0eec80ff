package headless

import (
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

type DescriptorHeap struct {
	desc     gpu.DescriptorHeapDesc
	cpuStart uint64
	gpuStart uint64
	name     string
}

func (h *DescriptorHeap) Desc() gpu.DescriptorHeapDesc {
	return h.desc
}

func (h *DescriptorHeap) CPUStart() gpu.CPUDescriptorHandle {
	return gpu.CPUDescriptorHandle{Ptr: h.cpuStart}
}

func (h *DescriptorHeap) GPUStart() gpu.GPUDescriptorHandle {
	return gpu.GPUDescriptorHandle{Ptr: h.gpuStart}
}

func (h *DescriptorHeap) SetName(name string) {
	h.name = name
}

func (h *DescriptorHeap) Name() string {
	return h.name
}

func (h *DescriptorHeap) Release() error {
	return nil
}

// contains reports whether handle points at one of the heap's slots.
func (h *DescriptorHeap) contains(handle gpu.CPUDescriptorHandle, stride uint32) bool {
	if handle.Ptr < h.cpuStart || stride == 0 {
		return false
	}
	offset := handle.Ptr - h.cpuStart
	return offset%uint64(stride) == 0 && offset/uint64(stride) < uint64(h.desc.NumDescriptors)
}
