package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// DescriptorHeap lives entirely on the CPU. Descriptor sets are written from
// its slots when a command list flushes its root bindings.
type DescriptorHeap struct {
	dev      *Device
	desc     gpu.DescriptorHeapDesc
	stride   uint32
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

func (h *DescriptorHeap) Release() error {
	h.dev.views.dropHeap(h)
	return nil
}

func (h *DescriptorHeap) containsCPU(ptr uint64) bool {
	if ptr < h.cpuStart {
		return false
	}
	offset := ptr - h.cpuStart
	return offset%uint64(h.stride) == 0 && offset/uint64(h.stride) < uint64(h.desc.NumDescriptors)
}

func (h *DescriptorHeap) containsGPU(ptr uint64) bool {
	if h.gpuStart == 0 || ptr < h.gpuStart {
		return false
	}
	return (ptr-h.gpuStart)/uint64(h.stride) < uint64(h.desc.NumDescriptors)
}

type viewRecord struct {
	resource *Resource
	desc     gpu.ViewDesc
	// Null for buffer views.
	view   vk.ImageView
	layout vk.ImageLayout
}

// viewTable maps CPU descriptor handles to what was written there.
type viewTable struct {
	mu      sync.Mutex
	nextCPU uint64
	nextGPU uint64
	heaps   []*DescriptorHeap
	records map[uint64]viewRecord
}

func newViewTable() *viewTable {
	return &viewTable{
		nextCPU: 0x1000,
		nextGPU: 0x1_0000_0000,
		records: make(map[uint64]viewRecord),
	}
}

func (vt *viewTable) addHeap(h *DescriptorHeap) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	size := uint64(h.desc.NumDescriptors) * uint64(h.stride)
	h.cpuStart = vt.nextCPU
	vt.nextCPU += size + 0x1000
	if h.desc.ShaderVisible {
		h.gpuStart = vt.nextGPU
		vt.nextGPU += size + 0x1000
	}
	vt.heaps = append(vt.heaps, h)
}

func (vt *viewTable) dropHeap(h *DescriptorHeap) {
	vt.mu.Lock()
	var dropped []viewRecord
	for i, other := range vt.heaps {
		if other == h {
			vt.heaps = append(vt.heaps[:i], vt.heaps[i+1:]...)
			break
		}
	}
	for ptr, rec := range vt.records {
		if h.containsCPU(ptr) {
			dropped = append(dropped, rec)
			delete(vt.records, ptr)
		}
	}
	vt.mu.Unlock()
	for _, rec := range dropped {
		destroyView(h.dev, rec)
	}
}

func (vt *viewTable) heapFor(ptr uint64) *DescriptorHeap {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	for _, h := range vt.heaps {
		if h.containsCPU(ptr) {
			return h
		}
	}
	return nil
}

// cpuForGPU translates a shader-visible handle to the CPU handle of the same
// slot.
func (vt *viewTable) cpuForGPU(ptr uint64) (uint64, *DescriptorHeap, bool) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	for _, h := range vt.heaps {
		if h.containsGPU(ptr) {
			return h.cpuStart + (ptr - h.gpuStart), h, true
		}
	}
	return 0, nil, false
}

func (vt *viewTable) put(dev *Device, ptr uint64, rec viewRecord) {
	vt.mu.Lock()
	old, ok := vt.records[ptr]
	vt.records[ptr] = rec
	vt.mu.Unlock()
	if ok {
		destroyView(dev, old)
	}
}

func (vt *viewTable) get(ptr uint64) (viewRecord, bool) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	rec, ok := vt.records[ptr]
	return rec, ok
}

func (vt *viewTable) forgetResource(r *Resource) {
	vt.mu.Lock()
	var dropped []viewRecord
	for ptr, rec := range vt.records {
		if rec.resource == r {
			dropped = append(dropped, rec)
			delete(vt.records, ptr)
		}
	}
	vt.mu.Unlock()
	for _, rec := range dropped {
		destroyView(r.dev, rec)
	}
}

// refreshResource rebuilds the image views of r after its image changed
// underneath it.
func (vt *viewTable) refreshResource(dev *Device, r *Resource) {
	vt.mu.Lock()
	stale := make(map[uint64]viewRecord)
	for ptr, rec := range vt.records {
		if rec.resource == r {
			stale[ptr] = rec
		}
	}
	vt.mu.Unlock()
	for ptr, rec := range stale {
		destroyView(dev, rec)
		view, layout, ok := dev.createImageView(r, rec.desc)
		vt.mu.Lock()
		if ok {
			rec.view, rec.layout = view, layout
			vt.records[ptr] = rec
		} else {
			delete(vt.records, ptr)
		}
		vt.mu.Unlock()
	}
}

func (vt *viewTable) destroyAll(dev *Device) {
	vt.mu.Lock()
	records := vt.records
	vt.records = make(map[uint64]viewRecord)
	vt.heaps = nil
	vt.mu.Unlock()
	for _, rec := range records {
		destroyView(dev, rec)
	}
}

func destroyView(dev *Device, rec viewRecord) {
	if rec.view == vk.NullImageView {
		return
	}
	dev.framebuffers.forget(dev, rec.view)
	vk.DestroyImageView(dev.logical, rec.view, dev.ctx.Allocator)
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	h := &DescriptorHeap{
		dev:    d,
		desc:   desc,
		stride: d.DescriptorHandleIncrementSize(desc.Type),
	}
	// Only CBV/SRV/UAV and sampler heaps can be shader visible.
	if desc.Type == gpu.DescriptorHeapTypeRTV || desc.Type == gpu.DescriptorHeapTypeDSV {
		h.desc.ShaderVisible = false
	}
	d.views.addHeap(h)
	core.LogDebug("descriptor heap %s: %d slots at %#x", desc.Type, desc.NumDescriptors, h.cpuStart)
	return h, nil
}

func viewFitsHeap(kind gpu.ViewKind, heap gpu.DescriptorHeapType) bool {
	switch kind {
	case gpu.ViewKindRenderTarget:
		return heap == gpu.DescriptorHeapTypeRTV
	case gpu.ViewKindDepthStencil:
		return heap == gpu.DescriptorHeapTypeDSV
	}
	return heap == gpu.DescriptorHeapTypeCbvSrvUav
}

// viewLayout is the image layout a view is expected to be used in.
func viewLayout(kind gpu.ViewKind, depth bool) vk.ImageLayout {
	switch kind {
	case gpu.ViewKindRenderTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.ViewKindDepthStencil:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.ViewKindUnorderedAccess:
		return vk.ImageLayoutGeneral
	}
	if depth {
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	}
	return vk.ImageLayoutShaderReadOnlyOptimal
}

func (d *Device) CreateView(res gpu.Resource, view gpu.ViewDesc, dest gpu.CPUDescriptorHandle) {
	heap := d.views.heapFor(dest.Ptr)
	switch {
	case heap == nil:
		d.report("CreateView: destination %#x is not inside any descriptor heap", dest.Ptr)
		return
	case !viewFitsHeap(view.Kind, heap.desc.Type):
		d.report("CreateView: %s view written into a %s heap", view.Kind, heap.desc.Type)
		return
	}

	var r *Resource
	if res != nil {
		var ok bool
		if r, ok = res.(*Resource); !ok {
			d.report("CreateView: resource %T does not belong to the vulkan device", res)
			return
		}
	}
	rec := viewRecord{resource: r, desc: view}
	if r == nil || r.isBuffer() {
		d.views.put(d, dest.Ptr, rec)
		return
	}

	imageView, layout, ok := d.createImageView(r, view)
	if !ok {
		return
	}
	rec.view = imageView
	rec.layout = layout
	d.views.put(d, dest.Ptr, rec)
}

func (d *Device) createImageView(r *Resource, view gpu.ViewDesc) (vk.ImageView, vk.ImageLayout, bool) {
	format := r.format
	if !isDepthVkFormat(r.format) {
		if vf := toVkFormat(view.Format); vf != vk.FormatUndefined && vf != r.format {
			d.report("CreateView: %s view of %s uses format %s, the image format is kept", view.Kind, r.name, view.Format)
		}
	}

	viewType := vk.ImageViewType2d
	switch view.Dimension {
	case gpu.ViewDimensionTexture2DArray:
		viewType = vk.ImageViewType2dArray
	case gpu.ViewDimensionTextureCube:
		viewType = vk.ImageViewTypeCube
	}

	levels := view.MipLevels
	if levels == 0 || view.Kind == gpu.ViewKindRenderTarget || view.Kind == gpu.ViewKindDepthStencil || view.Kind == gpu.ViewKindUnorderedAccess {
		levels = 1
	}
	if view.MipSlice+levels > uint32(r.desc.MipLevels) {
		levels = uint32(r.desc.MipLevels) - view.MipSlice
	}
	layers := view.ArraySize
	if layers == 0 {
		layers = uint32(r.desc.DepthOrArraySize) - view.FirstArraySlice
	}
	if viewType == vk.ImageViewTypeCube {
		layers = 6
	}

	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    r.image,
		ViewType: viewType,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     viewAspectFor(format, view.Kind),
			BaseMipLevel:   view.MipSlice,
			LevelCount:     levels,
			BaseArrayLayer: view.FirstArraySlice,
			LayerCount:     layers,
		},
	}
	var imageView vk.ImageView
	if err := resultError("vkCreateImageView", vk.CreateImageView(d.logical, &info, d.ctx.Allocator, &imageView)); err != nil {
		d.report("CreateView: %s", d.observe(err))
		return vk.NullImageView, vk.ImageLayoutUndefined, false
	}
	return imageView, viewLayout(view.Kind, isDepthVkFormat(format)), true
}
