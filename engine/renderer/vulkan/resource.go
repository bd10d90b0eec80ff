package vulkan

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// Vulkan 1.0 has no buffer device addresses, so every allocation gets a range
// in a synthetic GPU address space. Root descriptor binds translate the
// address back into (buffer, offset).
const addressAlignment = 64 * 1024

type addressSpace struct {
	mu    sync.Mutex
	next  uint64
	bases []uint64
	owner map[uint64]*Resource
}

func newAddressSpace() *addressSpace {
	return &addressSpace{next: addressAlignment, owner: make(map[uint64]*Resource)}
}

func (as *addressSpace) reserve(res *Resource, size uint64) uint64 {
	as.mu.Lock()
	defer as.mu.Unlock()
	base := as.next
	as.next += math.Align(size, uint64(addressAlignment))
	if size == 0 {
		as.next += addressAlignment
	}
	as.bases = append(as.bases, base)
	as.owner[base] = res
	return base
}

func (as *addressSpace) release(base uint64) {
	as.mu.Lock()
	defer as.mu.Unlock()
	delete(as.owner, base)
	i := sort.Search(len(as.bases), func(i int) bool { return as.bases[i] >= base })
	if i < len(as.bases) && as.bases[i] == base {
		as.bases = append(as.bases[:i], as.bases[i+1:]...)
	}
}

// resolve finds the live resource containing addr.
func (as *addressSpace) resolve(addr uint64) (*Resource, uint64, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	i := sort.Search(len(as.bases), func(i int) bool { return as.bases[i] > addr })
	if i == 0 {
		return nil, 0, false
	}
	base := as.bases[i-1]
	res := as.owner[base]
	if res == nil || addr-base >= res.size {
		return nil, 0, false
	}
	return res, addr - base, true
}

// Resource is a vk.Buffer or vk.Image with its own memory. Swapchain images
// are wrapped without memory and are never destroyed here.
type Resource struct {
	dev      *Device
	desc     gpu.ResourceDesc
	heapType gpu.HeapType
	name     string
	size     uint64
	address  uint64

	buffer vk.Buffer
	image  vk.Image
	memory vk.DeviceMemory
	format vk.Format

	mapped      []byte
	presentable bool
	// An image is undefined until its first transition or clear.
	initialized bool
	released    bool
}

func (r *Resource) isBuffer() bool {
	return r.desc.Dimension == gpu.ResourceDimensionBuffer
}

func (r *Resource) fullRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     aspectFor(r.format),
		BaseMipLevel:   0,
		LevelCount:     uint32(r.desc.MipLevels),
		BaseArrayLayer: 0,
		LayerCount:     uint32(r.desc.DepthOrArraySize),
	}
}

func (r *Resource) Desc() gpu.ResourceDesc {
	return r.desc
}

func (r *Resource) HeapType() gpu.HeapType {
	return r.heapType
}

func (r *Resource) GPUVirtualAddress() uint64 {
	if r.released {
		return 0
	}
	return r.address
}

// Map maps host-visible memory once and keeps it mapped until Release.
func (r *Resource) Map() ([]byte, error) {
	if r.heapType == gpu.HeapTypeDefault {
		return nil, fmt.Errorf("resource `%s` lives in device-local memory and cannot be mapped", r.name)
	}
	if r.mapped != nil {
		return r.mapped, nil
	}
	var ptr unsafe.Pointer
	if err := resultError("vkMapMemory", vk.MapMemory(r.dev.logical, r.memory, 0, vk.DeviceSize(r.size), 0, &ptr)); err != nil {
		return nil, err
	}
	r.mapped = unsafe.Slice((*byte)(ptr), r.size)
	return r.mapped, nil
}

// Unmap is a no-op: upload memory is coherent and stays persistently mapped.
func (r *Resource) Unmap() {}

func (r *Resource) SetName(name string) {
	r.name = name
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) Release() error {
	if r.released {
		return nil
	}
	r.released = true
	if r.presentable {
		return nil
	}
	dev := r.dev.logical
	if r.mapped != nil {
		vk.UnmapMemory(dev, r.memory)
		r.mapped = nil
	}
	r.dev.views.forgetResource(r)
	if r.buffer != vk.NullBuffer {
		vk.DestroyBuffer(dev, r.buffer, r.dev.ctx.Allocator)
		r.buffer = vk.NullBuffer
	}
	if r.image != vk.NullImage {
		vk.DestroyImage(dev, r.image, r.dev.ctx.Allocator)
		r.image = vk.NullImage
	}
	if r.memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, r.memory, r.dev.ctx.Allocator)
		r.memory = vk.NullDeviceMemory
	}
	r.dev.addresses.release(r.address)
	return nil
}

func memoryPropertiesFor(heap gpu.HeapType) vk.MemoryPropertyFlagBits {
	switch heap {
	case gpu.HeapTypeUpload:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case gpu.HeapTypeReadback:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit | vk.MemoryPropertyHostCachedBit
	}
	return vk.MemoryPropertyDeviceLocalBit
}

const allBufferUsage = vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit |
	vk.BufferUsageUniformBufferBit | vk.BufferUsageStorageBufferBit |
	vk.BufferUsageVertexBufferBit | vk.BufferUsageIndexBufferBit | vk.BufferUsageIndirectBufferBit

func imageUsageFor(flags gpu.ResourceFlags) vk.ImageUsageFlagBits {
	usage := vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit
	if flags&gpu.ResourceFlagAllowRenderTarget != 0 {
		usage |= vk.ImageUsageColorAttachmentBit
	}
	if flags&gpu.ResourceFlagAllowDepthStencil != 0 {
		usage |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if flags&gpu.ResourceFlagAllowUnorderedAccess != 0 {
		usage |= vk.ImageUsageStorageBit
	}
	return usage
}

func (d *Device) createBuffer(heap gpu.HeapType, desc gpu.ResourceDesc) (*Resource, error) {
	res := &Resource{dev: d, desc: desc, heapType: heap, size: desc.Width, format: vk.FormatUndefined, initialized: true}
	var buffer vk.Buffer
	ret := vk.CreateBuffer(d.logical, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Width),
		Usage:       vk.BufferUsageFlags(allBufferUsage),
		SharingMode: vk.SharingModeExclusive,
	}, d.ctx.Allocator, &buffer)
	if err := resultError("vkCreateBuffer", ret); err != nil {
		return nil, err
	}
	res.buffer = buffer

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, buffer, &reqs)
	reqs.Deref()
	mem, err := d.allocate(reqs, memoryPropertiesFor(heap))
	if err != nil {
		vk.DestroyBuffer(d.logical, buffer, d.ctx.Allocator)
		return nil, err
	}
	res.memory = mem
	if err := resultError("vkBindBufferMemory", vk.BindBufferMemory(d.logical, buffer, mem, 0)); err != nil {
		_ = res.Release()
		return nil, err
	}
	return res, nil
}

func (d *Device) createImage(heap gpu.HeapType, desc gpu.ResourceDesc) (*Resource, error) {
	if heap != gpu.HeapTypeDefault {
		return nil, fmt.Errorf("textures must live in the default heap, got heap %d", heap)
	}
	format := toVkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, fmt.Errorf("format %s has no Vulkan equivalent", desc.Format)
	}
	if isDepthVkFormat(format) && !d.supportsDepthFormat(format) {
		return nil, fmt.Errorf("depth format %s is not supported by %s", desc.Format, d.name)
	}
	res := &Resource{dev: d, desc: desc, heapType: heap, size: desc.SizeInBytes(), format: format}

	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  uint32(desc.Width),
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     uint32(desc.MipLevels),
		ArrayLayers:   uint32(desc.DepthOrArraySize),
		Samples:       sampleCountFlag(desc.SampleCount),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(imageUsageFor(desc.Flags)),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.DepthOrArraySize%6 == 0 && desc.Width == uint64(desc.Height) {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	var image vk.Image
	if err := resultError("vkCreateImage", vk.CreateImage(d.logical, &info, d.ctx.Allocator, &image)); err != nil {
		return nil, err
	}
	res.image = image

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical, image, &reqs)
	reqs.Deref()
	mem, err := d.allocate(reqs, memoryPropertiesFor(heap))
	if err != nil {
		vk.DestroyImage(d.logical, image, d.ctx.Allocator)
		return nil, err
	}
	res.memory = mem
	if err := resultError("vkBindImageMemory", vk.BindImageMemory(d.logical, image, mem, 0)); err != nil {
		_ = res.Release()
		return nil, err
	}
	return res, nil
}

func (d *Device) allocate(reqs vk.MemoryRequirements, props vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	index := d.ctx.FindMemoryIndex(reqs.MemoryTypeBits, uint32(props))
	if index < 0 {
		return vk.NullDeviceMemory, fmt.Errorf("no memory type matches properties %#x", uint32(props))
	}
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(d.logical, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}, d.ctx.Allocator, &mem)
	if err := resultError("vkAllocateMemory", ret); err != nil {
		return vk.NullDeviceMemory, err
	}
	return mem, nil
}

func (d *Device) CreateCommittedResource(heap gpu.HeapType, desc gpu.ResourceDesc, initial gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	var (
		res *Resource
		err error
	)
	if desc.Dimension == gpu.ResourceDimensionBuffer {
		res, err = d.createBuffer(heap, desc)
	} else {
		res, err = d.createImage(heap, desc)
	}
	if err != nil {
		core.LogError("CreateCommittedResource: %s", err)
		return nil, err
	}
	res.address = d.addresses.reserve(res, res.size)
	return res, nil
}
