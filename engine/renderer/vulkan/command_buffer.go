package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

var ErrListNotReady = errors.New("command list reset while still recording")

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
}

func NewVulkanCommandBuffer(dev *Device, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := resultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(dev.logical, &allocateInfo, handles)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(dev *Device, pool vk.CommandPool) {
	vk.FreeCommandBuffers(dev.logical, pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}
	if err := resultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(v.Handle, vBeginInfo)); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if err := resultError("vkEndCommandBuffer", vk.EndCommandBuffer(v.Handle)); err != nil {
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

func (v *VulkanCommandBuffer) recording() bool {
	return v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

const descriptorSetsPerPool = 256

// CommandAllocator is a command pool plus the descriptor pools the lists
// recorded from it allocate their sets from. Both reset together.
type CommandAllocator struct {
	dev             *Device
	typ             gpu.CommandListType
	family          uint32
	pool            vk.CommandPool
	descriptorPools []vk.DescriptorPool
	current         int
}

func (d *Device) CreateCommandAllocator(t gpu.CommandListType) (gpu.CommandAllocator, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	a := &CommandAllocator{dev: d, typ: t, family: d.queueFamily(t)}
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: a.family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if err := d.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError("vkCreateCommandPool", vk.CreateCommandPool(d.logical, &poolCreateInfo, d.ctx.Allocator, &a.pool))
	}); err != nil {
		return nil, d.observe(err)
	}
	if t != gpu.CommandListTypeCopy {
		if _, err := a.addDescriptorPool(); err != nil {
			_ = a.Release()
			return nil, d.observe(err)
		}
	}
	return a, nil
}

func (a *CommandAllocator) Type() gpu.CommandListType {
	return a.typ
}

func (a *CommandAllocator) addDescriptorPool() (vk.DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 4 * descriptorSetsPerPool},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: 4 * descriptorSetsPerPool},
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: 4 * descriptorSetsPerPool},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 2 * descriptorSetsPerPool},
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorSetsPerPool,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	err := a.dev.locks.SafeCall(DescriptorManagement, func() error {
		return resultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(a.dev.logical, &info, a.dev.ctx.Allocator, &pool))
	})
	if err != nil {
		return pool, err
	}
	a.descriptorPools = append(a.descriptorPools, pool)
	return pool, nil
}

// allocateSets moves on to a fresh pool when the current one is exhausted.
func (a *CommandAllocator) allocateSets(layouts []vk.DescriptorSetLayout) ([]vk.DescriptorSet, error) {
	if len(a.descriptorPools) == 0 {
		return nil, fmt.Errorf("%s allocator has no descriptor pool", a.typ)
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	for attempt := 0; attempt < 2; attempt++ {
		info := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     a.descriptorPools[a.current],
			DescriptorSetCount: uint32(len(layouts)),
			PSetLayouts:        layouts,
		}
		res := vk.AllocateDescriptorSets(a.dev.logical, &info, &sets[0])
		if res == vk.ErrorOutOfPoolMemory || res == vk.ErrorFragmentedPool {
			a.current++
			if a.current == len(a.descriptorPools) {
				if _, err := a.addDescriptorPool(); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := resultError("vkAllocateDescriptorSets", res); err != nil {
			return nil, err
		}
		return sets, nil
	}
	return nil, fmt.Errorf("descriptor set allocation failed on a fresh pool")
}

func (a *CommandAllocator) Reset() error {
	if err := a.dev.checkAlive(); err != nil {
		return err
	}
	if err := resultError("vkResetCommandPool", vk.ResetCommandPool(a.dev.logical, a.pool, 0)); err != nil {
		return a.dev.observe(err)
	}
	for _, p := range a.descriptorPools {
		if err := resultError("vkResetDescriptorPool", vk.ResetDescriptorPool(a.dev.logical, p, 0)); err != nil {
			return a.dev.observe(err)
		}
	}
	a.current = 0
	return nil
}

func (a *CommandAllocator) Release() error {
	return a.dev.locks.SafeCall(CommandPoolManagement, func() error {
		for _, p := range a.descriptorPools {
			vk.DestroyDescriptorPool(a.dev.logical, p, a.dev.ctx.Allocator)
		}
		a.descriptorPools = nil
		if a.pool != vk.NullCommandPool {
			vk.DestroyCommandPool(a.dev.logical, a.pool, a.dev.ctx.Allocator)
			a.pool = vk.NullCommandPool
		}
		return nil
	})
}

// bindPointState holds root bindings until the next draw or dispatch writes
// them into descriptor sets.
type bindPointState struct {
	sig       *RootSignature
	addresses map[uint32]uint64
	tables    map[uint32]gpu.GPUDescriptorHandle
	constants map[uint32][]uint32
}

func (s *bindPointState) setSignature(sig *RootSignature) {
	if s.sig == sig {
		return
	}
	s.sig = sig
	s.addresses = make(map[uint32]uint64)
	s.tables = make(map[uint32]gpu.GPUDescriptorHandle)
	s.constants = make(map[uint32][]uint32)
}

func (s *bindPointState) setConstants(index uint32, values []uint32, offset uint32) {
	cur := s.constants[index]
	if need := int(offset) + len(values); len(cur) < need {
		grown := make([]uint32, need)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:], values)
	s.constants[index] = cur
}

// CommandList records into one primary command buffer.
type CommandList struct {
	dev   *Device
	typ   gpu.CommandListType
	alloc *CommandAllocator
	cb    *VulkanCommandBuffer
	name  string

	pipeline *PipelineState
	graphics bindPointState
	compute  bindPointState

	pass      *VulkanRenderpass
	rtvs      []uint64
	dsv       uint64
	viewports []vk.Viewport
	scissors  []vk.Rect2D
}

func (d *Device) CreateCommandList(t gpu.CommandListType, alloc gpu.CommandAllocator) (gpu.CommandList, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("allocator %T does not belong to the vulkan device", alloc)
	}
	if a.typ != t {
		return nil, fmt.Errorf("%s list created from a %s allocator", t, a.typ)
	}
	cb, err := NewVulkanCommandBuffer(d, a.pool, true)
	if err != nil {
		return nil, d.observe(err)
	}
	if err := cb.Begin(true, false, false); err != nil {
		return nil, d.observe(err)
	}
	return &CommandList{dev: d, typ: t, alloc: a, cb: cb}, nil
}

func (l *CommandList) Type() gpu.CommandListType {
	return l.typ
}

func (l *CommandList) SetName(name string) {
	l.name = name
}

func (l *CommandList) Reset(alloc gpu.CommandAllocator, initial gpu.PipelineState) error {
	if l.cb.recording() {
		return ErrListNotReady
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return fmt.Errorf("allocator %T does not belong to the vulkan device", alloc)
	}
	if a != l.alloc {
		l.cb.Free(l.dev, l.alloc.pool)
		cb, err := NewVulkanCommandBuffer(l.dev, a.pool, true)
		if err != nil {
			return l.dev.observe(err)
		}
		l.cb = cb
		l.alloc = a
	}
	l.cb.Reset()
	if err := l.cb.Begin(true, false, false); err != nil {
		return l.dev.observe(err)
	}

	l.pipeline = nil
	l.graphics = bindPointState{}
	l.compute = bindPointState{}
	l.rtvs = nil
	l.dsv = 0
	l.viewports = nil
	l.scissors = nil
	if initial != nil {
		l.SetPipelineState(initial)
	}
	return nil
}

func (l *CommandList) Close() error {
	if !l.cb.recording() {
		return fmt.Errorf("command list %s closed twice", l.name)
	}
	return l.dev.observe(l.cb.End())
}

func (l *CommandList) ResourceBarrier(barriers []gpu.Barrier) {
	batch := translateBarriers(barriers)
	if batch.empty() {
		return
	}
	src, dst := batch.srcStages, batch.dstStages
	if src == 0 {
		src = vk.PipelineStageTopOfPipeBit
	}
	if dst == 0 {
		dst = vk.PipelineStageBottomOfPipeBit
	}
	vk.CmdPipelineBarrier(l.cb.Handle,
		vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst), 0,
		uint32(len(batch.memory)), batch.memory,
		uint32(len(batch.buffers)), batch.buffers,
		uint32(len(batch.images)), batch.images)
	for _, r := range batch.initialized {
		r.initialized = true
	}
}

func (l *CommandList) SetPipelineState(pso gpu.PipelineState) {
	p, ok := pso.(*PipelineState)
	if !ok {
		l.dev.report("SetPipelineState: %T does not belong to the vulkan device", pso)
		return
	}
	l.pipeline = p
	p.Bind(l.cb)
}

func (l *CommandList) rootSignature(rs gpu.RootSignature, op string) *RootSignature {
	sig, ok := rs.(*RootSignature)
	if !ok {
		l.dev.report("%s: %T does not belong to the vulkan device", op, rs)
		return nil
	}
	return sig
}

func (l *CommandList) SetGraphicsRootSignature(rs gpu.RootSignature) {
	if sig := l.rootSignature(rs, "SetGraphicsRootSignature"); sig != nil {
		l.graphics.setSignature(sig)
	}
}

func (l *CommandList) SetComputeRootSignature(rs gpu.RootSignature) {
	if sig := l.rootSignature(rs, "SetComputeRootSignature"); sig != nil {
		l.compute.setSignature(sig)
	}
}

// SetDescriptorHeaps only validates: tables are resolved against every live
// shader-visible heap.
func (l *CommandList) SetDescriptorHeaps(heaps []gpu.DescriptorHeap) {
	for _, h := range heaps {
		dh, ok := h.(*DescriptorHeap)
		if !ok {
			l.dev.report("SetDescriptorHeaps: %T does not belong to the vulkan device", h)
			continue
		}
		if !dh.desc.ShaderVisible {
			l.dev.report("SetDescriptorHeaps: heap %s is not shader visible", dh.name)
		}
	}
}

func (l *CommandList) SetGraphicsRootConstantBufferView(rootIndex uint32, address uint64) {
	l.graphics.addresses[rootIndex] = address
}

func (l *CommandList) SetGraphicsRootShaderResourceView(rootIndex uint32, address uint64) {
	l.graphics.addresses[rootIndex] = address
}

func (l *CommandList) SetGraphicsRootDescriptorTable(rootIndex uint32, base gpu.GPUDescriptorHandle) {
	l.graphics.tables[rootIndex] = base
}

func (l *CommandList) SetGraphicsRoot32BitConstants(rootIndex uint32, values []uint32, offset uint32) {
	l.graphics.setConstants(rootIndex, values, offset)
}

func (l *CommandList) SetComputeRootConstantBufferView(rootIndex uint32, address uint64) {
	l.compute.addresses[rootIndex] = address
}

func (l *CommandList) SetComputeRootShaderResourceView(rootIndex uint32, address uint64) {
	l.compute.addresses[rootIndex] = address
}

func (l *CommandList) SetComputeRootUnorderedAccessView(rootIndex uint32, address uint64) {
	l.compute.addresses[rootIndex] = address
}

func (l *CommandList) SetComputeRootDescriptorTable(rootIndex uint32, base gpu.GPUDescriptorHandle) {
	l.compute.tables[rootIndex] = base
}

func (l *CommandList) SetComputeRoot32BitConstants(rootIndex uint32, values []uint32, offset uint32) {
	l.compute.setConstants(rootIndex, values, offset)
}

// bufferInfo resolves a GPU virtual address into a buffer binding.
func (l *CommandList) bufferInfo(address uint64, size uint64) (vk.DescriptorBufferInfo, bool) {
	res, offset, ok := l.dev.addresses.resolve(address)
	if !ok || !res.isBuffer() {
		return vk.DescriptorBufferInfo{}, false
	}
	rng := vk.DeviceSize(vk.WholeSize)
	if size != 0 {
		rng = vk.DeviceSize(size)
	}
	return vk.DescriptorBufferInfo{Buffer: res.buffer, Offset: vk.DeviceSize(offset), Range: rng}, true
}

// flushBindings writes the root bindings into freshly allocated descriptor
// sets and binds them.
func (l *CommandList) flushBindings(bindPoint vk.PipelineBindPoint, st *bindPointState, op string) {
	sig := st.sig
	if sig == nil {
		return
	}

	var sets []vk.DescriptorSet
	if len(sig.setLayouts) > 0 {
		var err error
		if sets, err = l.alloc.allocateSets(sig.setLayouts); err != nil {
			l.dev.report("%s: %s", op, l.dev.observe(err))
			return
		}
	}

	var writes []vk.WriteDescriptorSet
	for i, pb := range sig.layout.params {
		index := uint32(i)
		switch pb.kind {
		case gpu.RootParameterCBV, gpu.RootParameterSRV, gpu.RootParameterUAV:
			address, bound := st.addresses[index]
			if !bound {
				l.dev.report("%s: root parameter %d of %s is not bound", op, i, sig.name)
				continue
			}
			var size uint64
			if pb.kind == gpu.RootParameterCBV {
				size = uint64(l.dev.ctx.Properties.Limits.MaxUniformBufferRange)
				if res, offset, ok := l.dev.addresses.resolve(address); ok && res.size-offset < size {
					size = res.size - offset
				}
			}
			info, ok := l.bufferInfo(address, size)
			if !ok {
				l.dev.report("%s: root parameter %d address %#x is not inside a live buffer", op, i, address)
				continue
			}
			writes = append(writes, vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          sets[pb.set],
				DstBinding:      pb.binding,
				DescriptorCount: 1,
				DescriptorType:  pb.descType,
				PBufferInfo:     []vk.DescriptorBufferInfo{info},
			})
		case gpu.RootParameterDescriptorTable:
			base, bound := st.tables[index]
			if !bound {
				l.dev.report("%s: descriptor table %d of %s is not bound", op, i, sig.name)
				continue
			}
			writes = append(writes, l.tableWrites(sets[pb.set], pb, base, op)...)
		case gpu.RootParameterConstants:
			values := st.constants[index]
			if len(values) == 0 {
				continue
			}
			size := uint32(len(values)) * 4
			if size > pb.pushSize {
				size = pb.pushSize
			}
			vk.CmdPushConstants(l.cb.Handle, sig.handle, vk.ShaderStageFlags(vk.ShaderStageAll), pb.pushOffset, size, unsafe.Pointer(&values[0]))
		}
	}

	if len(writes) > 0 {
		vk.UpdateDescriptorSets(l.dev.logical, uint32(len(writes)), writes, 0, nil)
	}
	if len(sets) > 0 {
		vk.CmdBindDescriptorSets(l.cb.Handle, bindPoint, sig.handle, 0, uint32(len(sets)), sets, 0, nil)
	}
}

func (l *CommandList) tableWrites(set vk.DescriptorSet, pb paramBinding, base gpu.GPUDescriptorHandle, op string) []vk.WriteDescriptorSet {
	cpuBase, heap, ok := l.dev.views.cpuForGPU(base.Ptr)
	if !ok {
		l.dev.report("%s: table handle %#x is not inside a shader-visible heap", op, base.Ptr)
		return nil
	}
	var writes []vk.WriteDescriptorSet
	for r, rng := range pb.ranges {
		for j := uint32(0); j < rng.count; j++ {
			ptr := cpuBase + uint64(rng.offset+j)*uint64(heap.stride)
			rec, ok := l.dev.views.get(ptr)
			if !ok {
				continue
			}
			w := vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      uint32(r),
				DstArrayElement: j,
				DescriptorCount: 1,
				DescriptorType:  rng.descType,
			}
			switch rng.descType {
			case vk.DescriptorTypeSampledImage, vk.DescriptorTypeStorageImage:
				if rec.view == vk.NullImageView {
					l.dev.report("%s: table slot %d holds a buffer view where an image is expected", op, rng.offset+j)
					continue
				}
				w.PImageInfo = []vk.DescriptorImageInfo{{ImageView: rec.view, ImageLayout: rec.layout}}
			default:
				info, ok := l.viewBufferInfo(rec)
				if !ok {
					l.dev.report("%s: table slot %d does not reference a live buffer", op, rng.offset+j)
					continue
				}
				w.PBufferInfo = []vk.DescriptorBufferInfo{info}
			}
			writes = append(writes, w)
		}
	}
	return writes
}

// viewBufferInfo resolves a buffer view: constant buffer views carry an
// address, structured and raw views an element range of their resource.
func (l *CommandList) viewBufferInfo(rec viewRecord) (vk.DescriptorBufferInfo, bool) {
	if rec.resource == nil {
		return l.bufferInfo(rec.desc.BufferLocation, uint64(rec.desc.SizeInBytes))
	}
	if !rec.resource.isBuffer() {
		return vk.DescriptorBufferInfo{}, false
	}
	stride := uint64(rec.desc.StructureByteStride)
	if stride == 0 {
		stride = 4
	}
	info := vk.DescriptorBufferInfo{
		Buffer: rec.resource.buffer,
		Offset: vk.DeviceSize(rec.desc.FirstElement * stride),
		Range:  vk.DeviceSize(vk.WholeSize),
	}
	if rec.desc.NumElements != 0 {
		info.Range = vk.DeviceSize(uint64(rec.desc.NumElements) * stride)
	}
	return info, true
}

func (l *CommandList) IASetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	if _, ok := vkTopology(topology); !ok {
		l.dev.report("IASetPrimitiveTopology: patch topologies are not supported")
	}
}

func (l *CommandList) IASetVertexBuffers(startSlot uint32, views []gpu.VertexBufferView) {
	if len(views) == 0 {
		return
	}
	buffers := make([]vk.Buffer, 0, len(views))
	offsets := make([]vk.DeviceSize, 0, len(views))
	for i, v := range views {
		res, offset, ok := l.dev.addresses.resolve(v.BufferLocation)
		if !ok || !res.isBuffer() {
			l.dev.report("IASetVertexBuffers: slot %d address %#x is not inside a live buffer", startSlot+uint32(i), v.BufferLocation)
			return
		}
		buffers = append(buffers, res.buffer)
		offsets = append(offsets, vk.DeviceSize(offset))
	}
	vk.CmdBindVertexBuffers(l.cb.Handle, startSlot, uint32(len(buffers)), buffers, offsets)
}

func (l *CommandList) IASetIndexBuffer(view *gpu.IndexBufferView) {
	if view == nil {
		return
	}
	res, offset, ok := l.dev.addresses.resolve(view.BufferLocation)
	if !ok || !res.isBuffer() {
		l.dev.report("IASetIndexBuffer: address %#x is not inside a live buffer", view.BufferLocation)
		return
	}
	indexType := vk.IndexTypeUint32
	if view.Format == gpu.FormatR16Uint {
		indexType = vk.IndexTypeUint16
	}
	vk.CmdBindIndexBuffer(l.cb.Handle, res.buffer, vk.DeviceSize(offset), indexType)
}

func (l *CommandList) RSSetViewports(viewports []gpu.Viewport) {
	l.viewports = l.viewports[:0]
	for _, v := range viewports {
		l.viewports = append(l.viewports, vk.Viewport{
			X:        v.TopLeftX,
			Y:        v.TopLeftY,
			Width:    v.Width,
			Height:   v.Height,
			MinDepth: v.MinDepth,
			MaxDepth: v.MaxDepth,
		})
	}
}

func (l *CommandList) RSSetScissorRects(rects []gpu.Rect) {
	l.scissors = l.scissors[:0]
	for _, r := range rects {
		l.scissors = append(l.scissors, toRect2D(r))
	}
}

func toRect2D(r gpu.Rect) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.Left, Y: r.Top},
		Extent: vk.Extent2D{Width: uint32(r.Right - r.Left), Height: uint32(r.Bottom - r.Top)},
	}
}

func (l *CommandList) OMSetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	l.rtvs = l.rtvs[:0]
	for _, h := range rtvs {
		l.rtvs = append(l.rtvs, h.Ptr)
	}
	l.dsv = 0
	if dsv != nil {
		l.dsv = dsv.Ptr
	}
}

func (l *CommandList) attachment(ptr uint64, op string) (viewRecord, bool) {
	rec, ok := l.dev.views.get(ptr)
	if !ok || rec.view == vk.NullImageView || rec.resource == nil {
		l.dev.report("%s: no image view at %#x", op, ptr)
		return viewRecord{}, false
	}
	return rec, true
}

// beginPass starts a render pass over the given attachments, loading their
// contents. It returns the framebuffer so callers know the render area.
func (l *CommandList) beginPass(colors []viewRecord, depth *viewRecord) (*VulkanFramebuffer, error) {
	if len(colors) > maxColorAttachments {
		return nil, fmt.Errorf("%d render targets bound, at most %d are supported", len(colors), maxColorAttachments)
	}
	var key renderpassKey
	var views []vk.ImageView
	var first *Resource
	for i, rec := range colors {
		key.colors[i] = rec.resource.format
		if !rec.resource.initialized {
			key.undefined |= 1 << uint(i)
		}
		views = append(views, rec.view)
		if first == nil {
			first = rec.resource
		}
	}
	key.numColors = len(colors)
	if depth != nil {
		key.depth = depth.resource.format
		if !depth.resource.initialized {
			key.undefined |= 1 << maxColorAttachments
		}
		views = append(views, depth.view)
		if first == nil {
			first = depth.resource
		}
	}
	if first == nil {
		return nil, fmt.Errorf("no attachments bound")
	}
	key.samples = sampleCountFlag(first.desc.SampleCount)

	rp, err := l.dev.passes.get(l.dev, key)
	if err != nil {
		return nil, err
	}
	fb, err := l.dev.framebuffers.get(l.dev, rp, uint32(first.desc.Width), first.desc.Height, views)
	if err != nil {
		return nil, err
	}
	rp.RenderpassBegin(l.cb, fb)
	l.pass = rp

	for _, rec := range colors {
		rec.resource.initialized = true
	}
	if depth != nil {
		depth.resource.initialized = true
	}
	return fb, nil
}

func (l *CommandList) endPass() {
	l.pass.RenderpassEnd(l.cb)
	l.pass = nil
}

func clearRects(rects []gpu.Rect, fb *VulkanFramebuffer) []vk.ClearRect {
	if len(rects) == 0 {
		return []vk.ClearRect{{
			Rect:       vk.Rect2D{Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height}},
			LayerCount: 1,
		}}
	}
	out := make([]vk.ClearRect, len(rects))
	for i, r := range rects {
		out[i] = vk.ClearRect{Rect: toRect2D(r), LayerCount: 1}
	}
	return out
}

func (l *CommandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32, rects []gpu.Rect) {
	rec, ok := l.attachment(rtv.Ptr, "ClearRenderTargetView")
	if !ok {
		return
	}
	fb, err := l.beginPass([]viewRecord{rec}, nil)
	if err != nil {
		l.dev.report("ClearRenderTargetView: %s", err)
		return
	}
	var value vk.ClearValue
	value.SetColor(color[:])
	cr := clearRects(rects, fb)
	vk.CmdClearAttachments(l.cb.Handle, 1, []vk.ClearAttachment{{
		AspectMask:      vk.ImageAspectFlags(vk.ImageAspectColorBit),
		ColorAttachment: 0,
		ClearValue:      value,
	}}, uint32(len(cr)), cr)
	l.endPass()
}

func (l *CommandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, flags gpu.ClearFlags, depth float32, stencil uint8, rects []gpu.Rect) {
	rec, ok := l.attachment(dsv.Ptr, "ClearDepthStencilView")
	if !ok {
		return
	}
	var aspect vk.ImageAspectFlagBits
	if flags&gpu.ClearFlagDepth != 0 {
		aspect |= vk.ImageAspectDepthBit
	}
	if flags&gpu.ClearFlagStencil != 0 && hasStencil(rec.resource.format) {
		aspect |= vk.ImageAspectStencilBit
	}
	if aspect == 0 {
		return
	}
	fb, err := l.beginPass(nil, &rec)
	if err != nil {
		l.dev.report("ClearDepthStencilView: %s", err)
		return
	}
	var value vk.ClearValue
	value.SetDepthStencil(depth, uint32(stencil))
	cr := clearRects(rects, fb)
	vk.CmdClearAttachments(l.cb.Handle, 1, []vk.ClearAttachment{{
		AspectMask: vk.ImageAspectFlags(aspect),
		ClearValue: value,
	}}, uint32(len(cr)), cr)
	l.endPass()
}

// prepareDraw opens a render pass over the bound targets and flushes the
// graphics bindings. The caller records the draw and ends the pass.
func (l *CommandList) prepareDraw(op string) bool {
	if l.pipeline == nil || l.pipeline.kind != gpu.PipelineKindGraphics {
		l.dev.report("%s: no graphics pipeline bound", op)
		return false
	}
	var colors []viewRecord
	for _, ptr := range l.rtvs {
		rec, ok := l.attachment(ptr, op)
		if !ok {
			return false
		}
		colors = append(colors, rec)
	}
	var depth *viewRecord
	if l.dsv != 0 {
		rec, ok := l.attachment(l.dsv, op)
		if !ok {
			return false
		}
		depth = &rec
	}
	fb, err := l.beginPass(colors, depth)
	if err != nil {
		l.dev.report("%s: %s", op, err)
		return false
	}

	viewports := l.viewports
	if len(viewports) == 0 {
		viewports = []vk.Viewport{{Width: float32(fb.Width), Height: float32(fb.Height), MaxDepth: 1}}
	}
	scissors := l.scissors
	if len(scissors) == 0 {
		scissors = []vk.Rect2D{{Extent: vk.Extent2D{Width: fb.Width, Height: fb.Height}}}
	}
	vk.CmdSetViewport(l.cb.Handle, 0, uint32(len(viewports)), viewports)
	vk.CmdSetScissor(l.cb.Handle, 0, uint32(len(scissors)), scissors)
	l.flushBindings(vk.PipelineBindPointGraphics, &l.graphics, op)
	return true
}

func (l *CommandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	if !l.prepareDraw("DrawInstanced") {
		return
	}
	vk.CmdDraw(l.cb.Handle, vertexCountPerInstance, instanceCount, startVertex, startInstance)
	l.endPass()
}

func (l *CommandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if !l.prepareDraw("DrawIndexedInstanced") {
		return
	}
	vk.CmdDrawIndexed(l.cb.Handle, indexCountPerInstance, instanceCount, startIndex, baseVertex, startInstance)
	l.endPass()
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	if l.pipeline == nil || l.pipeline.kind != gpu.PipelineKindCompute {
		l.dev.report("Dispatch: no compute pipeline bound")
		return
	}
	l.flushBindings(vk.PipelineBindPointCompute, &l.compute, "Dispatch")
	vk.CmdDispatch(l.cb.Handle, x, y, z)
}

func (l *CommandList) DispatchRays(desc gpu.DispatchRaysDesc) {
	l.dev.report("DispatchRays: ray tracing is not supported by %s", l.dev.name)
}

func (l *CommandList) BuildRaytracingAccelerationStructure(desc gpu.AccelerationStructureBuildDesc) {
	l.dev.report("BuildRaytracingAccelerationStructure: ray tracing is not supported by %s", l.dev.name)
}

func (l *CommandList) resources(dst, src gpu.Resource, op string) (*Resource, *Resource, bool) {
	d, ok1 := dst.(*Resource)
	s, ok2 := src.(*Resource)
	if !ok1 || !ok2 {
		l.dev.report("%s: resources do not belong to the vulkan device", op)
		return nil, nil, false
	}
	return d, s, true
}

func (l *CommandList) CopyResource(dst, src gpu.Resource) {
	d, s, ok := l.resources(dst, src, "CopyResource")
	if !ok {
		return
	}
	switch {
	case d.isBuffer() && s.isBuffer():
		size := s.size
		if d.size < size {
			l.dev.report("CopyResource: %s (%d bytes) is smaller than %s (%d bytes)", d.name, d.size, s.name, s.size)
			size = d.size
		}
		vk.CmdCopyBuffer(l.cb.Handle, s.buffer, d.buffer, 1, []vk.BufferCopy{{Size: vk.DeviceSize(size)}})
	case !d.isBuffer() && !s.isBuffer():
		if d.desc.Width != s.desc.Width || d.desc.Height != s.desc.Height || d.format != s.format {
			l.dev.report("CopyResource: %s and %s differ in size or format", d.name, s.name)
			return
		}
		layers := vk.ImageSubresourceLayers{
			AspectMask: aspectFor(s.format),
			LayerCount: uint32(s.desc.DepthOrArraySize),
		}
		vk.CmdCopyImage(l.cb.Handle,
			s.image, vk.ImageLayoutTransferSrcOptimal,
			d.image, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageCopy{{
				SrcSubresource: layers,
				DstSubresource: layers,
				Extent:         vk.Extent3D{Width: uint32(s.desc.Width), Height: s.desc.Height, Depth: 1},
			}})
		d.initialized = true
	default:
		l.dev.report("CopyResource: cannot copy between a buffer and a texture (%s, %s)", d.name, s.name)
	}
}

func (l *CommandList) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset, numBytes uint64) {
	d, s, ok := l.resources(dst, src, "CopyBufferRegion")
	if !ok {
		return
	}
	if !d.isBuffer() || !s.isBuffer() {
		l.dev.report("CopyBufferRegion: %s and %s must both be buffers", d.name, s.name)
		return
	}
	if srcOffset+numBytes > s.size || dstOffset+numBytes > d.size {
		l.dev.report("CopyBufferRegion: %d bytes out of range (%s at %d, %s at %d)", numBytes, s.name, srcOffset, d.name, dstOffset)
		return
	}
	vk.CmdCopyBuffer(l.cb.Handle, s.buffer, d.buffer, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(numBytes),
	}})
}
