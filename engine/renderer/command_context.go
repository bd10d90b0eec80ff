package renderer

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// MaxPendingBarriers is the size of the barrier batch. Reaching it flushes.
const MaxPendingBarriers = 16

type rootBindingKind uint8

const (
	rootBindingCBV rootBindingKind = iota
	rootBindingSRV
	rootBindingUAV
	rootBindingTable
)

type rootBinding struct {
	kind  rootBindingKind
	value uint64
}

// listState is what a list forgets on reset that the cache does not cover.
type listState struct {
	renderTargets     []gpu.CPUDescriptorHandle
	depthTarget       *gpu.CPUDescriptorHandle
	viewport          *gpu.Viewport
	scissor           *gpu.Rect
	topology          *gpu.PrimitiveTopology
	vertexSlot        uint32
	vertexBuffers     []gpu.VertexBufferView
	indexBuffer       *gpu.IndexBufferView
	graphicsConstants map[uint32][]uint32
	computeConstants  map[uint32][]uint32
}

func newListState() listState {
	return listState{
		graphicsConstants: make(map[uint32][]uint32),
		computeConstants:  make(map[uint32][]uint32),
	}
}

// savedBindings is a copy of every binding of a recording list.
type savedBindings struct {
	pipelineState         gpu.PipelineState
	graphicsRootSignature gpu.RootSignature
	computeRootSignature  gpu.RootSignature
	descriptorHeaps       [gpu.DescriptorHeapTypeCount]gpu.DescriptorHeap
	graphicsRoot          map[uint32]rootBinding
	computeRoot           map[uint32]rootBinding
	state                 listState
}

// CommandContext owns one allocator, one command list and the fence that
// tells the CPU when the GPU is done with them.
type CommandContext struct {
	device    gpu.Device
	kind      gpu.CommandListType
	name      string
	allocator gpu.CommandAllocator
	list      gpu.CommandList
	fence     gpu.Fence
	// fenceValue is the value the next Finish will signal.
	fenceValue uint64

	recording bool
	// ready is set once IsReadyOrWait or End confirmed the last submission.
	ready bool

	barriers       [MaxPendingBarriers]gpu.Barrier
	numBarriers    int
	barrierFlushes uint64

	pipelineState         gpu.PipelineState
	graphicsRootSignature gpu.RootSignature
	computeRootSignature  gpu.RootSignature
	descriptorHeaps       [gpu.DescriptorHeapTypeCount]gpu.DescriptorHeap
	graphicsRoot          map[uint32]rootBinding
	computeRoot           map[uint32]rootBinding
	state                 listState
}

// NewCommandContext creates the allocator, a closed command list and a fence
// at zero. Any failure is fatal for the caller.
func NewCommandContext(device gpu.Device, kind gpu.CommandListType) (*CommandContext, error) {
	c := &CommandContext{
		device:       device,
		kind:         kind,
		name:         core.NewDebugName("CommandList"),
		ready:        true,
		graphicsRoot: make(map[uint32]rootBinding),
		computeRoot:  make(map[uint32]rootBinding),
		state:        newListState(),
	}

	var err error
	if c.allocator, err = device.CreateCommandAllocator(kind); err != nil {
		return nil, c.deviceError("CreateCommandAllocator", err)
	}
	if c.list, err = device.CreateCommandList(kind, c.allocator); err != nil {
		return nil, c.deviceError("CreateCommandList", err)
	}
	c.list.SetName(c.name)
	if err = c.list.Close(); err != nil {
		return nil, c.deviceError("CommandList.Close", err)
	}
	if c.fence, err = device.CreateFence(0); err != nil {
		return nil, c.deviceError("CreateFence", err)
	}
	c.fenceValue = 1
	return c, nil
}

func (c *CommandContext) deviceError(op string, err error) error {
	kind := core.KindDevice
	if errors.Is(err, core.ErrDeviceRemoved) || c.device.RemovedReason() != nil {
		kind = core.KindDeviceRemoved
	}
	return core.NewDeviceError(kind, fmt.Sprintf("%s [%s]", op, c.name), "", err, c.device.InfoMessages())
}

func (c *CommandContext) checkRecording(op string) bool {
	core.Assert(c.recording, "%s on %s: %s", op, c.name, core.ErrNotRecording)
	return c.recording
}

// Reset reopens the list for recording. It must only follow a confirmed
// IsReadyOrWait (or End) for this context's last submission.
func (c *CommandContext) Reset() error {
	core.Assert(!c.recording, "reset of %s while it is still recording", c.name)
	core.Assert(c.ready, "reset of %s before the GPU confirmed fence value %d", c.name, c.fenceValue-1)
	core.Assert(c.numBarriers == 0, "reset of %s with %d unflushed barriers", c.name, c.numBarriers)

	if err := c.allocator.Reset(); err != nil {
		return c.deviceError("CommandAllocator.Reset", err)
	}
	if err := c.list.Reset(c.allocator, nil); err != nil {
		return c.deviceError("CommandList.Reset", err)
	}
	c.recording = true
	c.numBarriers = 0

	c.pipelineState = nil
	c.graphicsRootSignature = nil
	c.computeRootSignature = nil
	c.descriptorHeaps = [gpu.DescriptorHeapTypeCount]gpu.DescriptorHeap{}
	clear(c.graphicsRoot)
	clear(c.computeRoot)
	c.state = newListState()
	return nil
}

// Restart submits what has been recorded, waits for the GPU to execute it and
// reopens the list with the same bindings: descriptor heaps, pipeline state,
// root signatures and parameters, render targets, viewport, scissor,
// topology and input buffers. Pending split barriers stay pending.
func (c *CommandContext) Restart(queue gpu.CommandQueue) error {
	if !c.checkRecording("Restart") {
		return core.NewDeviceError(core.KindContract, "Restart", "", core.ErrNotRecording, nil)
	}
	saved := savedBindings{
		pipelineState:         c.pipelineState,
		graphicsRootSignature: c.graphicsRootSignature,
		computeRootSignature:  c.computeRootSignature,
		descriptorHeaps:       c.descriptorHeaps,
		graphicsRoot:          maps.Clone(c.graphicsRoot),
		computeRoot:           maps.Clone(c.computeRoot),
		state:                 c.state,
	}
	if err := c.End(queue); err != nil {
		return err
	}
	if err := c.Reset(); err != nil {
		return err
	}
	c.replay(saved)
	return nil
}

// replay records saved onto a freshly reset list in dependency order and
// primes the binding cache with it.
func (c *CommandContext) replay(saved savedBindings) {
	if bound := boundHeaps(saved.descriptorHeaps); len(bound) > 0 {
		c.list.SetDescriptorHeaps(bound)
		c.descriptorHeaps = saved.descriptorHeaps
	}
	if saved.pipelineState != nil {
		c.list.SetPipelineState(saved.pipelineState)
		c.pipelineState = saved.pipelineState
	}
	if saved.graphicsRootSignature != nil {
		c.list.SetGraphicsRootSignature(saved.graphicsRootSignature)
		c.graphicsRootSignature = saved.graphicsRootSignature
	}
	if saved.computeRootSignature != nil {
		c.list.SetComputeRootSignature(saved.computeRootSignature)
		c.computeRootSignature = saved.computeRootSignature
	}

	for _, i := range slices.Sorted(maps.Keys(saved.graphicsRoot)) {
		b := saved.graphicsRoot[i]
		c.graphicsRoot[i] = b
		switch b.kind {
		case rootBindingCBV:
			c.list.SetGraphicsRootConstantBufferView(i, b.value)
		case rootBindingSRV:
			c.list.SetGraphicsRootShaderResourceView(i, b.value)
		case rootBindingTable:
			c.list.SetGraphicsRootDescriptorTable(i, gpu.GPUDescriptorHandle{Ptr: b.value})
		}
	}
	for _, i := range slices.Sorted(maps.Keys(saved.computeRoot)) {
		b := saved.computeRoot[i]
		c.computeRoot[i] = b
		switch b.kind {
		case rootBindingCBV:
			c.list.SetComputeRootConstantBufferView(i, b.value)
		case rootBindingSRV:
			c.list.SetComputeRootShaderResourceView(i, b.value)
		case rootBindingUAV:
			c.list.SetComputeRootUnorderedAccessView(i, b.value)
		case rootBindingTable:
			c.list.SetComputeRootDescriptorTable(i, gpu.GPUDescriptorHandle{Ptr: b.value})
		}
	}
	for _, i := range slices.Sorted(maps.Keys(saved.state.graphicsConstants)) {
		c.list.SetGraphicsRoot32BitConstants(i, saved.state.graphicsConstants[i], 0)
	}
	for _, i := range slices.Sorted(maps.Keys(saved.state.computeConstants)) {
		c.list.SetComputeRoot32BitConstants(i, saved.state.computeConstants[i], 0)
	}

	st := saved.state
	if st.renderTargets != nil || st.depthTarget != nil {
		c.list.OMSetRenderTargets(st.renderTargets, st.depthTarget)
	}
	if st.viewport != nil {
		c.list.RSSetViewports([]gpu.Viewport{*st.viewport})
	}
	if st.scissor != nil {
		c.list.RSSetScissorRects([]gpu.Rect{*st.scissor})
	}
	if st.topology != nil {
		c.list.IASetPrimitiveTopology(*st.topology)
	}
	if len(st.vertexBuffers) > 0 {
		c.list.IASetVertexBuffers(st.vertexSlot, st.vertexBuffers)
	}
	if st.indexBuffer != nil {
		c.list.IASetIndexBuffer(st.indexBuffer)
	}
	c.state = st
}

// setConstants merges values into the tracked constants of rootIndex.
func setConstants(tracked map[uint32][]uint32, rootIndex, offset uint32, values []uint32) {
	cur := tracked[rootIndex]
	if need := int(offset) + len(values); len(cur) < need {
		cur = append(cur, make([]uint32, need-len(cur))...)
	}
	copy(cur[offset:], values)
	tracked[rootIndex] = cur
}

func isTable(_ uint32, b rootBinding) bool {
	return b.kind == rootBindingTable
}

func (c *CommandContext) appendBarrier(b gpu.Barrier) {
	if c.numBarriers == MaxPendingBarriers {
		c.FlushResourceBarriers()
	}
	c.barriers[c.numBarriers] = b
	c.numBarriers++
}

func (c *CommandContext) flushIfNeeded(flushImmediate bool) {
	if flushImmediate || c.numBarriers == MaxPendingBarriers {
		c.FlushResourceBarriers()
	}
}

// TransitionResource queues a barrier moving res into state. Nothing is
// queued when res is already there, except for UnorderedAccess which always
// gets a UAV barrier. A transition that matches a begun split barrier is
// queued as its end half.
func (c *CommandContext) TransitionResource(res *GpuResource, state gpu.ResourceState, flushImmediate bool) {
	if !c.checkRecording("TransitionResource") {
		return
	}
	old := res.CurrentState
	if old != state {
		b := gpu.NewTransitionBarrier(res.Resource(), old, state, gpu.BarrierFlagNone)
		if state == res.TransitioningState {
			b.Flags = gpu.BarrierFlagEndOnly
			res.TransitioningState = gpu.ResourceStateUnknown
		}
		c.appendBarrier(b)
		res.CurrentState = state
	} else if state == gpu.ResourceStateUnorderedAccess {
		c.appendBarrier(gpu.NewUAVBarrier(res.Resource()))
	}
	c.flushIfNeeded(flushImmediate)
}

// BeginResourceTransition queues the begin half of a split barrier. The
// matching TransitionResource call queues the end half.
func (c *CommandContext) BeginResourceTransition(res *GpuResource, state gpu.ResourceState, flushImmediate bool) {
	if !c.checkRecording("BeginResourceTransition") {
		return
	}
	if res.TransitioningState != gpu.ResourceStateUnknown {
		c.TransitionResource(res, res.TransitioningState, false)
	}
	old := res.CurrentState
	if old != state {
		c.appendBarrier(gpu.NewTransitionBarrier(res.Resource(), old, state, gpu.BarrierFlagBeginOnly))
		res.TransitioningState = state
	}
	c.flushIfNeeded(flushImmediate)
}

func (c *CommandContext) InsertUAVBarrier(res *GpuResource, flushImmediate bool) {
	if !c.checkRecording("InsertUAVBarrier") {
		return
	}
	c.appendBarrier(gpu.NewUAVBarrier(res.Resource()))
	c.flushIfNeeded(flushImmediate)
}

func (c *CommandContext) InsertAliasBarrier(before, after *GpuResource, flushImmediate bool) {
	if !c.checkRecording("InsertAliasBarrier") {
		return
	}
	c.appendBarrier(gpu.NewAliasingBarrier(before.Resource(), after.Resource()))
	c.flushIfNeeded(flushImmediate)
}

// FlushResourceBarriers records every queued barrier in one call.
func (c *CommandContext) FlushResourceBarriers() {
	if c.numBarriers == 0 {
		return
	}
	c.list.ResourceBarrier(c.barriers[:c.numBarriers])
	for i := 0; i < c.numBarriers; i++ {
		c.barriers[i] = gpu.Barrier{}
	}
	c.numBarriers = 0
	c.barrierFlushes++
}

func (c *CommandContext) SetPipelineState(pso gpu.PipelineState) {
	if !c.checkRecording("SetPipelineState") || pso == c.pipelineState {
		return
	}
	c.list.SetPipelineState(pso)
	c.pipelineState = pso
}

// SetDescriptorHeaps binds the given heaps, one per heap type. Binding the
// set that is already bound records nothing. A change invalidates every bound
// descriptor table.
func (c *CommandContext) SetDescriptorHeaps(heaps ...*DescriptorHeap) {
	if !c.checkRecording("SetDescriptorHeaps") {
		return
	}
	next := c.descriptorHeaps
	changed := false
	for _, h := range heaps {
		if next[h.Kind()] != h.Heap() {
			next[h.Kind()] = h.Heap()
			changed = true
		}
	}
	if !changed {
		return
	}
	c.descriptorHeaps = next
	maps.DeleteFunc(c.graphicsRoot, isTable)
	maps.DeleteFunc(c.computeRoot, isTable)
	c.list.SetDescriptorHeaps(boundHeaps(next))
}

func boundHeaps(heaps [gpu.DescriptorHeapTypeCount]gpu.DescriptorHeap) []gpu.DescriptorHeap {
	bound := make([]gpu.DescriptorHeap, 0, len(heaps))
	for _, h := range heaps {
		if h != nil {
			bound = append(bound, h)
		}
	}
	return bound
}

func (c *CommandContext) CopyBuffer(dst, src *GpuResource) {
	if !c.checkRecording("CopyBuffer") {
		return
	}
	c.TransitionResource(dst, gpu.ResourceStateCopyDest, false)
	c.TransitionResource(src, gpu.ResourceStateCopySource, false)
	c.FlushResourceBarriers()
	c.list.CopyResource(dst.Resource(), src.Resource())
}

// CopyBufferRegion copies numBytes from src into dst. The source is expected
// to already be readable as a copy source.
func (c *CommandContext) CopyBufferRegion(dst *GpuResource, dstOffset uint64, src *GpuResource, srcOffset, numBytes uint64) {
	if !c.checkRecording("CopyBufferRegion") {
		return
	}
	c.TransitionResource(dst, gpu.ResourceStateCopyDest, false)
	c.FlushResourceBarriers()
	c.list.CopyBufferRegion(dst.Resource(), dstOffset, src.Resource(), srcOffset, numBytes)
}

func (c *CommandContext) BuildAccelerationStructure(desc gpu.AccelerationStructureBuildDesc) {
	if !c.checkRecording("BuildAccelerationStructure") {
		return
	}
	c.FlushResourceBarriers()
	c.list.BuildRaytracingAccelerationStructure(desc)
}

// Finish flushes, closes and submits the list, then has the queue signal the
// current fence value. It does not block.
func (c *CommandContext) Finish(queue gpu.CommandQueue) error {
	if !c.checkRecording("Finish") {
		return core.NewDeviceError(core.KindContract, "Finish", "", core.ErrNotRecording, nil)
	}
	if err := c.submit(queue); err != nil {
		return err
	}
	if err := queue.Signal(c.fence, c.fenceValue); err != nil {
		return c.deviceError("CommandQueue.Signal", err)
	}
	c.fenceValue++
	c.ready = false
	return nil
}

func (c *CommandContext) submit(queue gpu.CommandQueue) error {
	c.FlushResourceBarriers()
	if err := c.list.Close(); err != nil {
		return c.deviceError("CommandList.Close", err)
	}
	c.recording = false
	if err := queue.ExecuteCommandLists(c.list); err != nil {
		return c.deviceError("CommandQueue.ExecuteCommandLists", err)
	}
	return nil
}

// End submits whatever is recorded and blocks until the GPU has finished it.
// A context that is not recording only drains its earlier work.
func (c *CommandContext) End(queue gpu.CommandQueue) error {
	if c.recording {
		if err := c.submit(queue); err != nil {
			return err
		}
	}
	if err := queue.Signal(c.fence, c.fenceValue); err != nil {
		return c.deviceError("CommandQueue.Signal", err)
	}
	if c.fence.CompletedValue() < c.fenceValue {
		if err := c.fence.WaitUntil(c.fenceValue); err != nil {
			return c.deviceError("Fence.WaitUntil", err)
		}
	}
	c.fenceValue++
	c.ready = true
	return nil
}

// IsReadyOrWait returns true when the GPU already finished the last
// submission. Otherwise it blocks until it has and returns false.
func (c *CommandContext) IsReadyOrWait() (bool, error) {
	target := c.fenceValue - 1
	if c.fence.CompletedValue() < target {
		if err := c.fence.WaitUntil(target); err != nil {
			return false, c.deviceError("Fence.WaitUntil", err)
		}
		c.ready = true
		return false, nil
	}
	c.ready = true
	return true, nil
}

func (c *CommandContext) Graphics() GraphicsContext {
	return GraphicsContext{c}
}

func (c *CommandContext) Compute() ComputeContext {
	return ComputeContext{c}
}

func (c *CommandContext) Name() string {
	return c.name
}

func (c *CommandContext) Kind() gpu.CommandListType {
	return c.kind
}

func (c *CommandContext) CommandList() gpu.CommandList {
	return c.list
}

func (c *CommandContext) Fence() gpu.Fence {
	return c.fence
}

func (c *CommandContext) FenceValue() uint64 {
	return c.fenceValue
}

func (c *CommandContext) CompletedValue() uint64 {
	return c.fence.CompletedValue()
}

func (c *CommandContext) PendingBarriers() int {
	return c.numBarriers
}

// BarrierFlushes counts the batched barrier calls recorded so far.
func (c *CommandContext) BarrierFlushes() uint64 {
	return c.barrierFlushes
}

func (c *CommandContext) IsRecording() bool {
	return c.recording
}

func (c *CommandContext) IsReady() bool {
	return c.ready
}

func (c *CommandContext) Release() error {
	var errs []error
	if c.fence != nil {
		errs = append(errs, c.fence.Release())
		c.fence = nil
	}
	if c.allocator != nil {
		errs = append(errs, c.allocator.Release())
		c.allocator = nil
	}
	return errors.Join(errs...)
}
