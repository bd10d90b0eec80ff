package headless

import (
	"sync/atomic"

	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

type CommandAllocator struct {
	typ gpu.CommandListType
	// Submitted lists recorded from this allocator that the GPU has not finished.
	pending atomic.Int32
	resets  atomic.Uint64
}

func (a *CommandAllocator) Type() gpu.CommandListType {
	return a.typ
}

func (a *CommandAllocator) Reset() error {
	if a.pending.Load() > 0 {
		return ErrAllocatorInUse
	}
	a.resets.Add(1)
	return nil
}

// Resets reports how many times the allocator was successfully reset.
func (a *CommandAllocator) Resets() uint64 {
	return a.resets.Load()
}

func (a *CommandAllocator) Release() error {
	return nil
}

type Op uint8

const (
	OpResourceBarrier Op = iota
	OpSetPipelineState
	OpSetGraphicsRootSignature
	OpSetComputeRootSignature
	OpSetDescriptorHeaps
	OpSetGraphicsRootCBV
	OpSetGraphicsRootSRV
	OpSetGraphicsRootTable
	OpSetGraphicsRootConstants
	OpSetComputeRootCBV
	OpSetComputeRootSRV
	OpSetComputeRootTable
	OpSetComputeRootConstants
	OpSetPrimitiveTopology
	OpSetVertexBuffers
	OpSetIndexBuffer
	OpSetViewports
	OpSetScissorRects
	OpSetRenderTargets
	OpClearRenderTarget
	OpClearDepthStencil
	OpDraw
	OpDrawIndexed
	OpDispatch
	OpDispatchRays
	OpBuildAccelerationStructure
	OpCopyResource
	OpCopyBufferRegion
	OpSetComputeRootUAV
)

var opNames = [...]string{
	"ResourceBarrier", "SetPipelineState", "SetGraphicsRootSignature", "SetComputeRootSignature",
	"SetDescriptorHeaps", "SetGraphicsRootCBV", "SetGraphicsRootSRV", "SetGraphicsRootTable",
	"SetGraphicsRootConstants", "SetComputeRootCBV", "SetComputeRootSRV", "SetComputeRootTable",
	"SetComputeRootConstants", "SetPrimitiveTopology", "SetVertexBuffers", "SetIndexBuffer",
	"SetViewports", "SetScissorRects", "SetRenderTargets", "ClearRenderTarget", "ClearDepthStencil",
	"Draw", "DrawIndexed", "Dispatch", "DispatchRays", "BuildAccelerationStructure",
	"CopyResource", "CopyBufferRegion", "SetComputeRootUAV",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "Unknown"
}

// Command is one recorded call. Only the fields relevant to Op are set.
type Command struct {
	Op            Op
	Barriers      []gpu.Barrier
	Pipeline      gpu.PipelineState
	RootSignature gpu.RootSignature
	Heaps         []gpu.DescriptorHeap
	RootIndex     uint32
	Address       uint64
	Table         gpu.GPUDescriptorHandle
	Constants     []uint32
	Viewports     []gpu.Viewport
	Rects         []gpu.Rect
	RTVs          []gpu.CPUDescriptorHandle
	DSV           *gpu.CPUDescriptorHandle
	Color         [4]float32
	Depth         float32
	Stencil       uint8
	ClearFlags    gpu.ClearFlags
	Topology      gpu.PrimitiveTopology
	Counts        [4]uint32
	BaseVertex    int32
	Rays          gpu.DispatchRaysDesc
	Build         gpu.AccelerationStructureBuildDesc
	Dst, Src      gpu.Resource
	DstOffset     uint64
	SrcOffset     uint64
	NumBytes      uint64
}

// CommandList records commands for later execution on a Queue.
type CommandList struct {
	dev      *Device
	typ      gpu.CommandListType
	alloc    *CommandAllocator
	name     string
	open     bool
	commands []Command
}

func (l *CommandList) Type() gpu.CommandListType {
	return l.typ
}

func (l *CommandList) SetName(name string) {
	l.name = name
}

func (l *CommandList) Name() string {
	return l.name
}

// IsRecording reports whether the list is open.
func (l *CommandList) IsRecording() bool {
	return l.open
}

// Commands returns the calls recorded since the last Reset.
func (l *CommandList) Commands() []Command {
	return append([]Command(nil), l.commands...)
}

// CommandsOf filters Commands by op.
func (l *CommandList) CommandsOf(op Op) []Command {
	var out []Command
	for _, c := range l.commands {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (l *CommandList) Reset(alloc gpu.CommandAllocator, initial gpu.PipelineState) error {
	if l.open {
		return ErrListNotReady
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok || a.typ != l.typ {
		l.dev.report("CommandList.Reset: allocator does not match list %s", l.name)
		return ErrListNotReady
	}
	l.alloc = a
	l.commands = l.commands[:0]
	l.open = true
	if initial != nil {
		l.record(Command{Op: OpSetPipelineState, Pipeline: initial})
	}
	return nil
}

func (l *CommandList) Close() error {
	if !l.open {
		return ErrListNotReady
	}
	l.open = false
	return nil
}

func (l *CommandList) record(c Command) {
	if !l.open {
		l.dev.report("%s recorded on closed command list %s", c.Op, l.name)
		return
	}
	l.commands = append(l.commands, c)
}

func (l *CommandList) ResourceBarrier(barriers []gpu.Barrier) {
	if len(barriers) == 0 {
		return
	}
	l.record(Command{Op: OpResourceBarrier, Barriers: append([]gpu.Barrier(nil), barriers...)})
}

func (l *CommandList) SetPipelineState(pso gpu.PipelineState) {
	l.record(Command{Op: OpSetPipelineState, Pipeline: pso})
}

func (l *CommandList) SetGraphicsRootSignature(rs gpu.RootSignature) {
	l.record(Command{Op: OpSetGraphicsRootSignature, RootSignature: rs})
}

func (l *CommandList) SetComputeRootSignature(rs gpu.RootSignature) {
	l.record(Command{Op: OpSetComputeRootSignature, RootSignature: rs})
}

func (l *CommandList) SetDescriptorHeaps(heaps []gpu.DescriptorHeap) {
	l.record(Command{Op: OpSetDescriptorHeaps, Heaps: append([]gpu.DescriptorHeap(nil), heaps...)})
}

func (l *CommandList) SetGraphicsRootConstantBufferView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetGraphicsRootCBV, RootIndex: rootIndex, Address: address})
}

func (l *CommandList) SetGraphicsRootShaderResourceView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetGraphicsRootSRV, RootIndex: rootIndex, Address: address})
}

func (l *CommandList) SetGraphicsRootDescriptorTable(rootIndex uint32, base gpu.GPUDescriptorHandle) {
	l.record(Command{Op: OpSetGraphicsRootTable, RootIndex: rootIndex, Table: base})
}

func (l *CommandList) SetGraphicsRoot32BitConstants(rootIndex uint32, values []uint32, offset uint32) {
	l.record(Command{Op: OpSetGraphicsRootConstants, RootIndex: rootIndex, Constants: append([]uint32(nil), values...), Counts: [4]uint32{offset}})
}

func (l *CommandList) SetComputeRootConstantBufferView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetComputeRootCBV, RootIndex: rootIndex, Address: address})
}

func (l *CommandList) SetComputeRootShaderResourceView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetComputeRootSRV, RootIndex: rootIndex, Address: address})
}

func (l *CommandList) SetComputeRootUnorderedAccessView(rootIndex uint32, address uint64) {
	l.record(Command{Op: OpSetComputeRootUAV, RootIndex: rootIndex, Address: address})
}

func (l *CommandList) SetComputeRootDescriptorTable(rootIndex uint32, base gpu.GPUDescriptorHandle) {
	l.record(Command{Op: OpSetComputeRootTable, RootIndex: rootIndex, Table: base})
}

func (l *CommandList) SetComputeRoot32BitConstants(rootIndex uint32, values []uint32, offset uint32) {
	l.record(Command{Op: OpSetComputeRootConstants, RootIndex: rootIndex, Constants: append([]uint32(nil), values...), Counts: [4]uint32{offset}})
}

func (l *CommandList) IASetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	l.record(Command{Op: OpSetPrimitiveTopology, Topology: topology})
}

func (l *CommandList) IASetVertexBuffers(startSlot uint32, views []gpu.VertexBufferView) {
	c := Command{Op: OpSetVertexBuffers, RootIndex: startSlot}
	for _, v := range views {
		c.Counts[0]++
		c.Address = v.BufferLocation
	}
	l.record(c)
}

func (l *CommandList) IASetIndexBuffer(view *gpu.IndexBufferView) {
	c := Command{Op: OpSetIndexBuffer}
	if view != nil {
		c.Address = view.BufferLocation
		c.Counts[0] = view.SizeInBytes
	}
	l.record(c)
}

func (l *CommandList) RSSetViewports(viewports []gpu.Viewport) {
	l.record(Command{Op: OpSetViewports, Viewports: append([]gpu.Viewport(nil), viewports...)})
}

func (l *CommandList) RSSetScissorRects(rects []gpu.Rect) {
	l.record(Command{Op: OpSetScissorRects, Rects: append([]gpu.Rect(nil), rects...)})
}

func (l *CommandList) OMSetRenderTargets(rtvs []gpu.CPUDescriptorHandle, dsv *gpu.CPUDescriptorHandle) {
	c := Command{Op: OpSetRenderTargets, RTVs: append([]gpu.CPUDescriptorHandle(nil), rtvs...)}
	if dsv != nil {
		h := *dsv
		c.DSV = &h
	}
	l.record(c)
}

func (l *CommandList) ClearRenderTargetView(rtv gpu.CPUDescriptorHandle, color [4]float32, rects []gpu.Rect) {
	l.record(Command{Op: OpClearRenderTarget, RTVs: []gpu.CPUDescriptorHandle{rtv}, Color: color, Rects: append([]gpu.Rect(nil), rects...)})
}

func (l *CommandList) ClearDepthStencilView(dsv gpu.CPUDescriptorHandle, flags gpu.ClearFlags, depth float32, stencil uint8, rects []gpu.Rect) {
	l.record(Command{Op: OpClearDepthStencil, DSV: &dsv, ClearFlags: flags, Depth: depth, Stencil: stencil, Rects: append([]gpu.Rect(nil), rects...)})
}

func (l *CommandList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	l.record(Command{Op: OpDraw, Counts: [4]uint32{vertexCountPerInstance, instanceCount, startVertex, startInstance}})
}

func (l *CommandList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record(Command{Op: OpDrawIndexed, Counts: [4]uint32{indexCountPerInstance, instanceCount, startIndex, startInstance}, BaseVertex: baseVertex})
}

func (l *CommandList) Dispatch(x, y, z uint32) {
	l.record(Command{Op: OpDispatch, Counts: [4]uint32{x, y, z}})
}

func (l *CommandList) DispatchRays(desc gpu.DispatchRaysDesc) {
	if !l.dev.features.RayTracing {
		l.dev.report("DispatchRays recorded on a device without ray tracing")
	}
	l.record(Command{Op: OpDispatchRays, Rays: desc})
}

func (l *CommandList) BuildRaytracingAccelerationStructure(desc gpu.AccelerationStructureBuildDesc) {
	if !l.dev.features.RayTracing {
		l.dev.report("BuildRaytracingAccelerationStructure recorded on a device without ray tracing")
	}
	l.record(Command{Op: OpBuildAccelerationStructure, Build: desc})
}

func (l *CommandList) CopyResource(dst, src gpu.Resource) {
	l.record(Command{Op: OpCopyResource, Dst: dst, Src: src})
}

func (l *CommandList) CopyBufferRegion(dst gpu.Resource, dstOffset uint64, src gpu.Resource, srcOffset, numBytes uint64) {
	l.record(Command{Op: OpCopyBufferRegion, Dst: dst, Src: src, DstOffset: dstOffset, SrcOffset: srcOffset, NumBytes: numBytes})
}
