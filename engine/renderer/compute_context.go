package renderer

import (
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// ComputeContext records compute and ray tracing work. It shares the list,
// the barrier batch and the caches with the GraphicsContext of the same slot.
type ComputeContext struct {
	*CommandContext
}

func (c ComputeContext) SetRootSignature(rs gpu.RootSignature) {
	if !c.checkRecording("SetComputeRootSignature") || rs == c.computeRootSignature {
		return
	}
	c.list.SetComputeRootSignature(rs)
	c.computeRootSignature = rs
	clear(c.computeRoot)
	clear(c.state.computeConstants)
}

func (c ComputeContext) bind(rootIndex uint32, b rootBinding) bool {
	if cur, ok := c.computeRoot[rootIndex]; ok && cur == b {
		return false
	}
	c.computeRoot[rootIndex] = b
	return true
}

func (c ComputeContext) SetConstantBuffer(rootIndex uint32, address uint64) {
	if !c.checkRecording("SetComputeRootConstantBufferView") {
		return
	}
	if c.bind(rootIndex, rootBinding{kind: rootBindingCBV, value: address}) {
		c.list.SetComputeRootConstantBufferView(rootIndex, address)
	}
}

func (c ComputeContext) SetShaderResource(rootIndex uint32, address uint64) {
	if !c.checkRecording("SetComputeRootShaderResourceView") {
		return
	}
	if c.bind(rootIndex, rootBinding{kind: rootBindingSRV, value: address}) {
		c.list.SetComputeRootShaderResourceView(rootIndex, address)
	}
}

// SetUnorderedAccess binds a root UAV. The caller keeps the buffer in the
// UnorderedAccess state.
func (c ComputeContext) SetUnorderedAccess(rootIndex uint32, address uint64) {
	if !c.checkRecording("SetComputeRootUnorderedAccessView") {
		return
	}
	if c.bind(rootIndex, rootBinding{kind: rootBindingUAV, value: address}) {
		c.list.SetComputeRootUnorderedAccessView(rootIndex, address)
	}
}

func (c ComputeContext) SetDescriptorTable(rootIndex uint32, handle DescriptorHandle) {
	if !c.checkRecording("SetComputeRootDescriptorTable") {
		return
	}
	if c.bind(rootIndex, rootBinding{kind: rootBindingTable, value: handle.GPU().Ptr}) {
		c.list.SetComputeRootDescriptorTable(rootIndex, handle.GPU())
	}
}

func (c ComputeContext) SetConstants(rootIndex uint32, offset uint32, values ...uint32) {
	if !c.checkRecording("SetComputeRoot32BitConstants") {
		return
	}
	c.list.SetComputeRoot32BitConstants(rootIndex, values, offset)
	setConstants(c.state.computeConstants, rootIndex, offset, values)
}

func (c ComputeContext) Dispatch(x, y, z uint32) {
	if !c.checkRecording("Dispatch") {
		return
	}
	c.FlushResourceBarriers()
	c.list.Dispatch(x, y, z)
}

// Dispatch1D and Dispatch2D round the thread counts up to whole groups.
func (c ComputeContext) Dispatch1D(threads, groupSize uint32) {
	c.Dispatch(divideRoundUp(threads, groupSize), 1, 1)
}

func (c ComputeContext) Dispatch2D(threadsX, threadsY, groupSizeX, groupSizeY uint32) {
	c.Dispatch(divideRoundUp(threadsX, groupSizeX), divideRoundUp(threadsY, groupSizeY), 1)
}

func (c ComputeContext) DispatchRays(desc gpu.DispatchRaysDesc) {
	if !c.checkRecording("DispatchRays") {
		return
	}
	c.FlushResourceBarriers()
	c.list.DispatchRays(desc)
}

func divideRoundUp(n, d uint32) uint32 {
	core.Assert(d > 0, "dispatch with a zero group size")
	if d == 0 {
		return 0
	}
	q := n / d
	if n%d != 0 {
		q++
	}
	return q
}
