package renderer

import (
	"slices"

	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// GraphicsContext records raster work on a CommandContext.
type GraphicsContext struct {
	*CommandContext
}

func (g GraphicsContext) SetRootSignature(rs gpu.RootSignature) {
	if !g.checkRecording("SetGraphicsRootSignature") || rs == g.graphicsRootSignature {
		return
	}
	g.list.SetGraphicsRootSignature(rs)
	g.graphicsRootSignature = rs
	clear(g.graphicsRoot)
	clear(g.state.graphicsConstants)
}

func (g GraphicsContext) bind(rootIndex uint32, b rootBinding) bool {
	if cur, ok := g.graphicsRoot[rootIndex]; ok && cur == b {
		return false
	}
	g.graphicsRoot[rootIndex] = b
	return true
}

// SetConstantBuffer binds a root CBV. Binding the same address again
// records nothing.
func (g GraphicsContext) SetConstantBuffer(rootIndex uint32, address uint64) {
	if !g.checkRecording("SetGraphicsRootConstantBufferView") {
		return
	}
	if g.bind(rootIndex, rootBinding{kind: rootBindingCBV, value: address}) {
		g.list.SetGraphicsRootConstantBufferView(rootIndex, address)
	}
}

func (g GraphicsContext) SetShaderResource(rootIndex uint32, address uint64) {
	if !g.checkRecording("SetGraphicsRootShaderResourceView") {
		return
	}
	if g.bind(rootIndex, rootBinding{kind: rootBindingSRV, value: address}) {
		g.list.SetGraphicsRootShaderResourceView(rootIndex, address)
	}
}

func (g GraphicsContext) SetDescriptorTable(rootIndex uint32, handle DescriptorHandle) {
	if !g.checkRecording("SetGraphicsRootDescriptorTable") {
		return
	}
	if g.bind(rootIndex, rootBinding{kind: rootBindingTable, value: handle.GPU().Ptr}) {
		g.list.SetGraphicsRootDescriptorTable(rootIndex, handle.GPU())
	}
}

func (g GraphicsContext) SetConstants(rootIndex uint32, offset uint32, values ...uint32) {
	if !g.checkRecording("SetGraphicsRoot32BitConstants") {
		return
	}
	g.list.SetGraphicsRoot32BitConstants(rootIndex, values, offset)
	setConstants(g.state.graphicsConstants, rootIndex, offset, values)
}

func (g GraphicsContext) SetViewport(vp gpu.Viewport) {
	if !g.checkRecording("SetViewport") {
		return
	}
	g.list.RSSetViewports([]gpu.Viewport{vp})
	g.state.viewport = &vp
}

func (g GraphicsContext) SetScissor(rect gpu.Rect) {
	if !g.checkRecording("SetScissor") {
		return
	}
	g.list.RSSetScissorRects([]gpu.Rect{rect})
	g.state.scissor = &rect
}

func (g GraphicsContext) SetViewportAndScissor(vp gpu.Viewport, rect gpu.Rect) {
	g.SetViewport(vp)
	g.SetScissor(rect)
}

// SetRenderTargets binds color targets and an optional depth target. A null
// dsv binds no depth.
func (g GraphicsContext) SetRenderTargets(rtvs []DescriptorHandle, dsv DescriptorHandle) {
	if !g.checkRecording("SetRenderTargets") {
		return
	}
	handles := make([]gpu.CPUDescriptorHandle, len(rtvs))
	for i, h := range rtvs {
		handles[i] = h.CPU()
	}
	var depth *gpu.CPUDescriptorHandle
	if !dsv.IsNull() {
		d := dsv.CPU()
		depth = &d
	}
	g.list.OMSetRenderTargets(handles, depth)
	g.state.renderTargets, g.state.depthTarget = handles, depth
}

func (g GraphicsContext) SetPrimitiveTopology(topology gpu.PrimitiveTopology) {
	if !g.checkRecording("SetPrimitiveTopology") {
		return
	}
	g.list.IASetPrimitiveTopology(topology)
	g.state.topology = &topology
}

func (g GraphicsContext) SetVertexBuffers(startSlot uint32, views ...gpu.VertexBufferView) {
	if !g.checkRecording("SetVertexBuffers") {
		return
	}
	g.list.IASetVertexBuffers(startSlot, views)
	g.state.vertexSlot, g.state.vertexBuffers = startSlot, slices.Clone(views)
}

func (g GraphicsContext) SetIndexBuffer(view gpu.IndexBufferView) {
	if !g.checkRecording("SetIndexBuffer") {
		return
	}
	g.list.IASetIndexBuffer(&view)
	g.state.indexBuffer = &view
}

func (g GraphicsContext) ClearColor(rtv DescriptorHandle, color [4]float32) {
	if !g.checkRecording("ClearColor") {
		return
	}
	g.FlushResourceBarriers()
	g.list.ClearRenderTargetView(rtv.CPU(), color, nil)
}

func (g GraphicsContext) ClearDepth(target *Texture) {
	g.clearDepthStencil(target, gpu.ClearFlagDepth)
}

func (g GraphicsContext) ClearDepthAndStencil(target *Texture) {
	g.clearDepthStencil(target, gpu.ClearFlagDepth|gpu.ClearFlagStencil)
}

func (g GraphicsContext) clearDepthStencil(target *Texture, flags gpu.ClearFlags) {
	if !g.checkRecording("ClearDepthStencil") {
		return
	}
	g.FlushResourceBarriers()
	cv := target.ClearValue()
	g.list.ClearDepthStencilView(target.DSV().CPU(), flags, cv.Depth, cv.Stencil, nil)
}

func (g GraphicsContext) Draw(vertexCount, vertexStart uint32) {
	g.DrawInstanced(vertexCount, 1, vertexStart, 0)
}

func (g GraphicsContext) DrawIndexed(indexCount, startIndex uint32, baseVertex int32) {
	g.DrawIndexedInstanced(indexCount, 1, startIndex, baseVertex, 0)
}

func (g GraphicsContext) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	if !g.checkRecording("DrawInstanced") {
		return
	}
	g.FlushResourceBarriers()
	g.list.DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance)
}

func (g GraphicsContext) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	if !g.checkRecording("DrawIndexedInstanced") {
		return
	}
	g.FlushResourceBarriers()
	g.list.DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex, baseVertex, startInstance)
}
