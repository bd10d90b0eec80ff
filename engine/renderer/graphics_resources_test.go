package renderer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/components"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/headless"
	"github.com/spaghettifunk/framecore/engine/renderer/metadata"
)

func renderFrames(t *testing.T, gr *GraphicsResources, frames int) {
	t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(t, gr.BeginFrame())
		gr.SetRenderTarget()
		gr.Contexts().GraphicsContext().Draw(3, 0)
		require.NoError(t, gr.EndFrame())
	}
}

func TestGraphicsResourcesCreate(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))

	assert.Equal(t, 3, gr.Contexts().SlotCount())
	heaps := gr.Heaps()
	assert.Equal(t, uint32(30), heaps.CbvSrvUav.Capacity())
	assert.Equal(t, uint32(10-3), heaps.RTV.Remaining(), "one RTV per back buffer")
	assert.Equal(t, uint32(5-1), heaps.DSV.Remaining())

	sc := gr.SwapChain()
	for i := uint32(0); i < sc.BufferCount(); i++ {
		buf, err := sc.Buffer(i)
		require.NoError(t, err)
		res, view, ok := dev.View(heaps.RTV.At(i).CPU())
		require.True(t, ok)
		assert.Equal(t, buf, res)
		assert.Equal(t, gpu.ViewKindRenderTarget, view.Kind)
	}

	depth := gr.DepthTexture()
	require.NotNil(t, depth)
	assert.Equal(t, TextureKindDepthTarget, depth.Kind())
	assert.Equal(t, gpu.FormatR24G8Typeless, depth.Desc().Format)
	_, dsv, ok := dev.View(depth.DSV().CPU())
	require.True(t, ok)
	assert.Equal(t, gpu.FormatD24UnormS8Uint, dsv.Format)
	assert.Equal(t, gpu.FormatD24UnormS8Uint, depth.ClearValue().Format)
	assert.Nil(t, gr.RenderTexture())

	assert.Equal(t, gpu.Viewport{Width: 64, Height: 32, MaxDepth: 1}, gr.Viewport())
	assert.Equal(t, gpu.Rect{Right: 64, Bottom: 32}, gr.Scissor())
	assert.Empty(t, dev.InfoMessages())
}

func TestGraphicsResourcesRejectsMissingRayTracing(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	s := testSettings(3)
	s.Graphics.RayTracing = true
	_, err := NewGraphicsResources(dev, func(q gpu.CommandQueue) (gpu.SwapChain, error) {
		return headless.NewSwapChain(q, 3, 64, 32, gpu.FormatR8G8B8A8Unorm)
	}, s)
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
}

func TestRasterFrameLoop(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))

	renderFrames(t, gr, 7)
	require.NoError(t, dev.WaitIdle())

	assert.Empty(t, dev.InfoMessages(), "no state mismatches on the GPU timeline")
	assert.Equal(t, uint64(7), gr.SwapChain().(*headless.SwapChain).Presents())
	assert.Equal(t, uint64(7), dev.Stats().Presents)
	assert.Equal(t, uint64(7), dev.Stats().Draws)
	assert.Equal(t, 7%3, gr.Contexts().FrameIndex())
	for i := uint32(0); i < gr.SwapChain().BufferCount(); i++ {
		buf, err := gr.SwapChain().Buffer(i)
		require.NoError(t, err)
		assert.Equal(t, gpu.ResourceStatePresent, buf.(*headless.Resource).State())
	}
}

func TestSetRenderTargetRecording(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(2))

	require.NoError(t, gr.BeginFrame())
	gr.SetRenderTarget()
	list := gr.Contexts().Context().CommandList().(*headless.CommandList)

	var ops []headless.Op
	for _, c := range list.Commands() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []headless.Op{
		headless.OpSetDescriptorHeaps,
		headless.OpResourceBarrier,
		headless.OpSetRenderTargets,
		headless.OpSetViewports,
		headless.OpSetScissorRects,
		headless.OpClearRenderTarget,
		headless.OpClearDepthStencil,
	}, ops)

	targets := list.CommandsOf(headless.OpSetRenderTargets)
	require.Len(t, targets, 1)
	assert.Equal(t, []gpu.CPUDescriptorHandle{gr.BackBufferRTV().CPU()}, targets[0].RTVs)
	require.NotNil(t, targets[0].DSV)
	assert.Equal(t, gr.DepthTexture().DSV().CPU(), *targets[0].DSV)
	assert.Equal(t, gpu.ResourceStateRenderTarget, gr.BackBuffer().CurrentState)

	require.NoError(t, gr.EndFrame())
}

func TestRayTracingFrameLoop(t *testing.T) {
	dev := testDevice(t, gpu.Features{RayTracing: true})
	s := testSettings(3)
	s.Graphics.RayTracing = true
	gr := testGraphicsResources(t, dev, s)

	require.Equal(t, 1, gr.Contexts().SlotCount())
	rt := gr.RenderTexture()
	require.NotNil(t, rt)
	assert.False(t, rt.UAV().IsNull())
	_, view, ok := dev.View(rt.UAV().CPU())
	require.True(t, ok)
	assert.Equal(t, gpu.ViewKindUnorderedAccess, view.Kind)

	for i := 0; i < 4; i++ {
		require.NoError(t, gr.BeginFrame())
		gr.SetRenderTarget()
		assert.Equal(t, gpu.ResourceStateUnorderedAccess, rt.CurrentState)
		gr.Contexts().ComputeContext().DispatchRays(gpu.DispatchRaysDesc{Width: 64, Height: 32, Depth: 1})
		require.NoError(t, gr.EndFrame())
	}
	require.NoError(t, dev.WaitIdle())
	assert.Empty(t, dev.InfoMessages())
	assert.Equal(t, uint64(4), dev.Stats().Copies)
	assert.Equal(t, gpu.ResourceStateCopySource, rt.CurrentState)
}

func TestAllocateDefaultBufferRoundTrip(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 7)
	}
	buf, err := gr.AllocateDefaultBuffer(data, "Vertices")
	require.NoError(t, err)
	defer buf.Destroy()

	assert.Equal(t, uint64(len(data)), buf.Size())
	assert.Equal(t, gpu.ResourceStateGenericRead, buf.CurrentState)
	native := buf.Resource().(*headless.Resource)
	assert.Equal(t, data, native.Contents())
	assert.Equal(t, gpu.HeapTypeDefault, native.HeapType())
	assert.Equal(t, gpu.ResourceStateGenericRead, native.State())
	assert.False(t, gr.Contexts().Context().IsRecording(), "a closed context stays closed")
	assert.Empty(t, dev.InfoMessages())

	// The frame loop continues normally afterwards.
	renderFrames(t, gr, 2)
}

func TestAllocateDefaultBufferWhileRecording(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))
	rs, err := dev.CreateRootSignature(gpu.RootSignatureDesc{Name: "Main"})
	require.NoError(t, err)
	pso, err := dev.CreatePipelineState(gpu.PipelineStateDesc{Name: "Opaque", RootSignature: rs})
	require.NoError(t, err)
	table, err := gr.Heaps().CbvSrvUav.Alloc(1)
	require.NoError(t, err)

	require.NoError(t, gr.BeginFrame())
	gr.SetRenderTarget()
	g := gr.Contexts().GraphicsContext()
	g.SetPipelineState(pso)
	g.SetRootSignature(rs)
	g.SetConstantBuffer(0, 0x1000)
	g.SetDescriptorTable(1, table)
	g.SetConstants(2, 1, 7)
	g.SetPrimitiveTopology(gpu.PrimitiveTopologyTriangleList)

	buf, err := gr.AllocateDefaultBuffer([]byte{1, 2, 3, 4}, "Indices")
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, []byte{1, 2, 3, 4}, buf.Resource().(*headless.Resource).Contents(), "the copy has executed")

	ctx := gr.Contexts().Context()
	require.True(t, ctx.IsRecording())
	g.Draw(3, 0)

	list := ctx.CommandList().(*headless.CommandList)
	var ops []headless.Op
	for _, c := range list.Commands() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []headless.Op{
		headless.OpSetDescriptorHeaps,
		headless.OpSetPipelineState,
		headless.OpSetGraphicsRootSignature,
		headless.OpSetGraphicsRootCBV,
		headless.OpSetGraphicsRootTable,
		headless.OpSetGraphicsRootConstants,
		headless.OpSetRenderTargets,
		headless.OpSetViewports,
		headless.OpSetScissorRects,
		headless.OpSetPrimitiveTopology,
		headless.OpDraw,
	}, ops, "the frame continues with its bindings and without clearing again")

	targets := list.CommandsOf(headless.OpSetRenderTargets)
	require.Len(t, targets, 1)
	assert.Equal(t, []gpu.CPUDescriptorHandle{gr.BackBufferRTV().CPU()}, targets[0].RTVs)
	require.NotNil(t, targets[0].DSV)
	assert.Equal(t, gr.DepthTexture().DSV().CPU(), *targets[0].DSV)
	viewports := list.CommandsOf(headless.OpSetViewports)
	require.Len(t, viewports, 1)
	assert.Equal(t, []gpu.Viewport{gr.Viewport()}, viewports[0].Viewports)
	constants := list.CommandsOf(headless.OpSetGraphicsRootConstants)
	require.Len(t, constants, 1)
	assert.Equal(t, []uint32{0, 7}, constants[0].Constants)

	// Rebinding what was restored records nothing more.
	g.SetPipelineState(pso)
	g.SetDescriptorTable(1, table)
	assert.Len(t, list.CommandsOf(headless.OpSetPipelineState), 1)
	assert.Len(t, list.CommandsOf(headless.OpSetGraphicsRootTable), 1)

	require.NoError(t, gr.EndFrame())
	assert.Empty(t, dev.InfoMessages())
}

func TestAllocateUploadAndUAVBuffers(t *testing.T) {
	dev := testDevice(t, gpu.Features{RayTracing: true})
	gr := testGraphicsResources(t, dev, testSettings(3))

	up, err := gr.AllocateUploadBuffer([]byte("constants"), "Upload")
	require.NoError(t, err)
	assert.Equal(t, []byte("constants"), up.Bytes())
	assert.Equal(t, gpu.ResourceStateGenericRead, up.CurrentState)
	native := up.Resource().(*headless.Resource)
	require.NoError(t, up.Destroy())
	assert.False(t, native.Mapped())
	assert.True(t, native.Released())

	uav, err := gr.AllocateUAVBuffer(4096, gpu.ResourceStateUnorderedAccess, "Scratch")
	require.NoError(t, err)
	assert.NotZero(t, uav.Resource().Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess)

	tlas, err := gr.AllocateUAVBuffer(4096, gpu.ResourceStateRaytracingAccelerationStructure, "TLAS")
	require.NoError(t, err)
	assert.NotZero(t, tlas.Resource().Desc().Flags&gpu.ResourceFlagAccelerationStruct)

	h, err := gr.CreateAccelerationStructureSRV(tlas)
	require.NoError(t, err)
	_, view, ok := dev.View(h.CPU())
	require.True(t, ok)
	assert.Equal(t, gpu.ViewKindAccelerationStructure, view.Kind)
	assert.Equal(t, tlas.GpuAddress(), view.BufferLocation)
}

func TestTextureViewsUseKindFormats(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))

	shadow, err := gr.CreateDepthTexture(gpu.Texture2DDesc(gpu.FormatD32Float, 512, 512, 1, gpu.ResourceFlagNone),
		gpu.ResourceStateDepthWrite, &gpu.ClearValue{Depth: 1}, "ShadowMap")
	require.NoError(t, err)
	defer shadow.Destroy()
	assert.Equal(t, gpu.FormatR32Typeless, shadow.Desc().Format)

	srv, err := gr.CreateSRV(shadow)
	require.NoError(t, err)
	dsv, err := gr.CreateDSV(shadow)
	require.NoError(t, err)
	_, srvView, _ := dev.View(srv.CPU())
	_, dsvView, _ := dev.View(dsv.CPU())
	assert.Equal(t, gpu.FormatR32Float, srvView.Format)
	assert.Equal(t, gpu.FormatD32Float, dsvView.Format)
	assert.Equal(t, srv, shadow.SRV())

	cube, err := gr.CreateColorTexture(gpu.Texture2DDesc(gpu.FormatR16G16B16A16Float, 128, 128, 6, gpu.ResourceFlagAllowRenderTarget),
		gpu.ResourceStatePixelShaderResource, &gpu.ClearValue{Format: gpu.FormatR16G16B16A16Float, Color: [4]float32{0, 0, 0, 1}}, "CubeMap")
	require.NoError(t, err)
	defer cube.Destroy()
	rtv, err := gr.CreateRTV(cube)
	require.NoError(t, err)
	_, rtvView, _ := dev.View(rtv.CPU())
	assert.Equal(t, gpu.FormatR16G16B16A16Float, rtvView.Format)
	assert.Equal(t, gpu.ViewDimensionTexture2DArray, rtvView.Dimension)
	assert.Equal(t, uint32(6), rtvView.ArraySize)

	structured, err := gr.AllocateUAVBuffer(1024, gpu.ResourceStateNonPixelShaderResource, "Particles")
	require.NoError(t, err)
	bsrv, err := gr.CreateBufferSRV(structured.GpuResource, 32, 32)
	require.NoError(t, err)
	_, bview, _ := dev.View(bsrv.CPU())
	assert.Equal(t, gpu.ViewDimensionBuffer, bview.Dimension)
	assert.Equal(t, uint32(32), bview.StructureByteStride)
	assert.Empty(t, dev.InfoMessages())
}

func TestOnResize(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))
	renderFrames(t, gr, 2)

	oldDepth := gr.DepthTexture()
	rtvLeft := gr.Heaps().RTV.Remaining()
	require.NoError(t, gr.OnResize(0, 100), "minimised windows are ignored")
	assert.Same(t, oldDepth, gr.DepthTexture())

	require.NoError(t, gr.OnResize(128, 96))
	w, h := gr.Size()
	assert.Equal(t, uint32(128), w)
	assert.Equal(t, uint32(96), h)
	assert.Equal(t, rtvLeft, gr.Heaps().RTV.Remaining(), "views are rewritten in place")
	assert.Equal(t, uint32(96), gr.DepthTexture().Height())
	assert.Equal(t, float32(128), gr.Viewport().Width)

	buf, err := gr.SwapChain().Buffer(0)
	require.NoError(t, err)
	res, _, ok := dev.View(gr.Heaps().RTV.At(0).CPU())
	require.True(t, ok)
	assert.Equal(t, buf, res)

	camera := components.NewPerspectiveCamera(math.DegToRad(60), 4.0/3.0, 0.1, 100)
	gr.Contexts().FrameResources().UpdateMainPassCB(camera, 0, 0, metadata.RenderModeEverything, nil)
	p, err := gr.Contexts().FrameResources().PassCB().Element(0)
	require.NoError(t, err)
	assert.Equal(t, float32(128), p.RenderTargetSize[0])

	renderFrames(t, gr, 4)
	require.NoError(t, dev.WaitIdle())
	assert.Empty(t, dev.InfoMessages())
}

func TestEndFrameOnRemovedDevice(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(3))
	renderFrames(t, gr, 1)

	require.NoError(t, gr.BeginFrame())
	gr.SetRenderTarget()
	dev.Remove(errors.New("TDR"))
	err := gr.EndFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeviceRemoved)
	kind, _ := core.KindOf(err)
	assert.Equal(t, core.KindDeviceRemoved, kind)
	assert.Contains(t, err.Error(), "TDR")
}

func TestPipelineRegistry(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(2))
	reg := gr.Pipelines()

	_, err := reg.Pipeline("opaque")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.False(t, core.IsFatal(err), "lookups are not device failures")
	kind, _ := core.KindOf(err)
	assert.Equal(t, core.KindNotFound, kind)

	_, err = reg.RootSignature("main")
	assert.ErrorIs(t, err, core.ErrNotFound)

	rs, err := reg.BuildRootSignature(dev, gpu.RootSignatureDesc{Name: "main"})
	require.NoError(t, err)
	pso, err := reg.Build(dev, gpu.PipelineStateDesc{Name: "opaque", RootSignature: rs})
	require.NoError(t, err)

	got, err := reg.Pipeline("opaque")
	require.NoError(t, err)
	assert.Equal(t, pso, got)
	gotRS, err := reg.RootSignature("main")
	require.NoError(t, err)
	assert.Equal(t, rs, gotRS)

	_, err = reg.Build(dev, gpu.PipelineStateDesc{Name: "rt", Kind: gpu.PipelineKindRaytracing, RootSignature: rs})
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
}

func TestCBIndexAllocator(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	gr := testGraphicsResources(t, dev, testSettings(2))
	ids := gr.CBIndices()

	for i := uint32(0); i < 4; i++ {
		got, err := ids.NextObject()
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	assert.Panics(t, func() { _, _ = ids.NextObject() })

	withoutAssertions(t)
	_, err := ids.NextObject()
	assert.Error(t, err)
	for i := uint32(0); i < 2; i++ {
		_, err := ids.NextMaterial()
		require.NoError(t, err)
	}
	_, err = ids.NextMaterial()
	assert.Error(t, err)
	assert.Equal(t, uint32(2), ids.Materials())
}
