package renderer

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/framecore/engine/config"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/metadata"
)

// SwapChainFactory builds the presentation chain once the direct queue exists.
type SwapChainFactory func(queue gpu.CommandQueue) (gpu.SwapChain, error)

// Heaps groups the three descriptor heaps owned by GraphicsResources.
type Heaps struct {
	CbvSrvUav *DescriptorHeap
	RTV       *DescriptorHeap
	DSV       *DescriptorHeap
}

var backBufferClearColor = [4]float32{0.690196097, 0.768627524, 0.870588303, 1.0}

// GraphicsResources owns everything the frame driver needs to render: the
// frame slots, the descriptor heaps, the swapchain and the size-dependent
// targets. It is created once and passed to whoever records.
type GraphicsResources struct {
	device    gpu.Device
	swapchain gpu.SwapChain
	contexts  *ContextManager
	heaps     Heaps
	cbIndices *CBIndexAllocator
	lightIDs  *metadata.LightIDs
	pipelines *PipelineRegistry

	rayTracing       bool
	vsync            bool
	backBufferFormat gpu.Format
	depthFormat      gpu.Format
	width            uint32
	height           uint32

	backBuffers   []*GpuResource
	rtvBase       DescriptorHandle
	dsv           DescriptorHandle
	renderUAV     DescriptorHandle
	depth         *Texture
	renderTexture *Texture
	viewport      gpu.Viewport
	scissor       gpu.Rect
}

func NewGraphicsResources(device gpu.Device, newSwapChain SwapChainFactory, settings *config.Settings) (*GraphicsResources, error) {
	if settings.Graphics.RayTracing && !device.Features().RayTracing {
		return nil, core.NewDeviceError(core.KindDevice, "NewGraphicsResources", "", fmt.Errorf("device %s does not support ray tracing", device.Name()), nil)
	}
	bbFormat, err := gpu.ParseFormat(settings.Graphics.BackBufferFormat)
	if err != nil {
		return nil, err
	}
	depthFormat, err := gpu.ParseFormat(settings.Graphics.DepthFormat)
	if err != nil {
		return nil, err
	}
	lightIDs, err := metadata.NewLightIDs(settings.Game.MaxDirectionalLights, settings.Game.MaxPointLights, settings.Game.MaxSpotLights)
	if err != nil {
		return nil, err
	}

	gr := &GraphicsResources{
		device:           device,
		cbIndices:        NewCBIndexAllocator(settings.Game.MaxObjectCB, settings.Game.MaxMaterialCB),
		lightIDs:         lightIDs,
		pipelines:        NewPipelineRegistry(),
		rayTracing:       settings.Graphics.RayTracing,
		vsync:            settings.Graphics.VSync,
		backBufferFormat: bbFormat,
		depthFormat:      depthFormat,
		width:            settings.Graphics.Width,
		height:           settings.Graphics.Height,
	}

	if gr.contexts, err = NewContextManager(device, settings); err != nil {
		return nil, err
	}
	if gr.swapchain, err = newSwapChain(gr.contexts.Queue()); err != nil {
		_ = gr.contexts.End()
		return nil, core.NewDeviceError(core.KindDevice, "CreateSwapChain", "", err, device.InfoMessages())
	}
	if err = gr.createHeaps(settings); err != nil {
		_ = gr.End()
		return nil, err
	}
	if err = gr.buildSizeDependent(); err != nil {
		_ = gr.End()
		return nil, err
	}
	core.LogInfo("graphics resources ready: %d frame slots, %dx%d, ray tracing %t",
		gr.contexts.SlotCount(), gr.width, gr.height, gr.rayTracing)
	return gr, nil
}

func (gr *GraphicsResources) createHeaps(settings *config.Settings) error {
	var err error
	if gr.heaps.CbvSrvUav, err = NewDescriptorHeap(gr.device, gpu.DescriptorHeapTypeCbvSrvUav, settings.Heaps.CbvSrvUav, true); err != nil {
		return err
	}
	if gr.heaps.RTV, err = NewDescriptorHeap(gr.device, gpu.DescriptorHeapTypeRTV, settings.Heaps.RTV, false); err != nil {
		return err
	}
	if gr.heaps.DSV, err = NewDescriptorHeap(gr.device, gpu.DescriptorHeapTypeDSV, settings.Heaps.DSV, false); err != nil {
		return err
	}

	// The size-dependent views are rewritten in place on resize, so their
	// slots are reserved once.
	if gr.rtvBase, err = gr.heaps.RTV.Alloc(gr.swapchain.BufferCount()); err != nil {
		return err
	}
	if gr.dsv, err = gr.heaps.DSV.Alloc(1); err != nil {
		return err
	}
	if gr.rayTracing {
		if gr.renderUAV, err = gr.heaps.CbvSrvUav.Alloc(1); err != nil {
			return err
		}
	}
	return nil
}

func (gr *GraphicsResources) buildSizeDependent() error {
	count := gr.swapchain.BufferCount()
	gr.backBuffers = make([]*GpuResource, count)
	for i := uint32(0); i < count; i++ {
		res, err := gr.swapchain.Buffer(i)
		if err != nil {
			return core.NewDeviceError(core.KindDevice, fmt.Sprintf("SwapChain.Buffer(%d)", i), "", err, gr.device.InfoMessages())
		}
		gr.backBuffers[i] = NewGpuResource(res, gpu.ResourceStatePresent)
		gr.device.CreateView(res, gpu.ViewDesc{
			Kind:      gpu.ViewKindRenderTarget,
			Format:    gr.backBufferFormat,
			Dimension: gpu.ViewDimensionTexture2D,
		}, gr.rtvBase.Offset(int(i), gr.heaps.RTV.Stride()).CPU())
	}

	depthDesc := gpu.Texture2DDesc(gr.depthFormat, uint64(gr.width), gr.height, 1, gpu.ResourceFlagAllowDepthStencil)
	depth, err := gr.CreateDepthTexture(depthDesc, gpu.ResourceStateDepthWrite,
		&gpu.ClearValue{Format: gr.depthFormat, Depth: 1.0, Stencil: 0}, "DepthStencil")
	if err != nil {
		return err
	}
	gr.depth = depth
	gr.writeTextureView(depth, gpu.ViewKindDepthStencil, gr.dsv)
	depth.dsv = gr.dsv

	if gr.rayTracing {
		desc := gpu.Texture2DDesc(gr.backBufferFormat, uint64(gr.width), gr.height, 1, gpu.ResourceFlagAllowUnorderedAccess)
		rt, err := gr.CreateColorTexture(desc, gpu.ResourceStateCopySource, nil, "RenderTexture")
		if err != nil {
			return err
		}
		gr.renderTexture = rt
		gr.writeTextureView(rt, gpu.ViewKindUnorderedAccess, gr.renderUAV)
		rt.uav = gr.renderUAV
	}

	gr.viewport = gpu.Viewport{Width: float32(gr.width), Height: float32(gr.height), MinDepth: 0, MaxDepth: 1}
	gr.scissor = gpu.Rect{Right: int32(gr.width), Bottom: int32(gr.height)}
	for i := 0; i < gr.contexts.SlotCount(); i++ {
		gr.contexts.FrameResourcesAt(i).SetRenderTargetSize(gr.width, gr.height)
	}
	return nil
}

func (gr *GraphicsResources) releaseSizeDependent() error {
	// The swapchain owns its buffers; only our references go.
	gr.backBuffers = nil
	var errs []error
	if gr.depth != nil {
		errs = append(errs, gr.depth.Destroy())
		gr.depth = nil
	}
	if gr.renderTexture != nil {
		errs = append(errs, gr.renderTexture.Destroy())
		gr.renderTexture = nil
	}
	return errors.Join(errs...)
}

func (gr *GraphicsResources) AllocateUploadBuffer(data []byte, name string) (*UploadBuffer, error) {
	buf, err := newUploadBuffer(gr.device, uint64(len(data)), name)
	if err != nil {
		return nil, err
	}
	buf.Write(0, data)
	return buf, nil
}

// AllocateDefaultBuffer uploads data into device-local memory and blocks
// until the copy has executed. Called mid-frame, the work recorded so far is
// submitted with the copy and the frame continues with its bindings and
// render targets restored. Otherwise the context is left closed.
func (gr *GraphicsResources) AllocateDefaultBuffer(data []byte, name string) (*DefaultBuffer, error) {
	ctx := gr.contexts.Context()
	wasRecording := ctx.IsRecording()
	if !wasRecording {
		if _, err := ctx.IsReadyOrWait(); err != nil {
			return nil, err
		}
		if err := ctx.Reset(); err != nil {
			return nil, err
		}
	}

	size := uint64(len(data))
	upload, err := gr.AllocateUploadBuffer(data, name+"Upload")
	if err != nil {
		return nil, err
	}
	defer upload.Destroy()

	res, err := newDeviceBuffer(gr.device, size, gpu.ResourceFlagNone, gpu.ResourceStateCopyDest, name)
	if err != nil {
		return nil, err
	}
	ctx.CopyBufferRegion(res, 0, upload.GpuResource, 0, size)
	ctx.TransitionResource(res, gpu.ResourceStateGenericRead, true)
	if wasRecording {
		err = gr.contexts.Restart()
	} else {
		err = gr.contexts.Flush(true)
	}
	if err != nil {
		_ = res.Destroy()
		return nil, err
	}
	return &DefaultBuffer{GpuResource: res, size: size}, nil
}

func (gr *GraphicsResources) AllocateUAVBuffer(size uint64, initial gpu.ResourceState, name string) (*UAVBuffer, error) {
	flags := gpu.ResourceFlagAllowUnorderedAccess
	if initial == gpu.ResourceStateRaytracingAccelerationStructure {
		flags |= gpu.ResourceFlagAccelerationStruct
	}
	res, err := newDeviceBuffer(gr.device, size, flags, initial, name)
	if err != nil {
		return nil, err
	}
	return &UAVBuffer{GpuResource: res, size: size}, nil
}

func (gr *GraphicsResources) createTexture(kind TextureKind, desc gpu.ResourceDesc, initial gpu.ResourceState, clear *gpu.ClearValue, name string) (*Texture, error) {
	res, err := gr.device.CreateCommittedResource(gpu.HeapTypeDefault, desc, initial, clear)
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, fmt.Sprintf("CreateCommittedResource [%s]", name), "", err, gr.device.InfoMessages())
	}
	res.SetName(name)
	var cv gpu.ClearValue
	if clear != nil {
		cv = *clear
	}
	return newTexture(NewGpuResource(res, initial), kind, cv), nil
}

func (gr *GraphicsResources) CreateColorTexture(desc gpu.ResourceDesc, initial gpu.ResourceState, clear *gpu.ClearValue, name string) (*Texture, error) {
	return gr.createTexture(TextureKindColorTarget, desc, initial, clear, name)
}

// CreateDepthTexture stores the texture typeless so it can be both a depth
// target and a shader resource.
func (gr *GraphicsResources) CreateDepthTexture(desc gpu.ResourceDesc, initial gpu.ResourceState, clear *gpu.ClearValue, name string) (*Texture, error) {
	if clear != nil {
		cv := *clear
		cv.Format = depthStencilFormat(desc.Format)
		clear = &cv
	}
	desc.Format = typelessDepthFormat(desc.Format)
	desc.Flags |= gpu.ResourceFlagAllowDepthStencil
	return gr.createTexture(TextureKindDepthTarget, desc, initial, clear, name)
}

func (gr *GraphicsResources) writeTextureView(tex *Texture, kind gpu.ViewKind, dest DescriptorHandle) {
	desc := tex.Desc()
	view := gpu.ViewDesc{
		Kind:      kind,
		Format:    tex.viewFormat(kind),
		Dimension: tex.viewDimension(),
		MipLevels: uint32(desc.MipLevels),
		ArraySize: uint32(desc.DepthOrArraySize),
	}
	gr.device.CreateView(tex.Resource(), view, dest.CPU())
}

func (gr *GraphicsResources) CreateSRV(tex *Texture) (DescriptorHandle, error) {
	h, err := gr.heaps.CbvSrvUav.Alloc(1)
	if err != nil {
		return DescriptorHandle{}, err
	}
	gr.writeTextureView(tex, gpu.ViewKindShaderResource, h)
	tex.srv = h
	return h, nil
}

func (gr *GraphicsResources) CreateUAV(tex *Texture) (DescriptorHandle, error) {
	h, err := gr.heaps.CbvSrvUav.Alloc(1)
	if err != nil {
		return DescriptorHandle{}, err
	}
	gr.writeTextureView(tex, gpu.ViewKindUnorderedAccess, h)
	tex.uav = h
	return h, nil
}

func (gr *GraphicsResources) CreateRTV(tex *Texture) (DescriptorHandle, error) {
	h, err := gr.heaps.RTV.Alloc(1)
	if err != nil {
		return DescriptorHandle{}, err
	}
	gr.writeTextureView(tex, gpu.ViewKindRenderTarget, h)
	tex.rtv = h
	return h, nil
}

func (gr *GraphicsResources) CreateDSV(tex *Texture) (DescriptorHandle, error) {
	h, err := gr.heaps.DSV.Alloc(1)
	if err != nil {
		return DescriptorHandle{}, err
	}
	gr.writeTextureView(tex, gpu.ViewKindDepthStencil, h)
	tex.dsv = h
	return h, nil
}

// CreateBufferSRV views buf as numElements structures of stride bytes, or
// as a raw byte buffer when stride is zero.
func (gr *GraphicsResources) CreateBufferSRV(buf *GpuResource, numElements, stride uint32) (DescriptorHandle, error) {
	h, err := gr.heaps.CbvSrvUav.Alloc(1)
	if err != nil {
		return DescriptorHandle{}, err
	}
	view := gpu.ViewDesc{
		Kind:                gpu.ViewKindShaderResource,
		Dimension:           gpu.ViewDimensionBuffer,
		NumElements:         numElements,
		StructureByteStride: stride,
	}
	if stride == 0 {
		view.Raw = true
		view.Format = gpu.FormatR32Typeless
	}
	gr.device.CreateView(buf.Resource(), view, h.CPU())
	return h, nil
}

func (gr *GraphicsResources) CreateAccelerationStructureSRV(as *UAVBuffer) (DescriptorHandle, error) {
	h, err := gr.heaps.CbvSrvUav.Alloc(1)
	if err != nil {
		return DescriptorHandle{}, err
	}
	gr.device.CreateView(nil, gpu.ViewDesc{
		Kind:           gpu.ViewKindAccelerationStructure,
		BufferLocation: as.GpuAddress(),
	}, h.CPU())
	return h, nil
}

// BeginFrame opens the current slot and binds the shader-visible heap.
func (gr *GraphicsResources) BeginFrame() error {
	if err := gr.contexts.BeginFrame(); err != nil {
		return err
	}
	gr.contexts.Context().SetDescriptorHeaps(gr.heaps.CbvSrvUav)
	return nil
}

func (gr *GraphicsResources) SetRenderTarget() {
	g := gr.contexts.GraphicsContext()
	if gr.rayTracing {
		g.TransitionResource(gr.renderTexture.GpuResource, gpu.ResourceStateUnorderedAccess, true)
	} else {
		g.TransitionResource(gr.BackBuffer(), gpu.ResourceStateRenderTarget, true)
		g.SetRenderTargets([]DescriptorHandle{gr.BackBufferRTV()}, gr.dsv)
	}
	g.SetViewportAndScissor(gr.viewport, gr.scissor)
	if !gr.rayTracing {
		g.ClearColor(gr.BackBufferRTV(), backBufferClearColor)
	}
	if gr.depthFormat == gpu.FormatD24UnormS8Uint {
		g.ClearDepthAndStencil(gr.depth)
	} else {
		g.ClearDepth(gr.depth)
	}
}

// EndFrame hands the back buffer to presentation, moves to the next frame
// slot and presents.
func (gr *GraphicsResources) EndFrame() error {
	g := gr.contexts.GraphicsContext()
	bb := gr.BackBuffer()
	if gr.rayTracing {
		g.CopyBuffer(bb, gr.renderTexture.GpuResource)
	}
	g.TransitionResource(bb, gpu.ResourceStatePresent, true)

	if err := gr.contexts.SwapContext(); err != nil {
		return err
	}

	var interval uint32
	if gr.vsync {
		interval = 1
	}
	if err := gr.swapchain.Present(interval); err != nil {
		if reason := gr.device.RemovedReason(); reason != nil || errors.Is(err, core.ErrDeviceRemoved) {
			if reason != nil {
				err = fmt.Errorf("%w (reason: %s)", err, reason)
			}
			return core.NewDeviceError(core.KindDeviceRemoved, "SwapChain.Present", "", err, gr.device.InfoMessages())
		}
		return core.NewDeviceError(core.KindDevice, "SwapChain.Present", "", err, gr.device.InfoMessages())
	}
	return nil
}

// OnResize drains the GPU and rebuilds the targets for the new size. A zero
// size means the window is minimised and is ignored.
func (gr *GraphicsResources) OnResize(width, height uint32) error {
	if width == 0 || height == 0 {
		return nil
	}
	if err := gr.contexts.Flush(true); err != nil {
		return err
	}
	if err := gr.releaseSizeDependent(); err != nil {
		core.LogWarn("releasing size dependent resources: %s", err)
	}
	if err := gr.swapchain.ResizeBuffers(width, height); err != nil {
		return core.NewDeviceError(core.KindDevice, "SwapChain.ResizeBuffers", "", err, gr.device.InfoMessages())
	}
	gr.width, gr.height = width, height
	if err := gr.buildSizeDependent(); err != nil {
		return err
	}
	core.LogDebug("resized to %dx%d", width, height)
	return nil
}

// SetVSync is the hot-reloadable part of the graphics settings.
func (gr *GraphicsResources) SetVSync(enabled bool) {
	gr.vsync = enabled
}

// End waits for the GPU and releases everything. Nothing may be used after.
func (gr *GraphicsResources) End() error {
	var errs []error
	if gr.contexts != nil {
		errs = append(errs, gr.contexts.End())
	}
	errs = append(errs, gr.releaseSizeDependent())
	if gr.swapchain != nil {
		errs = append(errs, gr.swapchain.Release())
		gr.swapchain = nil
	}
	errs = append(errs, gr.pipelines.Release())
	for _, h := range []*DescriptorHeap{gr.heaps.CbvSrvUav, gr.heaps.RTV, gr.heaps.DSV} {
		if h != nil {
			errs = append(errs, h.Release())
		}
	}
	return errors.Join(errs...)
}

func (gr *GraphicsResources) Device() gpu.Device {
	return gr.device
}

func (gr *GraphicsResources) Contexts() *ContextManager {
	return gr.contexts
}

func (gr *GraphicsResources) Heaps() Heaps {
	return gr.heaps
}

func (gr *GraphicsResources) Pipelines() *PipelineRegistry {
	return gr.pipelines
}

func (gr *GraphicsResources) CBIndices() *CBIndexAllocator {
	return gr.cbIndices
}

func (gr *GraphicsResources) LightIDs() *metadata.LightIDs {
	return gr.lightIDs
}

func (gr *GraphicsResources) SwapChain() gpu.SwapChain {
	return gr.swapchain
}

func (gr *GraphicsResources) BackBuffer() *GpuResource {
	return gr.backBuffers[gr.swapchain.CurrentBackBufferIndex()]
}

func (gr *GraphicsResources) BackBufferRTV() DescriptorHandle {
	return gr.rtvBase.Offset(int(gr.swapchain.CurrentBackBufferIndex()), gr.heaps.RTV.Stride())
}

func (gr *GraphicsResources) RenderTexture() *Texture {
	return gr.renderTexture
}

func (gr *GraphicsResources) DepthTexture() *Texture {
	return gr.depth
}

func (gr *GraphicsResources) Viewport() gpu.Viewport {
	return gr.viewport
}

func (gr *GraphicsResources) Scissor() gpu.Rect {
	return gr.scissor
}

func (gr *GraphicsResources) Size() (uint32, uint32) {
	return gr.width, gr.height
}
