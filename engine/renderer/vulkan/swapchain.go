package vulkan

import (
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

var errOutOfDate = errors.New("swapchain out of date")

// SwapChain presents through VK_KHR_swapchain. The next image is acquired
// right after every Present with a CPU wait, so the current back buffer is
// always owned by the application while it records.
type SwapChain struct {
	dev           *Device
	queue         *Queue
	presentQueue  vk.Queue
	presentFamily uint32
	requested     uint32

	mu            sync.Mutex
	handle        vk.Swapchain
	surfaceFormat vk.SurfaceFormat
	format        gpu.Format
	vsync         bool
	width         uint32
	height        uint32
	buffers       []*Resource
	renderDone    []vk.Semaphore
	acquireFence  *VulkanFence
	current       uint32
	acquired      bool
	stale         bool
	presents      uint64
}

func NewSwapChain(queue gpu.CommandQueue, count, width, height uint32, format gpu.Format, vsync bool) (*SwapChain, error) {
	q, ok := queue.(*Queue)
	if !ok {
		return nil, fmt.Errorf("queue %T does not belong to the vulkan device", queue)
	}
	if q.typ != gpu.CommandListTypeDirect {
		return nil, fmt.Errorf("swapchain needs the direct queue, got %s", q.typ)
	}
	if count < 2 {
		return nil, fmt.Errorf("swap chain needs at least two buffers, got %d", count)
	}
	dev := q.dev
	sc := &SwapChain{
		dev:           dev,
		queue:         q,
		presentFamily: uint32(dev.ctx.PresentQueueIndex),
		requested:     count,
		format:        format,
		vsync:         vsync,
	}
	var presentQueue vk.Queue
	vk.GetDeviceQueue(dev.logical, sc.presentFamily, 0, &presentQueue)
	sc.presentQueue = presentQueue

	fence, err := NewFence(dev, false)
	if err != nil {
		return nil, err
	}
	sc.acquireFence = fence

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.createLocked(width, height); err != nil {
		sc.destroyLocked()
		return nil, err
	}
	core.LogInfo("Swapchain created: %d images %dx%d %s", len(sc.buffers), sc.width, sc.height, sc.format)
	return sc, nil
}

func (sc *SwapChain) chooseSurfaceFormat(support *VulkanSwapchainSupportInfo) (vk.SurfaceFormat, error) {
	if len(support.Formats) == 0 {
		return vk.SurfaceFormat{}, fmt.Errorf("surface reports no formats")
	}
	want := toVkFormat(sc.format)
	var fallback *vk.SurfaceFormat
	for i := range support.Formats {
		f := support.Formats[i]
		f.Deref()
		if f.Format == want && want != vk.FormatUndefined {
			return f, nil
		}
		if fallback == nil && f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			fallback = &f
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	first := support.Formats[0]
	first.Deref()
	if fromVkFormat(first.Format) == gpu.FormatUnknown {
		return vk.SurfaceFormat{}, fmt.Errorf("no usable surface format, first offered is %d", first.Format)
	}
	return first, nil
}

func (sc *SwapChain) choosePresentMode(support *VulkanSwapchainSupportInfo) vk.PresentMode {
	if sc.vsync {
		return vk.PresentModeFifo
	}
	mode := vk.PresentModeFifo
	for _, m := range support.PresentModes {
		if m == vk.PresentModeMailbox {
			return m
		}
		if m == vk.PresentModeImmediate {
			mode = m
		}
	}
	return mode
}

// createLocked builds a new chain, retiring the old one. Back buffer
// resources are updated in place so callers holding them stay valid.
func (sc *SwapChain) createLocked(width, height uint32) error {
	dev := sc.dev
	var support VulkanSwapchainSupportInfo
	if err := DeviceQuerySwapchainSupport(dev.ctx.PhysicalDevice, dev.ctx.Surface, &support); err != nil {
		return dev.observe(err)
	}
	caps := support.Capabilities
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	surfaceFormat, err := sc.chooseSurfaceFormat(&support)
	if err != nil {
		return err
	}
	if f := fromVkFormat(surfaceFormat.Format); f != sc.format && sc.format != gpu.FormatUnknown {
		core.LogWarn("swapchain format %s unavailable, using %s", sc.format, f)
	}

	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != ^uint32(0) {
		extent = caps.CurrentExtent
	}
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return fmt.Errorf("surface extent is %dx%d", extent.Width, extent.Height)
	}

	imageCount := sc.requested
	if imageCount < caps.MinImageCount {
		imageCount = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	old := sc.handle
	sc.acquired = false
	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          dev.ctx.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.choosePresentMode(&support),
		Clipped:          vk.True,
		OldSwapchain:     old,
	}
	if graphics := uint32(dev.ctx.GraphicsQueueIndex); graphics != sc.presentFamily {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{graphics, sc.presentFamily}
	}

	var handle vk.Swapchain
	err = dev.locks.SafeCall(SwapchainManagement, func() error {
		return resultError("vkCreateSwapchainKHR", vk.CreateSwapchain(dev.logical, &info, dev.ctx.Allocator, &handle))
	})
	if err != nil {
		return dev.observe(err)
	}
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(dev.logical, old, dev.ctx.Allocator)
	}
	sc.handle = handle
	sc.surfaceFormat = surfaceFormat
	sc.format = fromVkFormat(surfaceFormat.Format)
	sc.width, sc.height = extent.Width, extent.Height

	var count uint32
	if err := resultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(dev.logical, handle, &count, nil)); err != nil {
		return dev.observe(err)
	}
	images := make([]vk.Image, count)
	if err := resultError("vkGetSwapchainImagesKHR", vk.GetSwapchainImages(dev.logical, handle, &count, images)); err != nil {
		return dev.observe(err)
	}
	if err := sc.wrapImages(images); err != nil {
		return err
	}
	return sc.acquireLocked()
}

func (sc *SwapChain) wrapImages(images []vk.Image) error {
	desc := gpu.Texture2DDesc(sc.format, uint64(sc.width), sc.height, 1, gpu.ResourceFlagAllowRenderTarget)
	for _, b := range sc.buffers[min(len(images), len(sc.buffers)):] {
		sc.dev.views.forgetResource(b)
		b.released = true
	}
	if len(sc.buffers) > len(images) {
		sc.buffers = sc.buffers[:len(images)]
	}
	for i, image := range images {
		if i < len(sc.buffers) {
			b := sc.buffers[i]
			b.image = image
			b.desc = desc
			b.format = sc.surfaceFormat.Format
			b.size = desc.SizeInBytes()
			b.initialized = false
			sc.dev.views.refreshResource(sc.dev, b)
			continue
		}
		sc.buffers = append(sc.buffers, &Resource{
			dev:         sc.dev,
			desc:        desc,
			heapType:    gpu.HeapTypeDefault,
			name:        fmt.Sprintf("BackBuffer[%d]", i),
			size:        desc.SizeInBytes(),
			image:       image,
			format:      sc.surfaceFormat.Format,
			presentable: true,
		})
	}

	for len(sc.renderDone) < len(images) {
		var sem vk.Semaphore
		info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
		if err := resultError("vkCreateSemaphore", vk.CreateSemaphore(sc.dev.logical, &info, sc.dev.ctx.Allocator, &sem)); err != nil {
			return sc.dev.observe(err)
		}
		sc.renderDone = append(sc.renderDone, sem)
	}
	return nil
}

func (sc *SwapChain) acquireLocked() error {
	if err := sc.acquireFence.FenceReset(sc.dev); err != nil {
		return err
	}
	var index uint32
	res := vk.AcquireNextImage(sc.dev.logical, sc.handle, vk.MaxUint64, vk.NullSemaphore, sc.acquireFence.Handle, &index)
	switch res {
	case vk.ErrorOutOfDate:
		return errOutOfDate
	case vk.Suboptimal:
		sc.stale = true
	default:
		if err := resultError("vkAcquireNextImageKHR", res); err != nil {
			return sc.dev.observe(err)
		}
	}
	if err := sc.acquireFence.FenceWait(sc.dev); err != nil {
		return err
	}
	sc.current = index
	sc.acquired = true
	return nil
}

// recreateLocked rebuilds at the surface's size after the chain went stale.
func (sc *SwapChain) recreateLocked() error {
	if err := sc.dev.WaitIdle(); err != nil {
		return err
	}
	width, height := sc.width, sc.height
	if sc.dev.window != nil {
		if w, h := sc.dev.window.FramebufferSize(); w != 0 && h != 0 {
			width, height = w, h
		}
	}
	sc.stale = false
	err := sc.createLocked(width, height)
	if errors.Is(err, errOutOfDate) {
		sc.stale = true
		return nil
	}
	return err
}

func (sc *SwapChain) BufferCount() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return uint32(len(sc.buffers))
}

func (sc *SwapChain) Buffer(index uint32) (gpu.Resource, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if int(index) >= len(sc.buffers) {
		return nil, fmt.Errorf("%w: back buffer %d of %d", core.ErrNotFound, index, len(sc.buffers))
	}
	return sc.buffers[index], nil
}

func (sc *SwapChain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

func (sc *SwapChain) Format() gpu.Format {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.format
}

func (sc *SwapChain) Size() (uint32, uint32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.width, sc.height
}

// Present queues the current image behind everything already submitted to
// the direct queue. A change of sync interval switches the present mode on
// the next frame.
func (sc *SwapChain) Present(syncInterval uint32) error {
	if err := sc.dev.checkAlive(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if vsync := syncInterval > 0; vsync != sc.vsync {
		sc.vsync = vsync
		sc.stale = true
	}
	if !sc.acquired {
		return sc.recreateLocked()
	}

	done := sc.renderDone[sc.current]
	err := sc.queue.submit([]vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{done},
	}}, vk.NullFence)
	if err != nil {
		return err
	}

	var res vk.Result
	_ = sc.dev.locks.SafeQueueCall(sc.presentFamily, func() error {
		res = vk.QueuePresent(sc.presentQueue, &vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{done},
			SwapchainCount:     1,
			PSwapchains:        []vk.Swapchain{sc.handle},
			PImageIndices:      []uint32{sc.current},
		})
		return nil
	})
	switch res {
	case vk.ErrorOutOfDate, vk.Suboptimal:
		sc.stale = true
	default:
		if err := resultError("vkQueuePresentKHR", res); err != nil {
			return sc.dev.observe(err)
		}
	}
	sc.acquired = false
	sc.presents++

	if !sc.stale {
		err = sc.acquireLocked()
		if !errors.Is(err, errOutOfDate) {
			return err
		}
		sc.stale = true
	}
	return sc.recreateLocked()
}

// Presents counts Present calls accepted so far.
func (sc *SwapChain) Presents() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.presents
}

func (sc *SwapChain) ResizeBuffers(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("cannot resize swap chain to %dx%d", width, height)
	}
	if err := sc.dev.WaitIdle(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stale = false
	if err := sc.createLocked(width, height); err != nil {
		if errors.Is(err, errOutOfDate) {
			sc.stale = true
			return nil
		}
		return err
	}
	core.LogDebug("swapchain resized to %dx%d", sc.width, sc.height)
	return nil
}

func (sc *SwapChain) destroyLocked() {
	dev := sc.dev
	for _, b := range sc.buffers {
		dev.views.forgetResource(b)
		b.released = true
	}
	sc.buffers = nil
	for _, sem := range sc.renderDone {
		vk.DestroySemaphore(dev.logical, sem, dev.ctx.Allocator)
	}
	sc.renderDone = nil
	if sc.acquireFence != nil {
		sc.acquireFence.FenceDestroy(dev)
		sc.acquireFence = nil
	}
	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(dev.logical, sc.handle, dev.ctx.Allocator)
		sc.handle = vk.NullSwapchain
	}
}

func (sc *SwapChain) Release() error {
	if sc.dev.RemovedReason() == nil {
		_ = sc.dev.WaitIdle()
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.destroyLocked()
	return nil
}
