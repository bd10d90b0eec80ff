package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
)

type VulkanFramebuffer struct {
	Handle        vk.Framebuffer
	Attachments   []vk.ImageView
	Renderpass    *VulkanRenderpass
	Width, Height uint32
}

func FramebufferCreate(dev *Device, renderpass *VulkanRenderpass, width, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
		Width:       width,
		Height:      height,
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if err := resultError("vkCreateFramebuffer", vk.CreateFramebuffer(dev.logical, &framebufferCreateInfo, dev.ctx.Allocator, &pFramebuffer)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy(dev *Device) {
	if vfb.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(dev.logical, vfb.Handle, dev.ctx.Allocator)
		vfb.Handle = vk.NullFramebuffer
	}
	vfb.Attachments = nil
	vfb.Renderpass = nil
}

type framebufferKey struct {
	pass   vk.RenderPass
	views  [maxColorAttachments + 1]vk.ImageView
	count  int
	width  uint32
	height uint32
}

// framebufferCache owns every framebuffer built for a set of views. A
// framebuffer dies with any of its views.
type framebufferCache struct {
	mu      sync.Mutex
	entries map[framebufferKey]*VulkanFramebuffer
}

func newFramebufferCache() *framebufferCache {
	return &framebufferCache{entries: make(map[framebufferKey]*VulkanFramebuffer)}
}

func (c *framebufferCache) get(dev *Device, rp *VulkanRenderpass, width, height uint32, views []vk.ImageView) (*VulkanFramebuffer, error) {
	key := framebufferKey{pass: rp.Handle, count: len(views), width: width, height: height}
	copy(key.views[:], views)

	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok := c.entries[key]; ok {
		return fb, nil
	}
	fb, err := FramebufferCreate(dev, rp, width, height, views)
	if err != nil {
		return nil, err
	}
	c.entries[key] = fb
	return fb, nil
}

func (c *framebufferCache) forget(dev *Device, view vk.ImageView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.entries {
		for i := 0; i < key.count; i++ {
			if key.views[i] == view {
				fb.Destroy(dev)
				delete(c.entries, key)
				break
			}
		}
	}
}

func (c *framebufferCache) destroyAll(dev *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.entries {
		fb.Destroy(dev)
		delete(c.entries, key)
	}
}
