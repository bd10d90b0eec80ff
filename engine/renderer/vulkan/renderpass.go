package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"
)

const maxColorAttachments = 8

// renderpassKey identifies a single-subpass render pass. Attachments are
// always loaded and stored: clears happen through vkCmdClearAttachments.
type renderpassKey struct {
	colors    [maxColorAttachments]vk.Format
	numColors int
	depth     vk.Format
	samples   vk.SampleCountFlagBits
	// Bit i marks color attachment i as starting undefined, bit
	// maxColorAttachments the depth attachment.
	undefined uint16
}

func (k renderpassKey) startsUndefined(i int) bool {
	return k.undefined&(1<<uint(i)) != 0
}

// compatible drops the layout bits: pipelines only care about formats and
// sample counts.
func (k renderpassKey) compatible() renderpassKey {
	k.undefined = 0
	return k
}

type VulkanRenderpass struct {
	Handle vk.RenderPass
	key    renderpassKey
}

func RenderpassCreate(dev *Device, key renderpassKey) (*VulkanRenderpass, error) {
	outRenderpass := &VulkanRenderpass{key: key}

	var attachmentDescriptions []vk.AttachmentDescription
	var colorAttachmentReferences []vk.AttachmentReference
	for i := 0; i < key.numColors; i++ {
		initial := vk.ImageLayoutColorAttachmentOptimal
		if key.startsUndefined(i) {
			initial = vk.ImageLayoutUndefined
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         key.colors[i],
			Samples:        key.samples,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initial,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorAttachmentReferences = append(colorAttachmentReferences, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorAttachmentReferences)),
		PColorAttachments:    colorAttachmentReferences,
	}

	if key.depth != vk.FormatUndefined {
		initial := vk.ImageLayoutDepthStencilAttachmentOptimal
		if key.startsUndefined(maxColorAttachments) {
			initial = vk.ImageLayoutUndefined
		}
		stencilLoad, stencilStore := vk.AttachmentLoadOpDontCare, vk.AttachmentStoreOpDontCare
		if hasStencil(key.depth) {
			stencilLoad, stencilStore = vk.AttachmentLoadOpLoad, vk.AttachmentStoreOpStore
		}
		attachmentDescriptions = append(attachmentDescriptions, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        key.samples,
			LoadOp:         vk.AttachmentLoadOpLoad,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  stencilLoad,
			StencilStoreOp: stencilStore,
			InitialLayout:  initial,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.numColors),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageLateFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachmentDescriptions)),
		PAttachments:    attachmentDescriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var pRenderPass vk.RenderPass
	if err := resultError("vkCreateRenderPass", vk.CreateRenderPass(dev.logical, &renderpassCreateInfo, dev.ctx.Allocator, &pRenderPass)); err != nil {
		return nil, err
	}
	outRenderpass.Handle = pRenderPass
	return outRenderpass, nil
}

func (vr *VulkanRenderpass) RenderpassDestroy(dev *Device) {
	if vr.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(dev.logical, vr.Handle, dev.ctx.Allocator)
		vr.Handle = vk.NullRenderPass
	}
}

func (vr *VulkanRenderpass) RenderpassBegin(commandBuffer *VulkanCommandBuffer, frameBuffer *VulkanFramebuffer) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: frameBuffer.Handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: frameBuffer.Width, Height: frameBuffer.Height},
		},
	}
	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (vr *VulkanRenderpass) RenderpassEnd(commandBuffer *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(commandBuffer.Handle)
	commandBuffer.State = COMMAND_BUFFER_STATE_RECORDING
}

type renderpassCache struct {
	mu     sync.Mutex
	passes map[renderpassKey]*VulkanRenderpass
}

func newRenderpassCache() *renderpassCache {
	return &renderpassCache{passes: make(map[renderpassKey]*VulkanRenderpass)}
}

func (c *renderpassCache) get(dev *Device, key renderpassKey) (*VulkanRenderpass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[key]; ok {
		return rp, nil
	}
	rp, err := RenderpassCreate(dev, key)
	if err != nil {
		return nil, err
	}
	c.passes[key] = rp
	return rp, nil
}

func (c *renderpassCache) destroyAll(dev *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, rp := range c.passes {
		rp.RenderpassDestroy(dev)
		delete(c.passes, key)
	}
}
