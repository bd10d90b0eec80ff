package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

type stateAccess struct {
	access vk.AccessFlagBits
	stages vk.PipelineStageFlagBits
	layout vk.ImageLayout
}

var stateTable = map[gpu.ResourceState]stateAccess{
	gpu.ResourceStateVertexAndConstantBuffer: {
		access: vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit,
		stages: vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit,
		layout: vk.ImageLayoutGeneral,
	},
	gpu.ResourceStateIndexBuffer: {
		access: vk.AccessIndexReadBit,
		stages: vk.PipelineStageVertexInputBit,
		layout: vk.ImageLayoutGeneral,
	},
	gpu.ResourceStateRenderTarget: {
		access: vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit,
		stages: vk.PipelineStageColorAttachmentOutputBit,
		layout: vk.ImageLayoutColorAttachmentOptimal,
	},
	gpu.ResourceStateUnorderedAccess: {
		access: vk.AccessShaderReadBit | vk.AccessShaderWriteBit,
		stages: vk.PipelineStageComputeShaderBit | vk.PipelineStageFragmentShaderBit,
		layout: vk.ImageLayoutGeneral,
	},
	gpu.ResourceStateDepthWrite: {
		access: vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
		stages: vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit,
		layout: vk.ImageLayoutDepthStencilAttachmentOptimal,
	},
	gpu.ResourceStateDepthRead: {
		access: vk.AccessDepthStencilAttachmentReadBit | vk.AccessShaderReadBit,
		stages: vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit | vk.PipelineStageFragmentShaderBit,
		layout: vk.ImageLayoutDepthStencilReadOnlyOptimal,
	},
	gpu.ResourceStateNonPixelShaderResource: {
		access: vk.AccessShaderReadBit,
		stages: vk.PipelineStageVertexShaderBit | vk.PipelineStageComputeShaderBit,
		layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	gpu.ResourceStatePixelShaderResource: {
		access: vk.AccessShaderReadBit,
		stages: vk.PipelineStageFragmentShaderBit,
		layout: vk.ImageLayoutShaderReadOnlyOptimal,
	},
	gpu.ResourceStateIndirectArgument: {
		access: vk.AccessIndirectCommandReadBit,
		stages: vk.PipelineStageDrawIndirectBit,
		layout: vk.ImageLayoutGeneral,
	},
	gpu.ResourceStateCopyDest: {
		access: vk.AccessTransferWriteBit,
		stages: vk.PipelineStageTransferBit,
		layout: vk.ImageLayoutTransferDstOptimal,
	},
	gpu.ResourceStateCopySource: {
		access: vk.AccessTransferReadBit,
		stages: vk.PipelineStageTransferBit,
		layout: vk.ImageLayoutTransferSrcOptimal,
	},
	gpu.ResourceStateRaytracingAccelerationStructure: {
		access: vk.AccessShaderReadBit,
		stages: vk.PipelineStageComputeShaderBit,
		layout: vk.ImageLayoutGeneral,
	},
}

// translateState maps a (possibly combined) resource state onto Vulkan
// access masks, stages and the image layout. Combined read states that are
// all shader reads keep the read-only layout, anything else falls back to
// the general layout.
func translateState(s gpu.ResourceState, presentable bool) stateAccess {
	if s == gpu.ResourceStateCommon {
		out := stateAccess{
			access: vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit,
			stages: vk.PipelineStageAllCommandsBit,
			layout: vk.ImageLayoutGeneral,
		}
		if presentable {
			out.access = vk.AccessMemoryReadBit
			out.stages = vk.PipelineStageBottomOfPipeBit
			out.layout = vk.ImageLayoutPresentSrc
		}
		return out
	}
	if sa, ok := stateTable[s]; ok {
		return sa
	}

	var out stateAccess
	layout := vk.ImageLayoutUndefined
	for bit, sa := range stateTable {
		if s&bit != bit {
			continue
		}
		out.access |= sa.access
		out.stages |= sa.stages
		switch {
		case layout == vk.ImageLayoutUndefined:
			layout = sa.layout
		case layout == sa.layout:
		case bit == gpu.ResourceStateDepthRead && layout == vk.ImageLayoutShaderReadOnlyOptimal,
			layout == vk.ImageLayoutDepthStencilReadOnlyOptimal && sa.layout == vk.ImageLayoutShaderReadOnlyOptimal:
			layout = vk.ImageLayoutDepthStencilReadOnlyOptimal
		default:
			layout = vk.ImageLayoutGeneral
		}
	}
	if out.stages == 0 {
		out.stages = vk.PipelineStageAllCommandsBit
		out.access = vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit
	}
	if layout == vk.ImageLayoutUndefined {
		layout = vk.ImageLayoutGeneral
	}
	out.layout = layout
	return out
}

// barrierBatch is one vk.CmdPipelineBarrier worth of barriers.
type barrierBatch struct {
	srcStages vk.PipelineStageFlagBits
	dstStages vk.PipelineStageFlagBits
	memory    []vk.MemoryBarrier
	buffers   []vk.BufferMemoryBarrier
	images    []vk.ImageMemoryBarrier
	// Images whose first transition discards their undefined contents.
	initialized []*Resource
}

func (b *barrierBatch) empty() bool {
	return len(b.memory) == 0 && len(b.buffers) == 0 && len(b.images) == 0
}

// translateBarriers converts a batch of barriers. Begin halves of split
// barriers are dropped because Vulkan has no split layout transitions: the
// end half carries the whole transition.
func translateBarriers(barriers []gpu.Barrier) barrierBatch {
	var batch barrierBatch
	for _, b := range barriers {
		switch b.Type {
		case gpu.BarrierTypeTransition:
			if b.Flags&gpu.BarrierFlagBeginOnly != 0 {
				continue
			}
			res, ok := b.Resource.(*Resource)
			if !ok {
				continue
			}
			batch.addTransition(res, b.Before, b.After)
		case gpu.BarrierTypeUAV:
			batch.srcStages |= vk.PipelineStageComputeShaderBit | vk.PipelineStageFragmentShaderBit
			batch.dstStages |= vk.PipelineStageComputeShaderBit | vk.PipelineStageFragmentShaderBit
			batch.memory = append(batch.memory, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
			})
		case gpu.BarrierTypeAliasing:
			batch.srcStages |= vk.PipelineStageAllCommandsBit
			batch.dstStages |= vk.PipelineStageAllCommandsBit
			batch.memory = append(batch.memory, vk.MemoryBarrier{
				SType:         vk.StructureTypeMemoryBarrier,
				SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
				DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
			})
		}
	}
	return batch
}

func (batch *barrierBatch) addTransition(res *Resource, before, after gpu.ResourceState) {
	src := translateState(before, res.presentable)
	dst := translateState(after, res.presentable)
	batch.srcStages |= src.stages
	batch.dstStages |= dst.stages

	if res.isBuffer() {
		batch.buffers = append(batch.buffers, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(src.access),
			DstAccessMask:       vk.AccessFlags(dst.access),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              res.buffer,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
		return
	}

	oldLayout := src.layout
	if !res.initialized {
		oldLayout = vk.ImageLayoutUndefined
		batch.initialized = append(batch.initialized, res)
	}
	batch.images = append(batch.images, vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(src.access),
		DstAccessMask:       vk.AccessFlags(dst.access),
		OldLayout:           oldLayout,
		NewLayout:           dst.layout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               res.image,
		SubresourceRange:    res.fullRange(),
	})
}
