package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTexture(initialized bool) *Resource {
	return &Resource{
		desc:        gpu.Texture2DDesc(gpu.FormatR8G8B8A8Unorm, 64, 64, 1, gpu.ResourceFlagAllowRenderTarget),
		format:      vk.FormatR8g8b8a8Unorm,
		name:        "tex",
		initialized: initialized,
	}
}

func testBuffer() *Resource {
	return &Resource{desc: gpu.BufferDesc(256, 0), size: 256, name: "buf", initialized: true}
}

func TestTranslateSingleStates(t *testing.T) {
	rt := translateState(gpu.ResourceStateRenderTarget, false)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, rt.layout)
	assert.Equal(t, vk.PipelineStageColorAttachmentOutputBit, rt.stages)

	cp := translateState(gpu.ResourceStateCopyDest, false)
	assert.Equal(t, vk.ImageLayoutTransferDstOptimal, cp.layout)
	assert.Equal(t, vk.AccessTransferWriteBit, cp.access)
}

func TestTranslateCommonDependsOnPresentability(t *testing.T) {
	assert.Equal(t, vk.ImageLayoutGeneral, translateState(gpu.ResourceStateCommon, false).layout)

	present := translateState(gpu.ResourceStatePresent, true)
	assert.Equal(t, vk.ImageLayoutPresentSrc, present.layout)
	assert.Equal(t, vk.PipelineStageBottomOfPipeBit, present.stages)
}

func TestTranslateCombinedReadStates(t *testing.T) {
	srv := translateState(gpu.ResourceStateAllShaderResource, false)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, srv.layout)
	assert.NotZero(t, srv.stages&vk.PipelineStageFragmentShaderBit)
	assert.NotZero(t, srv.stages&vk.PipelineStageComputeShaderBit)

	depthSampled := translateState(gpu.ResourceStateDepthRead|gpu.ResourceStatePixelShaderResource, false)
	assert.Equal(t, vk.ImageLayoutDepthStencilReadOnlyOptimal, depthSampled.layout)

	generic := translateState(gpu.ResourceStateGenericRead, false)
	assert.Equal(t, vk.ImageLayoutGeneral, generic.layout)
	assert.NotZero(t, generic.access&vk.AccessTransferReadBit)
}

func TestTranslateBarriersFirstTransitionDiscards(t *testing.T) {
	tex := testTexture(false)
	batch := translateBarriers([]gpu.Barrier{
		gpu.NewTransitionBarrier(tex, gpu.ResourceStateCommon, gpu.ResourceStateRenderTarget, gpu.BarrierFlagNone),
	})
	require.Len(t, batch.images, 1)
	assert.Equal(t, vk.ImageLayoutUndefined, batch.images[0].OldLayout)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, batch.images[0].NewLayout)
	assert.Equal(t, []*Resource{tex}, batch.initialized)

	tex.initialized = true
	batch = translateBarriers([]gpu.Barrier{
		gpu.NewTransitionBarrier(tex, gpu.ResourceStateRenderTarget, gpu.ResourceStatePixelShaderResource, gpu.BarrierFlagNone),
	})
	require.Len(t, batch.images, 1)
	assert.Equal(t, vk.ImageLayoutColorAttachmentOptimal, batch.images[0].OldLayout)
	assert.Empty(t, batch.initialized)
}

func TestTranslateBarriersSplitKeepsEndHalf(t *testing.T) {
	tex := testTexture(true)
	begin := gpu.NewTransitionBarrier(tex, gpu.ResourceStateRenderTarget, gpu.ResourceStatePixelShaderResource, gpu.BarrierFlagBeginOnly)
	end := gpu.NewTransitionBarrier(tex, gpu.ResourceStateRenderTarget, gpu.ResourceStatePixelShaderResource, gpu.BarrierFlagEndOnly)

	batch := translateBarriers([]gpu.Barrier{begin})
	assert.True(t, batch.empty())

	batch = translateBarriers([]gpu.Barrier{end})
	require.Len(t, batch.images, 1)
	assert.Equal(t, vk.ImageLayoutShaderReadOnlyOptimal, batch.images[0].NewLayout)
}

func TestTranslateBarriersBuffersAndMemory(t *testing.T) {
	buf := testBuffer()
	batch := translateBarriers([]gpu.Barrier{
		gpu.NewTransitionBarrier(buf, gpu.ResourceStateCopyDest, gpu.ResourceStateVertexAndConstantBuffer, gpu.BarrierFlagNone),
		gpu.NewUAVBarrier(buf),
		gpu.NewAliasingBarrier(nil, buf),
	})
	assert.Len(t, batch.buffers, 1)
	assert.Empty(t, batch.images)
	assert.Len(t, batch.memory, 2)
	assert.NotZero(t, batch.srcStages&vk.PipelineStageTransferBit)
	assert.NotZero(t, batch.dstStages&vk.PipelineStageVertexInputBit)
}
