package vulkan

import (
	"encoding/binary"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRootLayout(t *testing.T) {
	layout, err := buildRootLayout(gpu.RootSignatureDesc{
		Name: "mixed",
		Parameters: []gpu.RootParameter{
			{Type: gpu.RootParameterCBV},
			{Type: gpu.RootParameterDescriptorTable, Ranges: []gpu.DescriptorRange{
				{Kind: gpu.ViewKindShaderResource, NumDescriptors: 4},
				{Kind: gpu.ViewKindUnorderedAccess, NumDescriptors: 0},
				{Kind: gpu.ViewKindUnorderedAccess, NumDescriptors: 2},
			}},
			{Type: gpu.RootParameterConstants, Num32BitValues: 4},
			{Type: gpu.RootParameterSRV},
		},
	})
	require.NoError(t, err)

	require.Len(t, layout.sets, 2)
	require.Len(t, layout.params, 4)

	// Root descriptors share set 0 in declaration order.
	assert.Equal(t, uint32(0), layout.params[0].set)
	assert.Equal(t, uint32(0), layout.params[0].binding)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, layout.params[0].descType)
	assert.Equal(t, uint32(0), layout.params[3].set)
	assert.Equal(t, uint32(1), layout.params[3].binding)
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, layout.params[3].descType)
	assert.Len(t, layout.sets[0], 2)

	table := layout.params[1]
	assert.Equal(t, uint32(1), table.set)
	require.Len(t, table.ranges, 3)
	assert.Equal(t, uint32(4), table.ranges[2].offset)
	assert.Equal(t, vk.DescriptorTypeStorageImage, table.ranges[2].descType)
	// The empty range keeps its binding number but declares nothing.
	require.Len(t, layout.sets[1], 2)
	assert.Equal(t, uint32(2), layout.sets[1][1].Binding)

	require.Len(t, layout.push, 1)
	assert.Equal(t, uint32(16), layout.params[2].pushSize)
}

func TestBuildRootLayoutPushConstantLimit(t *testing.T) {
	_, err := buildRootLayout(gpu.RootSignatureDesc{Parameters: []gpu.RootParameter{
		{Type: gpu.RootParameterConstants, Num32BitValues: 16},
		{Type: gpu.RootParameterConstants, Num32BitValues: 17},
	}})
	assert.Error(t, err)

	_, err = buildRootLayout(gpu.RootSignatureDesc{Parameters: []gpu.RootParameter{
		{Type: gpu.RootParameterConstants, Num32BitValues: 32},
	}})
	assert.NoError(t, err)
}

func TestPassKeyFor(t *testing.T) {
	key, err := passKeyFor(gpu.PipelineStateDesc{
		RenderTargets: []gpu.Format{gpu.FormatR16G16B16A16Float, gpu.FormatR8G8B8A8Unorm},
		DepthFormat:   gpu.FormatD32Float,
		SampleCount:   4,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, key.numColors)
	assert.Equal(t, vk.FormatR16g16b16a16Sfloat, key.colors[0])
	assert.Equal(t, vk.FormatD32Sfloat, key.depth)
	assert.Equal(t, vk.SampleCount4Bit, key.samples)

	_, err = passKeyFor(gpu.PipelineStateDesc{RenderTargets: make([]gpu.Format, maxColorAttachments+1)})
	assert.Error(t, err)
}

func TestRenderpassKeyCompatibility(t *testing.T) {
	key := renderpassKey{numColors: 1, depth: vk.FormatD32Sfloat, undefined: 1 | 1<<maxColorAttachments}
	assert.True(t, key.startsUndefined(0))
	assert.True(t, key.startsUndefined(maxColorAttachments))
	assert.False(t, key.startsUndefined(1))

	compat := key.compatible()
	assert.False(t, compat.startsUndefined(0))
	assert.Equal(t, key.depth, compat.depth)
	assert.NotEqual(t, key, compat)
}

func TestTopology(t *testing.T) {
	topo, ok := vkTopology(gpu.PrimitiveTopologyTriangleStrip)
	assert.True(t, ok)
	assert.Equal(t, vk.PrimitiveTopologyTriangleStrip, topo)

	_, ok = vkTopology(gpu.PrimitiveTopologyPatchList3)
	assert.False(t, ok)
}

func TestSpirvWords(t *testing.T) {
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, spirvMagic)
	binary.LittleEndian.PutUint32(code[4:], 0x00010000)
	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{spirvMagic, 0x00010000}, words)

	_, err = spirvWords(code[:6])
	assert.Error(t, err)

	_, err = spirvWords([]byte{1, 2, 3, 4})
	assert.Error(t, err)
}

func TestBindPointConstantsMerge(t *testing.T) {
	var st bindPointState
	st.setSignature(&RootSignature{name: "a"})
	st.setConstants(2, []uint32{7, 8}, 1)
	st.setConstants(2, []uint32{5}, 0)
	assert.Equal(t, []uint32{5, 7, 8}, st.constants[2])

	st.addresses[0] = 0x10000
	st.setSignature(&RootSignature{name: "b"})
	assert.Empty(t, st.addresses)
	assert.Empty(t, st.constants)
}

func TestClearRectsDefaultToFramebuffer(t *testing.T) {
	fb := &VulkanFramebuffer{Width: 640, Height: 480}
	rects := clearRects(nil, fb)
	require.Len(t, rects, 1)
	assert.Equal(t, uint32(640), rects[0].Rect.Extent.Width)
	assert.Equal(t, uint32(1), rects[0].LayerCount)

	rects = clearRects([]gpu.Rect{{Left: 10, Top: 20, Right: 30, Bottom: 60}}, fb)
	require.Len(t, rects, 1)
	assert.Equal(t, int32(10), rects[0].Rect.Offset.X)
	assert.Equal(t, uint32(40), rects[0].Rect.Extent.Height)
}
