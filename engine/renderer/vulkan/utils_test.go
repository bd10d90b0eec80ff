package vulkan

import (
	"errors"
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultError(t *testing.T) {
	assert.NoError(t, resultError("vkCreateFence", vk.Success))
	assert.NoError(t, resultError("vkAcquireNextImageKHR", vk.Suboptimal))

	err := resultError("vkQueueSubmit", vk.ErrorDeviceLost)
	assert.ErrorIs(t, err, core.ErrDeviceRemoved)
	assert.True(t, isDeviceLost(err))

	err = resultError("vkAllocateMemory", vk.ErrorOutOfDeviceMemory)
	require.Error(t, err)
	assert.False(t, isDeviceLost(err))
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_DEVICE_MEMORY")
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_TIMEOUT", VulkanResultString(vk.Timeout, false))
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345), true))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "\x00", VulkanSafeString(""))
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))
	assert.Equal(t, []string{"a\x00", "b\x00"}, VulkanSafeStrings([]string{"a", "b\x00"}))

	name := [16]byte{}
	copy(name[:], "llvmpipe")
	assert.Equal(t, "llvmpipe", cString(name[:]))
	assert.Equal(t, "abc", cString([]byte("abc")))
}

func TestFormats(t *testing.T) {
	assert.Equal(t, vk.FormatD24UnormS8Uint, toVkFormat(gpu.FormatR24G8Typeless))
	assert.Equal(t, vk.FormatUndefined, toVkFormat(gpu.Format(250)))
	assert.Equal(t, gpu.FormatB8G8R8A8Unorm, fromVkFormat(vk.FormatB8g8r8a8Unorm))

	assert.True(t, hasStencil(vk.FormatD24UnormS8Uint))
	assert.False(t, hasStencil(vk.FormatD32Sfloat))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit), aspectFor(vk.FormatD24UnormS8Uint))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), viewAspectFor(vk.FormatD24UnormS8Uint, gpu.ViewKindShaderResource))

	assert.Equal(t, vk.SampleCount1Bit, sampleCountFlag(3))
	assert.Equal(t, uint32(4), maxSampleCount(vk.SampleCountFlags(vk.SampleCount1Bit|vk.SampleCount2Bit|vk.SampleCount4Bit)))
}

func TestAddressSpace(t *testing.T) {
	as := newAddressSpace()
	a := &Resource{size: 100}
	b := &Resource{size: 3 * addressAlignment}
	baseA := as.reserve(a, a.size)
	baseB := as.reserve(b, b.size)
	assert.Zero(t, baseA%addressAlignment)
	assert.Equal(t, baseA+addressAlignment, baseB)

	res, off, ok := as.resolve(baseB + 1000)
	require.True(t, ok)
	assert.Same(t, b, res)
	assert.Equal(t, uint64(1000), off)

	// Inside a's alignment padding but past its size.
	_, _, ok = as.resolve(baseA + 200)
	assert.False(t, ok)

	as.release(baseB)
	_, _, ok = as.resolve(baseB)
	assert.False(t, ok)
	_, _, ok = as.resolve(0)
	assert.False(t, ok)
}

func TestLockPoolSerializesGroup(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = pool.SafeCall(ResourceManagement, func() error { counter++; return nil })
		}()
		go func() {
			defer wg.Done()
			_ = pool.SafeQueueCall(0, func() error { return nil })
		}()
	}
	wg.Wait()
	assert.Equal(t, 32, counter)

	boom := errors.New("boom")
	assert.ErrorIs(t, pool.SafeQueueCall(3, func() error { return boom }), boom)
}
