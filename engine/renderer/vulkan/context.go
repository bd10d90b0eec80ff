package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
)

// VulkanContext holds the instance-level objects shared by the device and the
// swapchain.
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	PhysicalDevice vk.PhysicalDevice
	Properties     vk.PhysicalDeviceProperties
	Features       vk.PhysicalDeviceFeatures
	Memory         vk.PhysicalDeviceMemoryProperties
	SupportInfo    VulkanSwapchainSupportInfo

	GraphicsQueueIndex int32
	PresentQueueIndex  int32
	ComputeQueueIndex  int32
	TransferQueueIndex int32

	DepthFormat vk.Format
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	memoryProperties := vc.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
