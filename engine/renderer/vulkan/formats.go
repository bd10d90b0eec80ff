package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// Typeless depth formats are backed by the matching depth format; the view
// decides which aspect is read.
var formatTable = map[gpu.Format]vk.Format{
	gpu.FormatUnknown:            vk.FormatUndefined,
	gpu.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	gpu.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	gpu.FormatR16G16B16A16Float:  vk.FormatR16g16b16a16Sfloat,
	gpu.FormatR32G32B32A32Float:  vk.FormatR32g32b32a32Sfloat,
	gpu.FormatR32G32B32Float:     vk.FormatR32g32b32Sfloat,
	gpu.FormatR32Float:           vk.FormatR32Sfloat,
	gpu.FormatR32Uint:            vk.FormatR32Uint,
	gpu.FormatR16Uint:            vk.FormatR16Uint,
	gpu.FormatR24G8Typeless:      vk.FormatD24UnormS8Uint,
	gpu.FormatD24UnormS8Uint:     vk.FormatD24UnormS8Uint,
	gpu.FormatR24UnormX8Typeless: vk.FormatD24UnormS8Uint,
	gpu.FormatR32Typeless:        vk.FormatD32Sfloat,
	gpu.FormatD32Float:           vk.FormatD32Sfloat,
}

func toVkFormat(f gpu.Format) vk.Format {
	if vf, ok := formatTable[f]; ok {
		return vf
	}
	return vk.FormatUndefined
}

func fromVkFormat(vf vk.Format) gpu.Format {
	switch vf {
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatB8G8R8A8Unorm
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatR8G8B8A8Unorm
	case vk.FormatR16g16b16a16Sfloat:
		return gpu.FormatR16G16B16A16Float
	}
	return gpu.FormatUnknown
}

func isDepthVkFormat(vf vk.Format) bool {
	switch vf {
	case vk.FormatD24UnormS8Uint, vk.FormatD32Sfloat, vk.FormatD32SfloatS8Uint, vk.FormatD16Unorm:
		return true
	}
	return false
}

func hasStencil(vf vk.Format) bool {
	return vf == vk.FormatD24UnormS8Uint || vf == vk.FormatD32SfloatS8Uint
}

// aspectFor is the full aspect used by barriers and attachments.
func aspectFor(vf vk.Format) vk.ImageAspectFlags {
	if !isDepthVkFormat(vf) {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if hasStencil(vf) {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
}

// viewAspectFor is the aspect a view may read: sampled depth views see depth only.
func viewAspectFor(vf vk.Format, kind gpu.ViewKind) vk.ImageAspectFlags {
	if isDepthVkFormat(vf) && kind != gpu.ViewKindDepthStencil {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return aspectFor(vf)
}

func sampleCountFlag(n uint32) vk.SampleCountFlagBits {
	switch n {
	case 2:
		return vk.SampleCount2Bit
	case 4:
		return vk.SampleCount4Bit
	case 8:
		return vk.SampleCount8Bit
	case 16:
		return vk.SampleCount16Bit
	}
	return vk.SampleCount1Bit
}

func maxSampleCount(counts vk.SampleCountFlags) uint32 {
	for _, n := range []uint32{16, 8, 4, 2} {
		if counts&vk.SampleCountFlags(sampleCountFlag(n)) != 0 {
			return n
		}
	}
	return 1
}
