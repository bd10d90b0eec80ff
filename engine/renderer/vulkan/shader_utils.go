package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
)

const spirvMagic = 0x07230203

var shaderStageFlags = map[string]vk.ShaderStageFlagBits{
	"vs": vk.ShaderStageVertexBit,
	"ps": vk.ShaderStageFragmentBit,
	"cs": vk.ShaderStageComputeBit,
	"hs": vk.ShaderStageTessellationControlBit,
	"ds": vk.ShaderStageTessellationEvaluationBit,
}

// VulkanShaderStage is one compiled stage of a pipeline.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// spirvWords validates a SPIR-V blob and returns it as words.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) < 4 || len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V blob of %d bytes is not a whole number of words", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bad SPIR-V magic %#08x", words[0])
	}
	return words, nil
}

func NewShaderModule(dev *Device, stage string, code []byte) (*VulkanShaderStage, error) {
	flag, ok := shaderStageFlags[stage]
	if !ok {
		return nil, fmt.Errorf("unknown shader stage `%s`", stage)
	}
	words, err := spirvWords(code)
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	out := &VulkanShaderStage{}
	if err := resultError("vkCreateShaderModule", vk.CreateShaderModule(dev.logical, &createInfo, dev.ctx.Allocator, &out.Handle)); err != nil {
		return nil, err
	}

	out.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  flag,
		Module: out.Handle,
		PName:  VulkanSafeString("main"),
	}
	return out, nil
}

func (s *VulkanShaderStage) Destroy(dev *Device) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(dev.logical, s.Handle, dev.ctx.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
