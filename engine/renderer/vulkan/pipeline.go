package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// Vulkan only guarantees 128 bytes of push constants.
const maxPushConstantBytes = 128

// paramBinding says where a root parameter lands in the pipeline layout.
type paramBinding struct {
	kind gpu.RootParameterType
	set  uint32
	// Binding of a root descriptor inside the root set.
	binding  uint32
	descType vk.DescriptorType
	// Push constant byte range of a Constants parameter.
	pushOffset uint32
	pushSize   uint32
	// Descriptor type and first table slot of every range of a table.
	ranges []tableRange
}

type tableRange struct {
	descType vk.DescriptorType
	count    uint32
	// Slot offset of the range inside the table.
	offset uint32
}

// rootLayout is a root signature flattened into descriptor set layouts:
// root descriptors share one set, each table gets its own set and
// constants become push constant ranges.
type rootLayout struct {
	sets   [][]vk.DescriptorSetLayoutBinding
	params []paramBinding
	push   []vk.PushConstantRange
}

func rootDescriptorType(t gpu.RootParameterType) vk.DescriptorType {
	if t == gpu.RootParameterCBV {
		return vk.DescriptorTypeUniformBuffer
	}
	return vk.DescriptorTypeStorageBuffer
}

func tableDescriptorType(k gpu.ViewKind) vk.DescriptorType {
	switch k {
	case gpu.ViewKindConstantBuffer:
		return vk.DescriptorTypeUniformBuffer
	case gpu.ViewKindShaderResource:
		return vk.DescriptorTypeSampledImage
	case gpu.ViewKindUnorderedAccess:
		return vk.DescriptorTypeStorageImage
	}
	return vk.DescriptorTypeStorageBuffer
}

func buildRootLayout(desc gpu.RootSignatureDesc) (rootLayout, error) {
	var out rootLayout
	out.params = make([]paramBinding, len(desc.Parameters))

	rootSet := -1
	var pushOffset uint32
	for i, p := range desc.Parameters {
		pb := paramBinding{kind: p.Type}
		switch p.Type {
		case gpu.RootParameterCBV, gpu.RootParameterSRV, gpu.RootParameterUAV:
			if rootSet < 0 {
				rootSet = len(out.sets)
				out.sets = append(out.sets, nil)
			}
			pb.set = uint32(rootSet)
			pb.binding = uint32(len(out.sets[rootSet]))
			pb.descType = rootDescriptorType(p.Type)
			out.sets[rootSet] = append(out.sets[rootSet], vk.DescriptorSetLayoutBinding{
				Binding:         pb.binding,
				DescriptorType:  pb.descType,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
			})
		case gpu.RootParameterDescriptorTable:
			pb.set = uint32(len(out.sets))
			var bindings []vk.DescriptorSetLayoutBinding
			var offset uint32
			for r, rng := range p.Ranges {
				tr := tableRange{descType: tableDescriptorType(rng.Kind), count: rng.NumDescriptors, offset: offset}
				pb.ranges = append(pb.ranges, tr)
				offset += rng.NumDescriptors
				if rng.NumDescriptors == 0 {
					continue
				}
				bindings = append(bindings, vk.DescriptorSetLayoutBinding{
					Binding:         uint32(r),
					DescriptorType:  tr.descType,
					DescriptorCount: rng.NumDescriptors,
					StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAll),
				})
			}
			out.sets = append(out.sets, bindings)
		case gpu.RootParameterConstants:
			pb.pushOffset = pushOffset
			pb.pushSize = p.Num32BitValues * 4
			pushOffset += pb.pushSize
			if pushOffset > maxPushConstantBytes {
				return rootLayout{}, fmt.Errorf("parameter %d: %d bytes of root constants exceed the %d byte push constant limit", i, pushOffset, maxPushConstantBytes)
			}
			out.push = append(out.push, vk.PushConstantRange{
				StageFlags: vk.ShaderStageFlags(vk.ShaderStageAll),
				Offset:     pb.pushOffset,
				Size:       pb.pushSize,
			})
		default:
			return rootLayout{}, fmt.Errorf("parameter %d has unknown type %d", i, p.Type)
		}
		out.params[i] = pb
	}
	return out, nil
}

// RootSignature owns the descriptor set layouts and the pipeline layout.
type RootSignature struct {
	dev        *Device
	name       string
	layout     rootLayout
	setLayouts []vk.DescriptorSetLayout
	handle     vk.PipelineLayout
}

func (rs *RootSignature) Name() string {
	return rs.name
}

func (rs *RootSignature) Release() error {
	return rs.dev.locks.SafeCall(PipelineManagement, func() error {
		if rs.handle != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(rs.dev.logical, rs.handle, rs.dev.ctx.Allocator)
			rs.handle = vk.NullPipelineLayout
		}
		for _, l := range rs.setLayouts {
			vk.DestroyDescriptorSetLayout(rs.dev.logical, l, rs.dev.ctx.Allocator)
		}
		rs.setLayouts = nil
		return nil
	})
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if desc.Local {
		d.report("CreateRootSignature: local root signature %s needs ray tracing", desc.Name)
		return nil, fmt.Errorf("local root signatures are not supported by %s", d.name)
	}
	layout, err := buildRootLayout(desc)
	if err != nil {
		return nil, fmt.Errorf("root signature %s: %w", desc.Name, err)
	}

	rs := &RootSignature{dev: d, name: desc.Name, layout: layout}
	err = d.locks.SafeCall(PipelineManagement, func() error {
		for _, bindings := range layout.sets {
			info := vk.DescriptorSetLayoutCreateInfo{
				SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
				BindingCount: uint32(len(bindings)),
				PBindings:    bindings,
			}
			var setLayout vk.DescriptorSetLayout
			if err := resultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.logical, &info, d.ctx.Allocator, &setLayout)); err != nil {
				return err
			}
			rs.setLayouts = append(rs.setLayouts, setLayout)
		}

		pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
			SType:                  vk.StructureTypePipelineLayoutCreateInfo,
			SetLayoutCount:         uint32(len(rs.setLayouts)),
			PSetLayouts:            rs.setLayouts,
			PushConstantRangeCount: uint32(len(layout.push)),
			PPushConstantRanges:    layout.push,
		}
		return resultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.logical, &pipelineLayoutCreateInfo, d.ctx.Allocator, &rs.handle))
	})
	if err != nil {
		_ = rs.Release()
		return nil, d.observe(err)
	}
	return rs, nil
}

// VulkanPipeline holds a Vulkan pipeline. The layout belongs to the root
// signature.
type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
}

type PipelineState struct {
	dev       *Device
	name      string
	kind      gpu.PipelineKind
	bindPoint vk.PipelineBindPoint
	pipeline  VulkanPipeline
	sig       *RootSignature
}

func (p *PipelineState) Name() string {
	return p.name
}

func (p *PipelineState) Kind() gpu.PipelineKind {
	return p.kind
}

func (p *PipelineState) Release() error {
	return p.dev.locks.SafeCall(PipelineManagement, func() error {
		if p.pipeline.Handle != vk.NullPipeline {
			vk.DestroyPipeline(p.dev.logical, p.pipeline.Handle, p.dev.ctx.Allocator)
			p.pipeline.Handle = vk.NullPipeline
		}
		return nil
	})
}

func (p *PipelineState) Bind(commandBuffer *VulkanCommandBuffer) {
	vk.CmdBindPipeline(commandBuffer.Handle, p.bindPoint, p.pipeline.Handle)
}

func (d *Device) CreatePipelineState(desc gpu.PipelineStateDesc) (gpu.PipelineState, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	sig, ok := desc.RootSignature.(*RootSignature)
	if !ok || sig == nil {
		return nil, fmt.Errorf("pipeline %s: root signature %T does not belong to the vulkan device", desc.Name, desc.RootSignature)
	}

	p := &PipelineState{dev: d, name: desc.Name, kind: desc.Kind, sig: sig}
	p.pipeline.PipelineLayout = sig.handle
	var err error
	switch desc.Kind {
	case gpu.PipelineKindCompute:
		p.bindPoint = vk.PipelineBindPointCompute
		err = d.createComputePipeline(p, desc)
	case gpu.PipelineKindGraphics:
		p.bindPoint = vk.PipelineBindPointGraphics
		err = d.createGraphicsPipeline(p, desc)
	default:
		d.report("CreatePipelineState: %s needs ray tracing", desc.Name)
		err = fmt.Errorf("ray tracing pipelines are not supported by %s", d.name)
	}
	if err != nil {
		return nil, d.observe(fmt.Errorf("pipeline %s: %w", desc.Name, err))
	}
	core.LogDebug("pipeline %s created", desc.Name)
	return p, nil
}

func (d *Device) shaderStages(desc gpu.PipelineStateDesc, names ...string) ([]*VulkanShaderStage, error) {
	var stages []*VulkanShaderStage
	for _, name := range names {
		code, ok := desc.Shaders[name]
		if !ok {
			continue
		}
		stage, err := NewShaderModule(d, name, code)
		if err != nil {
			for _, s := range stages {
				s.Destroy(d)
			}
			return nil, err
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func (d *Device) createComputePipeline(p *PipelineState, desc gpu.PipelineStateDesc) error {
	if _, ok := desc.Shaders["cs"]; !ok {
		return fmt.Errorf("compute pipeline without a cs stage")
	}
	stages, err := d.shaderStages(desc, "cs")
	if err != nil {
		return err
	}
	defer stages[0].Destroy(d)

	info := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stages[0].ShaderStageCreateInfo,
		Layout:             p.pipeline.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateComputePipelines", vk.CreateComputePipelines(d.logical, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{info}, d.ctx.Allocator, pipelines))
	}); err != nil {
		return err
	}
	p.pipeline.Handle = pipelines[0]
	return nil
}

func vkTopology(t gpu.PrimitiveTopology) (vk.PrimitiveTopology, bool) {
	switch t {
	case gpu.PrimitiveTopologyTriangleList:
		return vk.PrimitiveTopologyTriangleList, true
	case gpu.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip, true
	case gpu.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList, true
	case gpu.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList, true
	}
	return vk.PrimitiveTopologyPatchList, false
}

// passKeyFor is the render pass a graphics pipeline is compatible with.
func passKeyFor(desc gpu.PipelineStateDesc) (renderpassKey, error) {
	if len(desc.RenderTargets) > maxColorAttachments {
		return renderpassKey{}, fmt.Errorf("%d render targets, at most %d are supported", len(desc.RenderTargets), maxColorAttachments)
	}
	key := renderpassKey{numColors: len(desc.RenderTargets), samples: sampleCountFlag(desc.SampleCount)}
	for i, f := range desc.RenderTargets {
		key.colors[i] = toVkFormat(f)
	}
	if desc.DepthFormat != gpu.FormatUnknown {
		key.depth = toVkFormat(desc.DepthFormat)
	}
	return key, nil
}

func (d *Device) createGraphicsPipeline(p *PipelineState, desc gpu.PipelineStateDesc) error {
	topology, ok := vkTopology(desc.Topology)
	if !ok {
		d.report("CreatePipelineState: %s uses patch topology, tessellation is not enabled", desc.Name)
		return fmt.Errorf("patch topologies are not supported")
	}
	if _, ok := desc.Shaders["vs"]; !ok {
		return fmt.Errorf("graphics pipeline without a vs stage")
	}
	key, err := passKeyFor(desc)
	if err != nil {
		return err
	}
	renderpass, err := d.passes.get(d, key)
	if err != nil {
		return err
	}

	stages, err := d.shaderStages(desc, "vs", "ps")
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range stages {
			s.Destroy(d)
		}
	}()
	stageInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stageInfos[i] = s.ShaderStageCreateInfo
	}

	// Vertices are pulled from shader resources; there is no input layout.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               topology,
		PrimitiveRestartEnable: vk.False,
	}
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:   vk.FrontFaceClockwise,
		LineWidth:   1.0,
	}
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: key.samples,
		MinSampleShading:     1.0,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if key.depth != vk.FormatUndefined {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLessOrEqual
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, key.numColors)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         vk.True,
			SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
			DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
			ColorBlendOp:        vk.BlendOpAdd,
			SrcAlphaBlendFactor: vk.BlendFactorOne,
			DstAlphaBlendFactor: vk.BlendFactorZero,
			AlphaBlendOp:        vk.BlendOpAdd,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              p.pipeline.PipelineLayout,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		return resultError("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(d.logical, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.ctx.Allocator, pipelines))
	}); err != nil {
		return err
	}
	p.pipeline.Handle = pipelines[0]
	return nil
}
