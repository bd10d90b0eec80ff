package gpu

import (
	"strings"
)

// ResourceState is the access mode a resource is in on the GPU timeline.
// Values mirror the native bit layout so states can be combined.
type ResourceState uint32

const (
	ResourceStateCommon                          ResourceState = 0
	ResourceStateVertexAndConstantBuffer         ResourceState = 0x1
	ResourceStateIndexBuffer                     ResourceState = 0x2
	ResourceStateRenderTarget                    ResourceState = 0x4
	ResourceStateUnorderedAccess                 ResourceState = 0x8
	ResourceStateDepthWrite                      ResourceState = 0x10
	ResourceStateDepthRead                       ResourceState = 0x20
	ResourceStateNonPixelShaderResource          ResourceState = 0x40
	ResourceStatePixelShaderResource             ResourceState = 0x80
	ResourceStateIndirectArgument                ResourceState = 0x200
	ResourceStateCopyDest                        ResourceState = 0x400
	ResourceStateCopySource                      ResourceState = 0x800
	ResourceStateRaytracingAccelerationStructure ResourceState = 0x400000

	ResourceStatePresent     = ResourceStateCommon
	ResourceStateGenericRead = ResourceStateVertexAndConstantBuffer |
		ResourceStateIndexBuffer |
		ResourceStateNonPixelShaderResource |
		ResourceStatePixelShaderResource |
		ResourceStateIndirectArgument |
		ResourceStateCopySource
	ResourceStateAllShaderResource = ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource

	// ResourceStateUnknown marks "no transition in progress".
	ResourceStateUnknown ResourceState = 0xFFFFFFFF
)

var stateNames = []struct {
	state ResourceState
	name  string
}{
	{ResourceStateVertexAndConstantBuffer, "vertex-and-constant-buffer"},
	{ResourceStateIndexBuffer, "index-buffer"},
	{ResourceStateRenderTarget, "render-target"},
	{ResourceStateUnorderedAccess, "unordered-access"},
	{ResourceStateDepthWrite, "depth-write"},
	{ResourceStateDepthRead, "depth-read"},
	{ResourceStateNonPixelShaderResource, "non-pixel-shader-resource"},
	{ResourceStatePixelShaderResource, "pixel-shader-resource"},
	{ResourceStateIndirectArgument, "indirect-argument"},
	{ResourceStateCopyDest, "copy-dest"},
	{ResourceStateCopySource, "copy-source"},
	{ResourceStateRaytracingAccelerationStructure, "raytracing-acceleration-structure"},
}

func (s ResourceState) String() string {
	switch s {
	case ResourceStateCommon:
		return "common"
	case ResourceStateUnknown:
		return "unknown"
	case ResourceStateGenericRead:
		return "generic-read"
	}
	var parts []string
	for _, n := range stateNames {
		if s&n.state == n.state {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "invalid"
	}
	return strings.Join(parts, "|")
}

// IsWrite reports whether the state allows GPU writes. Write states cannot be
// combined with any other state.
func (s ResourceState) IsWrite() bool {
	return s&(ResourceStateRenderTarget|ResourceStateUnorderedAccess|ResourceStateDepthWrite|ResourceStateCopyDest) != 0
}
