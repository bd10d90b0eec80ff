package gpu

type RootParameterType uint8

const (
	RootParameterDescriptorTable RootParameterType = iota
	RootParameterConstants
	RootParameterCBV
	RootParameterSRV
	RootParameterUAV
)

type DescriptorRange struct {
	Kind           ViewKind
	NumDescriptors uint32
	BaseRegister   uint32
	RegisterSpace  uint32
}

type RootParameter struct {
	Type           RootParameterType
	ShaderRegister uint32
	RegisterSpace  uint32
	Num32BitValues uint32
	Ranges         []DescriptorRange
}

type RootSignatureDesc struct {
	Name       string
	Parameters []RootParameter
	// Local root signatures are bound per ray tracing shader record.
	Local bool
}

// RootSignature is the opaque binding layout consumed by pipelines.
type RootSignature interface {
	Name() string
	Release() error
}

type PipelineKind uint8

const (
	PipelineKindGraphics PipelineKind = iota
	PipelineKindCompute
	PipelineKindRaytracing
)

type PrimitiveTopology uint8

const (
	PrimitiveTopologyTriangleList PrimitiveTopology = iota
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyLineList
	PrimitiveTopologyPointList
	// Tessellated terrain and water patches.
	PrimitiveTopologyPatchList3
	PrimitiveTopologyPatchList4
)

// PipelineStateDesc carries compiled shader blobs; compilation is not part
// of this package.
type PipelineStateDesc struct {
	Name          string
	Kind          PipelineKind
	RootSignature RootSignature
	// Stage name ("vs", "ps", "cs", "hs", "ds", "lib") to bytecode.
	Shaders           map[string][]byte
	RenderTargets     []Format
	DepthFormat       Format
	SampleCount       uint32
	Topology          PrimitiveTopology
	MaxRecursionDepth uint32
}

// PipelineState is the opaque compiled pipeline.
type PipelineState interface {
	Name() string
	Kind() PipelineKind
	Release() error
}
