package gpu

type DescriptorHeapType uint8

const (
	DescriptorHeapTypeCbvSrvUav DescriptorHeapType = iota
	DescriptorHeapTypeSampler
	DescriptorHeapTypeRTV
	DescriptorHeapTypeDSV
	DescriptorHeapTypeCount
)

func (t DescriptorHeapType) String() string {
	switch t {
	case DescriptorHeapTypeCbvSrvUav:
		return "cbv_srv_uav"
	case DescriptorHeapTypeSampler:
		return "sampler"
	case DescriptorHeapTypeRTV:
		return "rtv"
	case DescriptorHeapTypeDSV:
		return "dsv"
	}
	return "unknown"
}

type DescriptorHeapDesc struct {
	Type           DescriptorHeapType
	NumDescriptors uint32
	ShaderVisible  bool
}

// CPUDescriptorHandle addresses a descriptor slot in CPU-visible memory.
// Zero is the null handle.
type CPUDescriptorHandle struct {
	Ptr uint64
}

// GPUDescriptorHandle addresses a descriptor slot in a shader-visible heap.
// Zero is the null handle.
type GPUDescriptorHandle struct {
	Ptr uint64
}

// DescriptorHeap is a fixed-capacity table of views.
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUStart() CPUDescriptorHandle
	// GPUStart is the null handle for heaps that are not shader visible.
	GPUStart() GPUDescriptorHandle
	SetName(name string)
	Release() error
}

type ViewKind uint8

const (
	ViewKindConstantBuffer ViewKind = iota
	ViewKindShaderResource
	ViewKindUnorderedAccess
	ViewKindRenderTarget
	ViewKindDepthStencil
	// A shader resource view of a ray tracing acceleration structure.
	ViewKindAccelerationStructure
)

func (k ViewKind) String() string {
	switch k {
	case ViewKindConstantBuffer:
		return "cbv"
	case ViewKindShaderResource:
		return "srv"
	case ViewKindUnorderedAccess:
		return "uav"
	case ViewKindRenderTarget:
		return "rtv"
	case ViewKindDepthStencil:
		return "dsv"
	case ViewKindAccelerationStructure:
		return "acceleration-structure"
	}
	return "unknown"
}

type ViewDimension uint8

const (
	ViewDimensionBuffer ViewDimension = iota
	ViewDimensionTexture2D
	ViewDimensionTexture2DArray
	ViewDimensionTextureCube
)

// ViewDesc describes how a resource is seen through a descriptor.
type ViewDesc struct {
	Kind      ViewKind
	Format    Format
	Dimension ViewDimension

	// Buffer views.
	FirstElement        uint64
	NumElements         uint32
	StructureByteStride uint32
	// Raw (byte address) buffer view.
	Raw bool

	// Texture views.
	MipSlice        uint32
	MipLevels       uint32
	FirstArraySlice uint32
	ArraySize       uint32

	// Constant buffer and acceleration structure views.
	BufferLocation uint64
	SizeInBytes    uint32
}
