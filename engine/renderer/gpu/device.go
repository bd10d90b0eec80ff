package gpu

// CommandListType selects the queue family a list is recorded for.
type CommandListType uint8

const (
	CommandListTypeDirect CommandListType = iota
	CommandListTypeCompute
	CommandListTypeCopy
)

func (t CommandListType) String() string {
	switch t {
	case CommandListTypeDirect:
		return "direct"
	case CommandListTypeCompute:
		return "compute"
	case CommandListTypeCopy:
		return "copy"
	}
	return "unknown"
}

type Features struct {
	RayTracing bool
	// Highest supported MSAA sample count for the back buffer format.
	MaxSampleCount uint32
}

// Device creates every GPU object. Implementations must be safe to call from
// the recording thread while their own GPU timeline runs concurrently.
type Device interface {
	Name() string
	Features() Features

	CreateCommandQueue(t CommandListType) (CommandQueue, error)
	CreateCommandAllocator(t CommandListType) (CommandAllocator, error)
	// CreateCommandList returns a list that is open for recording.
	CreateCommandList(t CommandListType, alloc CommandAllocator) (CommandList, error)
	CreateFence(initialValue uint64) (Fence, error)

	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	DescriptorHandleIncrementSize(t DescriptorHeapType) uint32
	// CreateView writes a descriptor for res into dest. res may be nil for
	// views that only carry an address.
	CreateView(res Resource, view ViewDesc, dest CPUDescriptorHandle)

	CreateCommittedResource(heap HeapType, desc ResourceDesc, initial ResourceState, clear *ClearValue) (Resource, error)

	CreateRootSignature(desc RootSignatureDesc) (RootSignature, error)
	CreatePipelineState(desc PipelineStateDesc) (PipelineState, error)

	// InfoMessages drains the validation messages queued since the previous call.
	InfoMessages() []string
	// RemovedReason is nil while the device is healthy.
	RemovedReason() error

	WaitIdle() error
	Release() error
}

type CommandQueue interface {
	Type() CommandListType
	ExecuteCommandLists(lists ...CommandList) error
	// Signal makes the GPU write value into f once all prior work completes.
	Signal(f Fence, value uint64) error
	Release() error
}

type CommandAllocator interface {
	Type() CommandListType
	// Reset reclaims the memory of every list recorded from the allocator.
	// It must not be called while the GPU may still execute those lists.
	Reset() error
	Release() error
}

// Fence is a GPU-to-CPU counter.
type Fence interface {
	// Signal sets the value from the CPU side.
	Signal(value uint64) error
	CompletedValue() uint64
	// WaitUntil blocks until CompletedValue() >= value. There is no timeout.
	WaitUntil(value uint64) error
	Release() error
}

type Viewport struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type Rect struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

type VertexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type IndexBufferView struct {
	BufferLocation uint64
	SizeInBytes    uint32
	Format         Format
}

type ClearFlags uint8

const (
	ClearFlagDepth   ClearFlags = 1 << 0
	ClearFlagStencil ClearFlags = 1 << 1
)

type GPUAddressRange struct {
	StartAddress  uint64
	SizeInBytes   uint64
	StrideInBytes uint64
}

type DispatchRaysDesc struct {
	RayGenerationShaderRecord GPUAddressRange
	MissShaderTable           GPUAddressRange
	HitGroupTable             GPUAddressRange
	Width                     uint32
	Height                    uint32
	Depth                     uint32
}

type AccelerationStructureType uint8

const (
	AccelerationStructureTopLevel AccelerationStructureType = iota
	AccelerationStructureBottomLevel
)

type AccelerationStructureBuildDesc struct {
	Type          AccelerationStructureType
	Dest          Resource
	Scratch       Resource
	Inputs        Resource
	NumDescs      uint32
	AllowUpdate   bool
	PerformUpdate bool
}

// CommandList records GPU work. Every method except Reset and Close requires
// the list to be open.
type CommandList interface {
	Type() CommandListType
	Reset(alloc CommandAllocator, initial PipelineState) error
	Close() error
	SetName(name string)

	ResourceBarrier(barriers []Barrier)

	SetPipelineState(pso PipelineState)
	SetGraphicsRootSignature(rs RootSignature)
	SetComputeRootSignature(rs RootSignature)
	SetDescriptorHeaps(heaps []DescriptorHeap)

	SetGraphicsRootConstantBufferView(rootIndex uint32, address uint64)
	SetGraphicsRootShaderResourceView(rootIndex uint32, address uint64)
	SetGraphicsRootDescriptorTable(rootIndex uint32, base GPUDescriptorHandle)
	SetGraphicsRoot32BitConstants(rootIndex uint32, values []uint32, offset uint32)
	SetComputeRootConstantBufferView(rootIndex uint32, address uint64)
	SetComputeRootShaderResourceView(rootIndex uint32, address uint64)
	SetComputeRootUnorderedAccessView(rootIndex uint32, address uint64)
	SetComputeRootDescriptorTable(rootIndex uint32, base GPUDescriptorHandle)
	SetComputeRoot32BitConstants(rootIndex uint32, values []uint32, offset uint32)

	IASetPrimitiveTopology(topology PrimitiveTopology)
	IASetVertexBuffers(startSlot uint32, views []VertexBufferView)
	IASetIndexBuffer(view *IndexBufferView)
	RSSetViewports(viewports []Viewport)
	RSSetScissorRects(rects []Rect)
	OMSetRenderTargets(rtvs []CPUDescriptorHandle, dsv *CPUDescriptorHandle)

	ClearRenderTargetView(rtv CPUDescriptorHandle, color [4]float32, rects []Rect)
	ClearDepthStencilView(dsv CPUDescriptorHandle, flags ClearFlags, depth float32, stencil uint8, rects []Rect)

	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)
	DispatchRays(desc DispatchRaysDesc)
	BuildRaytracingAccelerationStructure(desc AccelerationStructureBuildDesc)

	CopyResource(dst, src Resource)
	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, numBytes uint64)
}

// SwapChain is the presentation surface handed in by the platform layer.
type SwapChain interface {
	BufferCount() uint32
	Buffer(index uint32) (Resource, error)
	CurrentBackBufferIndex() uint32
	Format() Format
	Present(syncInterval uint32) error
	// ResizeBuffers requires every reference to the old buffers to be dropped.
	ResizeBuffers(width, height uint32) error
	Release() error
}
