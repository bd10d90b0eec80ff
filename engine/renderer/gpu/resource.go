package gpu

import (
	"fmt"
	"strings"
)

type HeapType uint8

const (
	// Device-local memory, not CPU visible.
	HeapTypeDefault HeapType = iota
	// CPU-writable, GPU-readable memory.
	HeapTypeUpload
	// GPU-writable, CPU-readable memory.
	HeapTypeReadback
)

type ResourceDimension uint8

const (
	ResourceDimensionBuffer ResourceDimension = iota
	ResourceDimensionTexture2D
)

type ResourceFlags uint8

const (
	ResourceFlagNone                 ResourceFlags = 0
	ResourceFlagAllowRenderTarget    ResourceFlags = 1 << 0
	ResourceFlagAllowDepthStencil    ResourceFlags = 1 << 1
	ResourceFlagAllowUnorderedAccess ResourceFlags = 1 << 2
	ResourceFlagAccelerationStruct   ResourceFlags = 1 << 3
)

type Format uint16

const (
	FormatUnknown Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR16G16B16A16Float
	FormatR32G32B32A32Float
	FormatR32G32B32Float
	FormatR32Float
	FormatR32Uint
	FormatR16Uint
	FormatR24G8Typeless
	FormatD24UnormS8Uint
	FormatR24UnormX8Typeless
	FormatR32Typeless
	FormatD32Float
)

var formatNames = map[Format]string{
	FormatUnknown:            "unknown",
	FormatR8G8B8A8Unorm:      "r8g8b8a8_unorm",
	FormatB8G8R8A8Unorm:      "b8g8r8a8_unorm",
	FormatR16G16B16A16Float:  "r16g16b16a16_float",
	FormatR32G32B32A32Float:  "r32g32b32a32_float",
	FormatR32G32B32Float:     "r32g32b32_float",
	FormatR32Float:           "r32_float",
	FormatR32Uint:            "r32_uint",
	FormatR16Uint:            "r16_uint",
	FormatR24G8Typeless:      "r24g8_typeless",
	FormatD24UnormS8Uint:     "d24_unorm_s8_uint",
	FormatR24UnormX8Typeless: "r24_unorm_x8_typeless",
	FormatR32Typeless:        "r32_typeless",
	FormatD32Float:           "d32_float",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("format(%d)", uint16(f))
}

// ParseFormat maps a settings name such as "d24_unorm_s8_uint" to a Format.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("unknown format `%s`", name)
}

// IsDepth reports whether f is a depth-stencil format.
func (f Format) IsDepth() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32Float
}

// BytesPerPixel is zero for unknown and typeless block formats.
func (f Format) BytesPerPixel() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatR32Float, FormatR32Uint,
		FormatR24G8Typeless, FormatD24UnormS8Uint, FormatR24UnormX8Typeless, FormatR32Typeless, FormatD32Float:
		return 4
	case FormatR16G16B16A16Float:
		return 8
	case FormatR32G32B32Float:
		return 12
	case FormatR32G32B32A32Float:
		return 16
	case FormatR16Uint:
		return 2
	}
	return 0
}

type ResourceDesc struct {
	Dimension        ResourceDimension
	Width            uint64
	Height           uint32
	DepthOrArraySize uint16
	MipLevels        uint16
	Format           Format
	SampleCount      uint32
	Flags            ResourceFlags
}

// BufferDesc describes a linear buffer of size bytes.
func BufferDesc(size uint64, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        ResourceDimensionBuffer,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           FormatUnknown,
		SampleCount:      1,
		Flags:            flags,
	}
}

// Texture2DDesc describes a single-mip 2D texture (array).
func Texture2DDesc(format Format, width uint64, height uint32, arraySize uint16, flags ResourceFlags) ResourceDesc {
	return ResourceDesc{
		Dimension:        ResourceDimensionTexture2D,
		Width:            width,
		Height:           height,
		DepthOrArraySize: arraySize,
		MipLevels:        1,
		Format:           format,
		SampleCount:      1,
		Flags:            flags,
	}
}

// SizeInBytes is the linear footprint used by the software device and by
// upload sizing. Textures are assumed to be tightly packed.
func (d ResourceDesc) SizeInBytes() uint64 {
	if d.Dimension == ResourceDimensionBuffer {
		return d.Width
	}
	return d.Width * uint64(d.Height) * uint64(d.DepthOrArraySize) * uint64(d.Format.BytesPerPixel())
}

type ClearValue struct {
	Format  Format
	Color   [4]float32
	Depth   float32
	Stencil uint8
}

// Resource is one device allocation.
type Resource interface {
	Desc() ResourceDesc
	HeapType() HeapType
	GPUVirtualAddress() uint64
	// Map returns the CPU view of an upload or readback allocation.
	Map() ([]byte, error)
	Unmap()
	SetName(name string)
	Name() string
	Release() error
}
