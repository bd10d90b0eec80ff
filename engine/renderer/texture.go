package renderer

import (
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// TextureKind decides which views a texture gets and in which formats.
type TextureKind uint8

const (
	TextureKindColorTarget TextureKind = iota
	TextureKindDepthTarget
)

func (k TextureKind) String() string {
	switch k {
	case TextureKindColorTarget:
		return "color"
	case TextureKindDepthTarget:
		return "depth"
	}
	return "unknown"
}

// Texture is a 2D render target, either color or depth. The views are filled
// in by GraphicsResources when they are created.
type Texture struct {
	*GpuResource
	kind  TextureKind
	clear gpu.ClearValue

	srv DescriptorHandle
	uav DescriptorHandle
	rtv DescriptorHandle
	dsv DescriptorHandle
}

func newTexture(res *GpuResource, kind TextureKind, clear gpu.ClearValue) *Texture {
	return &Texture{GpuResource: res, kind: kind, clear: clear}
}

func (t *Texture) Kind() TextureKind {
	return t.kind
}

func (t *Texture) ClearValue() gpu.ClearValue {
	return t.clear
}

func (t *Texture) Width() uint32 {
	return uint32(t.Desc().Width)
}

func (t *Texture) Height() uint32 {
	return t.Desc().Height
}

func (t *Texture) SRV() DescriptorHandle { return t.srv }
func (t *Texture) UAV() DescriptorHandle { return t.uav }
func (t *Texture) RTV() DescriptorHandle { return t.rtv }
func (t *Texture) DSV() DescriptorHandle { return t.dsv }

// viewFormat picks the format a view of the given kind reads the texture
// through. Depth targets are stored typeless and need a concrete format per
// view.
func (t *Texture) viewFormat(view gpu.ViewKind) gpu.Format {
	format := t.Desc().Format
	switch t.kind {
	case TextureKindColorTarget:
		return format
	case TextureKindDepthTarget:
		if view == gpu.ViewKindDepthStencil {
			return depthStencilFormat(format)
		}
		return readableDepthFormat(format)
	}
	return format
}

func (t *Texture) viewDimension() gpu.ViewDimension {
	if t.Desc().DepthOrArraySize > 1 {
		return gpu.ViewDimensionTexture2DArray
	}
	return gpu.ViewDimensionTexture2D
}

func depthStencilFormat(f gpu.Format) gpu.Format {
	switch f {
	case gpu.FormatR24G8Typeless, gpu.FormatR24UnormX8Typeless:
		return gpu.FormatD24UnormS8Uint
	case gpu.FormatR32Typeless, gpu.FormatR32Float:
		return gpu.FormatD32Float
	}
	return f
}

func readableDepthFormat(f gpu.Format) gpu.Format {
	switch f {
	case gpu.FormatR24G8Typeless, gpu.FormatD24UnormS8Uint:
		return gpu.FormatR24UnormX8Typeless
	case gpu.FormatR32Typeless, gpu.FormatD32Float:
		return gpu.FormatR32Float
	}
	return f
}

// typelessDepthFormat is the storage format for a depth target that is also
// sampled.
func typelessDepthFormat(f gpu.Format) gpu.Format {
	switch f {
	case gpu.FormatD24UnormS8Uint:
		return gpu.FormatR24G8Typeless
	case gpu.FormatD32Float:
		return gpu.FormatR32Typeless
	}
	return f
}
