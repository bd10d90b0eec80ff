package gpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceStateString(t *testing.T) {
	assert.Equal(t, "common", ResourceStatePresent.String())
	assert.Equal(t, "generic-read", ResourceStateGenericRead.String())
	assert.Equal(t, "unknown", ResourceStateUnknown.String())
	assert.Equal(t, "render-target", ResourceStateRenderTarget.String())
	assert.Equal(t, "non-pixel-shader-resource|pixel-shader-resource", ResourceStateAllShaderResource.String())
}

func TestResourceStateIsWrite(t *testing.T) {
	for _, s := range []ResourceState{ResourceStateRenderTarget, ResourceStateUnorderedAccess, ResourceStateDepthWrite, ResourceStateCopyDest} {
		assert.True(t, s.IsWrite(), s.String())
	}
	for _, s := range []ResourceState{ResourceStateGenericRead, ResourceStateDepthRead, ResourceStatePresent, ResourceStateCopySource} {
		assert.False(t, s.IsWrite(), s.String())
	}
}

func TestBarrierConstructors(t *testing.T) {
	b := NewTransitionBarrier(nil, ResourceStateCopyDest, ResourceStateGenericRead, BarrierFlagBeginOnly)
	assert.Equal(t, BarrierTypeTransition, b.Type)
	assert.Equal(t, AllSubresources, b.Subresource)
	assert.Equal(t, "transition <nil>: copy-dest -> generic-read (begin)", b.String())

	assert.Equal(t, "uav <nil>", NewUAVBarrier(nil).String())
	assert.Equal(t, BarrierTypeAliasing, NewAliasingBarrier(nil, nil).Type)
}

func TestFormatHelpers(t *testing.T) {
	f, err := ParseFormat("D32_FLOAT")
	if assert.NoError(t, err) {
		assert.True(t, f.IsDepth())
		assert.Equal(t, uint32(4), f.BytesPerPixel())
	}
	_, err = ParseFormat("NOT_A_FORMAT")
	assert.Error(t, err)
}
