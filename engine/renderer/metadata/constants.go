package metadata

import (
	"golang.org/x/image/math/f32"
)

const (
	// MaxLightSources is the length of the light array in the pass buffer.
	MaxLightSources = 9
	// MaxWaveFunctions is the length of the wave array in the water buffer.
	MaxWaveFunctions = 2

	// Pass buffer regions.
	MainPassRegion     = 0
	CubeFaceRegionBase = 1
	CubeFaceCount      = 6
	ShadowPassRegion   = 7
	PassRegionCount    = 8
)

// RenderMode selects which wave layers the water shaders evaluate.
type RenderMode uint32

const (
	RenderModeBigWaves   RenderMode = 0b0001
	RenderModeSmallWaves RenderMode = 0b0010
	RenderModeEverything RenderMode = 0b1111
)

// The structs below are copied byte for byte into constant buffers and must
// keep the 16-byte register packing the shaders expect.

type WaveProperties struct {
	Direction  f32.Vec2
	Wavelength float32
	Amplitude  float32
	Speed      float32
	Steepness  float32
	_          [2]float32
}

type LightProperties struct {
	Strength  f32.Vec3
	Kc        float32
	Direction f32.Vec3
	Kl        float32
	Position  f32.Vec3
	SpotAngle float32
	Kq        float32
	_         [3]float32
	Transform f32.Mat4
}

type MaterialConstants struct {
	Ka                f32.Vec3
	Shininess         float32
	Kd                f32.Vec3
	IndexOfRefraction float32
	Ks                f32.Vec3
	Transparency      float32
	Rf0               f32.Vec3
	Reflectivity      float32
	IllumType         int32
	_                 [3]float32
}

type PassConstants struct {
	View        f32.Mat4
	InvView     f32.Mat4
	Proj        f32.Mat4
	InvProj     f32.Mat4
	ViewProj    f32.Mat4
	InvViewProj f32.Mat4

	EyePosition f32.Vec3
	NearZ       float32

	RenderTargetSize f32.Vec2
	FarZ             float32
	TotalTime        float32

	InvRenderTargetSize f32.Vec2
	DeltaTime           float32
	RenderMode          RenderMode

	AmbientLight f32.Vec4

	FogColor f32.Vec3
	FogStart float32

	Lights [MaxLightSources]LightProperties
}

type ObjectConstants struct {
	World            f32.Mat4
	InvWorld         f32.Mat4
	TextureTransform f32.Mat4
}

type WaterConstants struct {
	CubeMapCenter f32.Vec3
	CubeMapRadius float32
	WaterColor    f32.Vec4
	Waves         [MaxWaveFunctions]WaveProperties
}
