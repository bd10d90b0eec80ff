package metadata

import (
	"github.com/spaghettifunk/framecore/engine/math"
)

// Camera is any view the pass buffer can be built from.
type Camera interface {
	View() math.Mat4
	InverseView() math.Mat4
	Projection() math.Mat4
	Position() math.Vec3
	NearZ() float32
	FarZ() float32
}

// Renderable is an object with its own slot in the per-object buffer.
type Renderable interface {
	ObjectCBIndex() uint32
	World() math.Mat4
	TextureTransform() math.Mat4
	// IsDirty reports whether some frame slot still holds stale constants.
	IsDirty() bool
	DecreaseDirtyCount()
}

type Material interface {
	MaterialCBIndex() uint32
	Properties() MaterialConstants
}

type LightSource interface {
	ID() uint32
	Properties() LightProperties
}

type ShadowMap interface {
	LightCamera() Camera
}

type DynamicCubeMap interface {
	FaceCamera(face int) Camera
}

type Water interface {
	Renderable
	CubeMapCenter() math.Vec3
	CubeMapRadius() float32
	Color() math.Vec4
	Waves() []WaveProperties
}
