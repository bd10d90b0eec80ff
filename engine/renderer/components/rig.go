package components

import (
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/metadata"
)

// Euler rotations of the six cube faces: +X, -X, +Y, -Y, +Z, -Z.
var cubeFaceRotations = [metadata.CubeFaceCount]math.Vec3{
	{X: 0, Y: -math.K_HALF_PI, Z: 0},
	{X: 0, Y: math.K_HALF_PI, Z: 0},
	{X: math.K_HALF_PI, Y: 0, Z: 0},
	{X: -math.K_HALF_PI, Y: 0, Z: 0},
	{X: 0, Y: math.K_PI, Z: 0},
	{X: 0, Y: 0, Z: 0},
}

// CubeRig holds the six 90 degree cameras used to render a dynamic cube map.
type CubeRig struct {
	center  math.Vec3
	cameras [metadata.CubeFaceCount]*Camera
}

func NewCubeRig(center math.Vec3, zNear, zFar float32) *CubeRig {
	r := &CubeRig{}
	for i := range r.cameras {
		r.cameras[i] = NewPerspectiveCamera(math.K_HALF_PI, 1, zNear, zFar)
		r.cameras[i].SetEulerRotation(cubeFaceRotations[i])
	}
	r.SetCenter(center)
	return r
}

func (r *CubeRig) SetCenter(center math.Vec3) {
	r.center = center
	for _, c := range r.cameras {
		c.SetPosition(center)
	}
}

func (r *CubeRig) Center() math.Vec3 {
	return r.center
}

func (r *CubeRig) FaceCamera(face int) metadata.Camera {
	return r.cameras[face]
}

// ShadowView is the orthographic light camera of a directional shadow map.
type ShadowView struct {
	camera *Camera
}

func NewShadowView(position, rotation math.Vec3, extent, zNear, zFar float32) *ShadowView {
	c := NewOrthographicCamera(extent, extent, zNear, zFar)
	c.SetPosition(position)
	c.SetEulerRotation(rotation)
	return &ShadowView{camera: c}
}

func (s *ShadowView) LightCamera() metadata.Camera {
	return s.camera
}
