package components

import (
	"github.com/spaghettifunk/framecore/engine/math"
)

type ProjectionKind uint8

const (
	ProjectionPerspective ProjectionKind = iota
	ProjectionOrthographic
)

/**
 * @brief A camera built from a position and Euler rotation. The view and
 * projection matrices are rebuilt lazily when the camera is dirty.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the view matrix is recalculated when needed.
	 */
	position math.Vec3
	/** @brief The rotation of this camera using Euler angles (pitch, yaw, roll). */
	eulerRotation math.Vec3

	Kind ProjectionKind
	// Vertical field of view in radians, perspective only.
	FovY float32
	// Width and height of the view volume, orthographic only.
	OrthoWidth  float32
	OrthoHeight float32
	Aspect      float32
	ZNear       float32
	ZFar        float32

	isDirty     bool
	view        math.Mat4
	inverseView math.Mat4
	projection  math.Mat4
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

func NewPerspectiveCamera(fovY, aspect, zNear, zFar float32) *Camera {
	c := &Camera{Kind: ProjectionPerspective, FovY: fovY, Aspect: aspect, ZNear: zNear, ZFar: zFar}
	c.Reset()
	return c
}

func NewOrthographicCamera(width, height, zNear, zFar float32) *Camera {
	c := &Camera{Kind: ProjectionOrthographic, OrthoWidth: width, OrthoHeight: height, ZNear: zNear, ZFar: zFar}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.eulerRotation = math.NewVec3Zero()
	c.position = math.NewVec3Zero()
	c.isDirty = true
}

func (c *Camera) Position() math.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) EulerRotation() math.Vec3 {
	return c.eulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.eulerRotation = rotation
	c.isDirty = true
}

// SetAspect is called when the render target is resized.
func (c *Camera) SetAspect(aspect float32) {
	c.Aspect = aspect
	c.isDirty = true
}

func (c *Camera) rebuild() {
	if !c.isDirty {
		return
	}
	rotation := math.NewMat4EulerXYZ(c.eulerRotation.X, c.eulerRotation.Y, c.eulerRotation.Z)
	translation := math.NewMat4Translation(c.position)

	c.inverseView = rotation.Mul(translation)
	c.view = c.inverseView.Inverse()

	switch c.Kind {
	case ProjectionOrthographic:
		hw, hh := c.OrthoWidth*0.5, c.OrthoHeight*0.5
		c.projection = math.NewMat4Orthographic(-hw, hw, -hh, hh, c.ZNear, c.ZFar)
	default:
		c.projection = math.NewMat4Perspective(c.FovY, c.Aspect, c.ZNear, c.ZFar)
	}
	c.isDirty = false
}

func (c *Camera) View() math.Mat4 {
	c.rebuild()
	return c.view
}

func (c *Camera) InverseView() math.Mat4 {
	c.rebuild()
	return c.inverseView
}

func (c *Camera) Projection() math.Mat4 {
	c.rebuild()
	return c.projection
}

func (c *Camera) NearZ() float32 {
	return c.ZNear
}

func (c *Camera) FarZ() float32 {
	return c.ZFar
}

func (c *Camera) Forward() math.Vec3 {
	view := c.View()
	return view.Forward()
}

func (c *Camera) Backward() math.Vec3 {
	return c.Forward().MulScalar(-1)
}

func (c *Camera) Left() math.Vec3 {
	return c.Right().MulScalar(-1)
}

func (c *Camera) Right() math.Vec3 {
	view := c.View()
	return view.Right()
}

func (c *Camera) move(direction math.Vec3, amount float32) {
	c.position = c.position.Add(direction.MulScalar(amount))
	c.isDirty = true
}

func (c *Camera) MoveForward(amount float32) {
	c.move(c.Forward(), amount)
}

func (c *Camera) MoveBackward(amount float32) {
	c.move(c.Backward(), amount)
}

func (c *Camera) MoveLeft(amount float32) {
	c.move(c.Left(), amount)
}

func (c *Camera) MoveRight(amount float32) {
	c.move(c.Right(), amount)
}

func (c *Camera) MoveUp(amount float32) {
	c.move(math.NewVec3Up(), amount)
}

func (c *Camera) MoveDown(amount float32) {
	c.move(math.NewVec3Down(), amount)
}

func (c *Camera) Yaw(amount float32) {
	c.eulerRotation.Y += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.eulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	limit := float32(1.55334306) // 89 degrees, or equivalent to deg_to_rad(89.0f);
	c.eulerRotation.X = math.Clamp(c.eulerRotation.X, -limit, limit)

	c.isDirty = true
}
