package math

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/image/math/f32"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// Align rounds size up to the next multiple of alignment, which must be a power of two.
func Align[T constraints.Unsigned](size, alignment T) T {
	return (size + alignment - 1) &^ (alignment - 1)
}

// The ToF32 helpers produce the plain float arrays stored in shader constant buffers.

func (v Vec2) ToF32() f32.Vec2 {
	return f32.Vec2{v.X, v.Y}
}

func (v Vec3) ToF32() f32.Vec3 {
	return f32.Vec3{v.X, v.Y, v.Z}
}

func (v Vec4) ToF32() f32.Vec4 {
	return f32.Vec4{v.X, v.Y, v.Z, v.W}
}

func (mt Mat4) ToF32() f32.Mat4 {
	return f32.Mat4(mt.Data)
}

func Mat4FromF32(mt f32.Mat4) Mat4 {
	return Mat4{Data: [16]float32(mt)}
}
