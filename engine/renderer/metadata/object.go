package metadata

import (
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
)

// Object is the default Renderable. Every mutation marks it dirty for all
// frame slots so each slot's copy of the constants gets rewritten once.
type Object struct {
	Name string

	transform        math.Transform
	textureTransform math.Mat4
	cbIndex          uint32
	frameSlots       int
	dirtyCount       int
	static           bool
}

func NewObject(name string, cbIndex uint32, frameSlots int) *Object {
	o := &Object{
		Name:             name,
		transform:        math.NewTransform(),
		textureTransform: math.NewMat4Identity(),
		cbIndex:          cbIndex,
		frameSlots:       frameSlots,
	}
	o.SetDirty()
	return o
}

func (o *Object) ObjectCBIndex() uint32 {
	return o.cbIndex
}

func (o *Object) World() math.Mat4 {
	return o.transform.LocalMatrix()
}

func (o *Object) TextureTransform() math.Mat4 {
	return o.textureTransform
}

func (o *Object) SetPosition(p math.Vec3) {
	o.transform.SetPosition(p)
	o.SetDirty()
}

func (o *Object) SetRotation(q math.Quaternion) {
	o.transform.SetRotation(q)
	o.SetDirty()
}

func (o *Object) SetScale(s math.Vec3) {
	o.transform.SetScale(s)
	o.SetDirty()
}

func (o *Object) SetTextureTransform(m math.Mat4) {
	o.textureTransform = m
	o.SetDirty()
}

// SetStatic stops the object from being reported dirty after its first upload.
func (o *Object) SetStatic(static bool) {
	o.static = static
}

func (o *Object) SetDirty() {
	o.dirtyCount = o.frameSlots
}

func (o *Object) IsDirty() bool {
	return o.dirtyCount != 0 && !o.static
}

func (o *Object) DecreaseDirtyCount() {
	core.Assert(o.dirtyCount > 0, "object %s: dirty counter decremented below zero", o.Name)
	if o.dirtyCount > 0 {
		o.dirtyCount--
	}
}

func (o *Object) DirtyCount() int {
	return o.dirtyCount
}
