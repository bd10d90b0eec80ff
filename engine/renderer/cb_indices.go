package renderer

import (
	"github.com/spaghettifunk/framecore/engine/core"
)

// CBIndexAllocator hands out per-object and per-material constant buffer
// slots. Indices are never returned.
type CBIndexAllocator struct {
	maxObjects   uint32
	maxMaterials uint32
	objects      uint32
	materials    uint32
}

func NewCBIndexAllocator(maxObjects, maxMaterials uint32) *CBIndexAllocator {
	return &CBIndexAllocator{maxObjects: maxObjects, maxMaterials: maxMaterials}
}

func (a *CBIndexAllocator) NextObject() (uint32, error) {
	if a.objects >= a.maxObjects {
		return 0, core.AssertErr(nil, "object constant buffer is full (%d slots)", a.maxObjects)
	}
	i := a.objects
	a.objects++
	return i, nil
}

func (a *CBIndexAllocator) NextMaterial() (uint32, error) {
	if a.materials >= a.maxMaterials {
		return 0, core.AssertErr(nil, "material constant buffer is full (%d slots)", a.maxMaterials)
	}
	i := a.materials
	a.materials++
	return i, nil
}

func (a *CBIndexAllocator) Objects() uint32 {
	return a.objects
}

func (a *CBIndexAllocator) Materials() uint32 {
	return a.materials
}
