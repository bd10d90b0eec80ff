package renderer

import (
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// GpuResource wraps one device allocation with the access state the CPU
// believes it is in. Only a CommandContext changes the states, and only
// while it is recording.
type GpuResource struct {
	resource gpu.Resource

	CurrentState gpu.ResourceState
	// TransitioningState is the target of a begun split barrier, or
	// gpu.ResourceStateUnknown when none is in flight.
	TransitioningState gpu.ResourceState

	gpuAddress uint64
}

func NewGpuResource(res gpu.Resource, initial gpu.ResourceState) *GpuResource {
	r := &GpuResource{
		resource:           res,
		CurrentState:       initial,
		TransitioningState: gpu.ResourceStateUnknown,
	}
	if res != nil {
		r.gpuAddress = res.GPUVirtualAddress()
	}
	return r
}

func (r *GpuResource) Resource() gpu.Resource {
	if r == nil {
		return nil
	}
	return r.resource
}

func (r *GpuResource) GpuAddress() uint64 {
	return r.gpuAddress
}

func (r *GpuResource) Desc() gpu.ResourceDesc {
	return r.resource.Desc()
}

func (r *GpuResource) Name() string {
	if r == nil || r.resource == nil {
		return "<destroyed>"
	}
	return r.resource.Name()
}

func (r *GpuResource) IsValid() bool {
	return r != nil && r.resource != nil
}

// Destroy releases the allocation. It is safe to call more than once and on
// a nil resource.
func (r *GpuResource) Destroy() error {
	if r == nil || r.resource == nil {
		return nil
	}
	err := r.resource.Release()
	r.resource = nil
	r.gpuAddress = 0
	r.CurrentState = gpu.ResourceStateCommon
	r.TransitioningState = gpu.ResourceStateUnknown
	return err
}
