package gpu

import "fmt"

type BarrierType uint8

const (
	BarrierTypeTransition BarrierType = iota
	BarrierTypeAliasing
	BarrierTypeUAV
)

func (t BarrierType) String() string {
	switch t {
	case BarrierTypeTransition:
		return "transition"
	case BarrierTypeAliasing:
		return "aliasing"
	case BarrierTypeUAV:
		return "uav"
	}
	return "unknown"
}

// BarrierFlags select the half of a split barrier.
type BarrierFlags uint8

const (
	BarrierFlagNone BarrierFlags = 0
	// The transition may start; the resource is unusable until the end half.
	BarrierFlagBeginOnly BarrierFlags = 1 << 0
	// Completes a transition started with BarrierFlagBeginOnly.
	BarrierFlagEndOnly BarrierFlags = 1 << 1
)

// AllSubresources targets every mip and array slice of a resource.
const AllSubresources uint32 = 0xFFFFFFFF

// Barrier is one entry of a batched ResourceBarrier call. Which fields are
// meaningful depends on Type.
type Barrier struct {
	Type  BarrierType
	Flags BarrierFlags

	// Transition and UAV barriers.
	Resource    Resource
	Subresource uint32
	Before      ResourceState
	After       ResourceState

	// Aliasing barriers. Either may be nil.
	AliasBefore Resource
	AliasAfter  Resource
}

func NewTransitionBarrier(res Resource, before, after ResourceState, flags BarrierFlags) Barrier {
	return Barrier{
		Type:        BarrierTypeTransition,
		Flags:       flags,
		Resource:    res,
		Subresource: AllSubresources,
		Before:      before,
		After:       after,
	}
}

func NewUAVBarrier(res Resource) Barrier {
	return Barrier{Type: BarrierTypeUAV, Resource: res}
}

func NewAliasingBarrier(before, after Resource) Barrier {
	return Barrier{Type: BarrierTypeAliasing, AliasBefore: before, AliasAfter: after}
}

func (b Barrier) String() string {
	switch b.Type {
	case BarrierTypeTransition:
		half := ""
		switch b.Flags {
		case BarrierFlagBeginOnly:
			half = " (begin)"
		case BarrierFlagEndOnly:
			half = " (end)"
		}
		return fmt.Sprintf("transition %s: %s -> %s%s", resourceName(b.Resource), b.Before, b.After, half)
	case BarrierTypeUAV:
		return fmt.Sprintf("uav %s", resourceName(b.Resource))
	case BarrierTypeAliasing:
		return fmt.Sprintf("aliasing %s -> %s", resourceName(b.AliasBefore), resourceName(b.AliasAfter))
	}
	return "unknown barrier"
}

func resourceName(r Resource) string {
	if r == nil {
		return "<nil>"
	}
	return r.Name()
}
