package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// Resource is a committed allocation. Buffers are backed by host memory so
// copies and mapped writes can be inspected; textures carry no storage.
type Resource struct {
	dev     *Device
	desc    gpu.ResourceDesc
	heap    gpu.HeapType
	address uint64
	clear   *gpu.ClearValue

	mu       sync.Mutex
	data     []byte
	name     string
	mapped   int
	released bool

	// Pending half of a split barrier, owned by the queue goroutine.
	splitBefore gpu.ResourceState
	splitAfter  gpu.ResourceState
}

func (r *Resource) Desc() gpu.ResourceDesc {
	return r.desc
}

func (r *Resource) HeapType() gpu.HeapType {
	return r.heap
}

func (r *Resource) GPUVirtualAddress() uint64 {
	return r.address
}

func (r *Resource) Map() ([]byte, error) {
	if r.heap == gpu.HeapTypeDefault {
		return nil, fmt.Errorf("resource %s lives in the default heap and cannot be mapped", r.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil, fmt.Errorf("resource %s was released", r.name)
	}
	r.mapped++
	return r.data, nil
}

func (r *Resource) Unmap() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapped > 0 {
		r.mapped--
	}
}

// Mapped reports whether a Map call is still outstanding.
func (r *Resource) Mapped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapped > 0
}

func (r *Resource) SetName(name string) {
	r.mu.Lock()
	r.name = name
	r.mu.Unlock()
}

func (r *Resource) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.name == "" {
		return fmt.Sprintf("resource@%#x", r.address)
	}
	return r.name
}

// Contents returns a snapshot of the buffer bytes, including those written by
// copies on the GPU timeline.
func (r *Resource) Contents() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data...)
}

func (r *Resource) ClearValue() *gpu.ClearValue {
	return r.clear
}

// State is the state the GPU timeline currently holds the resource in.
func (r *Resource) State() gpu.ResourceState {
	return r.dev.gpuState(r)
}

func (r *Resource) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

func (r *Resource) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.data = nil
	r.mu.Unlock()
	r.dev.forget(r)
	return nil
}
