package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/containers"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// VulkanFence is a binary vk.Fence.
type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(dev *Device, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{IsSignaled: createSignaled}
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := resultError("vkCreateFence", vk.CreateFence(dev.logical, &fenceCreateInfo, dev.ctx.Allocator, &handle)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = handle
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(dev *Device) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(dev.logical, vf.Handle, dev.ctx.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

// FenceWait blocks until the fence signals. There is no timeout.
func (vf *VulkanFence) FenceWait(dev *Device) error {
	if vf.IsSignaled {
		return nil
	}
	res := vk.WaitForFences(dev.logical, 1, []vk.Fence{vf.Handle}, vk.True, math.MaxUint64)
	if err := resultError("vkWaitForFences", res); err != nil {
		return dev.observe(err)
	}
	vf.IsSignaled = true
	return nil
}

func (vf *VulkanFence) FenceReset(dev *Device) error {
	if !vf.IsSignaled {
		return nil
	}
	if err := resultError("vkResetFences", vk.ResetFences(dev.logical, 1, []vk.Fence{vf.Handle})); err != nil {
		core.LogError(err.Error())
		return err
	}
	vf.IsSignaled = false
	return nil
}

// Signals queued on one Fence before the oldest must complete.
const pendingSignalCapacity = 64

type pendingSignal struct {
	value uint64
	fence *VulkanFence
}

// Fence is a 64-bit counting fence built from binary fences: every queue
// Signal submits an empty batch with a fresh vk.Fence, and the completed
// value advances as those retire in order.
type Fence struct {
	dev *Device

	mu        sync.Mutex
	cond      *sync.Cond
	completed uint64
	pending   *containers.RingQueue[pendingSignal]
	// The fence a WaitUntil is blocked on outside the lock. It is destroyed
	// by that waiter rather than by retire.
	pinned        *VulkanFence
	pinnedRetired bool
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	f := &Fence{
		dev:       d,
		completed: initialValue,
		pending:   containers.NewRingQueue[pendingSignal](pendingSignalCapacity),
	}
	f.cond = sync.NewCond(&f.mu)
	d.mu.Lock()
	d.fences = append(d.fences, f)
	d.mu.Unlock()
	return f, nil
}

// retireLocked moves completed signals off the pending queue.
func (f *Fence) retireLocked() error {
	for !f.pending.IsEmpty() {
		next, _ := f.pending.Peek()
		res := vk.GetFenceStatus(f.dev.logical, next.fence.Handle)
		if res == vk.NotReady {
			return nil
		}
		if err := resultError("vkGetFenceStatus", res); err != nil {
			return f.dev.observe(err)
		}
		_, _ = f.pending.Dequeue()
		if next.value > f.completed {
			f.completed = next.value
		}
		if next.fence == f.pinned {
			f.pinnedRetired = true
		} else {
			next.fence.FenceDestroy(f.dev)
		}
	}
	return nil
}

// enqueue takes ownership of vf.
func (f *Fence) enqueue(value uint64, vf *VulkanFence) error {
	f.mu.Lock()
	for f.pending.IsFull() {
		if err := f.retireLocked(); err != nil {
			f.mu.Unlock()
			return err
		}
		if !f.pending.IsFull() {
			break
		}
		oldest, _ := f.pending.Peek()
		f.mu.Unlock()
		if err := f.WaitUntil(oldest.value); err != nil {
			return err
		}
		f.mu.Lock()
	}
	err := f.pending.Enqueue(pendingSignal{value: value, fence: vf})
	f.mu.Unlock()
	f.cond.Broadcast()
	return err
}

func (f *Fence) Signal(value uint64) error {
	f.mu.Lock()
	f.completed = value
	f.mu.Unlock()
	f.cond.Broadcast()
	return nil
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.retireLocked()
	return f.completed
}

func (f *Fence) WaitUntil(value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if err := f.retireLocked(); err != nil {
			return err
		}
		if f.completed >= value {
			return nil
		}
		if reason := f.dev.RemovedReason(); reason != nil {
			return fmt.Errorf("%w: %s", core.ErrDeviceRemoved, reason)
		}
		next, err := f.pending.Peek()
		if err != nil || f.pinned != nil {
			// Nothing submitted yet, or another goroutine is already waiting
			// on the GPU.
			f.cond.Wait()
			continue
		}

		f.pinned = next.fence
		f.mu.Unlock()
		res := vk.WaitForFences(f.dev.logical, 1, []vk.Fence{next.fence.Handle}, vk.True, math.MaxUint64)
		f.mu.Lock()
		if f.pinnedRetired {
			next.fence.FenceDestroy(f.dev)
		}
		f.pinned = nil
		f.pinnedRetired = false
		f.cond.Broadcast()
		if err := resultError("vkWaitForFences", res); err != nil {
			return f.dev.observe(err)
		}
	}
}

func (f *Fence) wake() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Fence) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.pending.IsEmpty() {
		next, _ := f.pending.Dequeue()
		if next.fence != f.pinned {
			next.fence.FenceDestroy(f.dev)
		}
	}
	return nil
}
