package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// Queue is queue 0 of the family matching its list type.
type Queue struct {
	dev    *Device
	typ    gpu.CommandListType
	family uint32
	handle vk.Queue
}

func (d *Device) CreateCommandQueue(t gpu.CommandListType) (gpu.CommandQueue, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	q := &Queue{dev: d, typ: t, family: d.queueFamily(t)}
	var handle vk.Queue
	vk.GetDeviceQueue(d.logical, q.family, 0, &handle)
	q.handle = handle
	core.LogDebug("%s queue on family %d", t, q.family)
	return q, nil
}

func (q *Queue) Type() gpu.CommandListType {
	return q.typ
}

func (q *Queue) submit(info []vk.SubmitInfo, fence vk.Fence) error {
	err := q.dev.locks.SafeQueueCall(q.family, func() error {
		return resultError("vkQueueSubmit", vk.QueueSubmit(q.handle, uint32(len(info)), info, fence))
	})
	return q.dev.observe(err)
}

func (q *Queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	if err := q.dev.checkAlive(); err != nil {
		return err
	}
	if len(lists) == 0 {
		return nil
	}
	buffers := make([]vk.CommandBuffer, 0, len(lists))
	recorded := make([]*VulkanCommandBuffer, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("command list %T does not belong to the vulkan device", l)
		}
		if cl.cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("command list %s submitted while still open", cl.name)
		}
		if cl.typ != q.typ {
			return fmt.Errorf("%s list submitted to a %s queue", cl.typ, q.typ)
		}
		buffers = append(buffers, cl.cb.Handle)
		recorded = append(recorded, cl.cb)
	}
	info := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}}
	if err := q.submit(info, vk.NullFence); err != nil {
		return err
	}
	for _, cb := range recorded {
		cb.UpdateSubmitted()
	}
	return nil
}

// Signal submits an empty batch carrying a fresh binary fence. The counting
// fence reaches value once that batch retires.
func (q *Queue) Signal(f gpu.Fence, value uint64) error {
	fence, ok := f.(*Fence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to the vulkan device", f)
	}
	if err := q.dev.checkAlive(); err != nil {
		return err
	}
	vf, err := NewFence(q.dev, false)
	if err != nil {
		return q.dev.observe(err)
	}
	info := []vk.SubmitInfo{{SType: vk.StructureTypeSubmitInfo}}
	if err := q.submit(info, vf.Handle); err != nil {
		vf.FenceDestroy(q.dev)
		return err
	}
	return fence.enqueue(value, vf)
}

func (q *Queue) waitIdle() error {
	err := q.dev.locks.SafeQueueCall(q.family, func() error {
		return resultError("vkQueueWaitIdle", vk.QueueWaitIdle(q.handle))
	})
	return q.dev.observe(err)
}

// Release drains the queue. The handle itself belongs to the device.
func (q *Queue) Release() error {
	if q.dev.RemovedReason() != nil {
		return nil
	}
	return q.waitIdle()
}
