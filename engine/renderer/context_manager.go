package renderer

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/spaghettifunk/framecore/engine/config"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// ContextManager rotates N frame slots over a single direct queue. Each slot
// owns a CommandContext and a FrameResources.
type ContextManager struct {
	device     gpu.Device
	queue      gpu.CommandQueue
	contexts   []*CommandContext
	frames     []*FrameResources
	frameIndex int

	onSlotWait func(slot int, waited bool)
	onReset    func(slot int)
	logger     *log.Logger
}

func NewContextManager(device gpu.Device, settings *config.Settings) (*ContextManager, error) {
	slots := settings.FrameSlots()
	core.Assert(slots > 0, "at least one frame slot is required")

	queue, err := device.CreateCommandQueue(gpu.CommandListTypeDirect)
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, "CreateCommandQueue", "", err, device.InfoMessages())
	}
	m := &ContextManager{
		device:   device,
		queue:    queue,
		contexts: make([]*CommandContext, 0, slots),
		frames:   make([]*FrameResources, 0, slots),
		logger:   core.Logger().With("component", "contexts"),
	}
	for i := 0; i < slots; i++ {
		ctx, err := NewCommandContext(device, gpu.CommandListTypeDirect)
		if err != nil {
			m.release()
			return nil, err
		}
		m.contexts = append(m.contexts, ctx)

		fr, err := NewFrameResources(device, settings)
		if err != nil {
			m.release()
			return nil, err
		}
		m.frames = append(m.frames, fr)
	}
	m.logger.Debug("frame slots created", "slots", slots)
	return m, nil
}

// OnSlotWait registers an observer told, on every swap, whether the CPU had
// to wait for the slot it moved to.
func (m *ContextManager) OnSlotWait(fn func(slot int, waited bool)) {
	m.onSlotWait = fn
}

func (m *ContextManager) OnReset(fn func(slot int)) {
	m.onReset = fn
}

// BeginFrame opens the current slot's context for recording.
func (m *ContextManager) BeginFrame() error {
	ctx := m.contexts[m.frameIndex]
	if err := ctx.Reset(); err != nil {
		return err
	}
	if m.onReset != nil {
		m.onReset(m.frameIndex)
	}
	return nil
}

// Flush submits the current slot. With wait set it also blocks until the
// GPU has executed it, which leaves the slot ready for another Reset.
func (m *ContextManager) Flush(wait bool) error {
	ctx := m.contexts[m.frameIndex]
	if wait {
		return ctx.End(m.queue)
	}
	if !ctx.IsRecording() {
		return nil
	}
	return ctx.Finish(m.queue)
}

// Restart submits the current slot, waits for it and keeps recording the same
// frame with its bindings intact.
func (m *ContextManager) Restart() error {
	return m.contexts[m.frameIndex].Restart(m.queue)
}

// SwapContext submits the current slot and moves to the next one, waiting
// for the GPU if that slot's previous submission is still in flight.
func (m *ContextManager) SwapContext() error {
	if err := m.contexts[m.frameIndex].Finish(m.queue); err != nil {
		return err
	}
	m.frameIndex = (m.frameIndex + 1) % len(m.contexts)

	ready, err := m.contexts[m.frameIndex].IsReadyOrWait()
	if err != nil {
		return err
	}
	if !ready {
		m.logger.Debug("waited for frame slot", "slot", m.frameIndex, "fence", m.contexts[m.frameIndex].FenceValue()-1)
	}
	if m.onSlotWait != nil {
		m.onSlotWait(m.frameIndex, !ready)
	}
	return nil
}

// End drains every slot and releases them along with the queue.
func (m *ContextManager) End() error {
	var errs []error
	for i, ctx := range m.contexts {
		if err := ctx.End(m.queue); err != nil {
			m.logger.Error("failed to drain frame slot", "slot", i, "err", err)
			errs = append(errs, err)
		}
	}
	errs = append(errs, m.release())
	return errors.Join(errs...)
}

func (m *ContextManager) release() error {
	var errs []error
	for _, ctx := range m.contexts {
		errs = append(errs, ctx.Release())
	}
	for _, fr := range m.frames {
		errs = append(errs, fr.Release())
	}
	m.contexts = nil
	m.frames = nil
	if m.queue != nil {
		errs = append(errs, m.queue.Release())
		m.queue = nil
	}
	return errors.Join(errs...)
}

func (m *ContextManager) GraphicsContext() GraphicsContext {
	return m.contexts[m.frameIndex].Graphics()
}

func (m *ContextManager) ComputeContext() ComputeContext {
	return m.contexts[m.frameIndex].Compute()
}

func (m *ContextManager) FrameResources() *FrameResources {
	return m.frames[m.frameIndex]
}

func (m *ContextManager) GraphicsContextAt(i int) GraphicsContext {
	return m.contexts[i].Graphics()
}

func (m *ContextManager) ComputeContextAt(i int) ComputeContext {
	return m.contexts[i].Compute()
}

func (m *ContextManager) FrameResourcesAt(i int) *FrameResources {
	return m.frames[i]
}

// Context returns the current slot's CommandContext.
func (m *ContextManager) Context() *CommandContext {
	return m.contexts[m.frameIndex]
}

func (m *ContextManager) ContextAt(i int) *CommandContext {
	return m.contexts[i]
}

func (m *ContextManager) FrameIndex() int {
	return m.frameIndex
}

func (m *ContextManager) SlotCount() int {
	return len(m.contexts)
}

func (m *ContextManager) Queue() gpu.CommandQueue {
	return m.queue
}
