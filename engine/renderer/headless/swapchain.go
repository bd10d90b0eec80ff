package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// SwapChain rotates a fixed set of render target buffers. Present is queued
// on the owning queue, so it observes the back buffer state only after the
// frame's command lists have executed.
type SwapChain struct {
	queue  *Queue
	format gpu.Format

	mu       sync.Mutex
	width    uint32
	height   uint32
	buffers  []*Resource
	current  uint32
	presents uint64
}

func NewSwapChain(queue gpu.CommandQueue, count, width, height uint32, format gpu.Format) (*SwapChain, error) {
	q, ok := queue.(*Queue)
	if !ok {
		return nil, fmt.Errorf("queue %T does not belong to the headless device", queue)
	}
	if count < 2 {
		return nil, fmt.Errorf("swap chain needs at least two buffers, got %d", count)
	}
	sc := &SwapChain{queue: q, format: format}
	if err := sc.createBuffers(count, width, height); err != nil {
		return nil, err
	}
	core.LogDebug("headless swap chain created: %d buffers %dx%d %s", count, width, height, format)
	return sc, nil
}

func (sc *SwapChain) createBuffers(count, width, height uint32) error {
	buffers := make([]*Resource, count)
	for i := range buffers {
		desc := gpu.Texture2DDesc(sc.format, uint64(width), height, 1, gpu.ResourceFlagAllowRenderTarget)
		res, err := sc.queue.dev.CreateCommittedResource(gpu.HeapTypeDefault, desc, gpu.ResourceStatePresent, nil)
		if err != nil {
			return err
		}
		res.SetName(fmt.Sprintf("BackBuffer[%d]", i))
		buffers[i] = res.(*Resource)
	}
	sc.buffers = buffers
	sc.width, sc.height = width, height
	sc.current = 0
	return nil
}

func (sc *SwapChain) BufferCount() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return uint32(len(sc.buffers))
}

func (sc *SwapChain) Buffer(index uint32) (gpu.Resource, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if int(index) >= len(sc.buffers) {
		return nil, fmt.Errorf("%w: back buffer %d of %d", core.ErrNotFound, index, len(sc.buffers))
	}
	return sc.buffers[index], nil
}

func (sc *SwapChain) CurrentBackBufferIndex() uint32 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.current
}

func (sc *SwapChain) Format() gpu.Format {
	return sc.format
}

func (sc *SwapChain) Size() (uint32, uint32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.width, sc.height
}

func (sc *SwapChain) Present(syncInterval uint32) error {
	if reason := sc.queue.dev.RemovedReason(); reason != nil {
		return fmt.Errorf("%w: %s", core.ErrDeviceRemoved, reason)
	}
	sc.mu.Lock()
	back := sc.buffers[sc.current]
	sc.current = (sc.current + 1) % uint32(len(sc.buffers))
	sc.presents++
	sc.mu.Unlock()

	sc.queue.push(work{kind: workPresent, present: back})
	return nil
}

// Presents counts Present calls accepted so far.
func (sc *SwapChain) Presents() uint64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.presents
}

func (sc *SwapChain) ResizeBuffers(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("cannot resize swap chain to %dx%d", width, height)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, b := range sc.buffers {
		_ = b.Release()
	}
	return sc.createBuffers(uint32(len(sc.buffers)), width, height)
}

func (sc *SwapChain) Release() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for _, b := range sc.buffers {
		_ = b.Release()
	}
	sc.buffers = nil
	return nil
}
