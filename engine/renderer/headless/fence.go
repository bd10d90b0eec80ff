package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/framecore/engine/core"
)

type Fence struct {
	dev   *Device
	mu    sync.Mutex
	cond  *sync.Cond
	value uint64
	// Number of WaitUntil calls that actually had to block.
	blocked uint64
}

func newFence(dev *Device, initial uint64) *Fence {
	f := &Fence{dev: dev, value: initial}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *Fence) Signal(value uint64) error {
	f.mu.Lock()
	f.value = value
	f.mu.Unlock()
	f.cond.Broadcast()
	return nil
}

func (f *Fence) CompletedValue() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *Fence) WaitUntil(value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value >= value {
		return nil
	}
	f.blocked++
	for f.value < value {
		if reason := f.dev.RemovedReason(); reason != nil {
			return fmt.Errorf("%w: %s", core.ErrDeviceRemoved, reason)
		}
		f.cond.Wait()
	}
	return nil
}

// BlockedWaits reports how many waits could not return immediately.
func (f *Fence) BlockedWaits() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *Fence) wake() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}

func (f *Fence) Release() error {
	return nil
}
