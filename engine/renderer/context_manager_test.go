package renderer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/headless"
)

func newTestContextManager(t *testing.T, dev *headless.Device, slots uint32) *ContextManager {
	t.Helper()
	m, err := NewContextManager(dev, testSettings(slots))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.End() })
	return m
}

func TestContextManagerCreatesIndependentSlots(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	m := newTestContextManager(t, dev, 3)

	require.Equal(t, 3, m.SlotCount())
	assert.NotNil(t, m.Queue())
	assert.Equal(t, 0, m.FrameIndex())

	seen := map[*CommandContext]bool{}
	frames := map[*FrameResources]bool{}
	for i := 0; i < 3; i++ {
		ctx := m.ContextAt(i)
		assert.Same(t, ctx, m.GraphicsContextAt(i).CommandContext)
		assert.Same(t, ctx, m.ComputeContextAt(i).CommandContext, "both views share one context")
		seen[ctx] = true
		frames[m.FrameResourcesAt(i)] = true
		assert.NotEqual(t, m.FrameResourcesAt(i).ObjectCBAddress(0), m.FrameResourcesAt((i+1)%3).ObjectCBAddress(0))
	}
	assert.Len(t, seen, 3)
	assert.Len(t, frames, 3)
	assert.Same(t, m.FrameResourcesAt(0), m.FrameResources())
}

func TestContextManagerCreationFailure(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	dev.FailNext("CreateCommandQueue")
	_, err := NewContextManager(dev, testSettings(3))
	assert.ErrorIs(t, err, headless.ErrInjectedFailure)

	dev.FailNext("CreateCommittedResource")
	_, err = NewContextManager(dev, testSettings(3))
	assert.ErrorIs(t, err, headless.ErrInjectedFailure)
}

func TestEmptyFramesThroughAllSlots(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	m := newTestContextManager(t, dev, 3)

	// Nothing is in flight right after creation.
	for i := 0; i < 3; i++ {
		ready, err := m.ContextAt(i).IsReadyOrWait()
		require.NoError(t, err)
		assert.True(t, ready, "slot %d", i)
	}

	type wait struct {
		slot   int
		waited bool
	}
	var waits []wait
	m.OnSlotWait(func(slot int, waited bool) { waits = append(waits, wait{slot, waited}) })

	dev.Pause()
	for i := 0; i < 2; i++ {
		require.NoError(t, m.BeginFrame())
		require.NoError(t, m.SwapContext())
	}
	assert.Equal(t, []wait{{1, false}, {2, false}}, waits)

	// The third swap lands on slot 0 whose first frame the GPU has not run yet.
	require.NoError(t, m.BeginFrame())
	blocksUntilResume(t, dev, m.SwapContext)
	require.Len(t, waits, 3)
	assert.Equal(t, wait{0, true}, waits[2])
	assert.GreaterOrEqual(t, m.ContextAt(0).CompletedValue(), uint64(1))
	assert.Equal(t, 0, m.FrameIndex())
}

func TestFrameRotationIsCyclic(t *testing.T) {
	for _, n := range []uint32{1, 2, 3, 4} {
		t.Run(fmt.Sprintf("%d slots", n), func(t *testing.T) {
			dev := testDevice(t, gpu.Features{})
			m := newTestContextManager(t, dev, n)
			checks := make([]int, n)
			m.OnSlotWait(func(slot int, _ bool) { checks[slot]++ })

			for cycle := 1; cycle <= 3; cycle++ {
				start := m.FrameIndex()
				for i := uint32(0); i < n; i++ {
					require.NoError(t, m.BeginFrame())
					require.NoError(t, m.SwapContext())
				}
				assert.Equal(t, start, m.FrameIndex())
				for slot, c := range checks {
					assert.Equal(t, cycle, c, "slot %d", slot)
				}
			}
		})
	}
}

func TestNoPrematureReuse(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	m := newTestContextManager(t, dev, 3)

	confirmed := map[int]bool{0: true, 1: true, 2: true}
	m.OnSlotWait(func(slot int, _ bool) { confirmed[slot] = true })
	m.OnReset(func(slot int) {
		assert.True(t, confirmed[slot], "slot %d reset before its last submission was confirmed", slot)
		confirmed[slot] = false
	})

	// Every fourth frame the GPU stalls, so the CPU runs a full lap ahead
	// and the third swap has to wait for it.
	for frame := 0; frame < 20; frame++ {
		if frame%4 == 0 {
			require.NoError(t, dev.WaitIdle())
			dev.Pause()
		}
		require.NoError(t, m.BeginFrame())
		g := m.GraphicsContext()
		g.SetViewport(gpu.Viewport{Width: 64, Height: 32, MaxDepth: 1})
		g.Draw(3, 0)

		if frame%4 == 2 {
			blocksUntilResume(t, dev, m.SwapContext)
			continue
		}
		require.NoError(t, m.SwapContext())
	}
	assert.Empty(t, dev.InfoMessages())
}

func TestFlush(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	m := newTestContextManager(t, dev, 2)

	require.NoError(t, m.Flush(false), "nothing recorded, nothing submitted")
	assert.Equal(t, uint64(1), m.Context().FenceValue())

	require.NoError(t, m.BeginFrame())
	dev.Pause()
	require.NoError(t, m.Flush(false))
	assert.False(t, m.Context().IsReady())
	assert.Equal(t, uint64(2), m.Context().FenceValue())

	dev.Resume()
	require.NoError(t, m.Flush(true))
	assert.True(t, m.Context().IsReady())
	assert.Equal(t, uint64(2), m.Context().CompletedValue())
	require.NoError(t, m.BeginFrame(), "a waited flush confirms the slot")
}

func TestContextManagerEndDrains(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	m, err := NewContextManager(dev, testSettings(3))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.BeginFrame())
		require.NoError(t, m.SwapContext())
	}
	fences := make([]gpu.Fence, 3)
	values := make([]uint64, 3)
	for i := range fences {
		fences[i] = m.ContextAt(i).Fence()
		values[i] = m.ContextAt(i).FenceValue()
	}
	require.NoError(t, m.End())
	for i, f := range fences {
		assert.Equal(t, values[i], f.CompletedValue(), "slot %d drained", i)
	}
	assert.Zero(t, m.SlotCount())
}

func TestSwapContextWithoutBeginIsContractViolation(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	m := newTestContextManager(t, dev, 2)
	assert.Panics(t, func() { _ = m.SwapContext() })

	withoutAssertions(t)
	err := m.SwapContext()
	assert.ErrorIs(t, err, core.ErrNotRecording)
}
