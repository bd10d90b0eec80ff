package renderer

import (
	"errors"
	stdmath "math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/headless"
)

type contextFixture struct {
	dev   *headless.Device
	queue gpu.CommandQueue
	ctx   *CommandContext
}

func newContextFixture(t *testing.T) *contextFixture {
	t.Helper()
	dev := testDevice(t, gpu.Features{})
	queue, err := dev.CreateCommandQueue(gpu.CommandListTypeDirect)
	require.NoError(t, err)
	ctx, err := NewCommandContext(dev, gpu.CommandListTypeDirect)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Release() })
	return &contextFixture{dev: dev, queue: queue, ctx: ctx}
}

func (fx *contextFixture) list() *headless.CommandList {
	return fx.ctx.CommandList().(*headless.CommandList)
}

func TestNewCommandContext(t *testing.T) {
	fx := newContextFixture(t)

	assert.Equal(t, uint64(1), fx.ctx.FenceValue())
	assert.Equal(t, uint64(0), fx.ctx.CompletedValue())
	assert.False(t, fx.ctx.IsRecording())
	assert.True(t, fx.ctx.IsReady())
	assert.False(t, fx.list().IsRecording())

	ready, err := fx.ctx.IsReadyOrWait()
	require.NoError(t, err)
	assert.True(t, ready, "a fresh context has nothing in flight")
}

func TestNewCommandContextFailure(t *testing.T) {
	for _, op := range []string{"CreateCommandAllocator", "CreateCommandList", "CreateFence"} {
		t.Run(op, func(t *testing.T) {
			dev := testDevice(t, gpu.Features{})
			dev.FailNext(op)
			_, err := NewCommandContext(dev, gpu.CommandListTypeDirect)
			require.Error(t, err)
			kind, ok := core.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, core.KindDevice, kind)
			assert.True(t, core.IsFatal(err))
			assert.ErrorIs(t, err, headless.ErrInjectedFailure)
		})
	}
}

func TestTransitionSkipsRedundantBarriers(t *testing.T) {
	fx := newContextFixture(t)
	res := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.TransitionResource(res, gpu.ResourceStateRenderTarget, false)
	fx.ctx.TransitionResource(res, gpu.ResourceStateRenderTarget, false)
	assert.Equal(t, 1, fx.ctx.PendingBarriers())
	assert.Equal(t, gpu.ResourceStateRenderTarget, res.CurrentState)

	for _, s := range []gpu.ResourceState{gpu.ResourceStateCopyDest, gpu.ResourceStateCopyDest, gpu.ResourceStateCopyDest} {
		fx.ctx.TransitionResource(res, s, false)
	}
	assert.Equal(t, 2, fx.ctx.PendingBarriers())

	fx.ctx.FlushResourceBarriers()
	batches := fx.list().CommandsOf(headless.OpResourceBarrier)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Barriers, 2)
	assert.Equal(t, gpu.ResourceStateCommon, batches[0].Barriers[0].Before)
	assert.Equal(t, gpu.ResourceStateRenderTarget, batches[0].Barriers[0].After)
	assert.Equal(t, gpu.ResourceStateRenderTarget, batches[0].Barriers[1].Before)
	assert.Equal(t, gpu.ResourceStateCopyDest, batches[0].Barriers[1].After)
}

func TestUnorderedAccessAlwaysGetsBarrier(t *testing.T) {
	fx := newContextFixture(t)
	res := testBuffer(t, fx.dev, gpu.ResourceStateUnorderedAccess)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.TransitionResource(res, gpu.ResourceStateUnorderedAccess, false)
	fx.ctx.TransitionResource(res, gpu.ResourceStateUnorderedAccess, true)

	batches := fx.list().CommandsOf(headless.OpResourceBarrier)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Barriers, 2)
	for _, b := range batches[0].Barriers {
		assert.Equal(t, gpu.BarrierTypeUAV, b.Type)
		assert.Equal(t, res.Resource(), b.Resource)
	}
}

func TestBarrierBatchFlushesAtCapacity(t *testing.T) {
	fx := newContextFixture(t)
	resources := make([]*GpuResource, MaxPendingBarriers+1)
	for i := range resources {
		resources[i] = testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	}
	require.NoError(t, fx.ctx.Reset())

	for i := 0; i < MaxPendingBarriers-1; i++ {
		fx.ctx.TransitionResource(resources[i], gpu.ResourceStateCopySource, false)
		assert.LessOrEqual(t, fx.ctx.PendingBarriers(), MaxPendingBarriers)
	}
	assert.Equal(t, MaxPendingBarriers-1, fx.ctx.PendingBarriers())
	assert.Zero(t, fx.ctx.BarrierFlushes())

	fx.ctx.TransitionResource(resources[MaxPendingBarriers-1], gpu.ResourceStateCopySource, false)
	assert.Equal(t, uint64(1), fx.ctx.BarrierFlushes(), "the sixteenth barrier fills the batch")
	assert.Zero(t, fx.ctx.PendingBarriers())

	fx.ctx.TransitionResource(resources[MaxPendingBarriers], gpu.ResourceStateCopySource, false)
	assert.Equal(t, 1, fx.ctx.PendingBarriers())

	batches := fx.list().CommandsOf(headless.OpResourceBarrier)
	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Barriers, MaxPendingBarriers)
}

func TestBarrierBufferNeverOverflows(t *testing.T) {
	fx := newContextFixture(t)
	a := testBuffer(t, fx.dev, gpu.ResourceStateUnorderedAccess)
	b := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	require.NoError(t, fx.ctx.Reset())

	states := []gpu.ResourceState{gpu.ResourceStateCopyDest, gpu.ResourceStateCopySource}
	for i := 0; i < 100; i++ {
		switch i % 3 {
		case 0:
			fx.ctx.InsertUAVBarrier(a, false)
		case 1:
			fx.ctx.TransitionResource(b, states[i%2], false)
		case 2:
			fx.ctx.InsertAliasBarrier(a, b, false)
		}
		require.LessOrEqual(t, fx.ctx.PendingBarriers(), MaxPendingBarriers)
	}
	for _, batch := range fx.list().CommandsOf(headless.OpResourceBarrier) {
		assert.LessOrEqual(t, len(batch.Barriers), MaxPendingBarriers)
	}
}

func TestSplitBarrierTagging(t *testing.T) {
	fx := newContextFixture(t)
	res := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.BeginResourceTransition(res, gpu.ResourceStateCopyDest, false)
	assert.Equal(t, gpu.ResourceStateCommon, res.CurrentState)
	assert.Equal(t, gpu.ResourceStateCopyDest, res.TransitioningState)

	fx.ctx.TransitionResource(res, gpu.ResourceStateCopyDest, true)
	assert.Equal(t, gpu.ResourceStateCopyDest, res.CurrentState)
	assert.Equal(t, gpu.ResourceStateUnknown, res.TransitioningState)

	batches := fx.list().CommandsOf(headless.OpResourceBarrier)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Barriers, 2)
	assert.Equal(t, gpu.BarrierFlagBeginOnly, batches[0].Barriers[0].Flags)
	assert.Equal(t, gpu.BarrierFlagEndOnly, batches[0].Barriers[1].Flags)
	assert.Equal(t, batches[0].Barriers[0].Before, batches[0].Barriers[1].Before)
	assert.Equal(t, batches[0].Barriers[0].After, batches[0].Barriers[1].After)

	require.NoError(t, fx.ctx.End(fx.queue))
	assert.Empty(t, fx.dev.InfoMessages())
	assert.Equal(t, gpu.ResourceStateCopyDest, res.Resource().(*headless.Resource).State())
}

func TestBeginTransitionCompletesPendingSplit(t *testing.T) {
	fx := newContextFixture(t)
	res := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.BeginResourceTransition(res, gpu.ResourceStateCopyDest, false)
	fx.ctx.BeginResourceTransition(res, gpu.ResourceStateCopySource, false)
	assert.Equal(t, gpu.ResourceStateCopyDest, res.CurrentState)
	assert.Equal(t, gpu.ResourceStateCopySource, res.TransitioningState)

	fx.ctx.TransitionResource(res, gpu.ResourceStateCopySource, false)
	require.NoError(t, fx.ctx.End(fx.queue))
	assert.Empty(t, fx.dev.InfoMessages())
}

func TestDrawAndDispatchFlushFirst(t *testing.T) {
	fx := newContextFixture(t)
	res := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.TransitionResource(res, gpu.ResourceStateUnorderedAccess, false)
	fx.ctx.Compute().Dispatch(1, 1, 1)
	fx.ctx.TransitionResource(res, gpu.ResourceStateGenericRead, false)
	fx.ctx.Graphics().Draw(3, 0)
	fx.ctx.TransitionResource(res, gpu.ResourceStateCopySource, false)
	fx.ctx.Graphics().DrawIndexed(6, 0, 0)

	var ops []headless.Op
	for _, c := range fx.list().Commands() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []headless.Op{
		headless.OpResourceBarrier, headless.OpDispatch,
		headless.OpResourceBarrier, headless.OpDraw,
		headless.OpResourceBarrier, headless.OpDrawIndexed,
	}, ops)
	assert.Zero(t, fx.ctx.PendingBarriers())
}

func TestCopyBufferOrdering(t *testing.T) {
	fx := newContextFixture(t)
	dst := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	src := testBuffer(t, fx.dev, gpu.ResourceStateCommon)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.CopyBuffer(dst, src)

	cmds := fx.list().Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, headless.OpResourceBarrier, cmds[0].Op)
	require.Len(t, cmds[0].Barriers, 2)
	assert.Equal(t, gpu.ResourceStateCopyDest, cmds[0].Barriers[0].After)
	assert.Equal(t, gpu.ResourceStateCopySource, cmds[0].Barriers[1].After)
	assert.Equal(t, headless.OpCopyResource, cmds[1].Op)

	require.NoError(t, fx.ctx.End(fx.queue))
	assert.Empty(t, fx.dev.InfoMessages())
}

func TestBindingCacheSkipsRedundantSets(t *testing.T) {
	fx := newContextFixture(t)
	rs, err := fx.dev.CreateRootSignature(gpu.RootSignatureDesc{Name: "Main"})
	require.NoError(t, err)
	pso, err := fx.dev.CreatePipelineState(gpu.PipelineStateDesc{Name: "Opaque", RootSignature: rs})
	require.NoError(t, err)
	heap, err := NewDescriptorHeap(fx.dev, gpu.DescriptorHeapTypeCbvSrvUav, 4, true)
	require.NoError(t, err)
	table, err := heap.Alloc(1)
	require.NoError(t, err)

	record := func() {
		g := fx.ctx.Graphics()
		for i := 0; i < 2; i++ {
			g.SetPipelineState(pso)
			g.SetRootSignature(rs)
			g.SetDescriptorHeaps(heap)
			g.SetConstantBuffer(0, 0x1000)
			g.SetShaderResource(1, 0x2000)
			g.SetDescriptorTable(2, table)
		}
		g.SetConstantBuffer(0, 0x1100)
	}

	require.NoError(t, fx.ctx.Reset())
	record()
	count := func(op headless.Op) int { return len(fx.list().CommandsOf(op)) }
	assert.Equal(t, 1, count(headless.OpSetPipelineState))
	assert.Equal(t, 1, count(headless.OpSetGraphicsRootSignature))
	assert.Equal(t, 1, count(headless.OpSetDescriptorHeaps))
	assert.Equal(t, 2, count(headless.OpSetGraphicsRootCBV))
	assert.Equal(t, 1, count(headless.OpSetGraphicsRootSRV))
	assert.Equal(t, 1, count(headless.OpSetGraphicsRootTable))

	require.NoError(t, fx.ctx.End(fx.queue))
	require.NoError(t, fx.ctx.Reset())
	record()
	assert.Equal(t, 1, count(headless.OpSetPipelineState), "reset clears the cache")
	assert.Equal(t, 1, count(headless.OpSetDescriptorHeaps))
}

func TestComputeBindingsAreSeparate(t *testing.T) {
	fx := newContextFixture(t)
	rs, err := fx.dev.CreateRootSignature(gpu.RootSignatureDesc{Name: "Shared"})
	require.NoError(t, err)
	require.NoError(t, fx.ctx.Reset())

	fx.ctx.Graphics().SetRootSignature(rs)
	fx.ctx.Compute().SetRootSignature(rs)
	fx.ctx.Graphics().SetConstantBuffer(0, 0x1000)
	fx.ctx.Compute().SetConstantBuffer(0, 0x1000)
	fx.ctx.Compute().SetConstantBuffer(0, 0x1000)
	fx.ctx.Compute().Dispatch2D(65, 1, 64, 1)

	assert.Len(t, fx.list().CommandsOf(headless.OpSetComputeRootSignature), 1)
	assert.Len(t, fx.list().CommandsOf(headless.OpSetComputeRootCBV), 1)
	assert.Len(t, fx.list().CommandsOf(headless.OpSetGraphicsRootCBV), 1)
	dispatch := fx.list().CommandsOf(headless.OpDispatch)
	require.Len(t, dispatch, 1)
	assert.Equal(t, uint32(2), dispatch[0].Counts[0])
}

func TestHeapChangeInvalidatesTables(t *testing.T) {
	fx := newContextFixture(t)
	rs, err := fx.dev.CreateRootSignature(gpu.RootSignatureDesc{Name: "Main"})
	require.NoError(t, err)
	first, err := NewDescriptorHeap(fx.dev, gpu.DescriptorHeapTypeCbvSrvUav, 4, true)
	require.NoError(t, err)
	second, err := NewDescriptorHeap(fx.dev, gpu.DescriptorHeapTypeCbvSrvUav, 4, true)
	require.NoError(t, err)
	table, err := first.Alloc(1)
	require.NoError(t, err)

	require.NoError(t, fx.ctx.Reset())
	g := fx.ctx.Graphics()
	c := fx.ctx.Compute()
	g.SetRootSignature(rs)
	c.SetRootSignature(rs)
	g.SetDescriptorHeaps(first)
	g.SetDescriptorTable(0, table)
	c.SetDescriptorTable(0, table)
	g.SetConstantBuffer(1, 0x1000)

	g.SetDescriptorHeaps(second)
	g.SetDescriptorTable(0, table)
	c.SetDescriptorTable(0, table)
	g.SetConstantBuffer(1, 0x1000)

	assert.Len(t, fx.list().CommandsOf(headless.OpSetDescriptorHeaps), 2)
	assert.Len(t, fx.list().CommandsOf(headless.OpSetGraphicsRootTable), 2)
	assert.Len(t, fx.list().CommandsOf(headless.OpSetComputeRootTable), 2)
	assert.Len(t, fx.list().CommandsOf(headless.OpSetGraphicsRootCBV), 1, "root descriptors survive a heap change")
}

func TestRestartKeepsComputeBindings(t *testing.T) {
	fx := newContextFixture(t)
	rs, err := fx.dev.CreateRootSignature(gpu.RootSignatureDesc{Name: "Fade"})
	require.NoError(t, err)
	pso, err := fx.dev.CreatePipelineState(gpu.PipelineStateDesc{Name: "Fade", Kind: gpu.PipelineKindCompute, RootSignature: rs})
	require.NoError(t, err)

	require.NoError(t, fx.ctx.Reset())
	c := fx.ctx.Compute()
	fx.ctx.SetPipelineState(pso)
	c.SetRootSignature(rs)
	c.SetUnorderedAccess(0, 0x4000)
	c.SetConstants(1, 0, 5, 9)
	c.SetConstants(1, 1, 10)
	submitted := fx.ctx.FenceValue()

	require.NoError(t, fx.ctx.Restart(fx.queue))
	assert.True(t, fx.ctx.IsRecording())
	assert.Equal(t, submitted, fx.ctx.CompletedValue(), "the first half has executed")

	c.Dispatch1D(9, 64)
	var ops []headless.Op
	for _, cmd := range fx.list().Commands() {
		ops = append(ops, cmd.Op)
	}
	assert.Equal(t, []headless.Op{
		headless.OpSetPipelineState,
		headless.OpSetComputeRootSignature,
		headless.OpSetComputeRootUAV,
		headless.OpSetComputeRootConstants,
		headless.OpDispatch,
	}, ops)
	constants := fx.list().CommandsOf(headless.OpSetComputeRootConstants)
	require.Len(t, constants, 1)
	assert.Equal(t, []uint32{5, 10}, constants[0].Constants)

	require.NoError(t, fx.ctx.End(fx.queue))
	assert.Panics(t, func() { _ = fx.ctx.Restart(fx.queue) }, "restart needs an open list")
}

func TestDispatchGroupCounts(t *testing.T) {
	assert.Equal(t, uint32(0), divideRoundUp(0, 64))
	assert.Equal(t, uint32(1), divideRoundUp(64, 64))
	assert.Equal(t, uint32(2), divideRoundUp(65, 64))
	assert.Equal(t, uint32(1<<26), divideRoundUp(stdmath.MaxUint32, 64), "no wrap near the top of the range")
	assert.Equal(t, uint32(stdmath.MaxUint32), divideRoundUp(stdmath.MaxUint32, 1))

	fx := newContextFixture(t)
	require.NoError(t, fx.ctx.Reset())
	assert.Panics(t, func() { fx.ctx.Compute().Dispatch1D(10, 0) })

	withoutAssertions(t)
	fx.ctx.Compute().Dispatch1D(10, 0)
	dispatch := fx.list().CommandsOf(headless.OpDispatch)
	require.Len(t, dispatch, 1)
	assert.Equal(t, uint32(0), dispatch[0].Counts[0])
}

func TestRecordingOnClosedListIsContractViolation(t *testing.T) {
	fx := newContextFixture(t)
	res := testBuffer(t, fx.dev, gpu.ResourceStateCommon)

	assert.Panics(t, func() { fx.ctx.TransitionResource(res, gpu.ResourceStateCopyDest, false) })
	assert.Panics(t, func() { fx.ctx.Graphics().Draw(3, 0) })

	withoutAssertions(t)
	fx.ctx.TransitionResource(res, gpu.ResourceStateCopyDest, false)
	assert.Equal(t, gpu.ResourceStateCommon, res.CurrentState, "nothing is recorded on a closed list")
	err := fx.ctx.Finish(fx.queue)
	assert.ErrorIs(t, err, core.ErrNotRecording)
}

func TestFinishDoesNotBlock(t *testing.T) {
	fx := newContextFixture(t)
	fx.dev.Pause()
	require.NoError(t, fx.ctx.Reset())
	require.NoError(t, fx.ctx.Finish(fx.queue))

	assert.Equal(t, uint64(2), fx.ctx.FenceValue())
	assert.Equal(t, uint64(0), fx.ctx.CompletedValue())
	assert.False(t, fx.ctx.IsReady())
	assert.False(t, fx.ctx.IsRecording())

	var ready bool
	blocksUntilResume(t, fx.dev, func() error {
		var err error
		ready, err = fx.ctx.IsReadyOrWait()
		return err
	})
	assert.False(t, ready, "the CPU had to wait")
	assert.True(t, fx.ctx.IsReady())
	assert.Equal(t, uint64(1), fx.ctx.CompletedValue())

	ready, err := fx.ctx.IsReadyOrWait()
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestResetBeforeConfirmationIsContractViolation(t *testing.T) {
	fx := newContextFixture(t)
	fx.dev.Pause()
	require.NoError(t, fx.ctx.Reset())
	require.NoError(t, fx.ctx.Finish(fx.queue))

	assert.Panics(t, func() { _ = fx.ctx.Reset() })

	withoutAssertions(t)
	err := fx.ctx.Reset()
	require.Error(t, err)
	assert.ErrorIs(t, err, headless.ErrAllocatorInUse, "the device catches the premature reuse")
	fx.dev.Resume()
}

func TestEndBlocksUntilComplete(t *testing.T) {
	fx := newContextFixture(t)
	fx.dev.Pause()
	require.NoError(t, fx.ctx.Reset())

	blocksUntilResume(t, fx.dev, func() error { return fx.ctx.End(fx.queue) })
	assert.Equal(t, uint64(1), fx.ctx.CompletedValue())
	assert.Equal(t, uint64(2), fx.ctx.FenceValue())
	assert.True(t, fx.ctx.IsReady())

	require.NoError(t, fx.ctx.End(fx.queue), "ending a closed context only drains")
	assert.Equal(t, uint64(2), fx.ctx.CompletedValue())
}

func TestWaitOnRemovedDevice(t *testing.T) {
	fx := newContextFixture(t)
	fx.dev.Pause()
	require.NoError(t, fx.ctx.Reset())
	require.NoError(t, fx.ctx.Finish(fx.queue))

	fx.dev.Remove(errors.New("page fault"))
	ready, err := fx.ctx.IsReadyOrWait()
	assert.False(t, ready)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDeviceRemoved)
	kind, _ := core.KindOf(err)
	assert.Equal(t, core.KindDeviceRemoved, kind)
}
