package headless

import (
	"errors"
	"testing"
	"time"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dev   *Device
	queue gpu.CommandQueue
	alloc gpu.CommandAllocator
	list  *CommandList
	fence gpu.Fence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := New(gpu.Features{})
	dev.SetValidationLogging(false)
	t.Cleanup(func() { _ = dev.Release() })

	q, err := dev.CreateCommandQueue(gpu.CommandListTypeDirect)
	require.NoError(t, err)
	alloc, err := dev.CreateCommandAllocator(gpu.CommandListTypeDirect)
	require.NoError(t, err)
	l, err := dev.CreateCommandList(gpu.CommandListTypeDirect, alloc)
	require.NoError(t, err)
	f, err := dev.CreateFence(0)
	require.NoError(t, err)
	return &fixture{dev: dev, queue: q, alloc: alloc, list: l.(*CommandList), fence: f}
}

func (fx *fixture) submit(t *testing.T, value uint64) {
	t.Helper()
	require.NoError(t, fx.list.Close())
	require.NoError(t, fx.queue.ExecuteCommandLists(fx.list))
	require.NoError(t, fx.queue.Signal(fx.fence, value))
}

func TestFenceCompletesAfterResume(t *testing.T) {
	fx := newFixture(t)
	fx.dev.Pause()
	fx.submit(t, 1)

	assert.Equal(t, uint64(0), fx.fence.CompletedValue())
	assert.ErrorIs(t, fx.alloc.Reset(), ErrAllocatorInUse)

	done := make(chan error, 1)
	go func() { done <- fx.fence.WaitUntil(1) }()
	select {
	case <-done:
		t.Fatal("wait returned while the queue was paused")
	case <-time.After(20 * time.Millisecond):
	}

	fx.dev.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fence never completed")
	}
	assert.Equal(t, uint64(1), fx.fence.CompletedValue())
	assert.NoError(t, fx.alloc.Reset())
	assert.Equal(t, uint64(1), fx.fence.(*Fence).BlockedWaits())
	assert.Equal(t, uint64(1), fx.dev.Stats().Submissions)
}

func TestSubmitOpenListFails(t *testing.T) {
	fx := newFixture(t)
	assert.ErrorIs(t, fx.queue.ExecuteCommandLists(fx.list), ErrListNotClosed)
	assert.ErrorIs(t, fx.list.Reset(fx.alloc, nil), ErrListNotReady)
}

func TestRemovedDeviceFailsWaits(t *testing.T) {
	fx := newFixture(t)
	fx.dev.Pause()
	fx.submit(t, 1)

	done := make(chan error, 1)
	go func() { done <- fx.fence.WaitUntil(1) }()
	time.Sleep(10 * time.Millisecond)
	fx.dev.Remove(errors.New("hung"))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, core.ErrDeviceRemoved)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not observe removal")
	}
	_, err := fx.dev.CreateFence(0)
	assert.ErrorIs(t, err, core.ErrDeviceRemoved)
}

func TestBarrierValidation(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.dev.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(256, gpu.ResourceFlagNone), gpu.ResourceStateCommon, nil)
	require.NoError(t, err)
	res.SetName("buf")

	fx.list.ResourceBarrier([]gpu.Barrier{gpu.NewTransitionBarrier(res, gpu.ResourceStateCommon, gpu.ResourceStateCopyDest, gpu.BarrierFlagNone)})
	fx.submit(t, 1)
	require.NoError(t, fx.fence.WaitUntil(1))
	assert.Empty(t, fx.dev.InfoMessages())
	assert.Equal(t, gpu.ResourceStateCopyDest, res.(*Resource).State())

	require.NoError(t, fx.alloc.Reset())
	require.NoError(t, fx.list.Reset(fx.alloc, nil))
	fx.list.ResourceBarrier([]gpu.Barrier{gpu.NewTransitionBarrier(res, gpu.ResourceStateCommon, gpu.ResourceStateGenericRead, gpu.BarrierFlagNone)})
	fx.submit(t, 2)
	require.NoError(t, fx.fence.WaitUntil(2))

	msgs := fx.dev.InfoMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "claims state common")
}

func TestSplitBarrierPairs(t *testing.T) {
	fx := newFixture(t)
	res, err := fx.dev.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(64, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest, nil)
	require.NoError(t, err)

	fx.list.ResourceBarrier([]gpu.Barrier{gpu.NewTransitionBarrier(res, gpu.ResourceStateCopyDest, gpu.ResourceStateGenericRead, gpu.BarrierFlagBeginOnly)})
	fx.list.ResourceBarrier([]gpu.Barrier{gpu.NewTransitionBarrier(res, gpu.ResourceStateCopyDest, gpu.ResourceStateGenericRead, gpu.BarrierFlagEndOnly)})
	fx.submit(t, 1)
	require.NoError(t, fx.fence.WaitUntil(1))

	assert.Empty(t, fx.dev.InfoMessages())
	assert.Equal(t, gpu.ResourceStateGenericRead, res.(*Resource).State())
}

func TestCopyMovesBytes(t *testing.T) {
	fx := newFixture(t)
	upload, err := fx.dev.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(16, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	require.NoError(t, err)
	dst, err := fx.dev.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(16, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest, nil)
	require.NoError(t, err)

	mapped, err := upload.Map()
	require.NoError(t, err)
	copy(mapped, []byte("0123456789abcdef"))
	upload.Unmap()

	_, err = dst.Map()
	assert.Error(t, err)

	fx.list.CopyBufferRegion(dst, 4, upload, 0, 8)
	fx.submit(t, 1)
	require.NoError(t, fx.fence.WaitUntil(1))

	assert.Equal(t, []byte("\x00\x00\x00\x0001234567\x00\x00\x00\x00"), dst.(*Resource).Contents())
	assert.Empty(t, fx.dev.InfoMessages())
}

func TestUploadHeapInitialState(t *testing.T) {
	dev := New(gpu.Features{})
	_, err := dev.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(16, gpu.ResourceFlagNone), gpu.ResourceStateCopyDest, nil)
	assert.Error(t, err)
}

func TestCreateViewChecksHeap(t *testing.T) {
	dev := New(gpu.Features{})
	dev.SetValidationLogging(false)
	rtvHeap, err := dev.CreateDescriptorHeap(gpu.DescriptorHeapDesc{Type: gpu.DescriptorHeapTypeRTV, NumDescriptors: 2})
	require.NoError(t, err)
	assert.Zero(t, rtvHeap.GPUStart().Ptr)

	tex, err := dev.CreateCommittedResource(gpu.HeapTypeDefault,
		gpu.Texture2DDesc(gpu.FormatR8G8B8A8Unorm, 4, 4, 1, gpu.ResourceFlagAllowRenderTarget), gpu.ResourceStateRenderTarget, nil)
	require.NoError(t, err)

	second := gpu.CPUDescriptorHandle{Ptr: rtvHeap.CPUStart().Ptr + rtvStride}
	dev.CreateView(tex, gpu.ViewDesc{Kind: gpu.ViewKindRenderTarget}, second)
	got, _, ok := dev.View(second)
	require.True(t, ok)
	assert.Same(t, tex, got)
	assert.Empty(t, dev.InfoMessages())

	dev.CreateView(tex, gpu.ViewDesc{Kind: gpu.ViewKindShaderResource}, second)
	assert.Len(t, dev.InfoMessages(), 1)

	dev.CreateView(tex, gpu.ViewDesc{Kind: gpu.ViewKindRenderTarget}, gpu.CPUDescriptorHandle{Ptr: rtvHeap.CPUStart().Ptr + 2*rtvStride})
	assert.Len(t, dev.InfoMessages(), 1)
}

func TestFailNext(t *testing.T) {
	dev := New(gpu.Features{})
	dev.FailNext("CreateFence")
	_, err := dev.CreateFence(0)
	assert.ErrorIs(t, err, ErrInjectedFailure)
	_, err = dev.CreateFence(0)
	assert.NoError(t, err)
}

func TestSwapChainPresentValidatesState(t *testing.T) {
	fx := newFixture(t)
	sc, err := NewSwapChain(fx.queue, 3, 8, 8, gpu.FormatR8G8B8A8Unorm)
	require.NoError(t, err)

	back, err := sc.Buffer(sc.CurrentBackBufferIndex())
	require.NoError(t, err)
	fx.list.ResourceBarrier([]gpu.Barrier{gpu.NewTransitionBarrier(back, gpu.ResourceStatePresent, gpu.ResourceStateRenderTarget, gpu.BarrierFlagNone)})
	fx.submit(t, 1)
	require.NoError(t, sc.Present(0))
	require.NoError(t, fx.dev.WaitIdle())

	msgs := fx.dev.InfoMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "BackBuffer[0]")
	assert.Equal(t, uint32(1), sc.CurrentBackBufferIndex())
	assert.Equal(t, uint64(1), sc.Presents())

	fx.dev.Remove(errors.New("lost"))
	assert.ErrorIs(t, sc.Present(0), core.ErrDeviceRemoved)
}
