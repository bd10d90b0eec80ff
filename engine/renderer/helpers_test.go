package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/framecore/engine/config"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/headless"
)

func testSettings(slots uint32) *config.Settings {
	s := config.Default()
	s.Graphics.Backend = config.BackendHeadless
	s.Graphics.BackBufferCount = slots
	s.Graphics.Width = 64
	s.Graphics.Height = 32
	s.Game.MaxObjectCB = 4
	s.Game.MaxMaterialCB = 2
	return s
}

func testDevice(t *testing.T, features gpu.Features) *headless.Device {
	t.Helper()
	dev := headless.New(features)
	dev.SetValidationLogging(false)
	t.Cleanup(func() { _ = dev.Release() })
	return dev
}

func testGraphicsResources(t *testing.T, dev *headless.Device, s *config.Settings) *GraphicsResources {
	t.Helper()
	buffers := s.Graphics.BackBufferCount
	if buffers < 2 {
		buffers = 2
	}
	gr, err := NewGraphicsResources(dev, func(q gpu.CommandQueue) (gpu.SwapChain, error) {
		return headless.NewSwapChain(q, buffers, s.Graphics.Width, s.Graphics.Height, gpu.FormatR8G8B8A8Unorm)
	}, s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gr.End() })
	return gr
}

func testBuffer(t *testing.T, dev gpu.Device, initial gpu.ResourceState) *GpuResource {
	t.Helper()
	res, err := newDeviceBuffer(dev, 256, gpu.ResourceFlagAllowUnorderedAccess, initial, core.NewDebugName("TestBuffer"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Destroy() })
	return res
}

func withoutAssertions(t *testing.T) {
	t.Helper()
	core.SetAssertions(false)
	t.Cleanup(func() { core.SetAssertions(true) })
}

// blocksUntilResume runs fn while dev is paused and checks that it only
// returns once the timeline resumes.
func blocksUntilResume(t *testing.T, dev *headless.Device, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		t.Fatalf("returned while the GPU was paused: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	dev.Resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("never returned after resume")
	}
}
