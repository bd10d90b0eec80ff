package engine

import (
	"testing"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer"
	"github.com/spaghettifunk/framecore/engine/renderer/headless"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGame struct {
	updates  int
	renders  int
	resizes  [][2]uint32
	quitAt   int
	shutdown bool
}

func newHeadlessGame(maxFrames uint64, cg *countingGame) *Game {
	return &Game{
		ApplicationConfig: &ApplicationConfig{
			Name:        "engine-test",
			StartWidth:  320,
			StartHeight: 200,
			Headless:    true,
			MaxFrames:   maxFrames,
		},
		FnInitialize: func(gr *renderer.GraphicsResources) error { return nil },
		FnUpdate: func(deltaTime float64) error {
			cg.updates++
			if cg.quitAt != 0 && cg.updates == cg.quitAt {
				core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
			}
			return nil
		},
		FnRender: func(gr *renderer.GraphicsResources, deltaTime float64) error {
			cg.renders++
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			cg.resizes = append(cg.resizes, [2]uint32{width, height})
			return nil
		},
		FnShutdown: func() error {
			cg.shutdown = true
			return nil
		},
	}
}

func TestHeadlessRunStopsAtMaxFrames(t *testing.T) {
	cg := &countingGame{}
	e, err := New(newHeadlessGame(5, cg))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	sc, ok := e.Graphics().SwapChain().(*headless.SwapChain)
	require.True(t, ok)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(5), e.Frames())
	assert.Equal(t, 5, cg.renders)
	assert.Equal(t, uint64(5), sc.Presents())

	require.NoError(t, e.Shutdown())
	assert.True(t, cg.shutdown)
	assert.Nil(t, e.Graphics())
}

func TestQuitEventEndsRun(t *testing.T) {
	cg := &countingGame{quitAt: 3}
	e, err := New(newHeadlessGame(0, cg))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(3), e.Frames())
}

func TestResizeEventsReachGraphics(t *testing.T) {
	cg := &countingGame{}
	e, err := New(newHeadlessGame(1, cg))
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	defer e.Shutdown()

	fire := func(w, h uint32) {
		ctx := core.EventContext{}
		ctx.Data.U32[0] = w
		ctx.Data.U32[1] = h
		core.EventFire(core.EVENT_CODE_RESIZED, nil, ctx)
	}

	fire(640, 480)
	w, h := e.Graphics().Size()
	assert.Equal(t, uint32(640), w)
	assert.Equal(t, uint32(480), h)

	fire(0, 0)
	assert.True(t, e.isSuspended)
	w, _ = e.Graphics().Size()
	assert.Equal(t, uint32(640), w)

	fire(640, 480)
	assert.False(t, e.isSuspended)

	// Initialize reports the start size, then one call per non-zero resize.
	assert.Equal(t, [][2]uint32{{320, 200}, {640, 480}, {640, 480}}, cg.resizes)

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(1), e.Frames())
}
