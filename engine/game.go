package engine

import (
	"github.com/spaghettifunk/framecore/engine/renderer"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Initialize runs once the graphics resources exist and before the first frame.
type Initialize func(gr *renderer.GraphicsResources) error
type Update func(deltaTime float64) error

// Render records the frame into the current slot. The back buffer is already
// bound, cleared and in the render target state.
type Render func(gr *renderer.GraphicsResources, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
