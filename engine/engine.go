package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/spaghettifunk/framecore/engine/config"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/platform"
	"github.com/spaghettifunk/framecore/engine/renderer"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/headless"
	"github.com/spaghettifunk/framecore/engine/renderer/vulkan"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

const targetFrameSeconds float64 = 1.0 / 60.0

type Engine struct {
	currentStage Stage
	gameInstance *Game
	settings     *config.Settings
	runID        string
	logger       *log.Logger

	isRunning   atomic.Bool
	isSuspended bool
	platform    *platform.Platform
	device      gpu.Device
	graphics    *renderer.GraphicsResources
	watcher     *config.Watcher
	stopWatch   context.CancelFunc

	width    uint32
	height   uint32
	clock    *core.Clock
	lastTime float64
	frames   uint64
}

// New loads the settings and prepares the engine. Nothing touches the GPU
// until Initialize.
func New(g *Game) (*Engine, error) {
	cfg := g.ApplicationConfig
	settings := config.Default()
	if cfg.ConfigPath != "" {
		s, err := config.Load(cfg.ConfigPath)
		if err != nil {
			core.LogError("failed to load settings `%s`: %s", cfg.ConfigPath, err)
			return nil, err
		}
		settings = s
	}
	if cfg.Headless {
		settings.Graphics.Backend = config.BackendHeadless
	}
	if cfg.StartWidth != 0 && cfg.StartHeight != 0 {
		settings.Graphics.Width = cfg.StartWidth
		settings.Graphics.Height = cfg.StartHeight
	}
	if err := settings.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	config.Apply(settings)

	runID := core.NewRunID()
	e := &Engine{
		currentStage: EngineStageBooting,
		gameInstance: g,
		settings:     settings,
		runID:        runID,
		logger:       core.Logger().With("run", runID),
		clock:        core.NewClock(),
		platform:     platform.New(),
		width:        settings.Graphics.Width,
		height:       settings.Graphics.Height,
	}
	e.currentStage = EngineStageBootComplete
	return e, nil
}

func (e *Engine) headless() bool {
	return e.settings.Graphics.Backend == config.BackendHeadless
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if !core.EventInitialize() {
		core.LogDebug("event system already initialized")
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)

	if !e.headless() {
		app := e.gameInstance.ApplicationConfig
		if err := e.platform.Startup(app.Name, app.StartPosX, app.StartPosY, e.width, e.height); err != nil {
			return err
		}
	}

	device, newSwapChain, err := e.createDevice()
	if err != nil {
		return err
	}
	e.device = device

	gr, err := renderer.NewGraphicsResources(device, newSwapChain, e.settings)
	if err != nil {
		core.LogError("failed to create graphics resources: %s", err)
		return err
	}
	e.graphics = gr
	gr.Contexts().OnSlotWait(e.onSlotWait)

	if path := e.gameInstance.ApplicationConfig.ConfigPath; path != "" {
		if err := e.watchSettings(path); err != nil {
			// Hot reload is a convenience; run without it.
			core.LogWarn("settings hot reload disabled: %s", err)
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(gr); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.logger.Info("engine initialized", "backend", e.settings.Graphics.Backend, "device", device.Name(), "slots", e.settings.FrameSlots())
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) createDevice() (gpu.Device, renderer.SwapChainFactory, error) {
	g := e.settings.Graphics
	format, err := gpu.ParseFormat(g.BackBufferFormat)
	if err != nil {
		return nil, nil, err
	}
	count := g.BackBufferCount
	if count < 2 {
		count = 2
	}

	if e.headless() {
		d := headless.New(gpu.Features{RayTracing: true, MaxSampleCount: 4})
		d.SetValidationLogging(e.settings.Diagnostics.Validation)
		return d, func(q gpu.CommandQueue) (gpu.SwapChain, error) {
			return headless.NewSwapChain(q, count, e.width, e.height, format)
		}, nil
	}

	d, err := vulkan.New(e.platform, vulkan.Options{
		AppName:    e.gameInstance.ApplicationConfig.Name,
		Validation: e.settings.Diagnostics.Validation,
	})
	if err != nil {
		core.LogError("failed to create vulkan device: %s", err)
		return nil, nil, err
	}
	return d, func(q gpu.CommandQueue) (gpu.SwapChain, error) {
		w, h := e.platform.FramebufferSize()
		if w == 0 || h == 0 {
			w, h = e.width, e.height
		}
		return vulkan.NewSwapChain(q, count, w, h, format, e.settings.Graphics.VSync)
	}, nil
}

func (e *Engine) watchSettings(path string) error {
	w, err := config.NewWatcher(path, e.settings)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.watcher = w
	e.stopWatch = cancel
	go func() {
		if err := w.Run(ctx); err != nil {
			core.LogError("settings watcher stopped: %s", err)
		}
	}()
	return nil
}

// applySettingsUpdates drains the watcher without blocking the frame.
func (e *Engine) applySettingsUpdates() {
	if e.watcher == nil {
		return
	}
	for {
		select {
		case next, ok := <-e.watcher.Updates():
			if !ok {
				e.watcher = nil
				return
			}
			config.ApplyHotReload(e.settings, next)
			e.graphics.SetVSync(e.settings.Graphics.VSync)
			core.EventFire(core.EVENT_CODE_SETTINGS_RELOADED, e, core.EventContext{})
		default:
			return
		}
	}
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	maxFrames := e.gameInstance.ApplicationConfig.MaxFrames
	var runErr error

	for e.isRunning.Load() {
		if !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		e.applySettingsUpdates()

		if e.isSuspended {
			e.platform.Sleep(targetFrameSeconds * 1000)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStartTime := platform.GetAbsoluteTime()

		if err := e.frame(delta); err != nil {
			if errors.Is(err, core.ErrDeviceRemoved) {
				core.LogError("device removed, shutting down: %s", err)
			} else {
				core.LogError("frame %d failed, shutting down: %s", e.frames, err)
			}
			runErr = err
			e.isRunning.Store(false)
			break
		}
		e.frames++

		// Figure out how long the frame took and, if below the target,
		// give the rest back to the OS.
		frameElapsedTime := platform.GetAbsoluteTime() - frameStartTime
		core.MetricsUpdate(frameElapsedTime)
		remainingMS := (targetFrameSeconds - frameElapsedTime) * 1000
		if remainingMS > 1 {
			e.platform.Sleep(remainingMS - 1)
		}

		if e.frames%120 == 0 {
			fps, ms := core.MetricsFrame()
			e.logger.Debug("frame stats", "fps", fps, "ms", ms, "slot_waits", core.MetricsSlotWaitRatio())
		}
		if maxFrames != 0 && e.frames >= maxFrames {
			e.isRunning.Store(false)
		}

		e.lastTime = currentTime
	}

	e.logger.Info("run finished", "frames", e.frames, "slot_waits", core.MetricsSlotWaitRatio())
	return runErr
}

// frame drives one slot from reset to present.
func (e *Engine) frame(delta float64) error {
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}
	if err := e.graphics.BeginFrame(); err != nil {
		return err
	}
	e.graphics.SetRenderTarget()
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(e.graphics, delta); err != nil {
			return fmt.Errorf("game render: %w", err)
		}
	}
	return e.graphics.EndFrame()
}

// Stop asks the run loop to exit after the current frame. Safe to call from
// any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	if e.stopWatch != nil {
		e.stopWatch()
	}

	var errs []error
	if e.graphics != nil {
		errs = append(errs, e.graphics.End())
		e.graphics = nil
	}
	// The GPU is idle now, so the game may free what it allocated.
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.device != nil {
		errs = append(errs, e.device.Release())
		e.device = nil
	}
	errs = append(errs, e.platform.Shutdown())

	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	core.EventUnregister(core.EVENT_CODE_RESIZED, e)
	errs = append(errs, core.EventShutdown())

	err := errors.Join(errs...)
	if err != nil {
		core.LogError("shutdown: %s", err)
	}
	return err
}

// GetFramebufferSize returns the width and height (in this order)
// of the application Framebuffer
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Frames is the number of frames presented so far.
func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) Graphics() *renderer.GraphicsResources {
	return e.graphics
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onSlotWait(slot int, waited bool) {
	core.MetricsSlotWait(waited)
	if waited {
		ctx := core.EventContext{}
		ctx.Data.U32[0] = uint32(slot)
		core.EventFire(core.EVENT_CODE_FRAME_SLOT_WAIT, e, ctx)
	}
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width := data.Data.U32[0]
	height := data.Data.U32[1]
	if width == e.width && height == e.height && !e.isSuspended {
		return false
	}
	e.width = width
	e.height = height
	core.LogDebug("Window resize: %d, %d", width, height)

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.graphics != nil {
		if err := e.graphics.OnResize(width, height); err != nil {
			core.LogError("resize failed, shutting down: %s", err)
			e.isRunning.Store(false)
			return false
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	return false
}
