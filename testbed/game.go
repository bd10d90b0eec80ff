package testbed

import (
	"context"
	"encoding/binary"
	"errors"
	stdmath "math"

	"github.com/spaghettifunk/framecore/engine"
	"github.com/spaghettifunk/framecore/engine/assets"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer"
	"github.com/spaghettifunk/framecore/engine/renderer/components"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/metadata"
)

type TestGame struct {
	*engine.Game
}

// spinner is a single renderable whose world matrix changes every frame.
type spinner struct {
	transform  math.Transform
	cbIndex    uint32
	dirty      int
	slotCount  int
	angle      float32
	texTransfm math.Mat4
}

func (s *spinner) ObjectCBIndex() uint32       { return s.cbIndex }
func (s *spinner) World() math.Mat4            { return s.transform.LocalMatrix() }
func (s *spinner) TextureTransform() math.Mat4 { return s.texTransfm }
func (s *spinner) IsDirty() bool               { return s.dirty > 0 }
func (s *spinner) DecreaseDirtyCount()         { s.dirty-- }

// markDirty makes every frame slot pick up the new constants.
func (s *spinner) markDirty() {
	s.dirty = s.slotCount
}

type gameState struct {
	WorldCamera *components.Camera

	width     uint32
	height    uint32
	totalTime float64

	object   *spinner
	vertices *renderer.DefaultBuffer
	history  *renderer.UAVBuffer
	vertSRV  renderer.DescriptorHandle

	shaders     *assets.AssetManager
	stopShaders context.CancelFunc
	historyPSO  gpu.PipelineState
	historyRS   gpu.RootSignature
	// Pipelines replaced by a shader reload stay alive until the GPU is idle.
	retired []gpu.PipelineState
}

const (
	shaderDir         = "shaders"
	historyShader     = "history.comp"
	historyGroupSize  = 64
	historyFloatCount = 9
)

func NewTestGame(headless bool, maxFrames uint64, configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				StartPosX:   100,
				StartPosY:   100,
				StartWidth:  1280,
				StartHeight: 720,
				Name:        "Framecore Testbed",
				ConfigPath:  configPath,
				Headless:    headless,
				MaxFrames:   maxFrames,
			},
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// triangleVertices packs one triangle as float32 positions.
func triangleVertices() []byte {
	positions := []float32{
		0.0, 0.5, 0.0,
		0.5, -0.5, 0.0,
		-0.5, -0.5, 0.0,
	}
	data := make([]byte, 4*len(positions))
	for i, p := range positions {
		binary.LittleEndian.PutUint32(data[4*i:], stdmath.Float32bits(p))
	}
	return data
}

func (g *TestGame) Initialize(gr *renderer.GraphicsResources) error {
	core.LogInfo("initializing testbed...")
	st := g.state()
	st.width, st.height = gr.Size()

	st.WorldCamera = components.NewPerspectiveCamera(math.DegToRad(45.0), float32(st.width)/float32(st.height), 0.1, 1000.0)
	st.WorldCamera.SetPosition(math.NewVec3(0, 0, 10))

	idx, err := gr.CBIndices().NextObject()
	if err != nil {
		return err
	}
	st.object = &spinner{
		transform:  math.NewTransform(),
		cbIndex:    idx,
		slotCount:  gr.Contexts().SlotCount(),
		texTransfm: math.NewMat4Identity(),
	}
	st.object.markDirty()

	data := triangleVertices()
	if st.vertices, err = gr.AllocateDefaultBuffer(data, core.NewDebugName("TriangleVB")); err != nil {
		return err
	}
	if st.history, err = gr.AllocateUAVBuffer(st.vertices.Size(), gpu.ResourceStateCommon, core.NewDebugName("VertexHistory")); err != nil {
		return err
	}
	if st.vertSRV, err = gr.CreateBufferSRV(st.vertices.GpuResource, 3, 12); err != nil {
		return err
	}

	st.shaders, err = assets.NewAssetManager(shaderDir)
	if err != nil {
		core.LogWarn("no shader directory, compute pass disabled: %s", err)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	st.stopShaders = cancel
	go func() {
		if err := st.shaders.Run(ctx); err != nil {
			core.LogError("shader watcher stopped: %s", err)
		}
	}()
	return g.buildHistoryPipeline(gr)
}

// buildHistoryPipeline compiles the compute pass that fades the history
// buffer. A missing shader only disables the pass.
func (g *TestGame) buildHistoryPipeline(gr *renderer.GraphicsResources) error {
	st := g.state()
	code, err := st.shaders.Load(historyShader)
	if errors.Is(err, core.ErrNotFound) {
		core.LogInfo("`%s` not compiled, run `mage shaders:compile`", historyShader)
		return nil
	}
	if err != nil {
		return err
	}

	if st.historyRS == nil {
		st.historyRS, err = gr.Pipelines().BuildRootSignature(gr.Device(), gpu.RootSignatureDesc{
			Name: "HistoryRS",
			Parameters: []gpu.RootParameter{
				{Type: gpu.RootParameterUAV},
				{Type: gpu.RootParameterConstants, Num32BitValues: 2},
			},
		})
		if err != nil {
			return err
		}
	}
	pso, err := gr.Pipelines().Build(gr.Device(), gpu.PipelineStateDesc{
		Name:          "History",
		Kind:          gpu.PipelineKindCompute,
		RootSignature: st.historyRS,
		Shaders:       map[string][]byte{"cs": code},
	})
	if err != nil {
		return err
	}
	if st.historyPSO != nil {
		st.retired = append(st.retired, st.historyPSO)
	}
	st.historyPSO = pso
	return nil
}

// reloadShaders picks up recompiled shaders between frames.
func (g *TestGame) reloadShaders(gr *renderer.GraphicsResources) {
	st := g.state()
	if st.shaders == nil {
		return
	}
	for {
		select {
		case name, ok := <-st.shaders.Changes():
			if !ok {
				st.shaders = nil
				return
			}
			if name != historyShader {
				continue
			}
			if err := g.buildHistoryPipeline(gr); err != nil {
				core.LogWarn("keeping the previous `%s` pipeline: %s", name, err)
			} else {
				core.LogInfo("reloaded `%s`", name)
			}
		default:
			return
		}
	}
}

func (g *TestGame) Update(deltaTime float64) error {
	st := g.state()
	st.totalTime += deltaTime

	st.object.angle += float32(0.5 * deltaTime)
	st.object.transform.SetRotation(math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), st.object.angle, false))
	st.object.markDirty()

	st.WorldCamera.Yaw(float32(0.05 * deltaTime))
	return nil
}

// Render refreshes the slot's constants and snapshots the vertex buffer into
// the history buffer, which exercises the copy and UAV barrier paths.
func (g *TestGame) Render(gr *renderer.GraphicsResources, deltaTime float64) error {
	st := g.state()
	frame := gr.Contexts().FrameResources()
	frame.UpdateMainPassCB(st.WorldCamera, float32(deltaTime), float32(st.totalTime), metadata.RenderModeEverything, nil)
	frame.UpdateObjectsCB([]metadata.Renderable{st.object})

	ctx := gr.Contexts().Context()
	ctx.TransitionResource(st.vertices.GpuResource, gpu.ResourceStateCopySource, false)
	ctx.TransitionResource(st.history.GpuResource, gpu.ResourceStateCopyDest, true)
	ctx.CopyBufferRegion(st.history.GpuResource, 0, st.vertices.GpuResource, 0, st.vertices.Size())
	ctx.TransitionResource(st.vertices.GpuResource, gpu.ResourceStateGenericRead, false)
	ctx.TransitionResource(st.history.GpuResource, gpu.ResourceStateUnorderedAccess, false)
	ctx.InsertUAVBarrier(st.history.GpuResource, true)

	g.reloadShaders(gr)
	if st.historyPSO != nil {
		comp := ctx.Compute()
		ctx.SetPipelineState(st.historyPSO)
		comp.SetRootSignature(st.historyRS)
		comp.SetUnorderedAccess(0, st.history.GpuAddress())
		comp.SetConstants(1, 0, stdmath.Float32bits(float32(st.totalTime)), historyFloatCount)
		comp.Dispatch1D(historyFloatCount, historyGroupSize)
		ctx.InsertUAVBarrier(st.history.GpuResource, true)
	}

	gfx := ctx.Graphics()
	gfx.SetPrimitiveTopology(gpu.PrimitiveTopologyTriangleList)
	gfx.SetVertexBuffers(0, gpu.VertexBufferView{
		BufferLocation: st.vertices.GpuAddress(),
		SizeInBytes:    uint32(st.vertices.Size()),
		StrideInBytes:  12,
	})
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	st := g.state()
	st.width, st.height = width, height
	if st.WorldCamera != nil && height != 0 {
		st.WorldCamera.SetAspect(float32(width) / float32(height))
	}
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	st := g.state()
	if st.stopShaders != nil {
		st.stopShaders()
	}
	for _, pso := range st.retired {
		if err := pso.Release(); err != nil {
			return err
		}
	}
	st.retired = nil
	if st.history != nil {
		if err := st.history.Destroy(); err != nil {
			return err
		}
		st.history = nil
	}
	if st.vertices != nil {
		if err := st.vertices.Destroy(); err != nil {
			return err
		}
		st.vertices = nil
	}
	return nil
}
