package renderer

import (
	"errors"

	"golang.org/x/image/math/f32"

	"github.com/spaghettifunk/framecore/engine/config"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/metadata"
)

var (
	ambientLight = f32.Vec4{0.3, 0.3, 0.3, 1.0}
	fogColor     = f32.Vec3{130.0 / 255.0, 133.0 / 255.0, 149.0 / 255.0}
)

const fogStart float32 = 100

// FrameResources holds the constant buffers of one frame slot. Slots never
// share allocations, so the CPU can write slot i while the GPU reads slot j.
type FrameResources struct {
	objectCB   *ConstantBuffer[metadata.ObjectConstants]
	materialCB *ConstantBuffer[metadata.MaterialConstants]
	passCB     *ConstantBuffer[metadata.PassConstants]
	waterCB    *ConstantBuffer[metadata.WaterConstants]

	width  uint32
	height uint32
}

func NewFrameResources(device gpu.Device, settings *config.Settings) (*FrameResources, error) {
	passRegions := uint32(metadata.PassRegionCount)
	if settings.Graphics.RayTracing {
		passRegions = 1
	}

	fr := &FrameResources{
		width:  settings.Graphics.Width,
		height: settings.Graphics.Height,
	}
	var err error
	if fr.objectCB, err = NewConstantBuffer[metadata.ObjectConstants](device, settings.Game.MaxObjectCB, core.NewDebugName("ObjectCB")); err != nil {
		return nil, err
	}
	if fr.materialCB, err = NewConstantBuffer[metadata.MaterialConstants](device, settings.Game.MaxMaterialCB, core.NewDebugName("MaterialCB")); err != nil {
		_ = fr.Release()
		return nil, err
	}
	if fr.passCB, err = NewConstantBuffer[metadata.PassConstants](device, passRegions, core.NewDebugName("PassCB")); err != nil {
		_ = fr.Release()
		return nil, err
	}
	if fr.waterCB, err = NewConstantBuffer[metadata.WaterConstants](device, 1, core.NewDebugName("WaterCB")); err != nil {
		_ = fr.Release()
		return nil, err
	}
	return fr, nil
}

// SetRenderTargetSize is called on resize; the pass buffer reports it to shaders.
func (fr *FrameResources) SetRenderTargetSize(width, height uint32) {
	fr.width, fr.height = width, height
}

func (fr *FrameResources) UpdatePerObjectCB(obj metadata.Renderable) {
	world := obj.World()
	c := &fr.objectCB.Staging
	c.World = world.Transposed().ToF32()
	c.InvWorld = world.Inverse().Transposed().ToF32()
	c.TextureTransform = obj.TextureTransform().Transposed().ToF32()
	fr.objectCB.CopyStagingToGpu(obj.ObjectCBIndex())
}

// UpdateObjectsCB rewrites only the objects some slot has not seen yet.
func (fr *FrameResources) UpdateObjectsCB(objs []metadata.Renderable) {
	for _, obj := range objs {
		if !obj.IsDirty() {
			continue
		}
		fr.UpdatePerObjectCB(obj)
		obj.DecreaseDirtyCount()
	}
}

func (fr *FrameResources) UpdatePerMaterialCB(materials []metadata.Material) {
	for _, m := range materials {
		props := m.Properties()
		fr.materialCB.CopyData(m.MaterialCBIndex(), &props)
	}
}

func (fr *FrameResources) UpdateMainPassCB(camera metadata.Camera, dt, totalTime float32, mode metadata.RenderMode, lights []metadata.LightSource) {
	p := &fr.passCB.Staging
	setPassCamera(p, camera)

	size := math.NewVec2(float32(fr.width), float32(fr.height))
	p.RenderTargetSize = size.ToF32()
	p.InvRenderTargetSize = math.NewVec2(1.0/size.X, 1.0/size.Y).ToF32()
	p.TotalTime = totalTime
	p.DeltaTime = dt
	p.RenderMode = mode
	p.AmbientLight = ambientLight
	p.FogColor = fogColor
	p.FogStart = fogStart

	for _, l := range lights {
		id := l.ID()
		core.Assert(id < metadata.MaxLightSources, "light id %d out of range", id)
		if id < metadata.MaxLightSources {
			p.Lights[id] = l.Properties()
		}
	}
	fr.passCB.CopyStagingToGpu(metadata.MainPassRegion)
}

// UpdateShadowMapPassCB reuses the main pass values with the light's camera.
func (fr *FrameResources) UpdateShadowMapPassCB(shadow metadata.ShadowMap) {
	setPassCamera(&fr.passCB.Staging, shadow.LightCamera())
	fr.passCB.CopyStagingToGpu(metadata.ShadowPassRegion)
}

func (fr *FrameResources) UpdateDynamicCubeMapPassCB(cube metadata.DynamicCubeMap) {
	for face := 0; face < metadata.CubeFaceCount; face++ {
		setPassCamera(&fr.passCB.Staging, cube.FaceCamera(face))
		fr.passCB.CopyStagingToGpu(uint32(metadata.CubeFaceRegionBase + face))
	}
}

func (fr *FrameResources) UpdateWaterCB(water metadata.Water) {
	c := &fr.waterCB.Staging
	c.CubeMapCenter = water.CubeMapCenter().ToF32()
	c.CubeMapRadius = water.CubeMapRadius()
	c.WaterColor = water.Color().ToF32()

	waves := water.Waves()
	core.Assert(len(waves) <= metadata.MaxWaveFunctions, "%d wave functions, at most %d fit", len(waves), metadata.MaxWaveFunctions)
	c.Waves = [metadata.MaxWaveFunctions]metadata.WaveProperties{}
	copy(c.Waves[:], waves)
	fr.waterCB.CopyStagingToGpu(0)

	if water.IsDirty() {
		fr.UpdatePerObjectCB(water)
		water.DecreaseDirtyCount()
	}
}

// UpdateSkyBoxCB uploads every frame since the sky follows the camera.
func (fr *FrameResources) UpdateSkyBoxCB(sky metadata.Renderable) {
	fr.UpdatePerObjectCB(sky)
}

func (fr *FrameResources) UpdateTerrainCB(terrain metadata.Renderable) {
	if terrain.IsDirty() {
		fr.UpdatePerObjectCB(terrain)
		terrain.DecreaseDirtyCount()
	}
}

func setPassCamera(p *metadata.PassConstants, camera metadata.Camera) {
	view := camera.View()
	invView := camera.InverseView()
	proj := camera.Projection()
	viewProj := view.Mul(proj)

	p.View = view.Transposed().ToF32()
	p.InvView = invView.Transposed().ToF32()
	p.Proj = proj.Transposed().ToF32()
	p.InvProj = proj.Inverse().Transposed().ToF32()
	p.ViewProj = viewProj.Transposed().ToF32()
	p.InvViewProj = viewProj.Inverse().Transposed().ToF32()
	p.EyePosition = camera.Position().ToF32()
	p.NearZ = camera.NearZ()
	p.FarZ = camera.FarZ()
}

func (fr *FrameResources) ObjectCBAddress(i uint32) uint64 {
	return fr.objectCB.GpuVirtualAddress(i)
}

func (fr *FrameResources) MaterialCBAddress(i uint32) uint64 {
	return fr.materialCB.GpuVirtualAddress(i)
}

func (fr *FrameResources) PassCBAddress(region uint32) uint64 {
	return fr.passCB.GpuVirtualAddress(region)
}

func (fr *FrameResources) WaterCBAddress() uint64 {
	return fr.waterCB.GpuVirtualAddress(0)
}

func (fr *FrameResources) ObjectCB() *ConstantBuffer[metadata.ObjectConstants] {
	return fr.objectCB
}

func (fr *FrameResources) MaterialCB() *ConstantBuffer[metadata.MaterialConstants] {
	return fr.materialCB
}

func (fr *FrameResources) PassCB() *ConstantBuffer[metadata.PassConstants] {
	return fr.passCB
}

func (fr *FrameResources) WaterCB() *ConstantBuffer[metadata.WaterConstants] {
	return fr.waterCB
}

func (fr *FrameResources) Release() error {
	var errs []error
	if fr.objectCB != nil {
		errs = append(errs, fr.objectCB.Release())
	}
	if fr.materialCB != nil {
		errs = append(errs, fr.materialCB.Release())
	}
	if fr.passCB != nil {
		errs = append(errs, fr.passCB.Release())
	}
	if fr.waterCB != nil {
		errs = append(errs, fr.waterCB.Release())
	}
	return errors.Join(errs...)
}
