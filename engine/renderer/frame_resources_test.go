package renderer

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f32"

	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/components"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
	"github.com/spaghettifunk/framecore/engine/renderer/metadata"
)

type testWater struct {
	*metadata.Object
	waves []metadata.WaveProperties
}

func (w *testWater) CubeMapCenter() math.Vec3        { return math.NewVec3(1, 2, 3) }
func (w *testWater) CubeMapRadius() float32          { return 50 }
func (w *testWater) Color() math.Vec4                { return math.NewVec4(0, 0.2, 0.4, 0.8) }
func (w *testWater) Waves() []metadata.WaveProperties { return w.waves }

func newTestFrameResources(t *testing.T, dev gpu.Device, rayTracing bool) *FrameResources {
	t.Helper()
	s := testSettings(3)
	s.Graphics.RayTracing = rayTracing
	fr, err := NewFrameResources(dev, s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fr.Release() })
	return fr
}

func TestConstantBufferLayout(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	cb, err := NewConstantBuffer[metadata.PassConstants](dev, 3, "Pass")
	require.NoError(t, err)
	defer cb.Release()

	assert.Zero(t, cb.ElementSize()%ConstantBufferAlignment)
	assert.GreaterOrEqual(t, cb.ElementSize(), uint64(unsafe.Sizeof(metadata.PassConstants{})))
	assert.Less(t, cb.ElementSize()-uint64(unsafe.Sizeof(metadata.PassConstants{})), ConstantBufferAlignment)
	assert.Equal(t, uint64(256), math.Align(uint64(unsafe.Sizeof(metadata.ObjectConstants{})), ConstantBufferAlignment))

	base := cb.GpuVirtualAddress(0)
	assert.Equal(t, base+2*cb.ElementSize(), cb.GpuVirtualAddress(2))
	assert.Zero(t, base%ConstantBufferAlignment)

	cb.Staging.FogStart = 42
	cb.Staging.Lights[8].Kq = 0.5
	cb.CopyStagingToGpu(2)
	got, err := cb.Element(2)
	require.NoError(t, err)
	assert.Equal(t, float32(42), got.FogStart)
	assert.Equal(t, float32(0.5), got.Lights[8].Kq)

	other, err := cb.Element(1)
	require.NoError(t, err)
	assert.Zero(t, other.FogStart)

	assert.Panics(t, func() { cb.CopyStagingToGpu(3) })
	_, err = cb.Element(3)
	assert.Error(t, err)
}

func TestFrameResourcesAreIsolated(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	slots := []*FrameResources{
		newTestFrameResources(t, dev, false),
		newTestFrameResources(t, dev, false),
		newTestFrameResources(t, dev, false),
	}

	obj := metadata.NewObject("crate", 1, len(slots))
	obj.SetPosition(math.NewVec3(4, 5, 6))
	slots[0].UpdatePerObjectCB(obj)

	written, err := slots[0].ObjectCB().Element(1)
	require.NoError(t, err)
	assert.Equal(t, obj.World().Transposed().ToF32(), written.World)

	for j := 1; j < len(slots); j++ {
		for i := uint32(0); i < slots[j].ObjectCB().Count(); i++ {
			c, err := slots[j].ObjectCB().Element(i)
			require.NoError(t, err)
			assert.Equal(t, metadata.ObjectConstants{}, c, "slot %d element %d", j, i)
		}
		assert.NotEqual(t, slots[0].ObjectCBAddress(1), slots[j].ObjectCBAddress(1))
	}
}

func TestUpdateObjectsCBHonoursDirtyCount(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	fr := newTestFrameResources(t, dev, false)

	moving := metadata.NewObject("moving", 0, 3)
	static := metadata.NewObject("static", 1, 3)
	static.SetStatic(true)
	objs := []metadata.Renderable{moving, static}

	for frame := 0; frame < 3; frame++ {
		fr.UpdateObjectsCB(objs)
		assert.Equal(t, 2-frame, moving.DirtyCount())
	}
	assert.False(t, moving.IsDirty())
	assert.Equal(t, 3, static.DirtyCount(), "static objects are never uploaded here")

	// A clean object keeps whatever was uploaded last.
	moving.SetPosition(math.NewVec3(1, 0, 0))
	fr.UpdateObjectsCB(objs)
	c, err := fr.ObjectCB().Element(0)
	require.NoError(t, err)
	assert.Equal(t, moving.World().Transposed().ToF32(), c.World)
	assert.Equal(t, moving.World().Inverse().Transposed().ToF32(), c.InvWorld)
	assert.Equal(t, moving.TextureTransform().Transposed().ToF32(), c.TextureTransform)
}

func TestUpdatePerMaterialCB(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	fr := newTestFrameResources(t, dev, false)

	props := metadata.MaterialConstants{Shininess: 0.7, IndexOfRefraction: 1.33, IllumType: 3}
	fr.UpdatePerMaterialCB([]metadata.Material{
		metadata.NewMaterial(metadata.DefaultMaterialName, 0, metadata.MaterialConstants{}),
		metadata.NewMaterial("water", 1, props),
	})
	got, err := fr.MaterialCB().Element(1)
	require.NoError(t, err)
	assert.Equal(t, props, got)
}

func TestUpdateMainPassCB(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	fr := newTestFrameResources(t, dev, false)

	camera := components.NewPerspectiveCamera(math.DegToRad(60), 2, 0.1, 1000)
	camera.SetPosition(math.NewVec3(0, 5, 10))
	ids, err := metadata.NewLightIDs(1, 4, 4)
	require.NoError(t, err)
	sun, err := metadata.NewLight(ids, metadata.LightTypeDirectional)
	require.NoError(t, err)
	sun.Props.Strength = f32.Vec3{1, 1, 0.9}
	lamp, err := metadata.NewLight(ids, metadata.LightTypePoint)
	require.NoError(t, err)
	lamp.Props.Kl = 0.25

	fr.UpdateMainPassCB(camera, 0.016, 12.5, metadata.RenderModeEverything, []metadata.LightSource{sun, lamp})
	p, err := fr.PassCB().Element(metadata.MainPassRegion)
	require.NoError(t, err)

	viewProj := camera.View().Mul(camera.Projection())
	assert.Equal(t, camera.View().Transposed().ToF32(), p.View)
	assert.Equal(t, camera.InverseView().Transposed().ToF32(), p.InvView)
	assert.Equal(t, camera.Projection().Transposed().ToF32(), p.Proj)
	assert.Equal(t, viewProj.Transposed().ToF32(), p.ViewProj)
	assert.Equal(t, viewProj.Inverse().Transposed().ToF32(), p.InvViewProj)
	assert.Equal(t, f32.Vec3{0, 5, 10}, p.EyePosition)
	assert.Equal(t, float32(0.1), p.NearZ)
	assert.Equal(t, float32(1000), p.FarZ)

	assert.Equal(t, f32.Vec2{64, 32}, p.RenderTargetSize)
	assert.Equal(t, f32.Vec2{1.0 / 64, 1.0 / 32}, p.InvRenderTargetSize)
	assert.Equal(t, float32(12.5), p.TotalTime)
	assert.Equal(t, float32(0.016), p.DeltaTime)
	assert.Equal(t, metadata.RenderModeEverything, p.RenderMode)
	assert.Equal(t, f32.Vec4{0.3, 0.3, 0.3, 1}, p.AmbientLight)
	assert.Equal(t, float32(100), p.FogStart)
	assert.InDelta(t, 130.0/255.0, p.FogColor[0], 1e-6)

	assert.Equal(t, uint32(0), sun.ID())
	assert.Equal(t, uint32(1), lamp.ID())
	assert.Equal(t, sun.Props, p.Lights[0])
	assert.Equal(t, lamp.Props, p.Lights[1])

	fr.SetRenderTargetSize(128, 128)
	fr.UpdateMainPassCB(camera, 0.016, 12.5, metadata.RenderModeBigWaves, nil)
	p, err = fr.PassCB().Element(metadata.MainPassRegion)
	require.NoError(t, err)
	assert.Equal(t, f32.Vec2{128, 128}, p.RenderTargetSize)
}

func TestShadowAndCubeMapPasses(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	fr := newTestFrameResources(t, dev, false)
	assert.Equal(t, uint32(metadata.PassRegionCount), fr.PassCB().Count())

	rig := components.NewCubeRig(math.NewVec3(3, 1, -2), 0.1, 100)
	fr.UpdateDynamicCubeMapPassCB(rig)
	for face := 0; face < metadata.CubeFaceCount; face++ {
		p, err := fr.PassCB().Element(uint32(metadata.CubeFaceRegionBase + face))
		require.NoError(t, err)
		assert.Equal(t, f32.Vec3{3, 1, -2}, p.EyePosition)
		assert.Equal(t, rig.FaceCamera(face).View().Transposed().ToF32(), p.View)
	}

	shadow := components.NewShadowView(math.NewVec3(0, 50, 0), math.NewVec3(-math.K_HALF_PI, 0, 0), 100, 1, 200)
	fr.UpdateShadowMapPassCB(shadow)
	p, err := fr.PassCB().Element(metadata.ShadowPassRegion)
	require.NoError(t, err)
	assert.Equal(t, f32.Vec3{0, 50, 0}, p.EyePosition)
	assert.Equal(t, shadow.LightCamera().Projection().Transposed().ToF32(), p.Proj)
}

func TestRayTracingUsesSinglePassRegion(t *testing.T) {
	dev := testDevice(t, gpu.Features{RayTracing: true})
	fr := newTestFrameResources(t, dev, true)
	assert.Equal(t, uint32(1), fr.PassCB().Count())
	assert.Panics(t, func() { fr.UpdateShadowMapPassCB(components.NewShadowView(math.NewVec3Zero(), math.NewVec3Zero(), 10, 1, 10)) })
}

func TestUpdateWaterCB(t *testing.T) {
	dev := testDevice(t, gpu.Features{})
	fr := newTestFrameResources(t, dev, false)

	water := &testWater{
		Object: metadata.NewObject("water", 2, 3),
		waves: []metadata.WaveProperties{
			{Direction: f32.Vec2{1, 0}, Wavelength: 10, Amplitude: 0.5, Speed: 2, Steepness: 0.3},
		},
	}
	fr.UpdateWaterCB(water)

	c, err := fr.WaterCB().Element(0)
	require.NoError(t, err)
	assert.Equal(t, f32.Vec3{1, 2, 3}, c.CubeMapCenter)
	assert.Equal(t, float32(50), c.CubeMapRadius)
	assert.Equal(t, f32.Vec4{0, 0.2, 0.4, 0.8}, c.WaterColor)
	assert.Equal(t, water.waves[0], c.Waves[0])
	assert.Equal(t, metadata.WaveProperties{}, c.Waves[1])
	assert.Equal(t, 2, water.DirtyCount())
	assert.NotZero(t, fr.WaterCBAddress())
}
