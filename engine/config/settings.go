package config

import (
	"errors"
	"fmt"
)

const (
	// Length of the light array in the pass constant buffer.
	MaxLightSources = 9
	// Length of the wave array in the water constant buffer.
	MaxWaveFunctions = 2
)

const (
	BackendVulkan   = "vulkan"
	BackendHeadless = "headless"
)

var ErrInvalidSettings = errors.New("invalid settings")

type GraphicsSettings struct {
	Width           uint32 `toml:"width"`
	Height          uint32 `toml:"height"`
	BackBufferCount uint32 `toml:"back_buffer_count"`
	RayTracing      bool   `toml:"ray_tracing"`
	VSync           bool   `toml:"vsync"`
	MSAA            bool   `toml:"msaa"`
	Backend         string `toml:"backend"`
	// Format names understood by gpu.ParseFormat.
	BackBufferFormat string `toml:"back_buffer_format"`
	DepthFormat      string `toml:"depth_format"`
}

type GameSettings struct {
	MaxObjectCB          uint32 `toml:"max_object_cb"`
	MaxMaterialCB        uint32 `toml:"max_material_cb"`
	MaxDirectionalLights uint32 `toml:"max_directional_lights"`
	MaxPointLights       uint32 `toml:"max_point_lights"`
	MaxSpotLights        uint32 `toml:"max_spot_lights"`
	WaveFunctions        uint32 `toml:"wave_functions"`
	MaxTextures          uint32 `toml:"max_textures"`
}

type HeapSettings struct {
	CbvSrvUav uint32 `toml:"cbv_srv_uav"`
	RTV       uint32 `toml:"rtv"`
	DSV       uint32 `toml:"dsv"`
}

type DiagnosticsSettings struct {
	LogLevel   string `toml:"log_level"`
	Assertions bool   `toml:"assertions"`
	Validation bool   `toml:"validation"`
}

// Settings is the full engine configuration.
type Settings struct {
	Graphics    GraphicsSettings    `toml:"graphics"`
	Game        GameSettings        `toml:"game"`
	Heaps       HeapSettings        `toml:"heaps"`
	Diagnostics DiagnosticsSettings `toml:"diagnostics"`
}

func Default() *Settings {
	return &Settings{
		Graphics: GraphicsSettings{
			Width:            1200,
			Height:           1200,
			BackBufferCount:  3,
			RayTracing:       false,
			VSync:            true,
			MSAA:             false,
			Backend:          BackendVulkan,
			BackBufferFormat: "r8g8b8a8_unorm",
			DepthFormat:      "d24_unorm_s8_uint",
		},
		Game: GameSettings{
			MaxObjectCB:          20,
			MaxMaterialCB:        10,
			MaxDirectionalLights: 1,
			MaxPointLights:       4,
			MaxSpotLights:        4,
			WaveFunctions:        2,
			MaxTextures:          30,
		},
		Heaps: HeapSettings{
			CbvSrvUav: 30,
			RTV:       10,
			DSV:       5,
		},
		Diagnostics: DiagnosticsSettings{
			LogLevel:   "debug",
			Assertions: true,
			Validation: true,
		},
	}
}

// FrameSlots is the number of frames the CPU may record ahead of the GPU.
// The ray tracing path renders into a single slot.
func (s *Settings) FrameSlots() int {
	if s.Graphics.RayTracing {
		return 1
	}
	return int(s.Graphics.BackBufferCount)
}

func (s *Settings) MaxLights() uint32 {
	return s.Game.MaxDirectionalLights + s.Game.MaxPointLights + s.Game.MaxSpotLights
}

func (s *Settings) Validate() error {
	switch {
	case s.Graphics.Width == 0 || s.Graphics.Height == 0:
		return fmt.Errorf("%w: graphics size %dx%d", ErrInvalidSettings, s.Graphics.Width, s.Graphics.Height)
	case s.Graphics.BackBufferCount == 0:
		return fmt.Errorf("%w: back_buffer_count must be at least 1", ErrInvalidSettings)
	case s.Graphics.Backend != BackendVulkan && s.Graphics.Backend != BackendHeadless:
		return fmt.Errorf("%w: unknown backend `%s`", ErrInvalidSettings, s.Graphics.Backend)
	case s.Game.MaxObjectCB == 0 || s.Game.MaxMaterialCB == 0:
		return fmt.Errorf("%w: constant buffer counts must be positive", ErrInvalidSettings)
	case s.MaxLights() > MaxLightSources:
		return fmt.Errorf("%w: %d lights configured, at most %d fit the pass buffer", ErrInvalidSettings, s.MaxLights(), MaxLightSources)
	case s.Game.WaveFunctions > MaxWaveFunctions:
		return fmt.Errorf("%w: %d wave functions configured, at most %d supported", ErrInvalidSettings, s.Game.WaveFunctions, MaxWaveFunctions)
	case s.Heaps.CbvSrvUav == 0 || s.Heaps.RTV == 0 || s.Heaps.DSV == 0:
		return fmt.Errorf("%w: descriptor heap capacities must be positive", ErrInvalidSettings)
	}
	return nil
}

// Clone returns a deep copy; Settings holds no references so a value copy is enough.
func (s *Settings) Clone() *Settings {
	c := *s
	return &c
}

// FixedFieldsEqual reports whether two settings agree on everything that cannot
// change while the process runs.
func (s *Settings) FixedFieldsEqual(other *Settings) bool {
	return s.FrameSlots() == other.FrameSlots() &&
		s.Graphics.RayTracing == other.Graphics.RayTracing &&
		s.Graphics.Backend == other.Graphics.Backend &&
		s.Game == other.Game &&
		s.Heaps == other.Heaps
}
