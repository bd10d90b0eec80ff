package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())
	assert.Equal(t, 3, s.FrameSlots())
	assert.Equal(t, uint32(9), s.MaxLights())
	assert.Equal(t, uint32(30), s.Heaps.CbvSrvUav)
	assert.Equal(t, uint32(10), s.Heaps.RTV)
	assert.Equal(t, uint32(5), s.Heaps.DSV)
}

func TestRayTracingUsesSingleSlot(t *testing.T) {
	s := Default()
	s.Graphics.RayTracing = true
	assert.Equal(t, 1, s.FrameSlots())
}

func TestParseOverridesDefaults(t *testing.T) {
	s, err := Parse([]byte(`
[graphics]
width = 800
backend = "headless"

[game]
max_object_cb = 64
`))
	require.NoError(t, err)
	assert.Equal(t, uint32(800), s.Graphics.Width)
	assert.Equal(t, uint32(1200), s.Graphics.Height)
	assert.Equal(t, BackendHeadless, s.Graphics.Backend)
	assert.Equal(t, uint32(64), s.Game.MaxObjectCB)
	assert.Equal(t, uint32(10), s.Game.MaxMaterialCB)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"too many lights": "[game]\nmax_point_lights = 8\n",
		"zero slots":      "[graphics]\nback_buffer_count = 0\n",
		"bad backend":     "[graphics]\nbackend = \"metal\"\n",
		"unknown key":     "[graphics]\nfullscreen = true\n",
		"syntax":          "[graphics\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := Default()
	s.Graphics.VSync = false
	require.NoError(t, Save(path, s))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.False(t, loaded.Graphics.VSync)
}

func TestWatcherDeliversHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := Default()
	require.NoError(t, Save(path, s))

	w, err := NewWatcher(path, s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	next := s.Clone()
	next.Diagnostics.LogLevel = "warn"
	replaceFile(t, path, next)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-w.Updates():
			if got.Diagnostics.LogLevel == "warn" {
				return
			}
		case <-timeout:
			t.Fatal("no settings update received")
		}
	}
}

func TestWatcherDropsFixedFieldChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	s := Default()
	require.NoError(t, Save(path, s))

	w, err := NewWatcher(path, s)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	next := s.Clone()
	next.Graphics.BackBufferCount = 2
	replaceFile(t, path, next)

	select {
	case got, ok := <-w.Updates():
		if ok {
			t.Fatalf("unexpected update %+v", got)
		}
	case <-time.After(300 * time.Millisecond):
	}
	cancel()
	<-done
}

// replaceFile swaps the file in one rename so the watcher never sees a
// half-written document.
func replaceFile(t *testing.T, path string, s *Settings) {
	t.Helper()
	data, err := toml.Marshal(s)
	require.NoError(t, err)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, path))
}
