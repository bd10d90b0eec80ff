package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/framecore/engine/core"
)

// Load reads the settings file at path on top of the defaults. A missing file
// is not an error.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			core.LogInfo("settings file `%s` not found, using defaults", path)
			return Default(), nil
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes TOML settings. Keys missing from data keep their default value.
func Parse(data []byte) (*Settings, error) {
	s := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(s); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("failed to parse settings at %d:%d: %w", row, col, err)
		}
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Save writes s to path.
func Save(path string, s *Settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Apply pushes the diagnostics section into the core package.
func Apply(s *Settings) {
	core.SetLogLevel(s.Diagnostics.LogLevel)
	core.SetAssertions(s.Diagnostics.Assertions)
}
