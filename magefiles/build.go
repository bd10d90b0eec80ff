//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every package of the module.
func (Build) Engine() error {
	_, err := executeCmd("go", withArgs("build", "./..."), withStream())
	return err
}

type Shaders mg.Namespace

// Compiles the GLSL compute shaders under shaders/ to SPIR-V next to their source.
func (Shaders) Compile() error {
	sources, err := filepath.Glob(filepath.Join("shaders", "*.comp"))
	if err != nil {
		return err
	}
	for _, src := range sources {
		out := src + ".spv"
		if upToDate(src, out) {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}

func upToDate(src, out string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	oi, err := os.Stat(out)
	if err != nil {
		return false
	}
	return !oi.ModTime().Before(si.ModTime())
}
