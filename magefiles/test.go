//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every test of the module.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "./..."), withStream())
	return err
}

// Runs the frame pipeline tests with the race detector, which needs cgo.
func (Test) Core() error {
	_, err := executeCmd("go", withArgs("test", "-race", "./engine/renderer/..."), withEnv("CGO_ENABLED=1"), withStream())
	return err
}
