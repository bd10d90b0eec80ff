//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed in a window on the Vulkan device.
func (Run) Testbed() error {
	mg.Deps(Shaders.Compile)
	fmt.Println("Run testbed...")
	if _, err := executeCmd("go", withArgs("run", "main.go"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs 600 frames of the testbed on the software device.
func (Run) Headless() error {
	fmt.Println("Run headless testbed...")
	if _, err := executeCmd("go", withArgs("run", "main.go", "--headless", "--frames", "600"), withStream()); err != nil {
		return err
	}
	return nil
}
