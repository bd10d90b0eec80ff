package renderer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// PipelineRegistry maps names to compiled pipelines and root signatures.
type PipelineRegistry struct {
	mu             sync.RWMutex
	pipelines      map[string]gpu.PipelineState
	rootSignatures map[string]gpu.RootSignature
}

func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{
		pipelines:      make(map[string]gpu.PipelineState),
		rootSignatures: make(map[string]gpu.RootSignature),
	}
}

// RegisterPipeline replaces any pipeline already known under name.
func (r *PipelineRegistry) RegisterPipeline(name string, pso gpu.PipelineState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pipelines[name]; ok {
		core.LogWarn("pipeline `%s` registered twice, keeping the newest", name)
	}
	r.pipelines[name] = pso
}

func (r *PipelineRegistry) RegisterRootSignature(name string, rs gpu.RootSignature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rootSignatures[name]; ok {
		core.LogWarn("root signature `%s` registered twice, keeping the newest", name)
	}
	r.rootSignatures[name] = rs
}

func (r *PipelineRegistry) Pipeline(name string) (gpu.PipelineState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pso, ok := r.pipelines[name]
	if !ok {
		return nil, core.NewDeviceError(core.KindNotFound, fmt.Sprintf("pipeline `%s`", name), "", core.ErrNotFound, nil)
	}
	return pso, nil
}

func (r *PipelineRegistry) RootSignature(name string) (gpu.RootSignature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rootSignatures[name]
	if !ok {
		return nil, core.NewDeviceError(core.KindNotFound, fmt.Sprintf("root signature `%s`", name), "", core.ErrNotFound, nil)
	}
	return rs, nil
}

// BuildRootSignature creates the root signature through the device and
// registers it under desc.Name.
func (r *PipelineRegistry) BuildRootSignature(device gpu.Device, desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	rs, err := device.CreateRootSignature(desc)
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, fmt.Sprintf("CreateRootSignature [%s]", desc.Name), "", err, device.InfoMessages())
	}
	r.RegisterRootSignature(desc.Name, rs)
	return rs, nil
}

// Build creates the pipeline through the device and registers it under
// desc.Name.
func (r *PipelineRegistry) Build(device gpu.Device, desc gpu.PipelineStateDesc) (gpu.PipelineState, error) {
	pso, err := device.CreatePipelineState(desc)
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, fmt.Sprintf("CreatePipelineState [%s]", desc.Name), "", err, device.InfoMessages())
	}
	r.RegisterPipeline(desc.Name, pso)
	return pso, nil
}

func (r *PipelineRegistry) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, pso := range r.pipelines {
		errs = append(errs, pso.Release())
		delete(r.pipelines, name)
	}
	for name, rs := range r.rootSignatures {
		errs = append(errs, rs.Release())
		delete(r.rootSignatures, name)
	}
	return errors.Join(errs...)
}
