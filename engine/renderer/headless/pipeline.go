package headless

import (
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

type RootSignature struct {
	name   string
	params []gpu.RootParameter
}

func (rs *RootSignature) Name() string {
	return rs.name
}

func (rs *RootSignature) Parameters() []gpu.RootParameter {
	return rs.params
}

func (rs *RootSignature) Release() error {
	return nil
}

type PipelineState struct {
	name string
	kind gpu.PipelineKind
}

func (p *PipelineState) Name() string {
	return p.name
}

func (p *PipelineState) Kind() gpu.PipelineKind {
	return p.kind
}

func (p *PipelineState) Release() error {
	return nil
}
