package renderer

import (
	"fmt"

	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

// UploadBuffer is CPU-writable memory that stays mapped for its whole life.
type UploadBuffer struct {
	*GpuResource
	mapped []byte
}

func newUploadBuffer(device gpu.Device, size uint64, name string) (*UploadBuffer, error) {
	res, err := device.CreateCommittedResource(gpu.HeapTypeUpload, gpu.BufferDesc(size, gpu.ResourceFlagNone), gpu.ResourceStateGenericRead, nil)
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, fmt.Sprintf("CreateCommittedResource [%s]", name), "", err, device.InfoMessages())
	}
	res.SetName(name)
	mapped, err := res.Map()
	if err != nil {
		_ = res.Release()
		return nil, core.NewDeviceError(core.KindDevice, fmt.Sprintf("Map [%s]", name), "", err, device.InfoMessages())
	}
	return &UploadBuffer{
		GpuResource: NewGpuResource(res, gpu.ResourceStateGenericRead),
		mapped:      mapped,
	}, nil
}

func (b *UploadBuffer) Size() uint64 {
	return uint64(len(b.mapped))
}

// Write copies data into the mapping at offset.
func (b *UploadBuffer) Write(offset uint64, data []byte) {
	core.Assert(offset+uint64(len(data)) <= b.Size(), "upload buffer %s: write of %d bytes at %d overruns %d", b.Name(), len(data), offset, b.Size())
	copy(b.mapped[offset:], data)
}

// Bytes is the live mapping.
func (b *UploadBuffer) Bytes() []byte {
	return b.mapped
}

func (b *UploadBuffer) Destroy() error {
	if b == nil || !b.IsValid() {
		return nil
	}
	b.Resource().Unmap()
	b.mapped = nil
	return b.GpuResource.Destroy()
}

// DefaultBuffer lives in device-local memory and is filled by a copy.
type DefaultBuffer struct {
	*GpuResource
	size uint64
}

func (b *DefaultBuffer) Size() uint64 {
	return b.size
}

// UAVBuffer is device-local memory shaders may write. Acceleration
// structures and scratch space use it too.
type UAVBuffer struct {
	*GpuResource
	size uint64
}

func (b *UAVBuffer) Size() uint64 {
	return b.size
}

func newDeviceBuffer(device gpu.Device, size uint64, flags gpu.ResourceFlags, initial gpu.ResourceState, name string) (*GpuResource, error) {
	res, err := device.CreateCommittedResource(gpu.HeapTypeDefault, gpu.BufferDesc(size, flags), initial, nil)
	if err != nil {
		return nil, core.NewDeviceError(core.KindDevice, fmt.Sprintf("CreateCommittedResource [%s]", name), "", err, device.InfoMessages())
	}
	res.SetName(name)
	return NewGpuResource(res, initial), nil
}
