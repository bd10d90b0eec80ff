package headless

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spaghettifunk/framecore/engine/containers"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/math"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

var (
	ErrAllocatorInUse  = errors.New("command allocator reset while submitted work is still pending")
	ErrListNotClosed   = errors.New("command list submitted while still recording")
	ErrListNotReady    = errors.New("command list reset while still recording")
	ErrInjectedFailure = errors.New("injected failure")
)

const (
	cbvSrvUavStride = 32
	samplerStride   = 16
	rtvStride       = 8
	dsvStride       = 8

	// Placement alignment of committed resources.
	resourceAlignment = 64 * 1024
	// Validation messages kept before the oldest are dropped.
	messageCapacity = 256
)

// Stats counts what the GPU timeline executed.
type Stats struct {
	Submissions    uint64
	Signals        uint64
	BarrierBatches uint64
	Barriers       uint64
	Draws          uint64
	Dispatches     uint64
	Copies         uint64
	Presents       uint64
}

type viewRecord struct {
	Resource gpu.Resource
	Desc     gpu.ViewDesc
}

// Device is a software gpu.Device. Work submitted to its queues runs on a
// goroutine per queue, in submission order, so fences complete
// asynchronously just as they would on hardware.
type Device struct {
	name     string
	features gpu.Features

	mu           sync.Mutex
	nextAddress  uint64
	nextCPUBase  uint64
	nextGPUBase  uint64
	heaps        []*DescriptorHeap
	views        map[uint64]viewRecord
	gpuStates    map[*Resource]gpu.ResourceState
	messages     *containers.RingQueue[string]
	failures     map[string]error
	queues       []*Queue
	fences       []*Fence
	removed      error
	paused       bool
	stats        Stats
	validateLogs bool
}

func New(features gpu.Features) *Device {
	d := &Device{
		name:         "headless",
		features:     features,
		nextAddress:  resourceAlignment,
		nextCPUBase:  0x1000,
		nextGPUBase:  0x1_0000_0000,
		views:        make(map[uint64]viewRecord),
		gpuStates:    make(map[*Resource]gpu.ResourceState),
		messages:     containers.NewRingQueue[string](messageCapacity),
		failures:     make(map[string]error),
		validateLogs: true,
	}
	core.LogDebug("headless device created (ray tracing: %t)", features.RayTracing)
	return d
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Features() gpu.Features {
	return d.features
}

// FailNext makes the next call of the named Create* method fail.
func (d *Device) FailNext(op string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = fmt.Errorf("%w: %s", ErrInjectedFailure, op)
}

func (d *Device) checkCreate(op string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed != nil {
		return fmt.Errorf("%w: %s", core.ErrDeviceRemoved, d.removed)
	}
	if err, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return err
	}
	return nil
}

// SetValidationLogging controls whether queued validation messages are also logged.
func (d *Device) SetValidationLogging(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validateLogs = enabled
}

func (d *Device) report(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.mu.Lock()
	d.messages.Push(msg)
	logIt := d.validateLogs
	d.mu.Unlock()
	if logIt {
		core.LogWarn("VALIDATION: %s", msg)
	}
}

func (d *Device) InfoMessages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.messages.Drain()
}

func (d *Device) RemovedReason() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removed
}

// Remove simulates a lost device. Pending fence waits fail and presents
// return core.ErrDeviceRemoved.
func (d *Device) Remove(reason error) {
	d.mu.Lock()
	d.removed = reason
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()

	core.LogError("headless device removed: %s", reason)
	for _, f := range fences {
		f.wake()
	}
}

// Pause holds every queue timeline; submitted work stays pending until Resume.
func (d *Device) Pause() {
	d.setPaused(true)
}

func (d *Device) Resume() {
	d.setPaused(false)
}

func (d *Device) setPaused(p bool) {
	d.mu.Lock()
	d.paused = p
	queues := append([]*Queue(nil), d.queues...)
	d.mu.Unlock()
	for _, q := range queues {
		q.setPaused(p)
	}
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Device) CreateCommandQueue(t gpu.CommandListType) (gpu.CommandQueue, error) {
	if err := d.checkCreate("CreateCommandQueue"); err != nil {
		return nil, err
	}
	q := newQueue(d, t)
	d.mu.Lock()
	d.queues = append(d.queues, q)
	paused := d.paused
	d.mu.Unlock()
	q.setPaused(paused)
	return q, nil
}

func (d *Device) CreateCommandAllocator(t gpu.CommandListType) (gpu.CommandAllocator, error) {
	if err := d.checkCreate("CreateCommandAllocator"); err != nil {
		return nil, err
	}
	return &CommandAllocator{typ: t}, nil
}

func (d *Device) CreateCommandList(t gpu.CommandListType, alloc gpu.CommandAllocator) (gpu.CommandList, error) {
	if err := d.checkCreate("CreateCommandList"); err != nil {
		return nil, err
	}
	a, ok := alloc.(*CommandAllocator)
	if !ok {
		return nil, fmt.Errorf("allocator %T does not belong to the headless device", alloc)
	}
	if a.typ != t {
		return nil, fmt.Errorf("allocator type %s does not match list type %s", a.typ, t)
	}
	return &CommandList{dev: d, typ: t, alloc: a, open: true}, nil
}

func (d *Device) CreateFence(initialValue uint64) (gpu.Fence, error) {
	if err := d.checkCreate("CreateFence"); err != nil {
		return nil, err
	}
	f := newFence(d, initialValue)
	d.mu.Lock()
	d.fences = append(d.fences, f)
	d.mu.Unlock()
	return f, nil
}

func (d *Device) DescriptorHandleIncrementSize(t gpu.DescriptorHeapType) uint32 {
	switch t {
	case gpu.DescriptorHeapTypeCbvSrvUav:
		return cbvSrvUavStride
	case gpu.DescriptorHeapTypeSampler:
		return samplerStride
	case gpu.DescriptorHeapTypeRTV:
		return rtvStride
	case gpu.DescriptorHeapTypeDSV:
		return dsvStride
	}
	return 0
}

func (d *Device) CreateDescriptorHeap(desc gpu.DescriptorHeapDesc) (gpu.DescriptorHeap, error) {
	if err := d.checkCreate("CreateDescriptorHeap"); err != nil {
		return nil, err
	}
	if desc.NumDescriptors == 0 {
		return nil, fmt.Errorf("descriptor heap %s needs at least one descriptor", desc.Type)
	}
	if desc.ShaderVisible && (desc.Type == gpu.DescriptorHeapTypeRTV || desc.Type == gpu.DescriptorHeapTypeDSV) {
		return nil, fmt.Errorf("%s heaps cannot be shader visible", desc.Type)
	}
	span := math.Align(uint64(desc.NumDescriptors)*uint64(d.DescriptorHandleIncrementSize(desc.Type)), 4096)

	d.mu.Lock()
	defer d.mu.Unlock()
	h := &DescriptorHeap{desc: desc, cpuStart: d.nextCPUBase}
	d.nextCPUBase += span
	if desc.ShaderVisible {
		h.gpuStart = d.nextGPUBase
		d.nextGPUBase += span
	}
	d.heaps = append(d.heaps, h)
	return h, nil
}

func (d *Device) CreateView(res gpu.Resource, view gpu.ViewDesc, dest gpu.CPUDescriptorHandle) {
	d.mu.Lock()
	var heap *DescriptorHeap
	for _, h := range d.heaps {
		if h.contains(dest, d.DescriptorHandleIncrementSize(h.desc.Type)) {
			heap = h
			break
		}
	}
	d.mu.Unlock()

	switch {
	case heap == nil:
		d.report("CreateView: destination %#x is not inside any descriptor heap", dest.Ptr)
		return
	case !viewFitsHeap(view.Kind, heap.desc.Type):
		d.report("CreateView: %s view written into a %s heap", view.Kind, heap.desc.Type)
		return
	}
	if res != nil && view.Kind == gpu.ViewKindRenderTarget && res.Desc().Flags&gpu.ResourceFlagAllowRenderTarget == 0 {
		d.report("CreateView: %s was not created with render target usage", res.Name())
	}
	if res != nil && view.Kind == gpu.ViewKindDepthStencil && res.Desc().Flags&gpu.ResourceFlagAllowDepthStencil == 0 {
		d.report("CreateView: %s was not created with depth stencil usage", res.Name())
	}
	if res != nil && view.Kind == gpu.ViewKindUnorderedAccess && res.Desc().Flags&gpu.ResourceFlagAllowUnorderedAccess == 0 {
		d.report("CreateView: %s was not created with unordered access usage", res.Name())
	}

	d.mu.Lock()
	d.views[dest.Ptr] = viewRecord{Resource: res, Desc: view}
	d.mu.Unlock()
}

func viewFitsHeap(kind gpu.ViewKind, heap gpu.DescriptorHeapType) bool {
	switch kind {
	case gpu.ViewKindRenderTarget:
		return heap == gpu.DescriptorHeapTypeRTV
	case gpu.ViewKindDepthStencil:
		return heap == gpu.DescriptorHeapTypeDSV
	}
	return heap == gpu.DescriptorHeapTypeCbvSrvUav
}

// View returns the descriptor last written at h.
func (d *Device) View(h gpu.CPUDescriptorHandle) (gpu.Resource, gpu.ViewDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.views[h.Ptr]
	return v.Resource, v.Desc, ok
}

func (d *Device) CreateCommittedResource(heap gpu.HeapType, desc gpu.ResourceDesc, initial gpu.ResourceState, clear *gpu.ClearValue) (gpu.Resource, error) {
	if err := d.checkCreate("CreateCommittedResource"); err != nil {
		return nil, err
	}
	if desc.Dimension == gpu.ResourceDimensionBuffer && desc.Width == 0 {
		return nil, errors.New("buffer width must be positive")
	}
	if heap == gpu.HeapTypeUpload && initial != gpu.ResourceStateGenericRead {
		return nil, fmt.Errorf("upload heap resources must start in %s, got %s", gpu.ResourceStateGenericRead, initial)
	}
	if clear != nil && desc.Flags&(gpu.ResourceFlagAllowRenderTarget|gpu.ResourceFlagAllowDepthStencil) == 0 {
		d.report("CreateCommittedResource: clear value given for a resource that is neither render target nor depth stencil")
	}

	r := &Resource{dev: d, desc: desc, heap: heap, splitBefore: gpu.ResourceStateUnknown, splitAfter: gpu.ResourceStateUnknown}
	if clear != nil {
		cv := *clear
		r.clear = &cv
	}
	if desc.Dimension == gpu.ResourceDimensionBuffer {
		r.data = make([]byte, desc.Width)
	}

	d.mu.Lock()
	r.address = d.nextAddress
	d.nextAddress += math.Align(desc.SizeInBytes(), resourceAlignment)
	if desc.SizeInBytes() == 0 {
		d.nextAddress += resourceAlignment
	}
	d.gpuStates[r] = initial
	d.mu.Unlock()
	return r, nil
}

func (d *Device) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if err := d.checkCreate("CreateRootSignature"); err != nil {
		return nil, err
	}
	return &RootSignature{name: desc.Name, params: append([]gpu.RootParameter(nil), desc.Parameters...)}, nil
}

func (d *Device) CreatePipelineState(desc gpu.PipelineStateDesc) (gpu.PipelineState, error) {
	if err := d.checkCreate("CreatePipelineState"); err != nil {
		return nil, err
	}
	if desc.Kind == gpu.PipelineKindRaytracing && !d.features.RayTracing {
		return nil, fmt.Errorf("pipeline %s: ray tracing is not supported by this device", desc.Name)
	}
	if desc.RootSignature == nil {
		return nil, fmt.Errorf("pipeline %s has no root signature", desc.Name)
	}
	return &PipelineState{name: desc.Name, kind: desc.Kind}, nil
}

// WaitIdle blocks until every queue has drained.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	queues := append([]*Queue(nil), d.queues...)
	d.mu.Unlock()
	for _, q := range queues {
		q.waitIdle()
	}
	return d.RemovedReason()
}

func (d *Device) Release() error {
	d.mu.Lock()
	queues := append([]*Queue(nil), d.queues...)
	d.queues = nil
	d.mu.Unlock()
	for _, q := range queues {
		_ = q.Release()
	}
	core.LogDebug("headless device released")
	return nil
}

// gpuState is the state the GPU timeline believes r is in.
func (d *Device) gpuState(r *Resource) gpu.ResourceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gpuStates[r]
}

func (d *Device) setGPUState(r *Resource, s gpu.ResourceState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gpuStates[r] = s
}

func (d *Device) forget(r *Resource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.gpuStates, r)
}

func (d *Device) count(fn func(s *Stats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.stats)
}
