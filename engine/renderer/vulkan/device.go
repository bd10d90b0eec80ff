package vulkan

import (
	"fmt"
	"runtime"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/framecore/engine/containers"
	"github.com/spaghettifunk/framecore/engine/core"
	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

const (
	cbvSrvUavStride = 32
	samplerStride   = 16
	rtvStride       = 8
	dsvStride       = 8

	messageCapacity = 256
)

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	Transfer             bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

// Family indices are -1 when the family was not found.
type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

// Device implements gpu.Device on top of a Vulkan 1.0 logical device.
type Device struct {
	name     string
	ctx      *VulkanContext
	logical  vk.Device
	window   Window
	features gpu.Features

	locks        *VulkanLockPool
	addresses    *addressSpace
	views        *viewTable
	passes       *renderpassCache
	framebuffers *framebufferCache

	mu           sync.Mutex
	messages     *containers.RingQueue[string]
	depthSupport map[vk.Format]bool
	fences       []*Fence
	removed      error
}

func newDevice(ctx *VulkanContext, window Window) (*Device, error) {
	if err := selectPhysicalDevice(ctx); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	d := &Device{
		ctx:          ctx,
		window:       window,
		locks:        NewVulkanLockPool(),
		addresses:    newAddressSpace(),
		views:        newViewTable(),
		passes:       newRenderpassCache(),
		framebuffers: newFramebufferCache(),
		messages:     containers.NewRingQueue[string](messageCapacity),
		depthSupport: make(map[vk.Format]bool),
	}
	d.name = cString(ctx.Properties.DeviceName[:])
	d.features = gpu.Features{
		RayTracing: false,
		MaxSampleCount: maxSampleCount(ctx.Properties.Limits.FramebufferColorSampleCounts &
			ctx.Properties.Limits.FramebufferDepthSampleCounts),
	}

	if err := d.createLogicalDevice(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if !d.detectDepthFormat() {
		d.Release()
		return nil, fmt.Errorf("no supported depth format on %s", d.name)
	}
	return d, nil
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")
	ctx := d.ctx

	// Do not create additional queues for shared indices.
	var indices []uint32
	for _, idx := range []int32{ctx.GraphicsQueueIndex, ctx.PresentQueueIndex, ctx.ComputeQueueIndex, ctx.TransferQueueIndex} {
		seen := false
		for _, u := range indices {
			if u == uint32(idx) {
				seen = true
				break
			}
		}
		if !seen {
			indices = append(indices, uint32(idx))
		}
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, idx := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: idx,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
		d.locks.SetQueueFamily(idx)
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if hasDeviceExtension(ctx.PhysicalDevice, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: ctx.Features.SamplerAnisotropy,
	}
	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if err := resultError("vkCreateDevice", vk.CreateDevice(ctx.PhysicalDevice, &deviceCreateInfo, ctx.Allocator, &logical)); err != nil {
		return err
	}
	d.logical = logical
	core.LogInfo("Logical device created.")
	return nil
}

func (d *Device) queueFamily(t gpu.CommandListType) uint32 {
	switch t {
	case gpu.CommandListTypeCompute:
		return uint32(d.ctx.ComputeQueueIndex)
	case gpu.CommandListTypeCopy:
		return uint32(d.ctx.TransferQueueIndex)
	}
	return uint32(d.ctx.GraphicsQueueIndex)
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Features() gpu.Features {
	return d.features
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

// report queues a validation message and logs it.
func (d *Device) report(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	core.LogWarn("VALIDATION: %s", msg)
	d.pushMessage(msg)
}

// pushMessage queues a message the debug callback has already logged.
func (d *Device) pushMessage(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages.Push(msg)
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

func (d *Device) checkAlive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed != nil {
		return fmt.Errorf("%w: %s", core.ErrDeviceRemoved, d.removed)
	}
	return nil
}

// observe records a lost device so later calls fail fast. It returns err.
func (d *Device) observe(err error) error {
	if err == nil || !isDeviceLost(err) {
		return err
	}
	d.mu.Lock()
	first := d.removed == nil
	if first {
		d.removed = err
	}
	fences := append([]*Fence(nil), d.fences...)
	d.mu.Unlock()
	if first {
		core.LogError("vulkan device %s lost: %s", d.name, err)
		// observe can run under a fence lock.
		for _, f := range fences {
			go f.wake()
		}
	}
	return err
}

func (d *Device) WaitIdle() error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	return d.observe(resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.logical)))
}

func (d *Device) Release() error {
	setReportSink(nil)
	if d.logical != nil {
		vk.DeviceWaitIdle(d.logical)
		d.mu.Lock()
		fences := d.fences
		d.fences = nil
		d.mu.Unlock()
		for _, f := range fences {
			_ = f.Release()
		}
		d.framebuffers.destroyAll(d)
		d.views.destroyAll(d)
		d.passes.destroyAll(d)
		core.LogInfo("Destroying logical device...")
		vk.DestroyDevice(d.logical, d.ctx.Allocator)
		d.logical = nil
	}
	destroyInstance(d.ctx)
	return nil
}

func (d *Device) supportsDepthFormat(format vk.Format) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ok, cached := d.depthSupport[format]; cached {
		return ok
	}
	var properties vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(d.ctx.PhysicalDevice, format, &properties)
	properties.Deref()
	flags := vk.FormatFeatureDepthStencilAttachmentBit
	ok := vk.FormatFeatureFlagBits(properties.OptimalTilingFeatures)&flags == flags
	d.depthSupport[format] = ok
	return ok
}

func (d *Device) detectDepthFormat() bool {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	for _, c := range candidates {
		if d.supportsDepthFormat(c) {
			d.ctx.DepthFormat = c
			return true
		}
	}
	return false
}

func hasDeviceExtension(device vk.PhysicalDevice, name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if err := resultError("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities)); err != nil {
		return err
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()

	if err := resultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil)); err != nil {
		return err
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if err := resultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats)); err != nil {
			return err
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	if err := resultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil)); err != nil {
		return err
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if err := resultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes)); err != nil {
			return err
		}
	}
	return nil
}

func selectPhysicalDevice(ctx *VulkanContext) error {
	var physicalDeviceCount uint32
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(ctx.Instance, &physicalDeviceCount, nil)); err != nil {
		return err
	}
	if physicalDeviceCount == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if err := resultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(ctx.Instance, &physicalDeviceCount, physicalDevices)); err != nil {
		return err
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Compute:              true,
		Transfer:             true,
		DiscreteGPU:          true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if runtime.GOOS == "darwin" {
		requirements.DiscreteGPU = false
	}

	// Prefer a discrete GPU, then take whatever meets the rest.
	for _, discrete := range []bool{requirements.DiscreteGPU, false} {
		requirements.DiscreteGPU = discrete
		for _, pd := range physicalDevices {
			var properties vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &properties)
			properties.Deref()
			properties.Limits.Deref()

			var features vk.PhysicalDeviceFeatures
			vk.GetPhysicalDeviceFeatures(pd, &features)
			features.Deref()

			var memory vk.PhysicalDeviceMemoryProperties
			vk.GetPhysicalDeviceMemoryProperties(pd, &memory)
			memory.Deref()

			var support VulkanSwapchainSupportInfo
			queueInfo, ok := PhysicalDeviceMeetsRequirements(pd, ctx.Surface, &properties, &requirements, &support)
			if !ok {
				continue
			}
			logDeviceInfo(&properties, &memory)

			ctx.PhysicalDevice = pd
			ctx.Properties = properties
			ctx.Features = features
			ctx.Memory = memory
			ctx.SupportInfo = support
			ctx.GraphicsQueueIndex = queueInfo.GraphicsFamilyIndex
			ctx.PresentQueueIndex = queueInfo.PresentFamilyIndex
			ctx.ComputeQueueIndex = queueInfo.ComputeFamilyIndex
			ctx.TransferQueueIndex = queueInfo.TransferFamilyIndex
			core.LogInfo("Physical device selected.")
			return nil
		}
	}
	return fmt.Errorf("no physical devices were found which meet the requirements")
}

func logDeviceInfo(properties *vk.PhysicalDeviceProperties, memory *vk.PhysicalDeviceMemoryProperties) {
	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}

	driver := vk.Version(properties.DriverVersion)
	core.LogInfo("GPU Driver version: %d.%d.%d", driver.Major(), driver.Minor(), driver.Patch())
	api := vk.Version(properties.ApiVersion)
	core.LogInfo("Vulkan API version: %d.%d.%d", api.Major(), api.Minor(), api.Patch())

	for j := 0; j < int(memory.MemoryHeapCount); j++ {
		memory.MemoryHeaps[j].Deref()
		memorySizeGib := float64(memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", memorySizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", memorySizeGib)
		}
	}
}

func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements, outSwapchainSupport *VulkanSwapchainSupportInfo) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	queueInfo := VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		PresentFamilyIndex:  -1,
		ComputeFamilyIndex:  -1,
		TransferFamilyIndex: -1,
	}

	if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required. Skipping.")
		return queueInfo, false
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := vk.QueueFlagBits(queueFamilies[i].QueueFlags)
		currentTransferScore := 0

		if flags&vk.QueueGraphicsBit != 0 && queueInfo.GraphicsFamilyIndex < 0 {
			queueInfo.GraphicsFamilyIndex = int32(i)
			currentTransferScore++
		}
		if flags&vk.QueueComputeBit != 0 {
			if queueInfo.ComputeFamilyIndex < 0 {
				queueInfo.ComputeFamilyIndex = int32(i)
			}
			currentTransferScore++
		}
		// The lowest score increases the likelihood of a dedicated transfer queue.
		if flags&vk.QueueTransferBit != 0 && currentTransferScore <= minTransferScore {
			minTransferScore = currentTransferScore
			queueInfo.TransferFamilyIndex = int32(i)
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return queueInfo, false
		}
		if supportsPresent == vk.True && queueInfo.PresentFamilyIndex < 0 {
			queueInfo.PresentFamilyIndex = int32(i)
		}
	}

	core.LogDebug("Graphics %d | Present %d | Compute %d | Transfer %d | %s",
		queueInfo.GraphicsFamilyIndex, queueInfo.PresentFamilyIndex,
		queueInfo.ComputeFamilyIndex, queueInfo.TransferFamilyIndex,
		cString(properties.DeviceName[:]))

	if (requirements.Graphics && queueInfo.GraphicsFamilyIndex < 0) ||
		(requirements.Present && queueInfo.PresentFamilyIndex < 0) ||
		(requirements.Compute && queueInfo.ComputeFamilyIndex < 0) ||
		(requirements.Transfer && queueInfo.TransferFamilyIndex < 0) {
		return queueInfo, false
	}
	core.LogInfo("Device meets queue requirements.")

	if err := DeviceQuerySwapchainSupport(device, surface, outSwapchainSupport); err != nil {
		core.LogWarn("swapchain support query failed: %s", err)
		return queueInfo, false
	}
	if outSwapchainSupport.FormatCount < 1 || outSwapchainSupport.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping device.")
		return queueInfo, false
	}

	for _, name := range requirements.DeviceExtensionNames {
		if !hasDeviceExtension(device, name) {
			core.LogInfo("Required extension not found: '%s', skipping device.", name)
			return queueInfo, false
		}
	}
	return queueInfo, true
}
