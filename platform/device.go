package platform

import (
	"unsafe"

	"github.com/andewx/vkframe"
	"github.com/andewx/vkframe/internal/vkext"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// VulkanDevice is the logical device, its queues and the physical device it runs on.
// It implements vkframe.Device.
type VulkanDevice struct {
	gpu        vk.PhysicalDevice
	handle     vk.Device
	families   *QueueFamilies
	extensions []string

	graphicsQueue vk.Queue
	presentQueue  vk.Queue

	properties       vk.PhysicalDeviceProperties
	memoryProperties vk.PhysicalDeviceMemoryProperties
	depthFormat      vk.Format
}

var _ vkframe.Device = (*VulkanDevice)(nil)

// NewDevice picks a GPU able to present to surface, creates the logical device with
// dynamic rendering enabled and loads the extension commands.
func NewDevice(instance *Instance, surface vk.Surface, cfg Config) (*VulkanDevice, error) {
	gpu, families, actual, err := selectGPU(instance.Handle(), surface)
	if err != nil {
		return nil, err
	}
	d := &VulkanDevice{gpu: gpu, families: families}
	vk.GetPhysicalDeviceProperties(gpu, &d.properties)
	d.properties.Deref()
	vk.GetPhysicalDeviceMemoryProperties(gpu, &d.memoryProperties)
	d.memoryProperties.Deref()

	exts := NewExtensionSet(actual, cfg.DeviceExtensions, RequiredDeviceExtensions)
	if ok, missing := exts.HasWanted(); !ok {
		vkframe.Logger().Warn("device extensions unavailable", "missing", missing)
	}
	d.extensions = exts.GetExtensions()

	features, freeFeatures := vkext.DynamicRenderingFeatures()
	defer freeFeatures()

	queueInfos := families.CreateInfos()
	layers := instance.Layers()
	var device vk.Device
	ret := vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   features,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(d.extensions)),
		PpEnabledExtensionNames: d.extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &device)
	if err := newError("create device", ret); err != nil {
		return nil, err
	}
	d.handle = device

	if err := vkext.Load(device); err != nil {
		d.Destroy()
		return nil, err
	}
	if !vkext.HasPushDescriptors() {
		vkframe.Logger().Warn("push descriptors unavailable")
	}

	vk.GetDeviceQueue(device, families.Graphics(), 0, &d.graphicsQueue)
	d.presentQueue = d.graphicsQueue
	if !families.Shared() {
		vk.GetDeviceQueue(device, families.Present(), 0, &d.presentQueue)
	}

	d.depthFormat, err = d.pickDepthFormat()
	if err != nil {
		d.Destroy()
		return nil, err
	}

	vkframe.Logger().Info("vulkan device created",
		"gpu", vk.ToString(d.properties.DeviceName[:]),
		"graphics_family", families.Graphics(),
		"present_family", families.Present(),
		"extensions", len(d.extensions),
		"depth_format", d.depthFormat)
	return d, nil
}

// selectGPU returns the first discrete GPU that satisfies the requirements, falling
// back to the first suitable one of any type.
func selectGPU(instance vk.Instance, surface vk.Surface) (vk.PhysicalDevice, *QueueFamilies, []string, error) {
	var count uint32
	ret := vk.EnumeratePhysicalDevices(instance, &count, nil)
	if err := newError("enumerate physical devices", ret); err != nil {
		return nil, nil, nil, err
	}
	if count == 0 {
		return nil, nil, nil, errors.New("no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, count)
	ret = vk.EnumeratePhysicalDevices(instance, &count, gpus)
	if err := newError("enumerate physical devices", ret); err != nil {
		return nil, nil, nil, err
	}

	var (
		pick         vk.PhysicalDevice
		pickFamilies *QueueFamilies
		pickExts     []string
	)
	for _, gpu := range gpus {
		families, err := NewQueueFamilies(gpu, surface)
		if err != nil {
			continue
		}
		actual, err := DeviceExtensions(gpu)
		if err != nil {
			continue
		}
		if ok, _ := NewExtensionSet(actual, nil, RequiredDeviceExtensions).HasRequired(); !ok {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()
		if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			return gpu, families, actual, nil
		}
		if pick == nil {
			pick, pickFamilies, pickExts = gpu, families, actual
		}
	}
	if pick == nil {
		return nil, nil, nil, errors.New("no GPU supports graphics, presentation and swapchains")
	}
	return pick, pickFamilies, pickExts, nil
}

func (d *VulkanDevice) pickDepthFormat() (vk.Format, error) {
	for _, format := range vkframe.DepthFormatCandidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.gpu, format, &props)
		props.Deref()
		if props.OptimalTilingFeatures&vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit) != 0 {
			return format, nil
		}
	}
	return vk.FormatUndefined, errors.New("no supported depth format")
}

func (d *VulkanDevice) Handle() vk.Device                 { return d.handle }
func (d *VulkanDevice) PhysicalDevice() vk.PhysicalDevice { return d.gpu }
func (d *VulkanDevice) GraphicsQueue() vk.Queue           { return d.graphicsQueue }
func (d *VulkanDevice) PresentQueue() vk.Queue            { return d.presentQueue }
func (d *VulkanDevice) Families() *QueueFamilies          { return d.families }
func (d *VulkanDevice) DepthFormat() vk.Format            { return d.depthFormat }
func (d *VulkanDevice) GraphicsQueueFamily() uint32       { return d.families.Graphics() }

func (d *VulkanDevice) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return d.memoryProperties
}

func (d *VulkanDevice) Properties() vk.PhysicalDeviceProperties {
	return d.properties
}

func (d *VulkanDevice) WaitIdle() error {
	return newError("device wait idle", vk.DeviceWaitIdle(d.handle))
}

func (d *VulkanDevice) CreateCommandPool(family uint32) (vk.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		// Buffers are reset one at a time when leased.
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	return pool, newError("create command pool", ret)
}

func (d *VulkanDevice) DestroyCommandPool(pool vk.CommandPool) {
	vk.DestroyCommandPool(d.handle, pool, nil)
}

func (d *VulkanDevice) ResetCommandPool(pool vk.CommandPool) error {
	return newError("reset command pool", vk.ResetCommandPool(d.handle, pool, 0))
}

func (d *VulkanDevice) AllocateCommandBuffers(pool vk.CommandPool, count uint32) ([]vk.CommandBuffer, error) {
	buffers := make([]vk.CommandBuffer, count)
	ret := vk.AllocateCommandBuffers(d.handle, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}, buffers)
	if err := newError("allocate command buffers", ret); err != nil {
		return nil, err
	}
	return buffers, nil
}

func (d *VulkanDevice) FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	vk.FreeCommandBuffers(d.handle, pool, uint32(len(buffers)), buffers)
}

func (d *VulkanDevice) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	ret := vk.ResetCommandBuffer(cmd, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))
	return newError("reset command buffer", ret)
}

func (d *VulkanDevice) CreateFence(signaled bool) (vk.Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(d.handle, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	return fence, newError("create fence", ret)
}

func (d *VulkanDevice) DestroyFence(fence vk.Fence) {
	vk.DestroyFence(d.handle, fence, nil)
}

func (d *VulkanDevice) WaitFence(fence vk.Fence, timeout uint64) error {
	ret := vk.WaitForFences(d.handle, 1, []vk.Fence{fence}, vk.True, timeout)
	return newError("wait for fence", ret)
}

func (d *VulkanDevice) ResetFence(fence vk.Fence) error {
	return newError("reset fence", vk.ResetFences(d.handle, 1, []vk.Fence{fence}))
}

func (d *VulkanDevice) CreateSemaphore() (vk.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	return sem, newError("create semaphore", ret)
}

func (d *VulkanDevice) DestroySemaphore(sem vk.Semaphore) {
	vk.DestroySemaphore(d.handle, sem, nil)
}

func (d *VulkanDevice) Submit(queue vk.Queue, s vkframe.Submission) error {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(s.Buffers)),
		PCommandBuffers:    s.Buffers,
	}
	if len(s.WaitSemaphores) > 0 {
		info.WaitSemaphoreCount = uint32(len(s.WaitSemaphores))
		info.PWaitSemaphores = s.WaitSemaphores
		info.PWaitDstStageMask = s.WaitStages
	}
	if len(s.SignalSemaphores) > 0 {
		info.SignalSemaphoreCount = uint32(len(s.SignalSemaphores))
		info.PSignalSemaphores = s.SignalSemaphores
	}
	ret := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{info}, s.Fence)
	return newError("queue submit", ret)
}

func (d *VulkanDevice) BeginCommandBuffer(cmd vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	ret := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	})
	return newError("begin command buffer", ret)
}

func (d *VulkanDevice) EndCommandBuffer(cmd vk.CommandBuffer) error {
	return newError("end command buffer", vk.EndCommandBuffer(cmd))
}

func (d *VulkanDevice) CmdImageBarrier(cmd vk.CommandBuffer, b vkframe.ImageBarrier) {
	vk.CmdPipelineBarrier(cmd, b.SrcStage, b.DstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       b.SrcAccess,
		DstAccessMask:       b.DstAccess,
		OldLayout:           b.OldLayout,
		NewLayout:           b.NewLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               b.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: b.Aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}})
}

func toAttachment(a vkframe.AttachmentInfo, depth bool) vkext.Attachment {
	out := vkext.Attachment{
		View:    a.View,
		Layout:  a.Layout,
		LoadOp:  a.LoadOp,
		StoreOp: a.StoreOp,
		Clear:   a.Clear.Color,
		Stencil: a.Clear.Stencil,
	}
	if depth {
		out.Clear = [4]float32{a.Clear.Depth}
	}
	return out
}

func (d *VulkanDevice) CmdBeginRendering(cmd vk.CommandBuffer, info vkframe.RenderingInfo) {
	color := toAttachment(info.Color, false)
	if info.Depth == nil {
		vkext.CmdBeginRendering(cmd, info.Area, color, nil, false)
		return
	}
	depth := toAttachment(*info.Depth, true)
	vkext.CmdBeginRendering(cmd, info.Area, color, &depth, vkframe.HasStencil(d.depthFormat))
}

func (d *VulkanDevice) CmdEndRendering(cmd vk.CommandBuffer) {
	vkext.CmdEndRendering(cmd)
}

func (d *VulkanDevice) CmdSetViewport(cmd vk.CommandBuffer, viewport vk.Viewport) {
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
}

func (d *VulkanDevice) CmdSetScissor(cmd vk.CommandBuffer, scissor vk.Rect2D) {
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})
}

func (d *VulkanDevice) CmdBindPipeline(cmd vk.CommandBuffer, pipeline vk.Pipeline) {
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, pipeline)
}

func (d *VulkanDevice) CmdPushConstants(cmd vk.CommandBuffer, layout vk.PipelineLayout, stage vk.ShaderStageFlags, offset, size uint32, data unsafe.Pointer) {
	vk.CmdPushConstants(cmd, layout, stage, offset, size, data)
}

func (d *VulkanDevice) CmdPushDescriptorSet(cmd vk.CommandBuffer, layout vk.PipelineLayout, set uint32, writes []vk.WriteDescriptorSet) {
	vkext.CmdPushDescriptorSet(cmd, layout, set, writes)
}

// Destroy waits for the device to go idle and destroys it. Everything created from the
// device must already be destroyed.
func (d *VulkanDevice) Destroy() {
	if d.handle == nil {
		return
	}
	vk.DeviceWaitIdle(d.handle)
	vk.DestroyDevice(d.handle, nil)
	d.handle = nil
}
