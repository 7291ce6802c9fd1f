package vkframe

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Device is the logical device as seen by the frame core. The platform package
// implements it over vulkan-go; tests implement it with fakes.
type Device interface {
	// GraphicsQueueFamily is the family command pools are created for.
	GraphicsQueueFamily() uint32
	// WaitIdle blocks until the device has no pending work.
	WaitIdle() error
	// DepthFormat is the depth format depth targets are created with.
	DepthFormat() vk.Format

	CreateCommandPool(family uint32) (vk.CommandPool, error)
	DestroyCommandPool(pool vk.CommandPool)
	ResetCommandPool(pool vk.CommandPool) error
	AllocateCommandBuffers(pool vk.CommandPool, count uint32) ([]vk.CommandBuffer, error)
	FreeCommandBuffers(pool vk.CommandPool, buffers []vk.CommandBuffer)
	ResetCommandBuffer(cmd vk.CommandBuffer) error

	CreateFence(signaled bool) (vk.Fence, error)
	DestroyFence(fence vk.Fence)
	WaitFence(fence vk.Fence, timeout uint64) error
	ResetFence(fence vk.Fence) error
	CreateSemaphore() (vk.Semaphore, error)
	DestroySemaphore(sem vk.Semaphore)

	// Submit queues one batch on queue.
	Submit(queue vk.Queue, s Submission) error

	Recorder
}

// Recorder records commands into a command buffer.
type Recorder interface {
	BeginCommandBuffer(cmd vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error
	EndCommandBuffer(cmd vk.CommandBuffer) error
	CmdImageBarrier(cmd vk.CommandBuffer, b ImageBarrier)
	CmdBeginRendering(cmd vk.CommandBuffer, info RenderingInfo)
	CmdEndRendering(cmd vk.CommandBuffer)
	CmdSetViewport(cmd vk.CommandBuffer, viewport vk.Viewport)
	CmdSetScissor(cmd vk.CommandBuffer, scissor vk.Rect2D)
	CmdBindPipeline(cmd vk.CommandBuffer, pipeline vk.Pipeline)
	CmdPushConstants(cmd vk.CommandBuffer, layout vk.PipelineLayout, stage vk.ShaderStageFlags, offset, size uint32, data unsafe.Pointer)
	CmdPushDescriptorSet(cmd vk.CommandBuffer, layout vk.PipelineLayout, set uint32, writes []vk.WriteDescriptorSet)
}

// Submission is one vkQueueSubmit batch. WaitStages pairs with WaitSemaphores.
type Submission struct {
	WaitSemaphores   []vk.Semaphore
	WaitStages       []vk.PipelineStageFlags
	Buffers          []vk.CommandBuffer
	SignalSemaphores []vk.Semaphore
	Fence            vk.Fence
}

// ImageBarrier is a single image layout transition on one queue family.
type ImageBarrier struct {
	Image     vk.Image
	Aspect    vk.ImageAspectFlags
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	SrcStage  vk.PipelineStageFlags
	DstStage  vk.PipelineStageFlags
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// AttachmentInfo describes one attachment of a dynamic rendering scope.
type AttachmentInfo struct {
	View    vk.ImageView
	Layout  vk.ImageLayout
	LoadOp  vk.AttachmentLoadOp
	StoreOp vk.AttachmentStoreOp
	Clear   ClearValues
}

// RenderingInfo is the argument of vkCmdBeginRendering with a single color attachment.
type RenderingInfo struct {
	Area  vk.Rect2D
	Color AttachmentInfo
	// Depth is nil when the pipeline does not test depth.
	Depth *AttachmentInfo
}

// ClearValues are the clear color and depth/stencil written by the first pass of a cycle.
type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

func DefaultClearValues() ClearValues {
	return ClearValues{Color: [4]float32{0, 0, 0, 1}, Depth: 1}
}
