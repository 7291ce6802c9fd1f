package vkframe

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// RenderFunc records draw commands into cmd. It brackets its draws with the
// renderer's BeginRecord and EndRecord.
type RenderFunc func(cmd vk.CommandBuffer) error

// frame is the recording state of one render cycle. Layouts are staged here and
// written back to the target and depth image only after the cycle was submitted.
type frame struct {
	cmd    vk.CommandBuffer
	image  vk.Image
	view   vk.ImageView
	extent vk.Extent2D
	clear  ClearValues

	colorLayout vk.ImageLayout
	finalLayout vk.ImageLayout
	finalStage  vk.PipelineStageFlags
	finalAccess vk.AccessFlags

	depth       *Image
	depthLayout vk.ImageLayout

	passes int
	open   bool
}

// recorder holds what both renderers share: the callback list, clear values, depth
// growth and the attachment barrier protocol.
type recorder struct {
	device    Device
	allocator Allocator
	pipeline  Pipeline

	hooks     sync.Mutex
	callbacks []RenderFunc
	clear     ClearValues

	cur *frame
}

func (r *recorder) init(device Device, allocator Allocator, pipeline Pipeline) {
	r.device = device
	r.allocator = allocator
	r.pipeline = pipeline
	r.clear = DefaultClearValues()
}

// OnRender registers fn. Callbacks run in registration order on every cycle.
func (r *recorder) OnRender(fn RenderFunc) {
	r.hooks.Lock()
	r.callbacks = append(r.callbacks, fn)
	r.hooks.Unlock()
}

// SetClearValues sets the color and depth the first pass of each cycle clears to.
func (r *recorder) SetClearValues(c ClearValues) {
	r.hooks.Lock()
	r.clear = c
	r.hooks.Unlock()
}

func (r *recorder) snapshot() ([]RenderFunc, ClearValues) {
	r.hooks.Lock()
	defer r.hooks.Unlock()
	fns := make([]RenderFunc, len(r.callbacks))
	copy(fns, r.callbacks)
	return fns, r.clear
}

// record begins f.cmd, runs the callbacks and ends it. A cycle in which no callback
// recorded a pass gets a single clear-only pass so the image still reaches its final layout.
func (r *recorder) record(f *frame, callbacks []RenderFunc) error {
	err := r.device.BeginCommandBuffer(f.cmd, vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit))
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	r.cur = f
	defer func() { r.cur = nil }()

	for i, fn := range callbacks {
		if err := fn(f.cmd); err != nil {
			return errors.Wrapf(err, "render callback %d", i)
		}
		if f.open {
			return errors.Wrapf(ErrUnbalancedRecord, "render callback %d left rendering open", i)
		}
	}
	if f.passes == 0 {
		if err := r.BeginRecord(f.cmd); err != nil {
			return err
		}
		if err := r.EndRecord(f.cmd); err != nil {
			return err
		}
	}
	return errors.Wrap(r.device.EndCommandBuffer(f.cmd), "end command buffer")
}

// BeginRecord transitions the color target (and depth, when enabled) to attachment
// layouts, begins dynamic rendering over the full target, sets viewport and scissor
// and binds the pipeline. The first pass of a cycle clears, later passes load.
func (r *recorder) BeginRecord(cmd vk.CommandBuffer) error {
	f := r.cur
	if f == nil || f.cmd != cmd {
		return errors.WithStack(ErrNotRecording)
	}
	if f.open {
		return errors.Wrap(ErrUnbalancedRecord, "BeginRecord called twice")
	}

	load := vk.AttachmentLoadOpClear
	colorBarrier := ImageBarrier{
		Image:     f.image,
		Aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
		OldLayout: f.colorLayout,
		NewLayout: vk.ImageLayoutColorAttachmentOptimal,
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		DstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}
	if f.passes > 0 {
		load = vk.AttachmentLoadOpLoad
		colorBarrier.SrcStage = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		colorBarrier.SrcAccess = vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		colorBarrier.DstAccess |= vk.AccessFlags(vk.AccessColorAttachmentReadBit)
	}
	r.device.CmdImageBarrier(cmd, colorBarrier)

	info := RenderingInfo{
		Area: vk.Rect2D{Extent: f.extent},
		Color: AttachmentInfo{
			View:    f.view,
			Layout:  vk.ImageLayoutColorAttachmentOptimal,
			LoadOp:  load,
			StoreOp: vk.AttachmentStoreOpStore,
			Clear:   f.clear,
		},
	}

	if f.depth != nil {
		fragmentTests := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
		depthBarrier := ImageBarrier{
			Image:     f.depth.Handle,
			Aspect:    f.depth.Aspect,
			OldLayout: f.depthLayout,
			NewLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			SrcStage:  fragmentTests,
			DstStage:  fragmentTests,
			DstAccess: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
		}
		if f.depthLayout != vk.ImageLayoutUndefined {
			depthBarrier.SrcAccess = vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit)
		}
		r.device.CmdImageBarrier(cmd, depthBarrier)
		f.depthLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
		info.Depth = &AttachmentInfo{
			View:    f.depth.View,
			Layout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:  load,
			StoreOp: vk.AttachmentStoreOpStore,
			Clear:   f.clear,
		}
	}

	r.device.CmdBeginRendering(cmd, info)
	r.device.CmdSetViewport(cmd, vk.Viewport{
		Width:    float32(f.extent.Width),
		Height:   float32(f.extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	})
	r.device.CmdSetScissor(cmd, vk.Rect2D{Extent: f.extent})
	r.device.CmdBindPipeline(cmd, r.pipeline.Handle())

	f.colorLayout = vk.ImageLayoutColorAttachmentOptimal
	f.open = true
	return nil
}

// EndRecord ends dynamic rendering and transitions the color target to its final
// layout: shader-readable for offscreen targets, presentable for swapchain images.
func (r *recorder) EndRecord(cmd vk.CommandBuffer) error {
	f := r.cur
	if f == nil || f.cmd != cmd {
		return errors.WithStack(ErrNotRecording)
	}
	if !f.open {
		return errors.Wrap(ErrUnbalancedRecord, "EndRecord without BeginRecord")
	}
	r.device.CmdEndRendering(cmd)
	r.device.CmdImageBarrier(cmd, ImageBarrier{
		Image:     f.image,
		Aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
		OldLayout: vk.ImageLayoutColorAttachmentOptimal,
		NewLayout: f.finalLayout,
		SrcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStage:  f.finalStage,
		SrcAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstAccess: f.finalAccess,
	})
	if f.depth != nil {
		r.device.CmdImageBarrier(cmd, ImageBarrier{
			Image:     f.depth.Handle,
			Aspect:    f.depth.Aspect,
			OldLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			NewLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			SrcStage:  vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
			DstStage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
			SrcAccess: vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			DstAccess: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
		})
	}
	f.colorLayout = f.finalLayout
	f.open = false
	f.passes++
	return nil
}

// PushConstants writes size bytes at data into the pipeline layout's push constant range.
func (r *recorder) PushConstants(cmd vk.CommandBuffer, stage vk.ShaderStageFlags, size uint32, data unsafe.Pointer) {
	r.device.CmdPushConstants(cmd, r.pipeline.Layout(), stage, 0, size, data)
}

// PushDescriptorSet pushes writes into descriptor set 0 of the pipeline layout.
func (r *recorder) PushDescriptorSet(cmd vk.CommandBuffer, writes []vk.WriteDescriptorSet) {
	r.device.CmdPushDescriptorSet(cmd, r.pipeline.Layout(), 0, writes)
}

// ensureDepth makes *img at least extent large when the pipeline tests depth. A
// too-small image is destroyed and recreated; the caller must know it is idle.
func (r *recorder) ensureDepth(img **Image, extent vk.Extent2D) error {
	if !r.pipeline.DepthTestingEnabled() {
		return nil
	}
	cur := *img
	if cur != nil && covers(cur.Extent, extent) {
		return nil
	}
	want := extent
	if cur != nil {
		want = maxExtent(cur.Extent, extent)
		r.allocator.DestroyImage(cur)
		*img = nil
	}
	next, err := r.allocator.CreateImage(DepthSpec(r.device.DepthFormat(), want))
	if err != nil {
		return errors.Wrap(err, "create depth target")
	}
	next.Layout = vk.ImageLayoutUndefined
	*img = next
	Logger().Debug("depth target allocated", "width", want.Width, "height", want.Height, "format", next.Format)
	return nil
}
