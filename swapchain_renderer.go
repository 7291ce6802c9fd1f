package vkframe

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// SwapchainRenderer runs the acquire, record, submit, present cycle against a
// swapchain with B sync slots, B being the buffering mode. Every slot owns a leased
// command buffer, a frameSync and, when the pipeline tests depth, a depth image.
//
// Slots are indexed by submission order (SyncFrame), not by the image index the
// swapchain hands out (SwapFrame), so a slot's fence and semaphores are only reused
// after its own previous work retired.
type SwapchainRenderer struct {
	recorder

	swapchain Swapchain
	pool      *CommandPool
	buffering BufferingMode

	leases []LeasedBuffer
	frames []frameSync
	depth  []*Image

	guard     sync.Mutex
	syncFrame atomic.Uint32
	swapFrame atomic.Uint32

	// failed is the first error a cycle returned. Guarded by guard.
	failed error
}

// NewSwapchainRenderer leases one buffer per slot from pool and creates the slots'
// synchronization objects. The pool must have at least mode free buffers.
func NewSwapchainRenderer(device Device, allocator Allocator, pool *CommandPool, swapchain Swapchain, pipeline Pipeline, mode BufferingMode) (*SwapchainRenderer, error) {
	if !mode.Valid() {
		return nil, errors.Errorf("swapchain renderer: buffering %d not one of 2, 3, 4", mode)
	}
	if pool.Available() < int(mode) {
		return nil, errors.Wrapf(ErrPoolExhausted, "swapchain renderer needs %d buffers, pool has %d", mode, pool.Available())
	}
	r := &SwapchainRenderer{
		swapchain: swapchain,
		pool:      pool,
		buffering: mode,
		depth:     make([]*Image, mode),
	}
	r.recorder.init(device, allocator, pipeline)
	for i := 0; i < int(mode); i++ {
		lease, err := pool.Lease(true)
		if err != nil {
			r.release()
			return nil, errors.Wrapf(err, "lease slot %d", i)
		}
		r.leases = append(r.leases, lease)
		fs, err := newFrameSync(device)
		if err != nil {
			r.release()
			return nil, errors.Wrapf(err, "sync slot %d", i)
		}
		r.frames = append(r.frames, fs)
	}
	Logger().Info("swapchain renderer created", "buffering", mode.String(), "images", swapchain.ImageCount(),
		"depth", pipeline.DepthTestingEnabled())
	return r, nil
}

func (r *SwapchainRenderer) Buffering() BufferingMode { return r.buffering }

// SyncFrame is the sync slot the next cycle uses.
func (r *SwapchainRenderer) SyncFrame() uint32 { return r.syncFrame.Load() }

// SwapFrame is the swapchain image index acquired by the last cycle.
func (r *SwapchainRenderer) SwapFrame() uint32 { return r.swapFrame.Load() }

// RenderExecute runs one frame. It returns nil without rendering when another cycle
// is in progress or the swapchain is not presentable. An out-of-date swapchain is
// marked unpresentable and the slot index rewinds to 0; the caller recreates the
// swapchain and marks it presentable again.
//
// Any other failure is returned and is final: a failed cycle may leave an acquired
// image unpresented and its semaphore signaled, so every later call returns
// ErrRendererFailed without touching the device. Err reports the original error.
func (r *SwapchainRenderer) RenderExecute() error {
	if !r.guard.TryLock() {
		Logger().Debug("swapchain render skipped: cycle in progress")
		return nil
	}
	defer r.guard.Unlock()
	if r.failed != nil {
		return errors.Wrap(ErrRendererFailed, r.failed.Error())
	}
	if err := r.execute(); err != nil {
		r.failed = err
		Logger().Error("swapchain renderer failed", "err", err)
		return err
	}
	return nil
}

// Err is the error that stopped the renderer, or nil.
func (r *SwapchainRenderer) Err() error {
	r.guard.Lock()
	defer r.guard.Unlock()
	return r.failed
}

func (r *SwapchainRenderer) execute() error {
	if !r.swapchain.Presentable() {
		return nil
	}

	slot := r.syncFrame.Load()
	fs := &r.frames[slot]
	if err := r.device.WaitFence(fs.inFlight, vk.MaxUint64); err != nil {
		return errors.Wrapf(err, "wait in-flight fence %d", slot)
	}

	index, ret := r.swapchain.AcquireNextImage(vk.MaxUint64, fs.imageAvailable)
	if ok, err := r.classify("acquire next image", ret); !ok {
		return err
	}
	r.swapFrame.Store(index)
	if !r.swapchain.Presentable() {
		return nil
	}

	cmd := r.leases[slot].Buffer
	if err := r.device.ResetCommandBuffer(cmd); err != nil {
		return errors.Wrapf(err, "reset slot %d buffer", slot)
	}
	extent := r.swapchain.Extent()
	if err := r.ensureDepth(&r.depth[slot], extent); err != nil {
		return err
	}

	callbacks, clear := r.snapshot()
	f := &frame{
		cmd:         cmd,
		image:       r.swapchain.Image(index),
		view:        r.swapchain.ImageView(index),
		extent:      extent,
		clear:       clear,
		colorLayout: vk.ImageLayoutUndefined,
		finalLayout: vk.ImageLayoutPresentSrc,
		finalStage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
	}
	if d := r.depth[slot]; d != nil && r.pipeline.DepthTestingEnabled() {
		f.depth = d
		f.depthLayout = d.Layout
	}
	if err := r.record(f, callbacks); err != nil {
		return err
	}

	if err := r.device.ResetFence(fs.inFlight); err != nil {
		return errors.Wrapf(err, "reset in-flight fence %d", slot)
	}
	err := r.device.Submit(r.pipeline.GraphicsQueue(), Submission{
		WaitSemaphores:   []vk.Semaphore{fs.imageAvailable},
		WaitStages:       []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		Buffers:          []vk.CommandBuffer{cmd},
		SignalSemaphores: []vk.Semaphore{fs.renderFinished},
		Fence:            fs.inFlight,
	})
	if err != nil {
		return errors.Wrapf(err, "submit slot %d", slot)
	}
	f.commit(nil)

	ret = r.swapchain.Present(r.pipeline.PresentQueue(), fs.renderFinished, index)
	r.syncFrame.Store((slot + 1) % uint32(len(r.frames)))
	_, err = r.classify("present", ret)
	return err
}

// classify sorts an acquire or present result. Suboptimal counts as success.
func (r *SwapchainRenderer) classify(op string, ret vk.Result) (bool, error) {
	switch ret {
	case vk.Success, vk.Suboptimal:
		return true, nil
	case vk.ErrorOutOfDate:
		r.swapchain.SetPresentable(false)
		r.syncFrame.Store(0)
		Logger().Info("swapchain out of date", "op", op)
		return false, nil
	}
	return false, NewError(op, ret)
}

// Destroy waits for every slot, then releases depth images, sync objects and leases.
// After a failed cycle the fences may never signal, so it waits for the device to go
// idle instead.
func (r *SwapchainRenderer) Destroy(waitIdle bool) error {
	r.guard.Lock()
	defer r.guard.Unlock()
	if r.failed != nil {
		waitIdle = true
	}
	for i := range r.frames {
		if r.frames[i].inFlight == nil || r.failed != nil {
			continue
		}
		if err := r.device.WaitFence(r.frames[i].inFlight, vk.MaxUint64); err != nil {
			return errors.Wrapf(err, "wait in-flight fence %d", i)
		}
	}
	if waitIdle {
		if err := r.device.WaitIdle(); err != nil {
			return errors.Wrap(err, "destroy swapchain renderer")
		}
	}
	if err := r.release(); err != nil {
		return err
	}
	Logger().Info("swapchain renderer destroyed")
	return nil
}

func (r *SwapchainRenderer) release() error {
	for i, d := range r.depth {
		if d != nil {
			r.allocator.DestroyImage(d)
			r.depth[i] = nil
		}
	}
	for i := range r.frames {
		r.frames[i].destroy(r.device)
	}
	r.frames = nil
	var err error
	for _, lease := range r.leases {
		if rerr := r.pool.Return(lease); rerr != nil && err == nil {
			err = rerr
		}
	}
	r.leases = nil
	return err
}
