package vkframe

import (
	"sync/atomic"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ImageRenderer draws into a single persistent RenderTarget with one command buffer
// leased for its whole lifetime. The target ends every cycle shader-readable.
type ImageRenderer struct {
	recorder

	pool   *CommandPool
	lease  LeasedBuffer
	target atomic.Pointer[RenderTarget]
	depth  *Image
}

// NewImageRenderer leases one buffer from pool and binds target, which may be nil
// until SetRenderTarget is called.
func NewImageRenderer(device Device, allocator Allocator, pool *CommandPool, pipeline Pipeline, target *RenderTarget) (*ImageRenderer, error) {
	lease, err := pool.Lease(true)
	if err != nil {
		return nil, errors.Wrap(err, "image renderer")
	}
	r := &ImageRenderer{pool: pool, lease: lease}
	r.recorder.init(device, allocator, pipeline)
	if target != nil {
		r.target.Store(target)
	}
	Logger().Info("image renderer created", "buffer", lease.Index, "depth", pipeline.DepthTestingEnabled())
	return r, nil
}

// Target is the currently bound render target.
func (r *ImageRenderer) Target() *RenderTarget { return r.target.Load() }

// SetRenderTarget binds t. It returns once work already submitted against the
// previous target has finished.
func (r *ImageRenderer) SetRenderTarget(t *RenderTarget) error {
	old := r.target.Load()
	if old == nil {
		r.target.Store(t)
		return nil
	}
	old.guard.Lock()
	defer old.guard.Unlock()
	r.target.Store(t)
	return old.Wait(r.device)
}

// Record records fn into a caller-owned command buffer under the same barrier protocol
// the renderer uses, for later submission with RenderExecute(cmd). The target's
// tracked layout advances as though cmd were submitted.
func (r *ImageRenderer) Record(cmd vk.CommandBuffer, fn RenderFunc) error {
	t := r.target.Load()
	if t == nil {
		return errors.WithStack(ErrTargetNotSet)
	}
	t.guard.Lock()
	defer t.guard.Unlock()
	if err := t.Wait(r.device); err != nil {
		return err
	}
	if err := r.ensureDepth(&r.depth, t.Extent); err != nil {
		return err
	}
	_, clear := r.snapshot()
	f := r.newFrame(t, cmd, clear)
	if err := r.record(f, []RenderFunc{fn}); err != nil {
		return err
	}
	f.commit(t)
	return nil
}

// RenderExecute runs one cycle. With preRecorded nil the leased buffer is reset and the
// registered callbacks record into it. Otherwise preRecorded is submitted unchanged: it
// is not reset and the callbacks do not run into it, so it must come from Record (or
// follow the same barrier protocol). To run the callbacks into a caller-owned buffer,
// Record it first. The submission signals the target's fence. A call made while another
// cycle holds the target returns nil without rendering.
func (r *ImageRenderer) RenderExecute(preRecorded vk.CommandBuffer) error {
	t := r.target.Load()
	if t == nil {
		return errors.WithStack(ErrTargetNotSet)
	}
	if !t.guard.TryLock() {
		Logger().Debug("image render skipped: target busy")
		return nil
	}
	defer t.guard.Unlock()
	if r.target.Load() != t {
		return nil
	}

	if err := t.Wait(r.device); err != nil {
		return err
	}

	cmd := preRecorded
	var f *frame
	if cmd == nil {
		cmd = r.lease.Buffer
		if err := r.ensureDepth(&r.depth, t.Extent); err != nil {
			return err
		}
		if err := r.device.ResetCommandBuffer(cmd); err != nil {
			return errors.Wrap(err, "reset image render buffer")
		}
		callbacks, clear := r.snapshot()
		f = r.newFrame(t, cmd, clear)
		if err := r.record(f, callbacks); err != nil {
			return err
		}
	}

	if err := r.device.ResetFence(t.fence); err != nil {
		return errors.Wrap(err, "reset render target fence")
	}
	err := r.device.Submit(r.pipeline.GraphicsQueue(), Submission{
		Buffers: []vk.CommandBuffer{cmd},
		Fence:   t.fence,
	})
	if err != nil {
		return errors.Wrap(err, "submit image render")
	}
	if f != nil {
		f.commit(t)
	}
	return nil
}

func (r *ImageRenderer) newFrame(t *RenderTarget, cmd vk.CommandBuffer, clear ClearValues) *frame {
	f := &frame{
		cmd:         cmd,
		image:       t.Image,
		view:        t.View,
		extent:      t.Extent,
		clear:       clear,
		colorLayout: t.Layout,
		finalLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		finalStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		finalAccess: vk.AccessFlags(vk.AccessShaderReadBit),
	}
	if r.depth != nil && r.pipeline.DepthTestingEnabled() {
		f.depth = r.depth
		f.depthLayout = r.depth.Layout
	}
	return f
}

// commit writes the layouts recorded in f back to the target and depth image.
func (f *frame) commit(t *RenderTarget) {
	if t != nil {
		t.Layout = f.colorLayout
	}
	if f.depth != nil {
		f.depth.Layout = f.depthLayout
	}
}

// Destroy waits for the bound target, releases the depth image and returns the lease.
// It holds the target for the whole release and unbinds it, so a cycle that starts
// afterwards returns ErrTargetNotSet. The renderer must not be reused.
func (r *ImageRenderer) Destroy(waitIdle bool) error {
	if t := r.target.Load(); t != nil {
		t.guard.Lock()
		defer t.guard.Unlock()
		if t.fence != nil {
			if err := t.Wait(r.device); err != nil {
				return err
			}
		}
		r.target.Store(nil)
	}
	if waitIdle {
		if err := r.device.WaitIdle(); err != nil {
			return errors.Wrap(err, "destroy image renderer")
		}
	}
	if r.depth != nil {
		r.allocator.DestroyImage(r.depth)
		r.depth = nil
	}
	if r.lease.Index >= 0 {
		if err := r.pool.Return(r.lease); err != nil {
			return err
		}
		r.lease = LeasedBuffer{Index: -1}
	}
	Logger().Info("image renderer destroyed")
	return nil
}
