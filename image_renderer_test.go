package vkframe

import (
	"testing"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type imageHarness struct {
	r      *ImageRenderer
	dev    *fakeDevice
	alloc  *fakeAllocator
	pool   *CommandPool
	target *RenderTarget
}

func newTestTarget(t *testing.T, dev *fakeDevice, w, h uint32) *RenderTarget {
	t.Helper()
	target, err := NewRenderTarget(dev, &Image{
		Handle: newHandle[vk.Image](),
		View:   newHandle[vk.ImageView](),
		Extent: vk.Extent2D{Width: w, Height: h},
		Layout: vk.ImageLayoutUndefined,
	})
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func newImageHarness(t *testing.T, depth bool) *imageHarness {
	t.Helper()
	h := &imageHarness{dev: newFakeDevice(), alloc: &fakeAllocator{}}
	var err error
	if h.pool, err = NewCommandPool(h.dev, 1); err != nil {
		t.Fatal(err)
	}
	h.target = newTestTarget(t, h.dev, 256, 256)
	if h.r, err = NewImageRenderer(h.dev, h.alloc, h.pool, newFakePipeline(depth), h.target); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestImageRendererLayouts(t *testing.T) {
	h := newImageHarness(t, false)
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if h.target.Layout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Fatalf("target layout %v after a cycle, want shader read only", h.target.Layout)
	}
	first, last := h.dev.barriers[0], h.dev.barriers[len(h.dev.barriers)-1]
	if first.OldLayout != vk.ImageLayoutUndefined {
		t.Errorf("first barrier from %v, want undefined", first.OldLayout)
	}
	if last.NewLayout != vk.ImageLayoutShaderReadOnlyOptimal ||
		last.DstStage != vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit) ||
		last.DstAccess != vk.AccessFlags(vk.AccessShaderReadBit) {
		t.Errorf("final barrier %+v does not hand the image to fragment shaders", last)
	}

	n := len(h.dev.barriers)
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if got := h.dev.barriers[n].OldLayout; got != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("second cycle starts from %v, want shader read only", got)
	}

	s := h.dev.submits[0]
	if s.Fence != h.target.Fence() || len(s.WaitSemaphores) != 0 || len(s.SignalSemaphores) != 0 {
		t.Errorf("offscreen submission %+v should only signal the target fence", s)
	}
	if s.Buffers[0] != h.r.lease.Buffer {
		t.Error("submitted buffer is not the leased one")
	}
}

func TestImageRendererFenceOrder(t *testing.T) {
	h := newImageHarness(t, false)
	for i := 0; i < 2; i++ {
		if err := h.r.RenderExecute(nil); err != nil {
			t.Fatal(err)
		}
	}
	pos := 0
	for cycle := 0; cycle < 2; cycle++ {
		wait := indexOf(h.dev.log, "wait", pos)
		reset := indexOf(h.dev.log, "reset-fence", pos)
		submit := indexOf(h.dev.log, "submit", pos)
		if wait < 0 || !(wait < reset && reset < submit) {
			t.Fatalf("cycle %d: wait %d reset %d submit %d out of order", cycle, wait, reset, submit)
		}
		pos = submit + 1
	}
	if f := h.dev.fences[h.target.Fence()]; !f.signaled || f.resets != 2 {
		t.Errorf("target fence signaled %v resets %d, want true and 2", f.signaled, f.resets)
	}
}

func TestImageRendererPasses(t *testing.T) {
	h := newImageHarness(t, true)
	var m [16]float32
	for i := 0; i < 2; i++ {
		h.r.OnRender(func(cmd vk.CommandBuffer) error {
			if err := h.r.BeginRecord(cmd); err != nil {
				return err
			}
			h.r.PushConstants(cmd, vk.ShaderStageFlags(vk.ShaderStageVertexBit), uint32(unsafe.Sizeof(m)), unsafe.Pointer(&m[0]))
			h.r.PushDescriptorSet(cmd, nil)
			return h.r.EndRecord(cmd)
		})
	}
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if len(h.dev.begins) != 2 {
		t.Fatalf("%d passes, want 2", len(h.dev.begins))
	}
	if h.dev.begins[0].Color.LoadOp != vk.AttachmentLoadOpClear || h.dev.begins[1].Color.LoadOp != vk.AttachmentLoadOpLoad {
		t.Error("first pass should clear and second load")
	}
	if h.dev.pushes != 4 {
		t.Errorf("%d pushes, want 4", h.dev.pushes)
	}
	// The second pass reads what the first wrote.
	second := h.dev.barriers[4]
	if second.OldLayout != vk.ImageLayoutShaderReadOnlyOptimal ||
		second.SrcStage != vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit) {
		t.Errorf("second pass barrier %+v", second)
	}
	if h.r.depth.Layout != vk.ImageLayoutDepthStencilAttachmentOptimal {
		t.Errorf("depth layout %v after the cycle", h.r.depth.Layout)
	}
}

func TestImageRendererTargetNotSet(t *testing.T) {
	dev := newFakeDevice()
	pool, _ := NewCommandPool(dev, 1)
	r, err := NewImageRenderer(dev, &fakeAllocator{}, pool, newFakePipeline(false), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RenderExecute(nil); !errors.Is(err, ErrTargetNotSet) {
		t.Errorf("RenderExecute: got %v, want ErrTargetNotSet", err)
	}
	if err := r.Record(newHandle[vk.CommandBuffer](), nil); !errors.Is(err, ErrTargetNotSet) {
		t.Errorf("Record: got %v, want ErrTargetNotSet", err)
	}
	if err := r.SetRenderTarget(newTestTarget(t, dev, 4, 4)); err != nil {
		t.Fatal(err)
	}
	if err := r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
}

func TestImageRendererPreRecorded(t *testing.T) {
	h := newImageHarness(t, false)
	cmd := newHandle[vk.CommandBuffer]()
	err := h.r.Record(cmd, func(cmd vk.CommandBuffer) error {
		if err := h.r.BeginRecord(cmd); err != nil {
			return err
		}
		return h.r.EndRecord(cmd)
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.target.Layout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Errorf("layout %v after Record", h.target.Layout)
	}
	begins := h.dev.count("begin-cmd")
	leaseResets := h.dev.resets[h.r.lease.Buffer]

	if err := h.r.RenderExecute(cmd); err != nil {
		t.Fatal(err)
	}
	if h.dev.count("begin-cmd") != begins {
		t.Error("pre-recorded submission re-recorded")
	}
	if h.dev.resets[cmd] != 0 || h.dev.resets[h.r.lease.Buffer] != leaseResets {
		t.Error("pre-recorded submission reset a command buffer")
	}
	if len(h.dev.submits) != 1 || h.dev.submits[0].Buffers[0] != cmd {
		t.Fatal("pre-recorded buffer not submitted")
	}
}

func TestImageRendererRecordErrors(t *testing.T) {
	h := newImageHarness(t, false)
	h.r.OnRender(func(cmd vk.CommandBuffer) error {
		if err := h.r.BeginRecord(cmd); err != nil {
			return err
		}
		return h.r.BeginRecord(cmd)
	})
	if err := h.r.RenderExecute(nil); !errors.Is(err, ErrUnbalancedRecord) {
		t.Fatalf("got %v, want ErrUnbalancedRecord", err)
	}
	if len(h.dev.submits) != 0 {
		t.Error("failed cycle submitted")
	}
	if h.target.Layout != vk.ImageLayoutUndefined {
		t.Errorf("failed cycle moved the tracked layout to %v", h.target.Layout)
	}
	if f := h.dev.fences[h.target.Fence()]; !f.signaled || f.resets != 0 {
		t.Error("failed cycle reset the target fence")
	}

	boom := errors.New("boom")
	h = newImageHarness(t, false)
	h.r.OnRender(func(vk.CommandBuffer) error { return boom })
	if err := h.r.RenderExecute(nil); !errors.Is(err, boom) {
		t.Errorf("callback error: got %v", err)
	}
}

func TestImageRendererBusyTarget(t *testing.T) {
	h := newImageHarness(t, false)
	h.target.guard.Lock()
	err := h.r.RenderExecute(nil)
	h.target.guard.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if len(h.dev.submits) != 0 || h.dev.count("wait") != 0 {
		t.Error("render ran while the target was held")
	}
}

func TestImageRendererSetRenderTarget(t *testing.T) {
	h := newImageHarness(t, false)
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	old := h.dev.fences[h.target.Fence()].waits

	next := newTestTarget(t, h.dev, 128, 64)
	if err := h.r.SetRenderTarget(next); err != nil {
		t.Fatal(err)
	}
	if h.dev.fences[h.target.Fence()].waits != old+1 {
		t.Error("SetRenderTarget did not wait for the previous target")
	}
	if h.r.Target() != next {
		t.Fatal("target not swapped")
	}
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if h.dev.submits[1].Fence != next.Fence() {
		t.Error("second cycle did not signal the new target's fence")
	}
	if h.dev.begins[1].Area.Extent.Width != 128 {
		t.Errorf("rendering area %v, want the new target's extent", h.dev.begins[1].Area.Extent)
	}
	if h.target.Layout != vk.ImageLayoutShaderReadOnlyOptimal || next.Layout != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Error("layouts not tracked per target")
	}
}

func TestImageRendererDepthGrowth(t *testing.T) {
	h := newImageHarness(t, true)
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if len(h.alloc.created) != 1 {
		t.Fatalf("%d depth images, want 1", len(h.alloc.created))
	}
	if err := h.r.SetRenderTarget(newTestTarget(t, h.dev, 512, 128)); err != nil {
		t.Fatal(err)
	}
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if len(h.alloc.created) != 2 || h.alloc.destroyed != 1 {
		t.Fatalf("created %d destroyed %d, want 2 and 1", len(h.alloc.created), h.alloc.destroyed)
	}
	if got := h.alloc.created[1]; got.Width != 512 || got.Height != 256 {
		t.Errorf("grown depth %dx%d, want 512x256", got.Width, got.Height)
	}
}

func TestImageRendererDestroy(t *testing.T) {
	h := newImageHarness(t, true)
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	if err := h.r.Destroy(true); err != nil {
		t.Fatal(err)
	}
	if h.pool.Leased() != 0 || h.alloc.destroyed != 1 || h.dev.idles != 1 {
		t.Errorf("leased %d depth destroyed %d idles %d", h.pool.Leased(), h.alloc.destroyed, h.dev.idles)
	}
	if err := h.r.Destroy(false); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
	if err := h.target.Destroy(h.dev); err != nil {
		t.Fatal(err)
	}
	if h.dev.destroyed.fences != 1 || h.target.Fence() != nil {
		t.Error("target fence not released")
	}
}

func TestImageRendererDestroyExcludesCycles(t *testing.T) {
	h := newImageHarness(t, true)
	if err := h.r.RenderExecute(nil); err != nil {
		t.Fatal(err)
	}
	submits := len(h.dev.submits)

	// A cycle attempted while Destroy waits on the target must not run.
	var during error
	h.dev.onWait = func() {
		h.dev.onWait = nil
		during = h.r.RenderExecute(nil)
	}
	if err := h.r.Destroy(false); err != nil {
		t.Fatal(err)
	}
	if during != nil || len(h.dev.submits) != submits {
		t.Fatalf("cycle ran during Destroy: err %v, %d submissions", during, len(h.dev.submits)-submits)
	}

	if h.r.Target() != nil {
		t.Error("Destroy left the target bound")
	}
	if err := h.r.RenderExecute(nil); !errors.Is(err, ErrTargetNotSet) {
		t.Errorf("cycle after Destroy: got %v, want ErrTargetNotSet", err)
	}
	if len(h.alloc.created) != 1 || h.alloc.destroyed != 1 {
		t.Errorf("depth created %d destroyed %d after Destroy, want 1 and 1", len(h.alloc.created), h.alloc.destroyed)
	}
}
