package vkframe

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// newHandle makes a distinct non-null handle of any vulkan-go handle type.
func newHandle[T any]() T {
	p := new(byte)
	return *(*T)(unsafe.Pointer(&p))
}

type fakeFence struct {
	signaled bool
	waits    int
	resets   int
}

// fakeDevice records calls instead of talking to a GPU. Submitted work completes
// immediately: Submit consumes its wait semaphores and signals its semaphores and fence.
type fakeDevice struct {
	mu sync.Mutex

	pools     int
	buffers   []vk.CommandBuffer
	fences    map[vk.Fence]*fakeFence
	semaphore int
	signaled  map[vk.Semaphore]bool
	destroyed struct{ fences, semaphores, pools int }

	log      []string
	submits  []Submission
	barriers []ImageBarrier
	begins   []RenderingInfo
	pushes   int
	resets   map[vk.CommandBuffer]int
	idles    int

	// violations lists semaphore misuse a driver would reject.
	violations []string

	depthFormat vk.Format
	submitErr   error
	resetErr    error
	onWait      func()
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		fences:      map[vk.Fence]*fakeFence{},
		resets:      map[vk.CommandBuffer]int{},
		signaled:    map[vk.Semaphore]bool{},
		depthFormat: vk.FormatD32Sfloat,
	}
}

func (d *fakeDevice) record(format string, args ...any) {
	d.log = append(d.log, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) GraphicsQueueFamily() uint32 { return 0 }
func (d *fakeDevice) DepthFormat() vk.Format      { return d.depthFormat }

func (d *fakeDevice) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.idles++
	return nil
}

func (d *fakeDevice) CreateCommandPool(family uint32) (vk.CommandPool, error) {
	d.pools++
	return newHandle[vk.CommandPool](), nil
}

func (d *fakeDevice) DestroyCommandPool(vk.CommandPool) { d.destroyed.pools++ }

func (d *fakeDevice) ResetCommandPool(vk.CommandPool) error {
	d.record("reset-pool")
	return nil
}

func (d *fakeDevice) AllocateCommandBuffers(pool vk.CommandPool, count uint32) ([]vk.CommandBuffer, error) {
	out := make([]vk.CommandBuffer, count)
	for i := range out {
		out[i] = newHandle[vk.CommandBuffer]()
	}
	d.buffers = append(d.buffers, out...)
	return out, nil
}

func (d *fakeDevice) FreeCommandBuffers(vk.CommandPool, []vk.CommandBuffer) {}

func (d *fakeDevice) ResetCommandBuffer(cmd vk.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resetErr != nil {
		return d.resetErr
	}
	d.resets[cmd]++
	return nil
}

func (d *fakeDevice) CreateFence(signaled bool) (vk.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := newHandle[vk.Fence]()
	d.fences[f] = &fakeFence{signaled: signaled}
	return f, nil
}

func (d *fakeDevice) DestroyFence(f vk.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, f)
	d.destroyed.fences++
}

// WaitFence fails on an unsignaled fence: with instant completion that wait would
// never return on a real device.
func (d *fakeDevice) WaitFence(f vk.Fence, timeout uint64) error {
	if d.onWait != nil {
		d.onWait()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ff, ok := d.fences[f]
	if !ok {
		return errors.New("wait on unknown fence")
	}
	ff.waits++
	d.record("wait")
	if !ff.signaled {
		return errors.New("wait on unsignaled fence would block forever")
	}
	return nil
}

func (d *fakeDevice) ResetFence(f vk.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ff, ok := d.fences[f]
	if !ok {
		return errors.New("reset of unknown fence")
	}
	ff.resets++
	ff.signaled = false
	d.record("reset-fence")
	return nil
}

func (d *fakeDevice) CreateSemaphore() (vk.Semaphore, error) {
	d.semaphore++
	return newHandle[vk.Semaphore](), nil
}

func (d *fakeDevice) DestroySemaphore(vk.Semaphore) { d.destroyed.semaphores++ }

func (d *fakeDevice) Submit(queue vk.Queue, s Submission) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.submitErr != nil {
		return d.submitErr
	}
	d.submits = append(d.submits, s)
	d.record("submit")
	for _, sem := range s.WaitSemaphores {
		d.unsignalLocked("submit wait", sem)
	}
	for _, sem := range s.SignalSemaphores {
		d.signalLocked("submit signal", sem)
	}
	if ff, ok := d.fences[s.Fence]; ok {
		ff.signaled = true
	}
	return nil
}

func (d *fakeDevice) signalLocked(op string, sem vk.Semaphore) {
	if d.signaled[sem] {
		d.violations = append(d.violations, op+": semaphore already signaled")
	}
	d.signaled[sem] = true
}

func (d *fakeDevice) unsignalLocked(op string, sem vk.Semaphore) {
	if !d.signaled[sem] {
		d.violations = append(d.violations, op+": semaphore never signaled")
	}
	d.signaled[sem] = false
}

func (d *fakeDevice) BeginCommandBuffer(cmd vk.CommandBuffer, flags vk.CommandBufferUsageFlags) error {
	d.record("begin-cmd")
	return nil
}

func (d *fakeDevice) EndCommandBuffer(cmd vk.CommandBuffer) error {
	d.record("end-cmd")
	return nil
}

func (d *fakeDevice) CmdImageBarrier(cmd vk.CommandBuffer, b ImageBarrier) {
	d.barriers = append(d.barriers, b)
	d.record("barrier")
}

func (d *fakeDevice) CmdBeginRendering(cmd vk.CommandBuffer, info RenderingInfo) {
	d.begins = append(d.begins, info)
	d.record("begin-rendering")
}

func (d *fakeDevice) CmdEndRendering(cmd vk.CommandBuffer) { d.record("end-rendering") }

func (d *fakeDevice) CmdSetViewport(vk.CommandBuffer, vk.Viewport) {}
func (d *fakeDevice) CmdSetScissor(vk.CommandBuffer, vk.Rect2D)    {}

func (d *fakeDevice) CmdBindPipeline(vk.CommandBuffer, vk.Pipeline) { d.record("bind") }

func (d *fakeDevice) CmdPushConstants(vk.CommandBuffer, vk.PipelineLayout, vk.ShaderStageFlags, uint32, uint32, unsafe.Pointer) {
	d.pushes++
}

func (d *fakeDevice) CmdPushDescriptorSet(vk.CommandBuffer, vk.PipelineLayout, uint32, []vk.WriteDescriptorSet) {
	d.pushes++
}

func (d *fakeDevice) count(op string) int {
	n := 0
	for _, l := range d.log {
		if l == op {
			n++
		}
	}
	return n
}

type fakeAllocator struct {
	created   []vk.Extent2D
	destroyed int
}

func (a *fakeAllocator) CreateImage(spec ImageSpec) (*Image, error) {
	a.created = append(a.created, spec.Extent)
	return &Image{
		Handle: newHandle[vk.Image](),
		View:   newHandle[vk.ImageView](),
		Memory: newHandle[vk.DeviceMemory](),
		Format: spec.Format,
		Extent: spec.Extent,
		Aspect: spec.Aspect,
		Layout: vk.ImageLayoutUndefined,
	}, nil
}

func (a *fakeAllocator) DestroyImage(*Image) { a.destroyed++ }

type fakePipeline struct {
	depth    bool
	handle   vk.Pipeline
	layout   vk.PipelineLayout
	graphics vk.Queue
	present  vk.Queue
}

func newFakePipeline(depth bool) *fakePipeline {
	return &fakePipeline{
		depth:    depth,
		handle:   newHandle[vk.Pipeline](),
		layout:   newHandle[vk.PipelineLayout](),
		graphics: newHandle[vk.Queue](),
		present:  newHandle[vk.Queue](),
	}
}

func (p *fakePipeline) DepthTestingEnabled() bool { return p.depth }
func (p *fakePipeline) Handle() vk.Pipeline       { return p.handle }
func (p *fakePipeline) Layout() vk.PipelineLayout { return p.layout }
func (p *fakePipeline) GraphicsQueue() vk.Queue   { return p.graphics }
func (p *fakePipeline) PresentQueue() vk.Queue    { return p.present }

// fakeSwapchain hands out images round robin. Queued results override vk.Success for
// the next acquire or present calls. With dev set, acquire signals and present
// consumes semaphores on dev.
type fakeSwapchain struct {
	dev *fakeDevice

	images      []vk.Image
	views       []vk.ImageView
	extent      vk.Extent2D
	presentable bool
	next        uint32

	acquireResults []vk.Result
	presentResults []vk.Result
	acquired       []uint32
	presented      []uint32
}

func newFakeSwapchain(n int, extent vk.Extent2D) *fakeSwapchain {
	s := &fakeSwapchain{extent: extent, presentable: true}
	for i := 0; i < n; i++ {
		s.images = append(s.images, newHandle[vk.Image]())
		s.views = append(s.views, newHandle[vk.ImageView]())
	}
	return s
}

func (s *fakeSwapchain) ImageCount() uint32              { return uint32(len(s.images)) }
func (s *fakeSwapchain) Image(i uint32) vk.Image         { return s.images[i] }
func (s *fakeSwapchain) ImageView(i uint32) vk.ImageView { return s.views[i] }
func (s *fakeSwapchain) Extent() vk.Extent2D             { return s.extent }
func (s *fakeSwapchain) Presentable() bool               { return s.presentable }
func (s *fakeSwapchain) SetPresentable(ok bool)          { s.presentable = ok }

func (s *fakeSwapchain) AcquireNextImage(timeout uint64, signal vk.Semaphore) (uint32, vk.Result) {
	ret := vk.Success
	if len(s.acquireResults) > 0 {
		ret = s.acquireResults[0]
		s.acquireResults = s.acquireResults[1:]
		if ret != vk.Success && ret != vk.Suboptimal {
			return 0, ret
		}
	}
	i := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	s.acquired = append(s.acquired, i)
	if s.dev != nil {
		s.dev.mu.Lock()
		s.dev.signalLocked("acquire", signal)
		s.dev.mu.Unlock()
	}
	return i, ret
}

// outstanding lists acquired images that were never presented.
func (s *fakeSwapchain) outstanding() []uint32 {
	held := map[uint32]int{}
	for _, i := range s.acquired {
		held[i]++
	}
	for _, i := range s.presented {
		held[i]--
	}
	var out []uint32
	for i, n := range held {
		if n > 0 {
			out = append(out, i)
		}
	}
	return out
}

func (s *fakeSwapchain) Present(queue vk.Queue, wait vk.Semaphore, index uint32) vk.Result {
	s.presented = append(s.presented, index)
	if s.dev != nil {
		s.dev.mu.Lock()
		s.dev.unsignalLocked("present wait", wait)
		s.dev.mu.Unlock()
	}
	if len(s.presentResults) > 0 {
		ret := s.presentResults[0]
		s.presentResults = s.presentResults[1:]
		return ret
	}
	return vk.Success
}
