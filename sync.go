package vkframe

import (
	"sync"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// frameSync guards one sync slot of the swapchain renderer.
type frameSync struct {
	imageAvailable vk.Semaphore
	renderFinished vk.Semaphore
	inFlight       vk.Fence
}

// newFrameSync creates the slot's semaphores and a signaled fence, so the first wait
// on a fresh slot returns immediately.
func newFrameSync(device Device) (frameSync, error) {
	var fs frameSync
	var err error
	if fs.imageAvailable, err = device.CreateSemaphore(); err != nil {
		return fs, errors.Wrap(err, "create image-available semaphore")
	}
	if fs.renderFinished, err = device.CreateSemaphore(); err != nil {
		fs.destroy(device)
		return fs, errors.Wrap(err, "create render-finished semaphore")
	}
	if fs.inFlight, err = device.CreateFence(true); err != nil {
		fs.destroy(device)
		return fs, errors.Wrap(err, "create in-flight fence")
	}
	return fs, nil
}

func (fs *frameSync) destroy(device Device) {
	if fs.inFlight != nil {
		device.DestroyFence(fs.inFlight)
		fs.inFlight = nil
	}
	if fs.renderFinished != nil {
		device.DestroySemaphore(fs.renderFinished)
		fs.renderFinished = nil
	}
	if fs.imageAvailable != nil {
		device.DestroySemaphore(fs.imageAvailable)
		fs.imageAvailable = nil
	}
}

// RenderTarget is a persistent color image an ImageRenderer draws into. Layout must
// match the image's layout on the GPU; the renderer keeps it current through its
// barriers. The fence is signaled whenever no GPU work on the target is pending.
type RenderTarget struct {
	Image  vk.Image
	View   vk.ImageView
	Extent vk.Extent2D
	Layout vk.ImageLayout

	fence vk.Fence
	guard sync.Mutex
}

// NewRenderTarget wraps img, which the caller keeps owning, with a signaled completion fence.
func NewRenderTarget(device Device, img *Image) (*RenderTarget, error) {
	fence, err := device.CreateFence(true)
	if err != nil {
		return nil, errors.Wrap(err, "create render target fence")
	}
	return &RenderTarget{
		Image:  img.Handle,
		View:   img.View,
		Extent: img.Extent,
		Layout: img.Layout,
		fence:  fence,
	}, nil
}

// Fence is signaled once the last submission that drew into the target has finished.
func (t *RenderTarget) Fence() vk.Fence { return t.fence }

// Wait blocks until pending GPU work on the target has finished.
func (t *RenderTarget) Wait(device Device) error {
	return errors.Wrap(device.WaitFence(t.fence, vk.MaxUint64), "wait render target")
}

// Destroy waits for pending work and releases the fence. The image is left to its owner.
func (t *RenderTarget) Destroy(device Device) error {
	if t.fence == nil {
		return nil
	}
	t.guard.Lock()
	defer t.guard.Unlock()
	err := t.Wait(device)
	device.DestroyFence(t.fence)
	t.fence = nil
	return err
}
