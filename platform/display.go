package platform

import (
	"sync/atomic"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Display is a glfw window without a client API and the Vulkan surface created for it.
// glfw calls must come from the main thread.
type Display struct {
	window  *glfw.Window
	surface vk.Surface
	resized atomic.Bool
}

// NewDisplay initializes glfw and opens a resizable window.
func NewDisplay(width, height int, title string) (*Display, error) {
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "init glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.New("glfw reports no Vulkan loader")
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	window, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "create window")
	}
	d := &Display{window: window}
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, _, _ int) {
		d.resized.Store(true)
	})
	return d, nil
}

// InstanceExtensions are the instance extensions glfw needs to create a surface.
func (d *Display) InstanceExtensions() []string {
	return d.window.GetRequiredInstanceExtensions()
}

// CreateSurface creates the window surface on instance.
func (d *Display) CreateSurface(instance *Instance) (vk.Surface, error) {
	ptr, err := d.window.CreateWindowSurface(instance.Handle(), nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "create window surface")
	}
	d.surface = vk.SurfaceFromPointer(ptr)
	return d.surface, nil
}

func (d *Display) Surface() vk.Surface { return d.surface }

// FramebufferSize is the drawable size in pixels.
func (d *Display) FramebufferSize() vk.Extent2D {
	w, h := d.window.GetFramebufferSize()
	return vk.Extent2D{Width: uint32(w), Height: uint32(h)}
}

// Minimized reports a zero-sized framebuffer, during which the swapchain cannot be rebuilt.
func (d *Display) Minimized() bool {
	e := d.FramebufferSize()
	return e.Width == 0 || e.Height == 0
}

// TakeResized reports and clears whether the framebuffer changed size since the last call.
func (d *Display) TakeResized() bool {
	return d.resized.Swap(false)
}

func (d *Display) ShouldClose() bool { return d.window.ShouldClose() }

func (d *Display) SetTitle(title string) { d.window.SetTitle(title) }

func (d *Display) PollEvents() { glfw.PollEvents() }

// WaitEvents blocks until an event arrives or timeout seconds pass.
func (d *Display) WaitEvents(timeout float64) { glfw.WaitEventsTimeout(timeout) }

// Destroy destroys the surface on instance and closes the window.
func (d *Display) Destroy(instance *Instance) {
	if d.surface != vk.NullSurface && instance != nil {
		vk.DestroySurface(instance.Handle(), d.surface, nil)
		d.surface = vk.NullSurface
	}
	if d.window != nil {
		d.window.Destroy()
		d.window = nil
	}
	glfw.Terminate()
}
