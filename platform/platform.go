// Package platform implements the vkframe device, allocator, swapchain and pipeline
// collaborators over vulkan-go and a glfw window.
package platform

import (
	"github.com/andewx/vkframe"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Platform owns everything a windowed renderer needs below the frame core.
type Platform struct {
	Instance  *Instance
	Display   *Display
	Device    *VulkanDevice
	Allocator *DeviceAllocator
	Swapchain *CoreSwapchain

	dimensions SwapchainDimensions
}

// NewPlatform creates the instance, surface, device and swapchain for display.
// vk.SetGetInstanceProcAddr and vk.Init must have run.
func NewPlatform(cfg Config, display *Display) (p *Platform, err error) {
	if !cfg.Mode.Has(VulkanGraphics | VulkanPresent) {
		return nil, errors.Errorf("unsupported vulkan mode %#x", uint32(cfg.Mode))
	}
	if !cfg.Buffering.Valid() {
		return nil, errors.Errorf("invalid buffering mode %d", cfg.Buffering)
	}
	p = &Platform{Display: display, dimensions: cfg.Dimensions}
	defer func() {
		if err != nil {
			p.Destroy()
			p = nil
		}
	}()

	if p.Instance, err = NewInstance(cfg); err != nil {
		return p, err
	}
	surface, err := display.CreateSurface(p.Instance)
	if err != nil {
		return p, err
	}
	if p.Device, err = NewDevice(p.Instance, surface, cfg); err != nil {
		return p, err
	}
	p.Allocator = NewDeviceAllocator(p.Device)

	extent := display.FramebufferSize()
	if extent.Width == 0 || extent.Height == 0 {
		extent = vk.Extent2D{Width: cfg.Dimensions.Width, Height: cfg.Dimensions.Height}
	}
	p.Swapchain, err = NewCoreSwapchain(p.Device, surface, uint32(cfg.Buffering), extent)
	return p, err
}

// RecreateSwapchain waits for the device to go idle and rebuilds the swapchain at the
// current framebuffer size. It does nothing while the window is minimized.
func (p *Platform) RecreateSwapchain() error {
	if p.Display.Minimized() {
		return nil
	}
	if err := p.Device.WaitIdle(); err != nil {
		return err
	}
	if err := p.Swapchain.Recreate(p.Display.FramebufferSize()); err != nil {
		return errors.Wrap(err, "recreate swapchain")
	}
	vkframe.Logger().Info("swapchain recreated", "width", p.Swapchain.Extent().Width, "height", p.Swapchain.Extent().Height)
	return nil
}

// Destroy tears down in reverse creation order. The window itself stays open.
func (p *Platform) Destroy() {
	if p.Swapchain != nil {
		p.Swapchain.Destroy()
		p.Swapchain = nil
	}
	if p.Device != nil {
		p.Device.Destroy()
		p.Device = nil
	}
	if p.Instance != nil {
		if p.Display != nil && p.Display.Surface() != vk.NullSurface {
			vk.DestroySurface(p.Instance.Handle(), p.Display.Surface(), nil)
			p.Display.surface = vk.NullSurface
		}
		p.Instance.Destroy()
		p.Instance = nil
	}
}
