package platform

import (
	"sync/atomic"

	"github.com/andewx/vkframe"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// CoreSwapchain owns a VkSwapchainKHR, its images and their views. It implements
// vkframe.Swapchain.
type CoreSwapchain struct {
	device  *VulkanDevice
	surface vk.Surface
	desired uint32

	swapchain vk.Swapchain
	format    vk.SurfaceFormat
	extent    vk.Extent2D
	images    []vk.Image
	views     []vk.ImageView

	presentable atomic.Bool
}

var _ vkframe.Swapchain = (*CoreSwapchain)(nil)

// NewCoreSwapchain creates a swapchain with at least desired images, sized to fallback
// when the surface leaves the extent to the application.
func NewCoreSwapchain(device *VulkanDevice, surface vk.Surface, desired uint32, fallback vk.Extent2D) (*CoreSwapchain, error) {
	sc := &CoreSwapchain{device: device, surface: surface, desired: desired}
	if err := sc.Recreate(fallback); err != nil {
		return nil, err
	}
	return sc, nil
}

// Recreate rebuilds the swapchain from the current surface capabilities, handing the
// previous one to the driver as oldSwapchain. The device must be idle. Presentable is
// set once the new images are ready.
func (sc *CoreSwapchain) Recreate(fallback vk.Extent2D) error {
	dev := sc.device.Handle()
	gpu := sc.device.PhysicalDevice()

	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(gpu, sc.surface, &caps)
	if err := newError("get surface capabilities", ret); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	format, err := sc.pickFormat()
	if err != nil {
		return err
	}

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		extent = vk.Extent2D{
			Width:  clampUint32(fallback.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: clampUint32(fallback.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}
	if extent.Width == 0 || extent.Height == 0 {
		sc.presentable.Store(false)
		return errors.New("surface has zero extent")
	}

	count := sc.desired
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	preTransform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	info := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         sc.surface,
		MinImageCount:   count,
		ImageFormat:     format.Format,
		ImageColorSpace: format.ColorSpace,
		ImageExtent:     extent,
		ImageUsage:      vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:    preTransform,
		CompositeAlpha:  compositeAlpha,
		// FIFO is the one mode every driver must support.
		PresentMode:      vk.PresentModeFifo,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     sc.swapchain,
		Clipped:          vk.True,
	}
	if families := sc.device.Families(); !families.Shared() {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{families.Graphics(), families.Present()}
	}

	var swapchain vk.Swapchain
	ret = vk.CreateSwapchain(dev, &info, nil, &swapchain)
	if err := newError("create swapchain", ret); err != nil {
		sc.presentable.Store(false)
		return err
	}

	sc.destroyViews()
	if sc.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(dev, sc.swapchain, nil)
	}
	sc.swapchain = swapchain
	sc.format = format
	sc.extent = extent

	var imageCount uint32
	ret = vk.GetSwapchainImages(dev, swapchain, &imageCount, nil)
	if err := newError("get swapchain images", ret); err != nil {
		return err
	}
	sc.images = make([]vk.Image, imageCount)
	ret = vk.GetSwapchainImages(dev, swapchain, &imageCount, sc.images)
	if err := newError("get swapchain images", ret); err != nil {
		return err
	}
	sc.views = make([]vk.ImageView, imageCount)
	for i := range sc.images {
		if err := sc.createView(i); err != nil {
			return err
		}
	}

	sc.presentable.Store(true)
	vkframe.Logger().Info("swapchain created",
		"images", imageCount, "width", extent.Width, "height", extent.Height, "format", format.Format)
	return nil
}

func (sc *CoreSwapchain) pickFormat() (vk.SurfaceFormat, error) {
	gpu := sc.device.PhysicalDevice()
	var count uint32
	ret := vk.GetPhysicalDeviceSurfaceFormats(gpu, sc.surface, &count, nil)
	if err := newError("get surface formats", ret); err != nil {
		return vk.SurfaceFormat{}, err
	}
	if count == 0 {
		return vk.SurfaceFormat{}, errors.New("surface reports no formats")
	}
	formats := make([]vk.SurfaceFormat, count)
	ret = vk.GetPhysicalDeviceSurfaceFormats(gpu, sc.surface, &count, formats)
	if err := newError("get surface formats", ret); err != nil {
		return vk.SurfaceFormat{}, err
	}
	for i := range formats {
		formats[i].Deref()
	}
	if count == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: formats[0].ColorSpace}, nil
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm || f.Format == vk.FormatR8g8b8a8Unorm {
			return f, nil
		}
	}
	return formats[0], nil
}

func (sc *CoreSwapchain) createView(i int) error {
	ret := vk.CreateImageView(sc.device.Handle(), &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    sc.images[i],
		ViewType: vk.ImageViewType2d,
		Format:   sc.format.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &sc.views[i])
	return newError("create swapchain image view", ret)
}

func (sc *CoreSwapchain) destroyViews() {
	for i, view := range sc.views {
		if view != vk.NullImageView {
			vk.DestroyImageView(sc.device.Handle(), view, nil)
			sc.views[i] = vk.NullImageView
		}
	}
	sc.views = nil
}

func (sc *CoreSwapchain) ImageCount() uint32              { return uint32(len(sc.images)) }
func (sc *CoreSwapchain) Image(i uint32) vk.Image         { return sc.images[i] }
func (sc *CoreSwapchain) ImageView(i uint32) vk.ImageView { return sc.views[i] }
func (sc *CoreSwapchain) Extent() vk.Extent2D             { return sc.extent }
func (sc *CoreSwapchain) Format() vk.Format               { return sc.format.Format }
func (sc *CoreSwapchain) Presentable() bool               { return sc.presentable.Load() }
func (sc *CoreSwapchain) SetPresentable(ok bool)          { sc.presentable.Store(ok) }

func (sc *CoreSwapchain) AcquireNextImage(timeout uint64, signal vk.Semaphore) (uint32, vk.Result) {
	var index uint32
	ret := vk.AcquireNextImage(sc.device.Handle(), sc.swapchain, timeout, signal, vk.NullFence, &index)
	return index, ret
}

func (sc *CoreSwapchain) Present(queue vk.Queue, wait vk.Semaphore, index uint32) vk.Result {
	return vk.QueuePresent(queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.swapchain},
		PImageIndices:      []uint32{index},
	})
}

func (sc *CoreSwapchain) Destroy() {
	sc.presentable.Store(false)
	sc.destroyViews()
	if sc.swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(sc.device.Handle(), sc.swapchain, nil)
		sc.swapchain = vk.NullSwapchain
	}
	sc.images = nil
}

func clampUint32(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
