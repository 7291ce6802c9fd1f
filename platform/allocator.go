package platform

import (
	"github.com/andewx/vkframe"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// FindRequiredMemoryType finds a memory type allowed by typeBits that has all of want.
func FindRequiredMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, want vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < props.MemoryTypeCount && i < vk.MaxMemoryTypes; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		if props.MemoryTypes[i].PropertyFlags&want == want {
			return i, true
		}
	}
	return 0, false
}

// FindRequiredMemoryTypeFallback is FindRequiredMemoryType falling back to the first
// type allowed by typeBits.
func FindRequiredMemoryTypeFallback(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, want vk.MemoryPropertyFlags) (uint32, bool) {
	if i, ok := FindRequiredMemoryType(props, typeBits, want); ok {
		return i, true
	}
	if want != 0 {
		return FindRequiredMemoryType(props, typeBits, 0)
	}
	return 0, false
}

// DeviceAllocator creates device-local 2D images with one dedicated allocation each.
// It implements vkframe.Allocator.
type DeviceAllocator struct {
	device *VulkanDevice
}

var _ vkframe.Allocator = (*DeviceAllocator)(nil)

func NewDeviceAllocator(device *VulkanDevice) *DeviceAllocator {
	return &DeviceAllocator{device: device}
}

func (a *DeviceAllocator) CreateImage(spec vkframe.ImageSpec) (img *vkframe.Image, err error) {
	dev := a.device.Handle()
	img = &vkframe.Image{
		Format: spec.Format,
		Extent: spec.Extent,
		Aspect: spec.Aspect,
		Layout: vk.ImageLayoutUndefined,
	}
	defer func() {
		if err != nil {
			a.DestroyImage(img)
			img = nil
		}
	}()

	ret := vk.CreateImage(dev, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        spec.Format,
		Extent:        vk.Extent3D{Width: spec.Extent.Width, Height: spec.Extent.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         spec.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img.Handle)
	if err := newError("create image", ret); err != nil {
		return img, err
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, img.Handle, &req)
	req.Deref()
	typeIndex, ok := FindRequiredMemoryTypeFallback(a.device.MemoryProperties(), req.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if !ok {
		return img, errors.Errorf("no memory type for image (type bits %#x)", req.MemoryTypeBits)
	}
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &img.Memory)
	if err := newError("allocate image memory", ret); err != nil {
		return img, err
	}
	if err := newError("bind image memory", vk.BindImageMemory(dev, img.Handle, img.Memory, 0)); err != nil {
		return img, err
	}

	ret = vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   spec.Format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: spec.Aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &img.View)
	if err := newError("create image view", ret); err != nil {
		return img, err
	}

	vkframe.Logger().Debug("image created",
		"format", spec.Format, "width", spec.Extent.Width, "height", spec.Extent.Height, "bytes", req.Size)
	return img, nil
}

// DestroyImage releases the view, image and memory of img. Missing parts are skipped.
func (a *DeviceAllocator) DestroyImage(img *vkframe.Image) {
	if img == nil {
		return
	}
	dev := a.device.Handle()
	if img.View != vk.NullImageView {
		vk.DestroyImageView(dev, img.View, nil)
		img.View = vk.NullImageView
	}
	if img.Handle != vk.NullImage {
		vk.DestroyImage(dev, img.Handle, nil)
		img.Handle = vk.NullImage
	}
	if img.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(dev, img.Memory, nil)
		img.Memory = vk.NullDeviceMemory
	}
}
