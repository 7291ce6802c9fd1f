package vkframe

import vk "github.com/vulkan-go/vulkan"

// DepthFormatCandidates are tried in order when picking a depth format.
var DepthFormatCandidates = []vk.Format{
	vk.FormatD32Sfloat,
	vk.FormatD32SfloatS8Uint,
	vk.FormatD24UnormS8Uint,
}

// Image is a device image with its bound memory and a 2D view. Layout is the layout the
// renderers last transitioned it to.
type Image struct {
	Handle vk.Image
	View   vk.ImageView
	Memory vk.DeviceMemory
	Format vk.Format
	Extent vk.Extent2D
	Aspect vk.ImageAspectFlags
	Layout vk.ImageLayout
}

// ImageSpec describes an image to allocate.
type ImageSpec struct {
	Format vk.Format
	Extent vk.Extent2D
	Usage  vk.ImageUsageFlags
	Aspect vk.ImageAspectFlags
}

// Allocator creates and destroys images.
type Allocator interface {
	CreateImage(spec ImageSpec) (*Image, error)
	DestroyImage(img *Image)
}

// HasStencil reports whether format carries a stencil component.
func HasStencil(format vk.Format) bool {
	switch format {
	case vk.FormatD32SfloatS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD16UnormS8Uint, vk.FormatS8Uint:
		return true
	}
	return false
}

// DepthAspect is the aspect mask for a depth format, including stencil when present.
func DepthAspect(format vk.Format) vk.ImageAspectFlags {
	aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if HasStencil(format) {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return aspect
}

// DepthSpec is the spec for a depth attachment of the given extent.
func DepthSpec(format vk.Format, extent vk.Extent2D) ImageSpec {
	return ImageSpec{
		Format: format,
		Extent: extent,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		Aspect: DepthAspect(format),
	}
}

// ColorTargetSpec is the spec for an offscreen color target that is later sampled.
func ColorTargetSpec(format vk.Format, extent vk.Extent2D) ImageSpec {
	return ImageSpec{
		Format: format,
		Extent: extent,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit),
		Aspect: vk.ImageAspectFlags(vk.ImageAspectColorBit),
	}
}

func covers(have, want vk.Extent2D) bool {
	return have.Width >= want.Width && have.Height >= want.Height
}

func maxExtent(a, b vk.Extent2D) vk.Extent2D {
	if b.Width > a.Width {
		a.Width = b.Width
	}
	if b.Height > a.Height {
		a.Height = b.Height
	}
	return a
}
