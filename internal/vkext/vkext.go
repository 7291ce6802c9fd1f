// Package vkext loads the device commands vulkan-go does not bind: dynamic rendering
// and push descriptors. Load must run once per device before any Cmd call.
package vkext

/*
#cgo linux LDFLAGS: -lvulkan
#cgo windows LDFLAGS: -lvulkan-1
#cgo darwin LDFLAGS: -lvulkan

#include <vulkan/vulkan.h>
#include <stdlib.h>
#include <string.h>

static PFN_vkCmdBeginRendering pfn_vkCmdBeginRendering = NULL;
static PFN_vkCmdEndRendering pfn_vkCmdEndRendering = NULL;
static PFN_vkCmdPushDescriptorSetKHR pfn_vkCmdPushDescriptorSetKHR = NULL;

// Core 1.3 names first, then the KHR aliases.
static int loadDynamicRendering(VkDevice device) {
	pfn_vkCmdBeginRendering = (PFN_vkCmdBeginRendering)vkGetDeviceProcAddr(device, "vkCmdBeginRendering");
	if (pfn_vkCmdBeginRendering == NULL) {
		pfn_vkCmdBeginRendering = (PFN_vkCmdBeginRendering)vkGetDeviceProcAddr(device, "vkCmdBeginRenderingKHR");
	}
	pfn_vkCmdEndRendering = (PFN_vkCmdEndRendering)vkGetDeviceProcAddr(device, "vkCmdEndRendering");
	if (pfn_vkCmdEndRendering == NULL) {
		pfn_vkCmdEndRendering = (PFN_vkCmdEndRendering)vkGetDeviceProcAddr(device, "vkCmdEndRenderingKHR");
	}
	return pfn_vkCmdBeginRendering != NULL && pfn_vkCmdEndRendering != NULL;
}

static int loadPushDescriptor(VkDevice device) {
	pfn_vkCmdPushDescriptorSetKHR = (PFN_vkCmdPushDescriptorSetKHR)vkGetDeviceProcAddr(device, "vkCmdPushDescriptorSetKHR");
	return pfn_vkCmdPushDescriptorSetKHR != NULL;
}

static int hasPushDescriptor() {
	return pfn_vkCmdPushDescriptorSetKHR != NULL;
}

static void fillAttachment(VkRenderingAttachmentInfo* a, VkImageView view, VkImageLayout layout,
	VkAttachmentLoadOp load, VkAttachmentStoreOp store,
	float c0, float c1, float c2, float c3, int depth, uint32_t stencil) {
	memset(a, 0, sizeof(*a));
	a->sType = VK_STRUCTURE_TYPE_RENDERING_ATTACHMENT_INFO;
	a->imageView = view;
	a->imageLayout = layout;
	a->resolveMode = VK_RESOLVE_MODE_NONE;
	a->loadOp = load;
	a->storeOp = store;
	if (depth) {
		a->clearValue.depthStencil.depth = c0;
		a->clearValue.depthStencil.stencil = stencil;
	} else {
		a->clearValue.color.float32[0] = c0;
		a->clearValue.color.float32[1] = c1;
		a->clearValue.color.float32[2] = c2;
		a->clearValue.color.float32[3] = c3;
	}
}

static void callBeginRendering(VkCommandBuffer cmd, int32_t x, int32_t y, uint32_t w, uint32_t h,
	const VkRenderingAttachmentInfo* color, const VkRenderingAttachmentInfo* depth, int stencil) {
	VkRenderingInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_RENDERING_INFO;
	info.renderArea.offset.x = x;
	info.renderArea.offset.y = y;
	info.renderArea.extent.width = w;
	info.renderArea.extent.height = h;
	info.layerCount = 1;
	info.colorAttachmentCount = 1;
	info.pColorAttachments = color;
	info.pDepthAttachment = depth;
	if (stencil) {
		info.pStencilAttachment = depth;
	}
	pfn_vkCmdBeginRendering(cmd, &info);
}

static void callEndRendering(VkCommandBuffer cmd) {
	pfn_vkCmdEndRendering(cmd);
}

static void callPushDescriptorSet(VkCommandBuffer cmd, VkPipelineLayout layout, uint32_t set,
	uint32_t count, const VkWriteDescriptorSet* writes) {
	pfn_vkCmdPushDescriptorSetKHR(cmd, VK_PIPELINE_BIND_POINT_GRAPHICS, layout, set, count, writes);
}

static VkPhysicalDeviceDynamicRenderingFeatures* newDynamicRenderingFeatures() {
	VkPhysicalDeviceDynamicRenderingFeatures* f = calloc(1, sizeof(VkPhysicalDeviceDynamicRenderingFeatures));
	f->sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_DYNAMIC_RENDERING_FEATURES;
	f->dynamicRendering = VK_TRUE;
	return f;
}

static VkPipelineRenderingCreateInfo* newPipelineRendering(uint32_t count, VkFormat* colors, VkFormat depth, VkFormat stencil) {
	VkPipelineRenderingCreateInfo* info = calloc(1, sizeof(VkPipelineRenderingCreateInfo));
	info->sType = VK_STRUCTURE_TYPE_PIPELINE_RENDERING_CREATE_INFO;
	info->colorAttachmentCount = count;
	info->pColorAttachmentFormats = colors;
	info->depthAttachmentFormat = depth;
	info->stencilAttachmentFormat = stencil;
	return info;
}
*/
import "C"

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// ErrDynamicRenderingMissing is returned by Load when neither vkCmdBeginRendering nor its
// KHR alias resolve on the device.
var ErrDynamicRenderingMissing = errors.New("vkext: dynamic rendering commands not available")

// Load resolves the extension commands on device. Push descriptors are optional; check
// HasPushDescriptors before calling CmdPushDescriptorSet.
func Load(device vk.Device) error {
	dev := (C.VkDevice)(unsafe.Pointer(device))
	if C.loadDynamicRendering(dev) == 0 {
		return errors.WithStack(ErrDynamicRenderingMissing)
	}
	C.loadPushDescriptor(dev)
	return nil
}

func HasPushDescriptors() bool {
	return C.hasPushDescriptor() != 0
}

// Attachment is one rendering attachment. For depth attachments Clear[0] is the depth
// clear value.
type Attachment struct {
	View    vk.ImageView
	Layout  vk.ImageLayout
	LoadOp  vk.AttachmentLoadOp
	StoreOp vk.AttachmentStoreOp
	Clear   [4]float32
	Stencil uint32
}

func (a *Attachment) fill(out *C.VkRenderingAttachmentInfo, depth bool) {
	var isDepth C.int
	if depth {
		isDepth = 1
	}
	C.fillAttachment(out,
		(C.VkImageView)(unsafe.Pointer(a.View)),
		C.VkImageLayout(a.Layout),
		C.VkAttachmentLoadOp(a.LoadOp),
		C.VkAttachmentStoreOp(a.StoreOp),
		C.float(a.Clear[0]), C.float(a.Clear[1]), C.float(a.Clear[2]), C.float(a.Clear[3]),
		isDepth, C.uint32_t(a.Stencil))
}

// CmdBeginRendering begins a dynamic rendering scope over area with one color
// attachment and an optional depth attachment, also bound as stencil when stencil is set.
func CmdBeginRendering(cmd vk.CommandBuffer, area vk.Rect2D, color Attachment, depth *Attachment, stencil bool) {
	var ca, da C.VkRenderingAttachmentInfo
	color.fill(&ca, false)
	var pDepth *C.VkRenderingAttachmentInfo
	var withStencil C.int
	if depth != nil {
		depth.fill(&da, true)
		pDepth = &da
		if stencil {
			withStencil = 1
		}
	}
	C.callBeginRendering((C.VkCommandBuffer)(unsafe.Pointer(cmd)),
		C.int32_t(area.Offset.X), C.int32_t(area.Offset.Y),
		C.uint32_t(area.Extent.Width), C.uint32_t(area.Extent.Height),
		&ca, pDepth, withStencil)
}

func CmdEndRendering(cmd vk.CommandBuffer) {
	C.callEndRendering((C.VkCommandBuffer)(unsafe.Pointer(cmd)))
}

// CmdPushDescriptorSet pushes writes into set of layout on the graphics bind point.
func CmdPushDescriptorSet(cmd vk.CommandBuffer, layout vk.PipelineLayout, set uint32, writes []vk.WriteDescriptorSet) {
	n := len(writes)
	if n == 0 || !HasPushDescriptors() {
		return
	}
	mem := C.calloc(C.size_t(n), C.size_t(unsafe.Sizeof(C.VkWriteDescriptorSet{})))
	defer C.free(mem)
	out := unsafe.Slice((*C.VkWriteDescriptorSet)(mem), n)
	for i := range writes {
		ref, _ := writes[i].PassRef()
		out[i] = *(*C.VkWriteDescriptorSet)(unsafe.Pointer(ref))
	}
	C.callPushDescriptorSet((C.VkCommandBuffer)(unsafe.Pointer(cmd)),
		(C.VkPipelineLayout)(unsafe.Pointer(layout)),
		C.uint32_t(set), C.uint32_t(n), (*C.VkWriteDescriptorSet)(mem))
	for i := range writes {
		writes[i].Free()
	}
}

// DynamicRenderingFeatures returns a pNext chain entry enabling dynamic rendering for
// vkCreateDevice. Call free once the device is created.
func DynamicRenderingFeatures() (next unsafe.Pointer, free func()) {
	p := C.newDynamicRenderingFeatures()
	return unsafe.Pointer(p), func() { C.free(unsafe.Pointer(p)) }
}

// PipelineRendering returns a pNext chain entry describing the attachment formats of a
// dynamic rendering pipeline. Pass vk.FormatUndefined for absent depth or stencil.
// Call free once the pipeline is created.
func PipelineRendering(colors []vk.Format, depth, stencil vk.Format) (next unsafe.Pointer, free func()) {
	var formats *C.VkFormat
	if len(colors) > 0 {
		formats = (*C.VkFormat)(C.calloc(C.size_t(len(colors)), C.size_t(unsafe.Sizeof(C.VkFormat(0)))))
		out := unsafe.Slice(formats, len(colors))
		for i, f := range colors {
			out[i] = C.VkFormat(f)
		}
	}
	p := C.newPipelineRendering(C.uint32_t(len(colors)), formats, C.VkFormat(depth), C.VkFormat(stencil))
	return unsafe.Pointer(p), func() {
		if formats != nil {
			C.free(unsafe.Pointer(formats))
		}
		C.free(unsafe.Pointer(p))
	}
}
