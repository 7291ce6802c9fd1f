package platform

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// QueueFamilies records the queue families of a physical device and which of them
// serve graphics and presentation.
type QueueFamilies struct {
	properties []vk.QueueFamilyProperties
	graphics   int
	present    int
}

// NewQueueFamilies lists the queue families of gpu. present is resolved against surface
// when one is given, otherwise the graphics family is used.
func NewQueueFamilies(gpu vk.PhysicalDevice, surface vk.Surface) (*QueueFamilies, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	if count == 0 {
		return nil, errors.New("physical device reports no queue families")
	}
	q := &QueueFamilies{
		properties: make([]vk.QueueFamilyProperties, count),
		graphics:   -1,
		present:    -1,
	}
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, q.properties)

	for index := range q.properties {
		q.properties[index].Deref()
		if q.graphics < 0 && q.Supports(index, vk.QueueGraphicsBit) {
			q.graphics = index
		}
	}
	if q.graphics < 0 {
		return nil, errors.New("no graphics queue family")
	}

	if surface == vk.NullSurface {
		q.present = q.graphics
		return q, nil
	}
	// Prefer a family that does both.
	if q.canPresent(gpu, surface, q.graphics) {
		q.present = q.graphics
		return q, nil
	}
	for index := range q.properties {
		if q.canPresent(gpu, surface, index) {
			q.present = index
			return q, nil
		}
	}
	return nil, errors.New("no queue family can present to the surface")
}

func (q *QueueFamilies) canPresent(gpu vk.PhysicalDevice, surface vk.Surface, index int) bool {
	var supported vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(index), surface, &supported)
	return supported.B()
}

// Supports reports whether family index has all of flag.
func (q *QueueFamilies) Supports(index int, flag vk.QueueFlagBits) bool {
	if index < 0 || index >= len(q.properties) {
		return false
	}
	bits := vk.QueueFlags(flag)
	return q.properties[index].QueueFlags&bits == bits
}

func (q *QueueFamilies) Graphics() uint32 { return uint32(q.graphics) }

func (q *QueueFamilies) Present() uint32 { return uint32(q.present) }

// Shared reports whether graphics and present use the same family.
func (q *QueueFamilies) Shared() bool { return q.graphics == q.present }

// CreateInfos gives one queue per distinct family in use.
func (q *QueueFamilies) CreateInfos() []vk.DeviceQueueCreateInfo {
	priority := []float32{1.0}
	infos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: uint32(q.graphics),
		QueueCount:       1,
		PQueuePriorities: priority,
	}}
	if !q.Shared() {
		infos = append(infos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(q.present),
			QueueCount:       1,
			PQueuePriorities: priority,
		})
	}
	return infos
}
