package platform

import (
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// UniformBuffer is a ring of host-visible, persistently mapped uniform buffers, one per
// frame in flight. A slot may be written once the fence of the frame that last used it
// has signaled.
type UniformBuffer struct {
	device *VulkanDevice
	size   vk.DeviceSize
	slots  []uniformSlot
}

type uniformSlot struct {
	buffer vk.Buffer
	memory vk.DeviceMemory
	mapped unsafe.Pointer
}

func NewUniformBuffer(device *VulkanDevice, size int, frames int) (u *UniformBuffer, err error) {
	if size <= 0 || frames <= 0 {
		return nil, errors.Errorf("uniform buffer of %d bytes x %d frames", size, frames)
	}
	u = &UniformBuffer{device: device, size: vk.DeviceSize(size), slots: make([]uniformSlot, frames)}
	defer func() {
		if err != nil {
			u.Destroy()
			u = nil
		}
	}()
	for i := range u.slots {
		if err := u.createSlot(&u.slots[i]); err != nil {
			return u, errors.Wrapf(err, "uniform slot %d", i)
		}
	}
	return u, nil
}

func (u *UniformBuffer) createSlot(s *uniformSlot) error {
	dev := u.device.Handle()
	ret := vk.CreateBuffer(dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        u.size,
		Usage:       vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &s.buffer)
	if err := newError("create buffer", ret); err != nil {
		return err
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, s.buffer, &req)
	req.Deref()
	typeIndex, ok := FindRequiredMemoryType(u.device.MemoryProperties(), req.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if !ok {
		return errors.New("no host-visible coherent memory type")
	}
	ret = vk.AllocateMemory(dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &s.memory)
	if err := newError("allocate buffer memory", ret); err != nil {
		return err
	}
	if err := newError("bind buffer memory", vk.BindBufferMemory(dev, s.buffer, s.memory, 0)); err != nil {
		return err
	}
	return newError("map buffer memory", vk.MapMemory(dev, s.memory, 0, u.size, 0, &s.mapped))
}

func (u *UniformBuffer) Frames() int { return len(u.slots) }

// Write copies data into the slot of frame. data longer than the buffer is truncated.
func (u *UniformBuffer) Write(frame int, data []byte) {
	s := &u.slots[frame%len(u.slots)]
	dst := unsafe.Slice((*byte)(s.mapped), int(u.size))
	copy(dst, data)
}

// Binding is the descriptor set layout binding matching DescriptorWrite.
func (u *UniformBuffer) Binding(binding uint32, stages vk.ShaderStageFlags) vk.DescriptorSetLayoutBinding {
	return vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      stages,
	}
}

// DescriptorWrite describes the slot of frame for a push descriptor update.
func (u *UniformBuffer) DescriptorWrite(frame int, binding uint32) vk.WriteDescriptorSet {
	s := &u.slots[frame%len(u.slots)]
	return vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		PBufferInfo: []vk.DescriptorBufferInfo{{
			Buffer: s.buffer,
			Range:  u.size,
		}},
	}
}

func (u *UniformBuffer) Destroy() {
	dev := u.device.Handle()
	for i := range u.slots {
		s := &u.slots[i]
		if s.mapped != nil {
			vk.UnmapMemory(dev, s.memory)
			s.mapped = nil
		}
		if s.buffer != vk.NullBuffer {
			vk.DestroyBuffer(dev, s.buffer, nil)
			s.buffer = vk.NullBuffer
		}
		if s.memory != vk.NullDeviceMemory {
			vk.FreeMemory(dev, s.memory, nil)
			s.memory = vk.NullDeviceMemory
		}
	}
}
