package vkframe

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// LeasedBuffer is a command buffer on loan from a CommandPool. Index is the only
// valid key for returning it.
type LeasedBuffer struct {
	Buffer vk.CommandBuffer
	Index  int
}

// CommandPool owns a Vulkan command pool and a fixed set of primary command buffers
// that are leased out by slot. It is not thread-safe; lease and return from the
// render thread.
type CommandPool struct {
	device  Device
	pool    vk.CommandPool
	buffers []vk.CommandBuffer
	leased  []bool
	count   int
}

// NewCommandPool creates a pool on the device's graphics queue family holding
// count+1 command buffers. The pool is created with the reset-command-buffer flag so
// buffers can be reset individually.
func NewCommandPool(device Device, count int) (*CommandPool, error) {
	if count < 0 {
		return nil, errors.Errorf("command pool: negative buffer count %d", count)
	}
	pool, err := device.CreateCommandPool(device.GraphicsQueueFamily())
	if err != nil {
		return nil, errors.Wrap(err, "create command pool")
	}
	buffers, err := device.AllocateCommandBuffers(pool, uint32(count+1))
	if err != nil {
		device.DestroyCommandPool(pool)
		return nil, errors.Wrap(err, "allocate command buffers")
	}
	Logger().Debug("command pool created", "buffers", len(buffers))
	return &CommandPool{
		device:  device,
		pool:    pool,
		buffers: buffers,
		leased:  make([]bool, len(buffers)),
		count:   len(buffers),
	}, nil
}

// Lease hands out the first free buffer. With reset set, previously recorded
// commands are cleared first. It fails with ErrPoolExhausted when every slot is leased.
func (p *CommandPool) Lease(reset bool) (LeasedBuffer, error) {
	for i, busy := range p.leased {
		if busy {
			continue
		}
		if reset {
			if err := p.device.ResetCommandBuffer(p.buffers[i]); err != nil {
				return LeasedBuffer{Index: -1}, errors.Wrapf(err, "reset leased buffer %d", i)
			}
		}
		p.leased[i] = true
		p.count--
		return LeasedBuffer{Buffer: p.buffers[i], Index: i}, nil
	}
	return LeasedBuffer{Index: -1}, errors.WithStack(ErrPoolExhausted)
}

// Return gives a leased buffer back. Returning a free slot is a no-op.
func (p *CommandPool) Return(lb LeasedBuffer) error {
	if lb.Index < 0 || lb.Index >= len(p.buffers) {
		return errors.Wrapf(ErrInvalidHandle, "slot %d of %d", lb.Index, len(p.buffers))
	}
	if lb.Buffer != nil && lb.Buffer != p.buffers[lb.Index] {
		return errors.Wrapf(ErrInvalidHandle, "slot %d holds a different buffer", lb.Index)
	}
	if p.leased[lb.Index] {
		p.leased[lb.Index] = false
		p.count++
	}
	return nil
}

// ReturnAll marks every slot free. With resetPool the Vulkan pool is reset, which
// invalidates everything recorded in any of its buffers.
func (p *CommandPool) ReturnAll(resetPool bool) error {
	for i := range p.leased {
		p.leased[i] = false
	}
	p.count = len(p.buffers)
	if resetPool {
		return errors.Wrap(p.device.ResetCommandPool(p.pool), "reset command pool")
	}
	return nil
}

// Available is the number of free slots.
func (p *CommandPool) Available() int { return p.count }

// HasAvailable reports whether Lease would find a free buffer.
func (p *CommandPool) HasAvailable() bool { return p.count > 0 }

// Capacity is the fixed number of buffers, one more than requested at construction.
func (p *CommandPool) Capacity() int { return len(p.buffers) }

// Leased is the number of slots currently on loan.
func (p *CommandPool) Leased() int { return len(p.buffers) - p.count }

// Destroy frees the buffers and the pool. It refuses while leases are outstanding.
func (p *CommandPool) Destroy(waitIdle bool) error {
	if p.pool == nil {
		return nil
	}
	if n := p.Leased(); n > 0 {
		return errors.Wrapf(ErrPoolInUse, "%d leases outstanding", n)
	}
	if waitIdle {
		if err := p.device.WaitIdle(); err != nil {
			return errors.Wrap(err, "destroy command pool")
		}
	}
	p.device.FreeCommandBuffers(p.pool, p.buffers)
	p.device.DestroyCommandPool(p.pool)
	p.pool = nil
	p.buffers = nil
	p.leased = nil
	p.count = 0
	return nil
}
