package vkframe

import (
	"testing"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func TestCommandPoolCapacity(t *testing.T) {
	pool, err := NewCommandPool(newFakeDevice(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if pool.Capacity() != 4 || pool.Available() != 4 {
		t.Fatalf("capacity %d available %d, want 4 and 4", pool.Capacity(), pool.Available())
	}
}

func TestCommandPoolExhaustion(t *testing.T) {
	pool, err := NewCommandPool(newFakeDevice(), 1)
	if err != nil {
		t.Fatal(err)
	}
	var leases []LeasedBuffer
	for i := 0; i < 2; i++ {
		lb, err := pool.Lease(false)
		if err != nil {
			t.Fatalf("lease %d: %v", i, err)
		}
		if lb.Index != i {
			t.Errorf("lease %d got slot %d", i, lb.Index)
		}
		leases = append(leases, lb)
	}
	if pool.HasAvailable() {
		t.Error("pool reports available after leasing every slot")
	}
	lb, err := pool.Lease(false)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("third lease: got %v, want ErrPoolExhausted", err)
	}
	if lb.Index != -1 {
		t.Errorf("failed lease index %d, want -1", lb.Index)
	}

	if err := pool.Return(leases[0]); err != nil {
		t.Fatal(err)
	}
	lb, err = pool.Lease(false)
	if err != nil {
		t.Fatal(err)
	}
	if lb.Index != 0 || lb.Buffer != leases[0].Buffer {
		t.Errorf("re-lease got slot %d, want the returned slot 0", lb.Index)
	}
}

func TestCommandPoolAvailableInvariant(t *testing.T) {
	pool, err := NewCommandPool(newFakeDevice(), 4)
	if err != nil {
		t.Fatal(err)
	}
	check := func(step string) {
		t.Helper()
		if pool.Available()+pool.Leased() != pool.Capacity() {
			t.Fatalf("%s: available %d + leased %d != capacity %d", step, pool.Available(), pool.Leased(), pool.Capacity())
		}
	}
	var held []LeasedBuffer
	for i := 0; i < 3; i++ {
		lb, err := pool.Lease(true)
		if err != nil {
			t.Fatal(err)
		}
		held = append(held, lb)
		check("lease")
	}
	// Double return is a no-op.
	for i := 0; i < 2; i++ {
		if err := pool.Return(held[1]); err != nil {
			t.Fatal(err)
		}
		check("return")
	}
	if pool.Available() != 3 {
		t.Errorf("available %d after returning one of three, want 3", pool.Available())
	}
}

func TestCommandPoolLeaseReset(t *testing.T) {
	dev := newFakeDevice()
	pool, err := NewCommandPool(dev, 1)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := pool.Lease(false)
	b, _ := pool.Lease(true)
	if dev.resets[a.Buffer] != 0 {
		t.Error("lease without reset reset the buffer")
	}
	if dev.resets[b.Buffer] != 1 {
		t.Error("lease with reset did not reset the buffer")
	}

	dev.resetErr = errors.New("device lost")
	pool.Return(a)
	if _, err := pool.Lease(true); err == nil {
		t.Fatal("lease succeeded although the reset failed")
	}
	if pool.Available() != 1 {
		t.Errorf("failed lease consumed a slot: available %d", pool.Available())
	}
}

func TestCommandPoolReturnInvalid(t *testing.T) {
	pool, err := NewCommandPool(newFakeDevice(), 2)
	if err != nil {
		t.Fatal(err)
	}
	lb, _ := pool.Lease(false)
	for _, bad := range []LeasedBuffer{
		{Index: -1},
		{Index: pool.Capacity()},
		{Index: lb.Index, Buffer: newHandle[vk.CommandBuffer]()},
	} {
		if err := pool.Return(bad); !errors.Is(err, ErrInvalidHandle) {
			t.Errorf("Return(%+v) = %v, want ErrInvalidHandle", bad, err)
		}
	}
	if pool.Leased() != 1 {
		t.Errorf("invalid returns changed the pool: leased %d", pool.Leased())
	}
}

func TestCommandPoolReturnAll(t *testing.T) {
	dev := newFakeDevice()
	pool, err := NewCommandPool(dev, 2)
	if err != nil {
		t.Fatal(err)
	}
	pool.Lease(false)
	pool.Lease(false)
	for i := 0; i < 2; i++ {
		if err := pool.ReturnAll(i == 1); err != nil {
			t.Fatal(err)
		}
		if pool.Available() != pool.Capacity() {
			t.Fatalf("ReturnAll pass %d left %d of %d available", i, pool.Available(), pool.Capacity())
		}
	}
	if dev.count("reset-pool") != 1 {
		t.Errorf("pool resets %d, want 1", dev.count("reset-pool"))
	}
}

func TestCommandPoolSingleSlot(t *testing.T) {
	pool, err := NewCommandPool(newFakeDevice(), 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		lb, err := pool.Lease(true)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if pool.Available() != 0 {
			t.Fatalf("round %d: available %d while leased", i, pool.Available())
		}
		if err := pool.Return(lb); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCommandPoolDestroyInUse(t *testing.T) {
	dev := newFakeDevice()
	pool, err := NewCommandPool(dev, 1)
	if err != nil {
		t.Fatal(err)
	}
	lb, _ := pool.Lease(false)
	if err := pool.Destroy(true); !errors.Is(err, ErrPoolInUse) {
		t.Fatalf("Destroy with a lease out = %v, want ErrPoolInUse", err)
	}
	pool.Return(lb)
	if err := pool.Destroy(true); err != nil {
		t.Fatal(err)
	}
	if dev.destroyed.pools != 1 || dev.idles != 1 {
		t.Errorf("destroyed pools %d idles %d, want 1 and 1", dev.destroyed.pools, dev.idles)
	}
	if err := pool.Destroy(true); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}
