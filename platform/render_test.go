//go:build integration

package platform

import (
	"os"
	"runtime"
	"testing"

	"github.com/andewx/vkframe"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
)

const (
	WIDTH  = 500
	HEIGHT = 500
)

func init() {
	runtime.LockOSThread()
}

// TestRender needs a display, a Vulkan 1.3 driver and SPIR-V shaders named by
// VKFRAME_VERT and VKFRAME_FRAG.
func TestRender(t *testing.T) {
	vert, frag := os.Getenv("VKFRAME_VERT"), os.Getenv("VKFRAME_FRAG")
	if vert == "" || frag == "" {
		t.Skip("VKFRAME_VERT and VKFRAME_FRAG not set")
	}

	display, err := NewDisplay(WIDTH, HEIGHT, "vkframe test")
	if err != nil {
		t.Skipf("no display: %v", err)
	}
	defer display.Destroy(nil)

	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		t.Fatalf("Unable to initialize vulkan %v", err)
	}

	rc := vkframe.DefaultRendererConfig()
	rc.Width, rc.Height = WIDTH, HEIGHT
	p, err := NewPlatform(ConfigFromRenderer(rc, display.InstanceExtensions()), display)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Destroy()

	program, err := NewShaderProgram(p.Device, vert, frag)
	if err != nil {
		t.Fatal(err)
	}
	defer program.Destroy()
	pipeline, err := NewPipelineBuilder(p.Device, program, p.Swapchain.Format()).WithDepth(true).Build()
	if err != nil {
		t.Fatal(err)
	}
	defer pipeline.Destroy()

	pool, err := vkframe.NewCommandPool(p.Device, rc.PoolSize)
	if err != nil {
		t.Fatal(err)
	}
	r, err := vkframe.NewSwapchainRenderer(p.Device, p.Allocator, pool, p.Swapchain, pipeline, rc.Buffering)
	if err != nil {
		t.Fatal(err)
	}

	for frame := 0; frame < 30; frame++ {
		if !p.Swapchain.Presentable() {
			if err := p.RecreateSwapchain(); err != nil {
				t.Fatal(err)
			}
		}
		if err := r.RenderExecute(); err != nil {
			t.Fatalf("frame %d: %v", frame, err)
		}
		display.PollEvents()
	}

	if err := r.Destroy(true); err != nil {
		t.Fatal(err)
	}
	if err := pool.Destroy(true); err != nil {
		t.Fatal(err)
	}
}
