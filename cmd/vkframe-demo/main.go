// Command vkframe-demo opens a window and drives an offscreen renderer and a
// swapchain renderer from a render goroutine while the main thread polls window events.
//
//	vkframe-demo -vert tri.vert.spv -frag tri.frag.spv [-config usage.json] [-frames N] [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/andewx/vkframe"
	"github.com/andewx/vkframe/internal/vkext"
	"github.com/andewx/vkframe/platform"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "", "usage JSON with renderer settings")
	vertPath   = flag.String("vert", "", "SPIR-V vertex shader")
	fragPath   = flag.String("frag", "", "SPIR-V fragment shader")
	maxFrames  = flag.Int("frames", 0, "exit after this many frames, 0 runs until the window closes")
	verbose    = flag.Bool("v", false, "debug logging")
)

const offscreenSize = 512

// frameUniforms is pushed to the fragment stage through a push descriptor.
type frameUniforms struct {
	Tint [4]float32
	Time float32
	_    [3]float32
}

func init() {
	// glfw and the Vulkan surface must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	vkframe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(*configPath)
	vkframe.Fatal(err)
	vkframe.Fatal(run(cfg))
}

func loadConfig(path string) (vkframe.RendererConfig, error) {
	if path == "" {
		return vkframe.DefaultRendererConfig(), nil
	}
	use, err := vkframe.LoadUsage(path)
	if err != nil {
		return vkframe.RendererConfig{}, err
	}
	if renderer, ok := use.Find("renderer"); ok {
		use = renderer
	}
	vkframe.Logger().Debug("usage loaded", "usage", use.String())
	return use.RendererConfig()
}

type demo struct {
	cfg      vkframe.RendererConfig
	plat     *platform.Platform
	program  *platform.ShaderProgram
	onscreen *platform.GraphicsPipeline
	offline  *platform.GraphicsPipeline
	uniforms *platform.UniformBuffer

	pool      *vkframe.CommandPool
	image     *vkframe.Image
	target    *vkframe.RenderTarget
	offscreen *vkframe.ImageRenderer
	swap      *vkframe.SwapchainRenderer

	// frameMu keeps swapchain recreation out of a running cycle.
	frameMu sync.Mutex
	frames  atomic.Int64
	busy    atomic.Int64
	start   time.Duration
}

func run(cfg vkframe.RendererConfig) (err error) {
	if *vertPath == "" || *fragPath == "" {
		return errors.New("-vert and -frag are required")
	}
	display, err := platform.NewDisplay(cfg.Width, cfg.Height, cfg.Title)
	if err != nil {
		return err
	}
	defer display.Destroy(nil)

	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		return errors.Wrap(err, "init vulkan")
	}

	d := &demo{cfg: cfg}
	d.plat, err = platform.NewPlatform(platform.ConfigFromRenderer(cfg, display.InstanceExtensions()), display)
	if err != nil {
		return err
	}
	defer d.plat.Destroy()
	defer func() {
		if derr := d.destroy(); derr != nil && err == nil {
			err = derr
		}
	}()
	if err := d.setup(); err != nil {
		return err
	}
	return d.loop()
}

func (d *demo) setup() (err error) {
	dev := d.plat.Device
	if d.program, err = platform.NewShaderProgram(dev, *vertPath, *fragPath); err != nil {
		return err
	}

	pushSize := uint32(unsafe.Sizeof(mgl32.Mat4{}))
	vertex := vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	fragment := vk.ShaderStageFlags(vk.ShaderStageFragmentBit)

	builder := platform.NewPipelineBuilder(dev, d.program, d.plat.Swapchain.Format()).
		WithDepth(true).
		WithPushConstants(vertex, pushSize)
	if vkext.HasPushDescriptors() {
		d.uniforms, err = platform.NewUniformBuffer(dev, int(unsafe.Sizeof(frameUniforms{})), int(d.cfg.Buffering))
		if err != nil {
			return err
		}
		builder.WithPushDescriptors(d.uniforms.Binding(0, fragment))
	} else {
		vkframe.Logger().Warn("push descriptors unavailable, uniforms disabled")
	}
	if d.onscreen, err = builder.Build(); err != nil {
		return err
	}
	d.offline, err = platform.NewPipelineBuilder(dev, d.program, vk.FormatR8g8b8a8Unorm).
		WithPushConstants(vertex, pushSize).
		Build()
	if err != nil {
		return err
	}

	if d.pool, err = vkframe.NewCommandPool(dev, d.cfg.PoolSize); err != nil {
		return err
	}

	extent := vk.Extent2D{Width: offscreenSize, Height: offscreenSize}
	if d.image, err = d.plat.Allocator.CreateImage(vkframe.ColorTargetSpec(vk.FormatR8g8b8a8Unorm, extent)); err != nil {
		return err
	}
	if d.target, err = vkframe.NewRenderTarget(dev, d.image); err != nil {
		return err
	}
	if d.offscreen, err = vkframe.NewImageRenderer(dev, d.plat.Allocator, d.pool, d.offline, d.target); err != nil {
		return err
	}
	d.offscreen.OnRender(func(cmd vk.CommandBuffer) error {
		if err := d.offscreen.BeginRecord(cmd); err != nil {
			return err
		}
		mvp := platform.VulkanProjection(mgl32.Ident4())
		d.offscreen.PushConstants(cmd, vertex, pushSize, unsafe.Pointer(&mvp[0]))
		vk.CmdDraw(cmd, 3, 1, 0, 0)
		return d.offscreen.EndRecord(cmd)
	})

	if d.swap, err = vkframe.NewSwapchainRenderer(dev, d.plat.Allocator, d.pool, d.plat.Swapchain, d.onscreen, d.cfg.Buffering); err != nil {
		return err
	}
	d.swap.SetClearValues(d.cfg.Clear)
	d.swap.OnRender(func(cmd vk.CommandBuffer) error {
		if err := d.swap.BeginRecord(cmd); err != nil {
			return err
		}
		seconds := float32(hrtime.Since(d.start).Seconds())
		extent := d.plat.Swapchain.Extent()
		proj := platform.Perspective(mgl32.DegToRad(45), float32(extent.Width)/float32(extent.Height), 0.1, 10)
		view := mgl32.LookAtV(mgl32.Vec3{0, 0, 3}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
		mvp := proj.Mul4(view).Mul4(mgl32.HomogRotate3DY(seconds))
		d.swap.PushConstants(cmd, vertex, pushSize, unsafe.Pointer(&mvp[0]))

		if d.uniforms != nil {
			slot := int(d.swap.SyncFrame())
			u := frameUniforms{
				Tint: [4]float32{1, float32(0.5 + 0.5*math.Sin(float64(seconds))), 1, 1},
				Time: seconds,
			}
			d.uniforms.Write(slot, unsafe.Slice((*byte)(unsafe.Pointer(&u)), unsafe.Sizeof(u)))
			d.swap.PushDescriptorSet(cmd, []vk.WriteDescriptorSet{d.uniforms.DescriptorWrite(slot, 0)})
		}
		vk.CmdDraw(cmd, 3, 1, 0, 0)
		return d.swap.EndRecord(cmd)
	})
	return nil
}

// loop runs the render goroutine and handles window events on the calling thread
// until the window closes, the frame limit is reached or rendering fails.
func (d *demo) loop() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	d.start = hrtime.Now()

	g.Go(func() error {
		defer close(done)
		return d.render(ctx)
	})

	display := d.plat.Display
	lastTitle := hrtime.Now()
	var lastFrames int64
	for !display.ShouldClose() {
		select {
		case <-done:
			return g.Wait()
		default:
		}
		display.WaitEvents(0.01)

		if display.TakeResized() || !d.plat.Swapchain.Presentable() {
			d.frameMu.Lock()
			err := d.plat.RecreateSwapchain()
			d.frameMu.Unlock()
			if err != nil {
				cancel()
				g.Wait()
				return err
			}
		}

		if now := hrtime.Now(); now-lastTitle >= time.Second {
			frames := d.frames.Load()
			n := frames - lastFrames
			var avg time.Duration
			if n > 0 {
				avg = time.Duration(d.busy.Swap(0) / n)
			}
			display.SetTitle(fmt.Sprintf("%s | %d fps | %v/frame", d.cfg.Title, n, avg))
			lastTitle, lastFrames = now, frames
		}
	}
	cancel()
	return g.Wait()
}

func (d *demo) render(ctx context.Context) error {
	for ctx.Err() == nil {
		if *maxFrames > 0 && d.frames.Load() >= int64(*maxFrames) {
			return nil
		}
		if !d.plat.Swapchain.Presentable() {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		start := hrtime.Now()
		d.frameMu.Lock()
		err := d.offscreen.RenderExecute(nil)
		if err == nil {
			err = d.swap.RenderExecute()
		}
		d.frameMu.Unlock()
		if err != nil {
			return err
		}
		d.busy.Add(int64(hrtime.Since(start)))
		d.frames.Add(1)
	}
	return nil
}

func (d *demo) destroy() error {
	if d.plat.Device != nil {
		if err := d.plat.Device.WaitIdle(); err != nil {
			return err
		}
	}
	var errs []error
	if d.swap != nil {
		errs = append(errs, d.swap.Destroy(false))
	}
	if d.offscreen != nil {
		errs = append(errs, d.offscreen.Destroy(false))
	}
	if d.target != nil {
		errs = append(errs, d.target.Destroy(d.plat.Device))
	}
	if d.image != nil {
		d.plat.Allocator.DestroyImage(d.image)
	}
	if d.pool != nil {
		errs = append(errs, d.pool.Destroy(false))
	}
	if d.uniforms != nil {
		d.uniforms.Destroy()
	}
	for _, p := range []*platform.GraphicsPipeline{d.onscreen, d.offline} {
		if p != nil {
			p.Destroy()
		}
	}
	if d.program != nil {
		d.program.Destroy()
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
