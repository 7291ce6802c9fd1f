package vkframe

import vk "github.com/vulkan-go/vulkan"

// BufferingMode is the number of frames the swapchain renderer keeps in flight.
type BufferingMode uint32

const (
	DoubleBuffering    BufferingMode = 2
	TripleBuffering    BufferingMode = 3
	QuadrupleBuffering BufferingMode = 4
)

func (m BufferingMode) Valid() bool {
	return m >= DoubleBuffering && m <= QuadrupleBuffering
}

func (m BufferingMode) String() string {
	switch m {
	case DoubleBuffering:
		return "double"
	case TripleBuffering:
		return "triple"
	case QuadrupleBuffering:
		return "quadruple"
	}
	return "invalid"
}

// Swapchain is the presentable surface the swapchain renderer draws into.
//
// AcquireNextImage and Present return the raw result so the renderer can tell
// vk.Suboptimal and vk.ErrorOutOfDate apart from fatal errors.
type Swapchain interface {
	ImageCount() uint32
	Image(index uint32) vk.Image
	ImageView(index uint32) vk.ImageView
	Extent() vk.Extent2D
	// Presentable is false once the surface went out of date and until it is recreated.
	Presentable() bool
	SetPresentable(ok bool)
	AcquireNextImage(timeout uint64, signal vk.Semaphore) (uint32, vk.Result)
	Present(queue vk.Queue, wait vk.Semaphore, index uint32) vk.Result
}

// Pipeline is the graphics pipeline the renderers bind and submit through.
type Pipeline interface {
	DepthTestingEnabled() bool
	Handle() vk.Pipeline
	Layout() vk.PipelineLayout
	GraphicsQueue() vk.Queue
	PresentQueue() vk.Queue
}
