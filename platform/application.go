package platform

import (
	"github.com/andewx/vkframe"
	vk "github.com/vulkan-go/vulkan"
)

type VulkanMode uint32

const (
	VulkanNone     VulkanMode = 0
	VulkanCompute  VulkanMode = 1 << 0
	VulkanGraphics VulkanMode = 1 << 1
	VulkanPresent  VulkanMode = 1 << 2
)

func (v VulkanMode) Has(mode VulkanMode) bool {
	return v&mode == mode
}

var (
	DefaultVulkanAppVersion = vk.MakeVersion(1, 0, 0)
	DefaultVulkanAPIVersion = vk.MakeVersion(1, 3, 0)
	DefaultVulkanMode       = VulkanGraphics | VulkanPresent
)

// Device extensions the frame core needs. Dynamic rendering is core in 1.3; the KHR
// name is still requested for 1.2 drivers that expose it as an extension.
var (
	RequiredDeviceExtensions = []string{"VK_KHR_swapchain"}
	WantedDeviceExtensions   = []string{"VK_KHR_dynamic_rendering", "VK_KHR_push_descriptor", "VK_KHR_portability_subset"}
	DefaultValidationLayers  = []string{"VK_LAYER_KHRONOS_validation"}
)

// SwapchainDimensions describes the size and format of the swapchain.
type SwapchainDimensions struct {
	// Width of the swapchain.
	Width uint32
	// Height of the swapchain.
	Height uint32
	// Format is the preferred pixel format of the swapchain.
	Format vk.Format
}

// Config selects what the instance and device are created with.
type Config struct {
	AppName    string
	AppVersion vk.Version
	APIVersion vk.Version
	Mode       VulkanMode

	// InstanceExtensions are required, typically what glfw reports for surfaces.
	InstanceExtensions []string
	// DeviceExtensions are enabled when the GPU offers them.
	DeviceExtensions []string
	// Layers are enabled when the loader offers them.
	Layers []string
	// Debug registers a debug report callback that logs through vkframe.Logger.
	Debug bool

	Dimensions SwapchainDimensions
	Buffering  vkframe.BufferingMode
}

// ConfigFromRenderer builds a Config from renderer settings and the instance
// extensions the window system requires.
func ConfigFromRenderer(cfg vkframe.RendererConfig, instanceExtensions []string) Config {
	c := Config{
		AppName:            cfg.Title,
		AppVersion:         DefaultVulkanAppVersion,
		APIVersion:         DefaultVulkanAPIVersion,
		Mode:               DefaultVulkanMode,
		InstanceExtensions: instanceExtensions,
		DeviceExtensions:   WantedDeviceExtensions,
		Debug:              cfg.Validation,
		Dimensions: SwapchainDimensions{
			Width:  uint32(cfg.Width),
			Height: uint32(cfg.Height),
			Format: vk.FormatB8g8r8a8Unorm,
		},
		Buffering: cfg.Buffering,
	}
	if cfg.Validation {
		c.Layers = DefaultValidationLayers
		c.InstanceExtensions = append(append([]string{}, instanceExtensions...), "VK_EXT_debug_report")
	}
	return c
}
